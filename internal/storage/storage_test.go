package storage

import (
	"context"
	"errors"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"predixaai-anomaly/internal/alerts"
	"predixaai-anomaly/internal/anomaly"
	"predixaai-anomaly/internal/notify"
)

func TestBuildAlertFilterEmpty(t *testing.T) {
	where, args := buildAlertFilter(alerts.Filter{Limit: 10, Offset: 5})
	if where != "" || len(args) != 0 {
		t.Fatalf("expected no clause, got %q %v", where, args)
	}
}

func TestBuildAlertFilterCombination(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	where, args := buildAlertFilter(alerts.Filter{
		Metric:      "cpu",
		AnomalyType: anomaly.TypeSpike,
		ExcludeID:   "a-1",
		From:        from,
		To:          to,
	})
	want := " WHERE metric_name=$1 AND anomaly_type=$2 AND id<>$3 AND created_at>=$4 AND created_at<=$5"
	if where != want {
		t.Fatalf("unexpected clause\n got %q\nwant %q", where, want)
	}
	if !reflect.DeepEqual(args, []any{"cpu", "spike", "a-1", from, to}) {
		t.Fatalf("unexpected args %v", args)
	}
}

func TestBuildAlertFilterStatusAndSeverity(t *testing.T) {
	where, args := buildAlertFilter(alerts.Filter{Severity: anomaly.SeverityHigh, Status: anomaly.StatusActive})
	if where != " WHERE severity=$1 AND status=$2" {
		t.Fatalf("unexpected clause %q", where)
	}
	if len(args) != 2 || args[0] != "high" || args[1] != "active" {
		t.Fatalf("unexpected args %v", args)
	}
}

func setupTestStore(t *testing.T) (*Store, func()) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	store, err := NewStore(context.Background(), dsn)
	if err != nil {
		t.Fatalf("failed to connect to db: %v", err)
	}
	schema, err := os.ReadFile("../../migrations/001_init.sql")
	if err != nil {
		t.Fatalf("failed to read schema: %v", err)
	}
	if _, err := store.Pool.Exec(context.Background(), string(schema)); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}
	return store, store.Close
}

func TestConfigRepositoryRoundTrip(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	repo := NewConfigRepository(store)
	ctx := context.Background()

	maxBound := 90.0
	metric := "cpu-" + uuid.NewString()
	cfg := anomaly.DetectionConfig{
		MetricName:      metric,
		Enabled:         true,
		Sensitivity:     7,
		Algorithms:      []anomaly.Algorithm{anomaly.AlgorithmZScore, anomaly.AlgorithmMAD},
		Thresholds:      &anomaly.Thresholds{Max: &maxBound},
		AlertChannels:   []string{"ops"},
		CooldownSeconds: 600,
		UpdatedAt:       time.Now().UTC().Truncate(time.Microsecond),
	}
	if err := repo.Upsert(ctx, cfg); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	got, err := repo.Get(ctx, metric)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Sensitivity != 7 || len(got.Algorithms) != 2 || got.Thresholds == nil || *got.Thresholds.Max != 90 || got.Thresholds.Min != nil {
		t.Fatalf("unexpected config %+v", got)
	}

	cfg.Enabled = false
	if err := repo.Upsert(ctx, cfg); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	enabled, err := repo.ListEnabled(ctx)
	if err != nil {
		t.Fatalf("list enabled failed: %v", err)
	}
	for _, c := range enabled {
		if c.MetricName == metric {
			t.Fatalf("disabled config listed as enabled")
		}
	}
	if _, err := repo.Get(ctx, "missing-"+uuid.NewString()); !errors.Is(err, anomaly.ErrNotFound) {
		t.Fatalf("expected not found got %v", err)
	}
}

func TestAlertRepositoryVersionCheck(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	repo := NewAlertRepository(store)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	alert := anomaly.Alert{
		ID:               uuid.NewString(),
		MetricName:       "latency-" + uuid.NewString(),
		ObservedValue:    3,
		ObservedAt:       now,
		Baseline:         anomaly.Baseline{Mean: 1, StdDev: 0.2, SampleCount: 40},
		DeviationPercent: 200,
		AnomalyType:      anomaly.TypeSpike,
		Severity:         anomaly.SeverityCritical,
		FiringAlgorithms: []anomaly.Algorithm{anomaly.AlgorithmZScore},
		Status:           anomaly.StatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := repo.Create(ctx, alert); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	next := alert
	next.Status = anomaly.StatusAcknowledged
	next.AcknowledgedBy = "oncall"
	next.Version = 1
	tr := anomaly.Transition{AlertID: alert.ID, From: anomaly.StatusActive, To: anomaly.StatusAcknowledged, Actor: "oncall", Version: 1, At: now}
	if err := repo.UpdateStatus(ctx, next, 0, tr); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	var conflict *anomaly.ConflictError
	if err := repo.UpdateStatus(ctx, next, 0, tr); !errors.As(err, &conflict) || conflict.CurrentVersion != 1 {
		t.Fatalf("expected version conflict got %v", err)
	}

	got, err := repo.Get(ctx, alert.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != anomaly.StatusAcknowledged || got.Version != 1 || got.Baseline.SampleCount != 40 {
		t.Fatalf("unexpected alert %+v", got)
	}
	timeline, err := repo.Transitions(ctx, alert.ID)
	if err != nil || len(timeline) != 2 {
		t.Fatalf("expected 2 transitions got %d (%v)", len(timeline), err)
	}

	if err := repo.RecordDelivery(ctx, notify.DeliveryResult{AlertID: alert.ID, ChannelID: "ops", Success: true, Duration: 20 * time.Millisecond, At: now}); err != nil {
		t.Fatalf("record delivery failed: %v", err)
	}
	deliveries, err := repo.Deliveries(ctx, alert.ID)
	if err != nil || len(deliveries) != 1 || deliveries[0].Duration != 20*time.Millisecond {
		t.Fatalf("unexpected deliveries %+v (%v)", deliveries, err)
	}

	page, err := repo.Query(ctx, alerts.Filter{Metric: alert.MetricName, Status: anomaly.StatusAcknowledged, Limit: 10})
	if err != nil || page.Total != 1 || len(page.Alerts) != 1 {
		t.Fatalf("unexpected page %+v (%v)", page, err)
	}
}
