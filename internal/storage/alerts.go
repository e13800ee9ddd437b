package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"predixaai-anomaly/internal/alerts"
	"predixaai-anomaly/internal/anomaly"
	"predixaai-anomaly/internal/notify"
)

// AlertRepository implements alerts.Repository on anomaly_alerts and its
// transition and delivery tables.
type AlertRepository struct {
	Store *Store
}

func NewAlertRepository(store *Store) *AlertRepository {
	return &AlertRepository{Store: store}
}

const alertColumns = `id, metric_name, observed_value, observed_at, baseline, deviation_percent, anomaly_type, severity, firing_algorithms, status, acknowledged_by, resolution_notes, explain, channels, created_at, updated_at, version`

func scanAlert(row pgx.Row) (anomaly.Alert, error) {
	var (
		a          anomaly.Alert
		baseline   []byte
		algorithms []byte
		channels   []byte
	)
	if err := row.Scan(&a.ID, &a.MetricName, &a.ObservedValue, &a.ObservedAt, &baseline, &a.DeviationPercent, &a.AnomalyType, &a.Severity, &algorithms, &a.Status, &a.AcknowledgedBy, &a.ResolutionNotes, &a.Explain, &channels, &a.CreatedAt, &a.UpdatedAt, &a.Version); err != nil {
		return anomaly.Alert{}, err
	}
	if err := json.Unmarshal(baseline, &a.Baseline); err != nil {
		return anomaly.Alert{}, fmt.Errorf("decode baseline for %s: %w", a.ID, err)
	}
	if err := json.Unmarshal(algorithms, &a.FiringAlgorithms); err != nil {
		return anomaly.Alert{}, fmt.Errorf("decode algorithms for %s: %w", a.ID, err)
	}
	if err := json.Unmarshal(channels, &a.Channels); err != nil {
		return anomaly.Alert{}, fmt.Errorf("decode channels for %s: %w", a.ID, err)
	}
	return a, nil
}

func (r *AlertRepository) Create(ctx context.Context, alert anomaly.Alert) error {
	baseline, err := json.Marshal(alert.Baseline)
	if err != nil {
		return err
	}
	algorithms, err := json.Marshal(alert.FiringAlgorithms)
	if err != nil {
		return err
	}
	channels, err := json.Marshal(alert.Channels)
	if err != nil {
		return err
	}

	tx, err := r.Store.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO anomaly_alerts (`+alertColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		alert.ID, alert.MetricName, alert.ObservedValue, alert.ObservedAt, baseline, alert.DeviationPercent,
		string(alert.AnomalyType), string(alert.Severity), algorithms, string(alert.Status), alert.AcknowledgedBy,
		alert.ResolutionNotes, alert.Explain, channels, alert.CreatedAt, alert.UpdatedAt, alert.Version,
	)
	if err != nil {
		return err
	}
	if err := insertTransition(ctx, tx, anomaly.Transition{
		AlertID: alert.ID,
		To:      alert.Status,
		Version: alert.Version,
		At:      alert.CreatedAt,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func getAlert(ctx context.Context, q querier, id string) (anomaly.Alert, error) {
	a, err := scanAlert(q.QueryRow(ctx, `SELECT `+alertColumns+` FROM anomaly_alerts WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return anomaly.Alert{}, anomaly.ErrNotFound
	}
	return a, err
}

func (r *AlertRepository) Get(ctx context.Context, id string) (anomaly.Alert, error) {
	return getAlert(ctx, r.Store.Pool, id)
}

// UpdateStatus applies next only while the row still carries
// expectedVersion, inserting tr in the same transaction.
func (r *AlertRepository) UpdateStatus(ctx context.Context, next anomaly.Alert, expectedVersion int, tr anomaly.Transition) error {
	tx, err := r.Store.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE anomaly_alerts
		SET status=$1, acknowledged_by=$2, resolution_notes=$3, updated_at=$4, version=$5
		WHERE id=$6 AND version=$7`,
		string(next.Status), next.AcknowledgedBy, next.ResolutionNotes, next.UpdatedAt, next.Version, next.ID, expectedVersion,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		cur, err := getAlert(ctx, tx, next.ID)
		if err != nil {
			return err
		}
		return &anomaly.ConflictError{AlertID: cur.ID, Reason: "version mismatch", CurrentStatus: cur.Status, CurrentVersion: cur.Version}
	}
	if err := insertTransition(ctx, tx, tr); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertTransition(ctx context.Context, q querier, tr anomaly.Transition) error {
	_, err := q.Exec(ctx, `
		INSERT INTO alert_transitions (alert_id, from_status, to_status, actor, notes, version, at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		tr.AlertID, string(tr.From), string(tr.To), tr.Actor, tr.Notes, tr.Version, tr.At,
	)
	return err
}

// buildAlertFilter renders f as a WHERE clause with positional arguments.
// It returns an empty clause when f selects everything.
func buildAlertFilter(f alerts.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Metric != "" {
		add("metric_name=$%d", f.Metric)
	}
	if f.Severity != "" {
		add("severity=$%d", string(f.Severity))
	}
	if f.AnomalyType != "" {
		add("anomaly_type=$%d", string(f.AnomalyType))
	}
	if f.Status != "" {
		add("status=$%d", string(f.Status))
	}
	if f.ExcludeID != "" {
		add("id<>$%d", f.ExcludeID)
	}
	if !f.From.IsZero() {
		add("created_at>=$%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at<=$%d", f.To)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *AlertRepository) Query(ctx context.Context, f alerts.Filter) (alerts.Page, error) {
	where, args := buildAlertFilter(f)
	page := alerts.Page{Alerts: []anomaly.Alert{}, Limit: f.Limit, Offset: f.Offset}
	if err := r.Store.Pool.QueryRow(ctx, `SELECT count(*) FROM anomaly_alerts`+where, args...).Scan(&page.Total); err != nil {
		return alerts.Page{}, err
	}

	sql := `SELECT ` + alertColumns + ` FROM anomaly_alerts` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		sql += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	rows, err := r.Store.Pool.Query(ctx, sql, args...)
	if err != nil {
		return alerts.Page{}, err
	}
	defer rows.Close()
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return alerts.Page{}, err
		}
		page.Alerts = append(page.Alerts, a)
	}
	return page, rows.Err()
}

func (r *AlertRepository) Transitions(ctx context.Context, id string) ([]anomaly.Transition, error) {
	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT alert_id, from_status, to_status, actor, notes, version, at
		FROM alert_transitions WHERE alert_id=$1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []anomaly.Transition{}
	for rows.Next() {
		var tr anomaly.Transition
		if err := rows.Scan(&tr.AlertID, &tr.From, &tr.To, &tr.Actor, &tr.Notes, &tr.Version, &tr.At); err != nil {
			return nil, err
		}
		results = append(results, tr)
	}
	return results, rows.Err()
}

func (r *AlertRepository) Stats(ctx context.Context, from, to time.Time) (alerts.Stats, error) {
	where, args := buildAlertFilter(alerts.Filter{From: from, To: to})
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT status, severity, anomaly_type, metric_name, count(*)
		FROM anomaly_alerts`+where+`
		GROUP BY status, severity, anomaly_type, metric_name`, args...)
	if err != nil {
		return alerts.Stats{}, err
	}
	defer rows.Close()
	stats := alerts.NewStats(from, to)
	for rows.Next() {
		var (
			status   anomaly.Status
			severity anomaly.Severity
			kind     anomaly.AnomalyType
			metric   string
			n        int
		)
		if err := rows.Scan(&status, &severity, &kind, &metric, &n); err != nil {
			return alerts.Stats{}, err
		}
		stats.Total += n
		stats.ByStatus[status] += n
		stats.BySeverity[severity] += n
		stats.ByType[kind] += n
		stats.ByMetric[metric] += n
	}
	return stats, rows.Err()
}

func (r *AlertRepository) RecordDelivery(ctx context.Context, d notify.DeliveryResult) error {
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO alert_deliveries (alert_id, channel_id, success, error, duration_ms, at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		d.AlertID, d.ChannelID, d.Success, d.Error, d.Duration.Milliseconds(), d.At,
	)
	return err
}

func (r *AlertRepository) Deliveries(ctx context.Context, alertID string) ([]notify.DeliveryResult, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT alert_id, channel_id, success, error, duration_ms, at
		FROM alert_deliveries WHERE alert_id=$1 ORDER BY id`, alertID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []notify.DeliveryResult{}
	for rows.Next() {
		var (
			d  notify.DeliveryResult
			ms int64
		)
		if err := rows.Scan(&d.AlertID, &d.ChannelID, &d.Success, &d.Error, &ms, &d.At); err != nil {
			return nil, err
		}
		d.Duration = time.Duration(ms) * time.Millisecond
		results = append(results, d)
	}
	return results, rows.Err()
}
