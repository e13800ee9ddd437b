package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"predixaai-anomaly/internal/anomaly"
	"predixaai-anomaly/internal/bus"
	"predixaai-anomaly/internal/detection"
	"predixaai-anomaly/internal/metrics"
	"predixaai-anomaly/internal/notify"
)

const DefaultPageSize = 50

// Enqueuer hands a new alert to the asynchronous delivery path. It must not
// block.
type Enqueuer interface {
	Enqueue(alert anomaly.Alert, channels []string) int
}

// EventPublisher receives lifecycle events for other services.
type EventPublisher interface {
	Publish(subject string, payload any) error
}

type Manager struct {
	repo     Repository
	dispatch Enqueuer
	events   EventPublisher
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	newID    func() string
}

type Option func(*Manager)

func WithMetrics(m *metrics.Metrics) Option { return func(mgr *Manager) { mgr.metrics = m } }

func WithEvents(p EventPublisher) Option { return func(mgr *Manager) { mgr.events = p } }

func WithClock(now func() time.Time) Option { return func(mgr *Manager) { mgr.now = now } }

func NewManager(repo Repository, dispatch Enqueuer, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		repo:     repo,
		dispatch: dispatch,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create persists the candidate as an active alert at version 0 and queues
// delivery to channels. Delivery outcome never affects the returned alert.
func (m *Manager) Create(ctx context.Context, c detection.Candidate, channels []string) (anomaly.Alert, error) {
	now := m.now().UTC()
	alert := anomaly.Alert{
		ID:               m.newID(),
		MetricName:       c.MetricName,
		ObservedValue:    c.ObservedValue,
		ObservedAt:       c.ObservedAt.UTC(),
		Baseline:         c.Baseline,
		DeviationPercent: c.DeviationPercent,
		AnomalyType:      c.AnomalyType,
		Severity:         c.Severity,
		FiringAlgorithms: slices.Clone(c.FiringAlgorithms),
		Status:           anomaly.StatusActive,
		Explain:          c.Explain,
		Channels:         slices.Clone(channels),
		CreatedAt:        now,
		UpdatedAt:        now,
		Version:          0,
	}
	if err := m.repo.Create(ctx, alert); err != nil {
		return anomaly.Alert{}, fmt.Errorf("create alert for %s: %w", c.MetricName, err)
	}
	m.metrics.AlertCreated(string(alert.Severity))
	m.logger.Info("alert created",
		slog.String("alert_id", alert.ID),
		slog.String("metric", alert.MetricName),
		slog.String("severity", string(alert.Severity)),
		slog.String("anomaly_type", string(alert.AnomalyType)),
		slog.Float64("deviation_percent", alert.DeviationPercent),
	)
	if m.dispatch != nil && len(channels) > 0 {
		m.dispatch.Enqueue(alert, channels)
	}
	m.publish(bus.SubjectAlertCreated, alert)
	return alert, nil
}

func (m *Manager) Acknowledge(ctx context.Context, id, actor string, expectedVersion int) (anomaly.Alert, error) {
	return m.transition(ctx, id, expectedVersion, anomaly.StatusAcknowledged, actor, "", func(a *anomaly.Alert) {
		a.AcknowledgedBy = actor
	})
}

func (m *Manager) Resolve(ctx context.Context, id, notes string, expectedVersion int) (anomaly.Alert, error) {
	return m.transition(ctx, id, expectedVersion, anomaly.StatusResolved, "", notes, func(a *anomaly.Alert) {
		a.ResolutionNotes = notes
	})
}

func allowedTransition(from, to anomaly.Status) bool {
	switch from {
	case anomaly.StatusActive:
		return to == anomaly.StatusAcknowledged || to == anomaly.StatusResolved
	case anomaly.StatusAcknowledged:
		return to == anomaly.StatusResolved
	default:
		return false
	}
}

func (m *Manager) transition(ctx context.Context, id string, expectedVersion int, to anomaly.Status, actor, notes string, apply func(*anomaly.Alert)) (anomaly.Alert, error) {
	cur, err := m.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, anomaly.ErrNotFound) {
			return anomaly.Alert{}, fmt.Errorf("alert %s: %w", id, anomaly.ErrNotFound)
		}
		return anomaly.Alert{}, err
	}
	if !allowedTransition(cur.Status, to) {
		reason := fmt.Sprintf("cannot move from %s to %s", cur.Status, to)
		if cur.Status == anomaly.StatusResolved {
			reason = "already resolved"
		}
		return anomaly.Alert{}, &anomaly.ConflictError{AlertID: id, Reason: reason, CurrentStatus: cur.Status, CurrentVersion: cur.Version}
	}
	if cur.Version != expectedVersion {
		return anomaly.Alert{}, &anomaly.ConflictError{AlertID: id, Reason: "version mismatch", CurrentStatus: cur.Status, CurrentVersion: cur.Version}
	}

	now := m.now().UTC()
	next := cur
	next.Status = to
	next.Version = cur.Version + 1
	next.UpdatedAt = now
	apply(&next)
	tr := anomaly.Transition{AlertID: id, From: cur.Status, To: to, Actor: actor, Notes: notes, Version: next.Version, At: now}
	if err := m.repo.UpdateStatus(ctx, next, expectedVersion, tr); err != nil {
		return anomaly.Alert{}, err
	}
	m.metrics.Transitioned(string(to))
	m.logger.Info("alert transitioned",
		slog.String("alert_id", id),
		slog.String("from", string(cur.Status)),
		slog.String("to", string(to)),
		slog.Int("version", next.Version),
	)
	m.publish(bus.SubjectAlertUpdated, next)
	return next, nil
}

func (m *Manager) publish(subject string, alert anomaly.Alert) {
	if m.events == nil {
		return
	}
	if err := m.events.Publish(subject, alert); err != nil {
		m.logger.Warn("alert event publish failed", slog.String("subject", subject), slog.String("error", err.Error()))
	}
}

func (m *Manager) Get(ctx context.Context, id string) (anomaly.Alert, error) {
	a, err := m.repo.Get(ctx, id)
	if errors.Is(err, anomaly.ErrNotFound) {
		return anomaly.Alert{}, fmt.Errorf("alert %s: %w", id, anomaly.ErrNotFound)
	}
	return a, err
}

func (m *Manager) Query(ctx context.Context, f Filter) (Page, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return m.repo.Query(ctx, f)
}

func (m *Manager) Active(ctx context.Context, limit, offset int) (Page, error) {
	return m.Query(ctx, Filter{Status: anomaly.StatusActive, Limit: limit, Offset: offset})
}

func (m *Manager) Timeline(ctx context.Context, id string) ([]anomaly.Transition, error) {
	return m.repo.Transitions(ctx, id)
}

func (m *Manager) Deliveries(ctx context.Context, id string) ([]notify.DeliveryResult, error) {
	return m.repo.Deliveries(ctx, id)
}

func (m *Manager) Stats(ctx context.Context, from, to time.Time) (Stats, error) {
	return m.repo.Stats(ctx, from, to)
}
