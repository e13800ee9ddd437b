package alerts

import (
	"context"
	"time"

	"predixaai-anomaly/internal/anomaly"
	"predixaai-anomaly/internal/notify"
)

// Filter selects alerts for Query. Zero values match everything; From/To
// bound CreatedAt inclusively.
type Filter struct {
	Metric      string
	Severity    anomaly.Severity
	AnomalyType anomaly.AnomalyType
	Status      anomaly.Status
	From        time.Time
	To          time.Time
	ExcludeID   string
	Limit       int
	Offset      int
}

func (f Filter) Matches(a anomaly.Alert) bool {
	switch {
	case f.Metric != "" && a.MetricName != f.Metric:
		return false
	case f.Severity != "" && a.Severity != f.Severity:
		return false
	case f.AnomalyType != "" && a.AnomalyType != f.AnomalyType:
		return false
	case f.Status != "" && a.Status != f.Status:
		return false
	case f.ExcludeID != "" && a.ID == f.ExcludeID:
		return false
	case !f.From.IsZero() && a.CreatedAt.Before(f.From):
		return false
	case !f.To.IsZero() && a.CreatedAt.After(f.To):
		return false
	}
	return true
}

// Page is one slice of a newest-first result set; Total counts every match.
type Page struct {
	Alerts []anomaly.Alert `json:"alerts"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

type Stats struct {
	Total      int                         `json:"total"`
	ByStatus   map[anomaly.Status]int      `json:"byStatus"`
	BySeverity map[anomaly.Severity]int    `json:"bySeverity"`
	ByType     map[anomaly.AnomalyType]int `json:"byType"`
	ByMetric   map[string]int              `json:"byMetric"`
	From       time.Time                   `json:"from,omitempty"`
	To         time.Time                   `json:"to,omitempty"`
}

func NewStats(from, to time.Time) Stats {
	return Stats{
		ByStatus:   map[anomaly.Status]int{},
		BySeverity: map[anomaly.Severity]int{},
		ByType:     map[anomaly.AnomalyType]int{},
		ByMetric:   map[string]int{},
		From:       from,
		To:         to,
	}
}

func (s *Stats) Add(a anomaly.Alert) {
	s.Total++
	s.ByStatus[a.Status]++
	s.BySeverity[a.Severity]++
	s.ByType[a.AnomalyType]++
	s.ByMetric[a.MetricName]++
}

// Repository persists alerts. Create records the creation transition and
// UpdateStatus stores next together with tr only if the stored version still
// equals expectedVersion; otherwise it returns *anomaly.ConflictError.
// Unknown ids yield anomaly.ErrNotFound.
type Repository interface {
	Create(ctx context.Context, alert anomaly.Alert) error
	Get(ctx context.Context, id string) (anomaly.Alert, error)
	UpdateStatus(ctx context.Context, next anomaly.Alert, expectedVersion int, tr anomaly.Transition) error
	Query(ctx context.Context, f Filter) (Page, error)
	Transitions(ctx context.Context, id string) ([]anomaly.Transition, error)
	Stats(ctx context.Context, from, to time.Time) (Stats, error)
	RecordDelivery(ctx context.Context, d notify.DeliveryResult) error
	Deliveries(ctx context.Context, alertID string) ([]notify.DeliveryResult, error)
}
