package alerts

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"predixaai-anomaly/internal/anomaly"
	"predixaai-anomaly/internal/notify"
)

type MemoryRepository struct {
	mu          sync.RWMutex
	alerts      map[string]anomaly.Alert
	transitions map[string][]anomaly.Transition
	deliveries  map[string][]notify.DeliveryResult
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		alerts:      map[string]anomaly.Alert{},
		transitions: map[string][]anomaly.Transition{},
		deliveries:  map[string][]notify.DeliveryResult{},
	}
}

func clone(a anomaly.Alert) anomaly.Alert {
	a.FiringAlgorithms = slices.Clone(a.FiringAlgorithms)
	a.Channels = slices.Clone(a.Channels)
	return a
}

func (r *MemoryRepository) Create(_ context.Context, alert anomaly.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.alerts[alert.ID]; ok {
		return fmt.Errorf("alert %s already exists", alert.ID)
	}
	r.alerts[alert.ID] = clone(alert)
	r.transitions[alert.ID] = []anomaly.Transition{{
		AlertID: alert.ID,
		To:      alert.Status,
		Version: alert.Version,
		At:      alert.CreatedAt,
	}}
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (anomaly.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.alerts[id]
	if !ok {
		return anomaly.Alert{}, anomaly.ErrNotFound
	}
	return clone(a), nil
}

func (r *MemoryRepository) UpdateStatus(_ context.Context, next anomaly.Alert, expectedVersion int, tr anomaly.Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.alerts[next.ID]
	if !ok {
		return anomaly.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return &anomaly.ConflictError{AlertID: cur.ID, Reason: "version mismatch", CurrentStatus: cur.Status, CurrentVersion: cur.Version}
	}
	r.alerts[next.ID] = clone(next)
	r.transitions[next.ID] = append(r.transitions[next.ID], tr)
	return nil
}

func (r *MemoryRepository) Query(_ context.Context, f Filter) (Page, error) {
	r.mu.RLock()
	matched := make([]anomaly.Alert, 0)
	for _, a := range r.alerts {
		if f.Matches(a) {
			matched = append(matched, clone(a))
		}
	}
	r.mu.RUnlock()
	sortNewestFirst(matched)
	page := Page{Total: len(matched), Limit: f.Limit, Offset: f.Offset}
	start := min(max(f.Offset, 0), len(matched))
	end := len(matched)
	if f.Limit > 0 {
		end = min(start+f.Limit, len(matched))
	}
	page.Alerts = matched[start:end]
	return page, nil
}

func sortNewestFirst(alerts []anomaly.Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		if alerts[i].CreatedAt.Equal(alerts[j].CreatedAt) {
			return alerts[i].ID > alerts[j].ID
		}
		return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
	})
}

func (r *MemoryRepository) Transitions(_ context.Context, id string) ([]anomaly.Transition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.alerts[id]; !ok {
		return nil, anomaly.ErrNotFound
	}
	return slices.Clone(r.transitions[id]), nil
}

func (r *MemoryRepository) Stats(_ context.Context, from, to time.Time) (Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := NewStats(from, to)
	f := Filter{From: from, To: to}
	for _, a := range r.alerts {
		if f.Matches(a) {
			stats.Add(a)
		}
	}
	return stats, nil
}

func (r *MemoryRepository) RecordDelivery(_ context.Context, d notify.DeliveryResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries[d.AlertID] = append(r.deliveries[d.AlertID], d)
	return nil
}

func (r *MemoryRepository) Deliveries(_ context.Context, alertID string) ([]notify.DeliveryResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.deliveries[alertID]), nil
}
