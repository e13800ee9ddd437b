package metricstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"predixaai-anomaly/internal/anomaly"
)

// ErrNoData means the metric exists in no sample at all (or none before the
// requested instant). It is not a store outage.
var ErrNoData = errors.New("no data")

type Store interface {
	LatestSample(ctx context.Context, metric string) (anomaly.MetricSample, error)
	HistoricalWindow(ctx context.Context, metric string, from, to time.Time) ([]anomaly.MetricSample, error)
	LatestSampleBefore(ctx context.Context, metric string, at time.Time) (anomaly.MetricSample, error)
}

func unavailable(op string, err error) error {
	if errors.Is(err, ErrNoData) {
		return err
	}
	return fmt.Errorf("%s: %w: %v", op, anomaly.ErrMetricStoreUnavailable, err)
}

// MemoryStore keeps samples per metric ordered by timestamp.
type MemoryStore struct {
	mu      sync.RWMutex
	samples map[string][]anomaly.MetricSample
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{samples: map[string][]anomaly.MetricSample{}}
}

func (m *MemoryStore) Append(samples ...anomaly.MetricSample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	touched := map[string]struct{}{}
	for _, s := range samples {
		m.samples[s.MetricName] = append(m.samples[s.MetricName], s)
		touched[s.MetricName] = struct{}{}
	}
	for name := range touched {
		series := m.samples[name]
		sort.SliceStable(series, func(i, j int) bool { return series[i].Timestamp.Before(series[j].Timestamp) })
	}
}

func (m *MemoryStore) LatestSample(_ context.Context, metric string) (anomaly.MetricSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	series := m.samples[metric]
	if len(series) == 0 {
		return anomaly.MetricSample{}, ErrNoData
	}
	return series[len(series)-1], nil
}

func (m *MemoryStore) HistoricalWindow(_ context.Context, metric string, from, to time.Time) ([]anomaly.MetricSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []anomaly.MetricSample{}
	for _, s := range m.samples[metric] {
		if s.Timestamp.Before(from) || s.Timestamp.After(to) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *MemoryStore) LatestSampleBefore(_ context.Context, metric string, at time.Time) (anomaly.MetricSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	series := m.samples[metric]
	for i := len(series) - 1; i >= 0; i-- {
		if !series[i].Timestamp.After(at) {
			return series[i], nil
		}
	}
	return anomaly.MetricSample{}, ErrNoData
}
