package configs

import (
	"context"
	"slices"
	"sort"
	"sync"

	"predixaai-anomaly/internal/anomaly"
)

// Store persists detection configs keyed by metric name. Get returns
// anomaly.ErrNotFound for unknown metrics.
type Store interface {
	ListEnabled(ctx context.Context) ([]anomaly.DetectionConfig, error)
	List(ctx context.Context) ([]anomaly.DetectionConfig, error)
	Get(ctx context.Context, metric string) (anomaly.DetectionConfig, error)
	Upsert(ctx context.Context, cfg anomaly.DetectionConfig) error
}

type MemoryStore struct {
	mu      sync.RWMutex
	configs map[string]anomaly.DetectionConfig
}

func NewMemoryStore(initial ...anomaly.DetectionConfig) *MemoryStore {
	s := &MemoryStore{configs: map[string]anomaly.DetectionConfig{}}
	for _, cfg := range initial {
		s.configs[cfg.MetricName] = cfg
	}
	return s
}

func cloneConfig(cfg anomaly.DetectionConfig) anomaly.DetectionConfig {
	cfg.Algorithms = slices.Clone(cfg.Algorithms)
	cfg.AlertChannels = slices.Clone(cfg.AlertChannels)
	if cfg.Thresholds != nil {
		t := *cfg.Thresholds
		cfg.Thresholds = &t
	}
	return cfg
}

func (s *MemoryStore) list(enabledOnly bool) []anomaly.DetectionConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]anomaly.DetectionConfig, 0, len(s.configs))
	for _, cfg := range s.configs {
		if enabledOnly && !cfg.Enabled {
			continue
		}
		out = append(out, cloneConfig(cfg))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MetricName < out[j].MetricName })
	return out
}

func (s *MemoryStore) ListEnabled(context.Context) ([]anomaly.DetectionConfig, error) {
	return s.list(true), nil
}

func (s *MemoryStore) List(context.Context) ([]anomaly.DetectionConfig, error) {
	return s.list(false), nil
}

func (s *MemoryStore) Get(_ context.Context, metric string) (anomaly.DetectionConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[metric]
	if !ok {
		return anomaly.DetectionConfig{}, anomaly.ErrNotFound
	}
	return cloneConfig(cfg), nil
}

func (s *MemoryStore) Upsert(_ context.Context, cfg anomaly.DetectionConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[cfg.MetricName] = cloneConfig(cfg)
	return nil
}
