package configs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"predixaai-anomaly/internal/anomaly"
	"predixaai-anomaly/internal/bus"
)

type Publisher interface {
	Publish(subject string, payload any) error
}

type Service struct {
	store     Store
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(store Store, publisher Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, publisher: publisher, logger: logger, now: time.Now}
}

// UpdateConfig validates cfg for metric, applies defaults, stores it and
// announces the change. The path metric wins over cfg.MetricName; a
// different non-empty name is rejected.
func (s *Service) UpdateConfig(ctx context.Context, metric string, cfg anomaly.DetectionConfig) (anomaly.DetectionConfig, error) {
	metric = strings.TrimSpace(metric)
	if name := strings.TrimSpace(cfg.MetricName); name != "" && name != metric {
		return anomaly.DetectionConfig{}, &anomaly.ValidationError{Details: []anomaly.ErrorDetail{{
			Field: "metricName", Problem: "does not match path", Hint: fmt.Sprintf("expected %q", metric),
		}}}
	}
	cfg.MetricName = metric
	cfg = anomaly.NormalizeConfig(cfg)
	if err := anomaly.ValidateConfig(cfg); err != nil {
		return anomaly.DetectionConfig{}, err
	}
	cfg.UpdatedAt = s.now().UTC()
	if err := s.store.Upsert(ctx, cfg); err != nil {
		return anomaly.DetectionConfig{}, fmt.Errorf("store config %s: %w", metric, err)
	}
	s.logger.Info("detection config updated",
		slog.String("metric", metric),
		slog.Bool("enabled", cfg.Enabled),
		slog.Int("sensitivity", cfg.Sensitivity),
	)
	if s.publisher != nil {
		evt := bus.ConfigEvent{MetricName: metric, Enabled: cfg.Enabled, UpdatedAt: cfg.UpdatedAt}
		if err := s.publisher.Publish(bus.SubjectConfigUpdated, evt); err != nil {
			s.logger.Warn("config event publish failed", slog.String("metric", metric), slog.String("error", err.Error()))
		}
	}
	return cfg, nil
}

func (s *Service) GetConfig(ctx context.Context, metric string) (anomaly.DetectionConfig, error) {
	cfg, err := s.store.Get(ctx, metric)
	if errors.Is(err, anomaly.ErrNotFound) {
		return anomaly.DetectionConfig{}, fmt.Errorf("config %s: %w", metric, anomaly.ErrNotFound)
	}
	return cfg, err
}

func (s *Service) ListConfigs(ctx context.Context) ([]anomaly.DetectionConfig, error) {
	return s.store.List(ctx)
}

func (s *Service) ListEnabledConfigs(ctx context.Context) ([]anomaly.DetectionConfig, error) {
	return s.store.ListEnabled(ctx)
}
