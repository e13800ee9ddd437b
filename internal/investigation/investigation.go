package investigation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"predixaai-anomaly/internal/alerts"
	"predixaai-anomaly/internal/anomaly"
	"predixaai-anomaly/internal/detection"
	"predixaai-anomaly/internal/metricstore"
	"predixaai-anomaly/internal/notify"
)

const (
	DefaultSimilarLimit = 10
	correlationWorkers  = 8
)

type AlertReader interface {
	Get(ctx context.Context, id string) (anomaly.Alert, error)
	Query(ctx context.Context, f alerts.Filter) (alerts.Page, error)
	Timeline(ctx context.Context, id string) ([]anomaly.Transition, error)
	Deliveries(ctx context.Context, id string) ([]notify.DeliveryResult, error)
}

type ConfigLister interface {
	ListEnabledConfigs(ctx context.Context) ([]anomaly.DetectionConfig, error)
}

type CorrelatedMetric struct {
	MetricName string    `json:"metricName"`
	Value      float64   `json:"value"`
	Timestamp  time.Time `json:"timestamp"`
}

// Report is the context gathered around one alert. Sections that could not
// be loaded are left empty and named in Warnings.
type Report struct {
	Alert             anomaly.Alert           `json:"alert"`
	WindowStart       time.Time               `json:"windowStart"`
	WindowEnd         time.Time               `json:"windowEnd"`
	HistoricalSeries  []anomaly.MetricSample  `json:"historicalSeries"`
	SimilarPastAlerts []anomaly.Alert         `json:"similarPastAlerts"`
	CorrelatedMetrics []CorrelatedMetric      `json:"correlatedMetrics"`
	StatusTimeline    []anomaly.Transition    `json:"statusTimeline"`
	Deliveries        []notify.DeliveryResult `json:"deliveries"`
	Warnings          []string                `json:"warnings,omitempty"`
}

type Options struct {
	Retention    time.Duration
	SimilarLimit int
}

type Service struct {
	alerts  AlertReader
	configs ConfigLister
	samples metricstore.Store
	logger  *slog.Logger
	opts    Options
}

func NewService(alertReader AlertReader, configs ConfigLister, samples metricstore.Store, logger *slog.Logger, opts Options) *Service {
	if opts.Retention <= 0 {
		opts.Retention = detection.DefaultRetention
	}
	if opts.SimilarLimit <= 0 {
		opts.SimilarLimit = DefaultSimilarLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{alerts: alertReader, configs: configs, samples: samples, logger: logger, opts: opts}
}

// Investigate assembles the report for alertID. Only a failure to load the
// alert itself is returned as an error.
func (s *Service) Investigate(ctx context.Context, alertID string) (Report, error) {
	alert, err := s.alerts.Get(ctx, alertID)
	if err != nil {
		return Report{}, err
	}
	report := Report{
		Alert:       alert,
		WindowStart: alert.CreatedAt.Add(-s.opts.Retention),
		WindowEnd:   alert.CreatedAt,
	}
	logger := s.logger.With(slog.String("alert_id", alert.ID), slog.String("metric", alert.MetricName))
	warn := func(section string, err error) {
		logger.Warn("investigation section unavailable", slog.String("section", section), slog.String("error", err.Error()))
		report.Warnings = append(report.Warnings, fmt.Sprintf("%s: %v", section, err))
	}

	series, err := s.samples.HistoricalWindow(ctx, alert.MetricName, report.WindowStart, report.WindowEnd)
	switch {
	case errors.Is(err, metricstore.ErrNoData):
	case err != nil:
		warn("historicalSeries", err)
	default:
		report.HistoricalSeries = clampWindow(series, report.WindowStart, report.WindowEnd)
	}

	similar, err := s.alerts.Query(ctx, alerts.Filter{
		Metric:      alert.MetricName,
		AnomalyType: alert.AnomalyType,
		To:          alert.CreatedAt,
		ExcludeID:   alert.ID,
		Limit:       s.opts.SimilarLimit,
	})
	if err != nil {
		warn("similarPastAlerts", err)
	} else {
		report.SimilarPastAlerts = similar.Alerts
	}

	correlated, err := s.correlate(ctx, alert)
	if err != nil {
		warn("correlatedMetrics", err)
	}
	report.CorrelatedMetrics = correlated

	if report.StatusTimeline, err = s.alerts.Timeline(ctx, alert.ID); err != nil {
		warn("statusTimeline", err)
	}
	if report.Deliveries, err = s.alerts.Deliveries(ctx, alert.ID); err != nil {
		warn("deliveries", err)
	}
	return report, nil
}

// correlate snapshots every other enabled metric at the moment the anomaly
// was observed.
func (s *Service) correlate(ctx context.Context, alert anomaly.Alert) ([]CorrelatedMetric, error) {
	cfgs, err := s.configs.ListEnabledConfigs(ctx)
	if err != nil {
		return nil, err
	}
	at := alert.ObservedAt
	if at.IsZero() {
		at = alert.CreatedAt
	}

	var (
		mu  sync.Mutex
		out []CorrelatedMetric
		g   errgroup.Group
	)
	g.SetLimit(correlationWorkers)
	for _, cfg := range cfgs {
		if cfg.MetricName == alert.MetricName {
			continue
		}
		g.Go(func() error {
			sample, err := s.samples.LatestSampleBefore(ctx, cfg.MetricName, at)
			if errors.Is(err, metricstore.ErrNoData) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("%s: %w", cfg.MetricName, err)
			}
			mu.Lock()
			out = append(out, CorrelatedMetric{MetricName: cfg.MetricName, Value: sample.Value, Timestamp: sample.Timestamp})
			mu.Unlock()
			return nil
		})
	}
	err = g.Wait()
	sort.Slice(out, func(i, j int) bool { return out[i].MetricName < out[j].MetricName })
	return out, err
}

func clampWindow(samples []anomaly.MetricSample, from, to time.Time) []anomaly.MetricSample {
	out := make([]anomaly.MetricSample, 0, len(samples))
	for _, s := range samples {
		if s.Timestamp.Before(from) || s.Timestamp.After(to) {
			continue
		}
		out = append(out, s)
	}
	return out
}
