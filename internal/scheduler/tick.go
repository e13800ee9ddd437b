package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"predixaai-anomaly/internal/anomaly"
	"predixaai-anomaly/internal/metricstore"
)

const (
	skipNoData       = "no_data"
	skipStale        = "no_new_sample"
	skipInsufficient = "insufficient_data"
	skipUnavailable  = "store_unavailable"
	skipError        = "error"
)

var (
	ErrConfigStoreUnavailable = errors.New("config store unavailable")
	ErrPersistenceUnavailable = errors.New("alert persistence unavailable")
)

type TickSummary struct {
	StartedAt  time.Time     `json:"startedAt"`
	Duration   time.Duration `json:"duration"`
	Leader     bool          `json:"leader"`
	Metrics    int           `json:"metrics"`
	Evaluated  int           `json:"evaluated"`
	Skipped    int           `json:"skipped"`
	Candidates int           `json:"candidates"`
	Suppressed int           `json:"suppressed"`
	Created    int           `json:"created"`
	Failed     int           `json:"failed"`
	Error      string        `json:"error,omitempty"`
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeQuiet
	outcomeSuppressed
	outcomeCreated
	outcomeFailed
)

type pruner interface {
	Prune(now time.Time, maxAge time.Duration) int
}

// Tick runs one detection pass over every enabled metric. Per-metric
// failures are counted and logged; the returned error is reserved for
// failures that should pause the loop.
func (s *Scheduler) Tick(ctx context.Context) (TickSummary, error) {
	started := s.now()
	summary := TickSummary{StartedAt: started}
	err := s.tick(ctx, &summary)
	summary.Duration = s.now().Sub(started)
	if err != nil {
		summary.Error = err.Error()
	}
	s.metrics.ObserveTick(summary.Duration)

	s.mu.Lock()
	s.last = &summary
	s.mu.Unlock()

	if summary.Leader {
		s.logger.Info("tick complete",
			slog.Int("metrics", summary.Metrics),
			slog.Int("evaluated", summary.Evaluated),
			slog.Int("skipped", summary.Skipped),
			slog.Int("candidates", summary.Candidates),
			slog.Int("suppressed", summary.Suppressed),
			slog.Int("created", summary.Created),
			slog.Duration("duration", summary.Duration),
		)
	}
	return summary, err
}

func (s *Scheduler) tick(ctx context.Context, summary *TickSummary) error {
	isLeader, err := s.elector.Acquire(ctx)
	if err != nil {
		s.logger.Warn("leader election failed", slog.String("error", err.Error()))
		isLeader = false
	}
	s.metrics.SetLeader(isLeader)
	summary.Leader = isLeader
	if !isLeader {
		return nil
	}

	cfgs, err := s.configs.ListEnabledConfigs(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfigStoreUnavailable, err)
	}
	summary.Metrics = len(cfgs)

	var (
		mu  sync.Mutex
		g   errgroup.Group
		now = s.now()
	)
	g.SetLimit(s.opts.Workers)
	for _, cfg := range cfgs {
		g.Go(func() error {
			result := s.evaluateMetric(ctx, cfg, now)
			mu.Lock()
			defer mu.Unlock()
			switch result {
			case outcomeSkipped:
				summary.Skipped++
				return nil
			case outcomeSuppressed:
				summary.Candidates++
				summary.Suppressed++
			case outcomeCreated:
				summary.Candidates++
				summary.Created++
			case outcomeFailed:
				summary.Candidates++
				summary.Failed++
			}
			summary.Evaluated++
			return nil
		})
	}
	_ = g.Wait()

	s.pruneDedup(cfgs, now)

	if summary.Failed > 0 && summary.Created == 0 {
		return fmt.Errorf("%w: %d alerts could not be stored", ErrPersistenceUnavailable, summary.Failed)
	}
	return nil
}

func (s *Scheduler) evaluateMetric(ctx context.Context, cfg anomaly.DetectionConfig, now time.Time) outcome {
	logger := s.logger.With(slog.String("metric", cfg.MetricName))

	qctx, cancel := context.WithTimeout(ctx, s.opts.QueryTimeout)
	defer cancel()

	latest, err := s.samples.LatestSample(qctx, cfg.MetricName)
	if err != nil {
		return s.skip(logger, err)
	}
	if !s.markSeen(cfg.MetricName, latest.Timestamp) {
		s.metrics.Skipped(skipStale)
		return outcomeSkipped
	}

	from := latest.Timestamp.Add(-s.opts.Retention)
	window, err := s.samples.HistoricalWindow(qctx, cfg.MetricName, from, latest.Timestamp)
	if err != nil {
		s.forget(cfg.MetricName, latest.Timestamp)
		return s.skip(logger, err)
	}
	history := make([]anomaly.MetricSample, 0, len(window))
	for _, sample := range window {
		if sample.Timestamp.Before(latest.Timestamp) {
			history = append(history, sample)
		}
	}
	baseline, err := s.calc.Compute(cfg.MetricName, from, latest.Timestamp, history)
	if err != nil {
		return s.skip(logger, err)
	}
	cancel()

	s.metrics.Evaluated()
	candidate, ok := s.eval.Evaluate(cfg, latest, baseline)
	if !ok {
		return outcomeQuiet
	}
	s.metrics.Candidate()

	allowed, err := s.dedup.Allow(ctx, cfg.MetricName, candidate.AnomalyType, cfg.Cooldown(), now)
	if err != nil {
		logger.Warn("dedup check failed, alerting anyway", slog.String("error", err.Error()))
		allowed = true
	}
	if !allowed {
		s.metrics.Suppressed()
		logger.Debug("candidate suppressed by cooldown", slog.String("anomaly_type", string(candidate.AnomalyType)))
		return outcomeSuppressed
	}

	alert, err := s.alerts.Create(ctx, candidate, cfg.AlertChannels)
	if err != nil {
		logger.Error("alert create failed", slog.String("error", err.Error()))
		if relErr := s.dedup.Release(ctx, cfg.MetricName, candidate.AnomalyType, now); relErr != nil {
			logger.Warn("dedup release failed", slog.String("error", relErr.Error()))
		}
		s.forget(cfg.MetricName, latest.Timestamp)
		return outcomeFailed
	}
	logger.Info("anomaly detected",
		slog.String("alert_id", alert.ID),
		slog.String("severity", string(alert.Severity)),
		slog.String("anomaly_type", string(alert.AnomalyType)),
		slog.Float64("deviation_percent", alert.DeviationPercent),
	)
	return outcomeCreated
}

func (s *Scheduler) skip(logger *slog.Logger, err error) outcome {
	reason := skipError
	switch {
	case errors.Is(err, metricstore.ErrNoData):
		reason = skipNoData
	case errors.Is(err, anomaly.ErrInsufficientData):
		reason = skipInsufficient
	case errors.Is(err, anomaly.ErrMetricStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		reason = skipUnavailable
	}
	s.metrics.Skipped(reason)
	if reason == skipUnavailable || reason == skipError {
		logger.Warn("metric skipped", slog.String("reason", reason), slog.String("error", err.Error()))
	} else {
		logger.Debug("metric skipped", slog.String("reason", reason), slog.String("error", err.Error()))
	}
	return outcomeSkipped
}

// markSeen reports whether ts is newer than the last sample evaluated for
// metric, and records it if so.
func (s *Scheduler) markSeen(metric string, ts time.Time) bool {
	s.seenMu.Lock()
	defer s.seenMu.Unlock()
	if prev, ok := s.seen[metric]; ok && !ts.After(prev) {
		return false
	}
	s.seen[metric] = ts
	return true
}

func (s *Scheduler) forget(metric string, ts time.Time) {
	s.seenMu.Lock()
	defer s.seenMu.Unlock()
	if s.seen[metric].Equal(ts) {
		delete(s.seen, metric)
	}
}

func (s *Scheduler) pruneDedup(cfgs []anomaly.DetectionConfig, now time.Time) {
	p, ok := s.dedup.(pruner)
	if !ok {
		return
	}
	var longest time.Duration
	for _, cfg := range cfgs {
		longest = max(longest, cfg.Cooldown())
	}
	if longest <= 0 {
		return
	}
	if n := p.Prune(now, longest); n > 0 {
		s.logger.Debug("pruned dedup entries", slog.Int("count", n))
	}
}
