package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"predixaai-anomaly/internal/anomaly"
	"predixaai-anomaly/internal/dedup"
	"predixaai-anomaly/internal/detection"
	"predixaai-anomaly/internal/leader"
	"predixaai-anomaly/internal/metrics"
	"predixaai-anomaly/internal/metricstore"
)

const (
	DefaultInterval     = 60 * time.Second
	DefaultStopTimeout  = 10 * time.Second
	DefaultQueryTimeout = 5 * time.Second
	DefaultWorkers      = 4
	initialBackoff      = time.Second
)

var (
	ErrAlreadyRunning = errors.New("scheduler already running")
	ErrStopping       = errors.New("scheduler is stopping")
	ErrStopTimeout    = errors.New("scheduler stop timed out; in-flight work abandoned")
)

type State string

const (
	StateStopped  State = "stopped"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

type ConfigSource interface {
	ListEnabledConfigs(ctx context.Context) ([]anomaly.DetectionConfig, error)
}

type AlertCreator interface {
	Create(ctx context.Context, c detection.Candidate, channels []string) (anomaly.Alert, error)
}

type Options struct {
	Interval     time.Duration
	StopTimeout  time.Duration
	QueryTimeout time.Duration
	Retention    time.Duration
	Workers      int
	MinSamples   int
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = DefaultStopTimeout
	}
	if o.QueryTimeout <= 0 {
		o.QueryTimeout = DefaultQueryTimeout
	}
	if o.Retention <= 0 {
		o.Retention = detection.DefaultRetention
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	return o
}

type Deps struct {
	Configs ConfigSource
	Samples metricstore.Store
	Dedup   dedup.Cache
	Alerts  AlertCreator
	Elector leader.Elector
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Scheduler runs one periodic detection loop. Start and Stop may be called
// from any goroutine.
type Scheduler struct {
	configs ConfigSource
	samples metricstore.Store
	dedup   dedup.Cache
	alerts  AlertCreator
	elector leader.Elector
	logger  *slog.Logger
	metrics *metrics.Metrics
	calc    detection.Calculator
	eval    detection.Evaluator
	opts    Options
	now     func() time.Time

	mu         sync.Mutex
	state      State
	loopCancel context.CancelFunc
	workCancel context.CancelFunc
	done       chan struct{}
	trigger    chan struct{}
	last       *TickSummary
	failures   int

	seenMu sync.Mutex
	seen   map[string]time.Time
}

type Status struct {
	State               State         `json:"state"`
	Interval            time.Duration `json:"interval"`
	ConsecutiveFailures int           `json:"consecutiveFailures"`
	LastTick            *TickSummary  `json:"lastTick,omitempty"`
}

func New(deps Deps, opts Options) *Scheduler {
	opts = opts.withDefaults()
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Elector == nil {
		deps.Elector = leader.Local{}
	}
	if deps.Dedup == nil {
		deps.Dedup = dedup.NewMemoryCache()
	}
	return &Scheduler{
		configs: deps.Configs,
		samples: deps.Samples,
		dedup:   deps.Dedup,
		alerts:  deps.Alerts,
		elector: deps.Elector,
		logger:  deps.Logger,
		metrics: deps.Metrics,
		calc:    detection.NewCalculator(opts.MinSamples),
		eval:    detection.NewEvaluator(),
		opts:    opts,
		now:     time.Now,
		state:   StateStopped,
		trigger: make(chan struct{}, 1),
		seen:    map[string]time.Time{},
	}
}

func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateRunning:
		return ErrAlreadyRunning
	case StateStopping:
		return ErrStopping
	}
	loopCtx, loopCancel := context.WithCancel(context.Background())
	workCtx, workCancel := context.WithCancel(context.Background())
	s.loopCancel = loopCancel
	s.workCancel = workCancel
	s.done = make(chan struct{})
	s.state = StateRunning
	go s.loop(loopCtx, workCtx, s.done)
	s.logger.Info("scheduler started", slog.Duration("interval", s.opts.Interval), slog.Int("workers", s.opts.Workers))
	return nil
}

// Stop ends the loop and waits for the in-flight tick up to StopTimeout.
// Past the timeout the tick's context is cancelled and ErrStopTimeout is
// returned once it has unwound. Start is refused until Stop returns.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopping
	loopCancel, workCancel, done := s.loopCancel, s.workCancel, s.done
	s.mu.Unlock()

	loopCancel()
	var err error
	timer := time.NewTimer(s.opts.StopTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		err = ErrStopTimeout
		workCancel()
		<-done
	}
	workCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if relErr := s.elector.Release(ctx); relErr != nil {
		s.logger.Warn("leader release failed", slog.String("error", relErr.Error()))
	}
	s.metrics.SetLeader(false)

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()
	s.logger.Info("scheduler stopped")
	return err
}

// Trigger requests an immediate tick. Requests coalesce while one is
// pending.
func (s *Scheduler) Trigger() bool {
	s.mu.Lock()
	running := s.state == StateRunning
	s.mu.Unlock()
	if !running {
		return false
	}
	select {
	case s.trigger <- struct{}{}:
	default:
	}
	return true
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{State: s.state, Interval: s.opts.Interval, ConsecutiveFailures: s.failures}
	if s.last != nil {
		last := *s.last
		st.LastTick = &last
	}
	return st
}

func (s *Scheduler) loop(loopCtx, workCtx context.Context, done chan struct{}) {
	defer close(done)
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-loopCtx.Done():
			return
		case <-timer.C:
		case <-s.trigger:
		}
		_, err := s.Tick(workCtx)
		s.mu.Lock()
		delay := s.opts.Interval
		if err != nil && workCtx.Err() == nil {
			s.failures++
			delay = backoff(s.failures, s.opts.Interval)
			s.logger.Error("detection loop paused",
				slog.String("error", err.Error()),
				slog.Int("consecutive_failures", s.failures),
				slog.Duration("retry_in", delay),
			)
		} else {
			s.failures = 0
		}
		s.mu.Unlock()
		timer.Reset(delay)
	}
}

func backoff(failures int, ceiling time.Duration) time.Duration {
	d := initialBackoff
	for i := 1; i < failures && d < ceiling; i++ {
		d *= 2
	}
	return min(d, ceiling)
}
