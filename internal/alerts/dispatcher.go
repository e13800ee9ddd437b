package alerts

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"predixaai-anomaly/internal/anomaly"
	"predixaai-anomaly/internal/metrics"
	"predixaai-anomaly/internal/notify"
)

const (
	DefaultQueueSize = 256
	DefaultWorkers   = 4
)

type Sender interface {
	Dispatch(ctx context.Context, channelID string, p notify.Payload) notify.DeliveryResult
}

type DeliveryRecorder interface {
	RecordDelivery(ctx context.Context, d notify.DeliveryResult) error
}

type dispatchJob struct {
	channelID string
	payload   notify.Payload
}

// Dispatcher delivers alerts to channels from a bounded queue. Each
// (alert, channel) pair is attempted once; when the queue is full the new
// job is dropped and logged as a failed delivery. Drops are persisted by a
// background recorder so Enqueue never waits on the repository.
type Dispatcher struct {
	sender       Sender
	recorder     DeliveryRecorder
	logger       *slog.Logger
	metrics      *metrics.Metrics
	deepLinkBase string
	workers      int

	mu       sync.RWMutex
	closed   bool
	queue    chan dispatchJob
	failures chan notify.DeliveryResult
	wg       sync.WaitGroup
}

type DispatcherConfig struct {
	QueueSize    int
	Workers      int
	DeepLinkBase string
}

func NewDispatcher(sender Sender, recorder DeliveryRecorder, cfg DispatcherConfig, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sender:       sender,
		recorder:     recorder,
		logger:       logger,
		metrics:      m,
		deepLinkBase: cfg.DeepLinkBase,
		workers:      cfg.Workers,
		queue:        make(chan dispatchJob, cfg.QueueSize),
		failures:     make(chan notify.DeliveryResult, cfg.QueueSize),
	}
}

func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	d.wg.Add(1)
	go d.recordFailures()
}

// Enqueue never blocks and returns how many channel jobs were queued.
func (d *Dispatcher) Enqueue(alert anomaly.Alert, channels []string) int {
	payload := notify.PayloadFor(alert, d.deepLinkBase)
	d.mu.RLock()
	defer d.mu.RUnlock()
	queued := 0
	for _, ch := range channels {
		if d.closed {
			d.report(d.failure(ch, payload, "dispatcher stopped"))
			continue
		}
		select {
		case d.queue <- dispatchJob{channelID: ch, payload: payload}:
			queued++
		default:
			d.metrics.Dropped()
			result := d.failure(ch, payload, "dispatch queue full")
			d.report(result)
			select {
			case d.failures <- result:
			default:
				d.logger.Warn("delivery record skipped, recorder saturated", slog.String("alert_id", result.AlertID), slog.String("channel", ch))
			}
		}
	}
	return queued
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for job := range d.queue {
		result := d.sender.Dispatch(context.Background(), job.channelID, job.payload)
		d.report(result)
		d.persist(result)
	}
}

func (d *Dispatcher) recordFailures() {
	defer d.wg.Done()
	for result := range d.failures {
		d.persist(result)
	}
}

func (d *Dispatcher) failure(channelID string, p notify.Payload, reason string) notify.DeliveryResult {
	return notify.DeliveryResult{ChannelID: channelID, AlertID: p.AlertID, Error: reason, At: time.Now().UTC()}
}

func (d *Dispatcher) report(result notify.DeliveryResult) {
	d.metrics.Delivered(result.ChannelID, result.Success)
	attrs := []any{
		slog.String("alert_id", result.AlertID),
		slog.String("channel", result.ChannelID),
		slog.Duration("duration", result.Duration),
	}
	if result.Success {
		d.logger.Info("alert delivered", attrs...)
	} else {
		d.logger.Warn("alert delivery failed", append(attrs, slog.String("error", result.Error))...)
	}
}

func (d *Dispatcher) persist(result notify.DeliveryResult) {
	if d.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.recorder.RecordDelivery(ctx, result); err != nil {
		d.logger.Warn("delivery record failed", slog.String("alert_id", result.AlertID), slog.String("error", err.Error()))
	}
}

// Stop refuses new jobs and waits for queued ones until ctx ends.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
		close(d.failures)
	}
	d.mu.Unlock()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
