package notify

import (
	"context"
	"fmt"
	"sort"
	"time"

	"predixaai-anomaly/internal/anomaly"
)

const DefaultTimeout = 5 * time.Second

// Payload is what every channel receives for one alert.
type Payload struct {
	AlertID          string              `json:"alertId"`
	MetricName       string              `json:"metricName"`
	ObservedValue    float64             `json:"observedValue"`
	DeviationPercent float64             `json:"deviationPercent"`
	Severity         anomaly.Severity    `json:"severity"`
	AnomalyType      anomaly.AnomalyType `json:"anomalyType"`
	Timestamp        time.Time           `json:"timestamp"`
	DeepLink         string              `json:"deepLink,omitempty"`
	Explain          string              `json:"explain,omitempty"`
}

func PayloadFor(alert anomaly.Alert, deepLinkBase string) Payload {
	p := Payload{
		AlertID:          alert.ID,
		MetricName:       alert.MetricName,
		ObservedValue:    alert.ObservedValue,
		DeviationPercent: alert.DeviationPercent,
		Severity:         alert.Severity,
		AnomalyType:      alert.AnomalyType,
		Timestamp:        alert.ObservedAt,
		Explain:          alert.Explain,
	}
	if deepLinkBase != "" {
		p.DeepLink = deepLinkBase + "/alerts/" + alert.ID
	}
	return p
}

func (p Payload) Summary() string {
	return fmt.Sprintf("[%s] %s on %s: observed %.4g (%.1f%% from baseline) at %s",
		p.Severity, p.AnomalyType, p.MetricName, p.ObservedValue, p.DeviationPercent, p.Timestamp.UTC().Format(time.RFC3339))
}

type DeliveryResult struct {
	ChannelID string        `json:"channelId"`
	AlertID   string        `json:"alertId"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	At        time.Time     `json:"at"`
}

func (r DeliveryResult) Err() error {
	if r.Success {
		return nil
	}
	return fmt.Errorf("channel %s: %w: %s", r.ChannelID, anomaly.ErrDeliveryFailed, r.Error)
}

type Channel interface {
	ID() string
	Send(ctx context.Context, p Payload) error
}

// Registry resolves channel ids to channels and bounds every send with
// Timeout.
type Registry struct {
	channels map[string]Channel
	Timeout  time.Duration
	now      func() time.Time
}

func NewRegistry(timeout time.Duration, channels ...Channel) *Registry {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	r := &Registry{channels: map[string]Channel{}, Timeout: timeout, now: time.Now}
	for _, ch := range channels {
		r.channels[ch.ID()] = ch
	}
	return r
}

func (r *Registry) Register(ch Channel) {
	r.channels[ch.ID()] = ch
}

func (r *Registry) Get(id string) (Channel, bool) {
	ch, ok := r.channels[id]
	return ch, ok
}

func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.channels))
	for id := range r.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Dispatch(ctx context.Context, channelID string, p Payload) DeliveryResult {
	start := r.now()
	result := DeliveryResult{ChannelID: channelID, AlertID: p.AlertID, At: start.UTC()}
	ch, ok := r.channels[channelID]
	if !ok {
		result.Error = "unknown channel"
		return result
	}
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()
	err := ch.Send(ctx, p)
	result.Duration = r.now().Sub(start)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Success = true
	return result
}
