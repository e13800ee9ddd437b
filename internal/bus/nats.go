package bus

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	SubjectConfigUpdated = "config.updated"
	SubjectAlertCreated  = "alert.created"
	SubjectAlertUpdated  = "alert.updated"
)

// ConfigEvent announces a change to one metric's detection config.
type ConfigEvent struct {
	MetricName string    `json:"metric_name"`
	Enabled    bool      `json:"enabled"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func Connect(url, name string) (*nats.Conn, error) {
	return nats.Connect(url, nats.Name(name), nats.MaxReconnects(-1))
}

type Publisher struct {
	Conn *nats.Conn
}

func NewPublisher(conn *nats.Conn) *Publisher {
	return &Publisher{Conn: conn}
}

func (p *Publisher) Publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.Conn.Publish(subject, data)
}

func (p *Publisher) Close() {
	if p.Conn != nil {
		p.Conn.Drain()
		p.Conn.Close()
	}
}

type Subscriber struct {
	Conn *nats.Conn
}

func NewSubscriber(conn *nats.Conn) *Subscriber {
	return &Subscriber{Conn: conn}
}

func (s *Subscriber) SubscribeConfig(handler func(ConfigEvent)) (*nats.Subscription, error) {
	return s.Conn.Subscribe(SubjectConfigUpdated, func(msg *nats.Msg) {
		var evt ConfigEvent
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			return
		}
		handler(evt)
	})
}
