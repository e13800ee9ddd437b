package notify

import "context"

type Publisher interface {
	Publish(subject string, payload any) error
}

// BusChannel publishes the payload on a NATS subject.
type BusChannel struct {
	id        string
	subject   string
	publisher Publisher
}

func NewBusChannel(id, subject string, publisher Publisher) *BusChannel {
	return &BusChannel{id: id, subject: subject, publisher: publisher}
}

func (c *BusChannel) ID() string { return c.id }

func (c *BusChannel) Send(ctx context.Context, p Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.publisher.Publish(c.subject, p)
}
