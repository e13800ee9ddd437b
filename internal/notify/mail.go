package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type MailChannel struct {
	id   string
	addr string
	from string
	to   []string
	auth smtp.Auth
	send sendMailFunc
}

func NewMailChannel(id, addr, from string, to []string, username, password string) *MailChannel {
	var auth smtp.Auth
	if username != "" {
		host := addr
		if i := strings.LastIndex(addr, ":"); i > 0 {
			host = addr[:i]
		}
		auth = smtp.PlainAuth("", username, password, host)
	}
	return &MailChannel{id: id, addr: addr, from: from, to: to, auth: auth, send: smtp.SendMail}
}

func (c *MailChannel) ID() string { return c.id }

// Send gives up when ctx expires; the SMTP exchange itself cannot be
// interrupted and finishes in the background.
func (c *MailChannel) Send(ctx context.Context, p Payload) error {
	msg := buildMessage(c.from, c.to, p)
	done := make(chan error, 1)
	go func() { done <- c.send(c.addr, c.auth, c.from, c.to, msg) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("smtp send: %w", ctx.Err())
	}
}

func buildMessage(from string, to []string, p Payload) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: [%s] %s anomaly on %s\r\n", strings.ToUpper(string(p.Severity)), p.AnomalyType, p.MetricName)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(p.Summary() + "\r\n")
	if p.Explain != "" {
		b.WriteString(p.Explain + "\r\n")
	}
	if p.DeepLink != "" {
		b.WriteString(p.DeepLink + "\r\n")
	}
	fmt.Fprintf(&b, "Alert: %s\r\n", p.AlertID)
	return []byte(b.String())
}
