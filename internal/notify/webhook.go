package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// WebhookChannel POSTs the JSON payload to URL.
type WebhookChannel struct {
	id      string
	url     string
	headers map[string]string
	client  *http.Client
}

func NewWebhookChannel(id, url string, headers map[string]string, client *http.Client) *WebhookChannel {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebhookChannel{id: id, url: url, headers: headers, client: client}
}

func (c *WebhookChannel) ID() string { return c.id }

func (c *WebhookChannel) Send(ctx context.Context, p Payload) error {
	return postJSON(ctx, c.client, c.url, c.headers, p)
}

// ChatChannel posts a short text message to an incoming-webhook endpoint of
// a chat service.
type ChatChannel struct {
	id     string
	url    string
	client *http.Client
}

func NewChatChannel(id, url string, client *http.Client) *ChatChannel {
	if client == nil {
		client = http.DefaultClient
	}
	return &ChatChannel{id: id, url: url, client: client}
}

func (c *ChatChannel) ID() string { return c.id }

func (c *ChatChannel) Send(ctx context.Context, p Payload) error {
	text := p.Summary()
	if p.DeepLink != "" {
		text += "\n" + p.DeepLink
	}
	if p.Explain != "" {
		text += "\n" + p.Explain
	}
	return postJSON(ctx, c.client, c.url, nil, map[string]string{"text": text})
}

func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
