package metricstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"predixaai-anomaly/internal/anomaly"
)

const defaultRPCTimeout = 5 * time.Second

type Transport interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func encodeRequest(method string, params any) ([]byte, error) {
	return json.Marshal(map[string]any{"jsonrpc": "2.0", "id": 1, "method": method, "params": params})
}

func decodeResponse(data []byte) (json.RawMessage, error) {
	var resp rpcResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		if resp.Error.Code == rpcCodeNoData {
			return nil, ErrNoData
		}
		return nil, errors.New(resp.Error.Message)
	}
	return resp.Result, nil
}

// rpcCodeNoData is the server's error code for a metric without samples.
const rpcCodeNoData = -32004

type HTTPTransport struct {
	Endpoint string
	Timeout  time.Duration
	Client   *http.Client
}

func (t *HTTPTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	data, err := encodeRequest(method, params)
	if err != nil {
		return nil, err
	}
	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: t.Timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("metric endpoint returned %d", resp.StatusCode)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	return decodeResponse(buf.Bytes())
}

// StdioTransport runs Command once per call with the request on stdin.
type StdioTransport struct {
	Command string
	Args    []string
	Timeout time.Duration
}

func (t *StdioTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	data, err := encodeRequest(method, params)
	if err != nil {
		return nil, err
	}
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = defaultRPCTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, t.Command, t.Args...)
	cmd.Stdin = strings.NewReader(string(data))
	output, err := cmd.Output()
	if err != nil {
		return nil, err
	}
	return decodeResponse(output)
}

type rpcSample struct {
	Value any    `json:"value"`
	TS    string `json:"ts"`
}

func (s rpcSample) toSample(metric string) (anomaly.MetricSample, error) {
	f, at, err := sampleFields(s.Value, s.TS)
	if err != nil {
		return anomaly.MetricSample{}, err
	}
	return anomaly.MetricSample{MetricName: metric, Timestamp: at, Value: f}, nil
}

// RPCStore reads samples from a remote metrics server speaking JSON-RPC 2.0.
type RPCStore struct {
	Transport Transport
}

func NewRPCStore(transport Transport) *RPCStore {
	return &RPCStore{Transport: transport}
}

func (s *RPCStore) LatestSample(ctx context.Context, metric string) (anomaly.MetricSample, error) {
	return s.callOne(ctx, "metrics.latest_sample", map[string]any{"metric": metric}, metric)
}

func (s *RPCStore) LatestSampleBefore(ctx context.Context, metric string, at time.Time) (anomaly.MetricSample, error) {
	return s.callOne(ctx, "metrics.latest_sample_before", map[string]any{"metric": metric, "at": at.UTC().Format(time.RFC3339Nano)}, metric)
}

func (s *RPCStore) HistoricalWindow(ctx context.Context, metric string, from, to time.Time) ([]anomaly.MetricSample, error) {
	raw, err := s.Transport.Call(ctx, "metrics.historical_window", map[string]any{
		"metric": metric,
		"from":   from.UTC().Format(time.RFC3339Nano),
		"to":     to.UTC().Format(time.RFC3339Nano),
	})
	if errors.Is(err, ErrNoData) {
		return []anomaly.MetricSample{}, nil
	}
	if err != nil {
		return nil, unavailable("historical window", err)
	}
	var result struct {
		Samples []rpcSample `json:"samples"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, unavailable("decode historical window", err)
	}
	out := make([]anomaly.MetricSample, 0, len(result.Samples))
	for _, rs := range result.Samples {
		sample, err := rs.toSample(metric)
		if err != nil {
			continue
		}
		out = append(out, sample)
	}
	return out, nil
}

func (s *RPCStore) callOne(ctx context.Context, method string, params map[string]any, metric string) (anomaly.MetricSample, error) {
	raw, err := s.Transport.Call(ctx, method, params)
	if err != nil {
		return anomaly.MetricSample{}, unavailable(method, err)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return anomaly.MetricSample{}, ErrNoData
	}
	var rs rpcSample
	if err := json.Unmarshal(raw, &rs); err != nil {
		return anomaly.MetricSample{}, unavailable(method, err)
	}
	sample, err := rs.toSample(metric)
	if err != nil {
		return anomaly.MetricSample{}, unavailable(method, err)
	}
	return sample, nil
}
