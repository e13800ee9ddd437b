package metricstore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"time"

	"predixaai-anomaly/internal/anomaly"
)

const (
	rpcCodeParse          = -32700
	rpcCodeInvalidRequest = -32600
	rpcCodeMethodNotFound = -32601
	rpcCodeInvalidParams  = -32602
	rpcCodeInternal       = -32603
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcReply struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

type rpcParams struct {
	Metric string `json:"metric"`
	At     string `json:"at"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// RPCServer exposes a Store over JSON-RPC 2.0, the counterpart of RPCStore.
type RPCServer struct {
	Store   Store
	Timeout time.Duration
}

func (s *RPCServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeReply(w, http.StatusMethodNotAllowed, rpcReply{Error: &rpcError{Code: rpcCodeInvalidRequest, Message: "method not allowed"}})
		return
	}
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeReply(w, http.StatusBadRequest, rpcReply{Error: &rpcError{Code: rpcCodeParse, Message: "invalid json"}})
		return
	}
	reply, status := s.handle(r.Context(), req)
	writeReply(w, status, reply)
}

// ServeStdio answers the single request read from in.
func (s *RPCServer) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	var req rpcRequest
	reply := rpcReply{Error: &rpcError{Code: rpcCodeParse, Message: "invalid json"}}
	if err := json.NewDecoder(in).Decode(&req); err == nil {
		reply, _ = s.handle(ctx, req)
	}
	_, err := out.Write(append(encodeReply(reply), '\n'))
	return err
}

func (s *RPCServer) handle(ctx context.Context, req rpcRequest) (rpcReply, int) {
	fail := func(status, code int, msg string) (rpcReply, int) {
		return rpcReply{ID: req.ID, Error: &rpcError{Code: code, Message: msg}}, status
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		return fail(http.StatusBadRequest, rpcCodeInvalidRequest, "invalid request")
	}
	var params rpcParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Metric == "" {
		return fail(http.StatusBadRequest, rpcCodeInvalidParams, "invalid params")
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = defaultRPCTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		result any
		err    error
	)
	switch req.Method {
	case "metrics.latest_sample":
		result, err = s.one(s.Store.LatestSample(ctx, params.Metric))
	case "metrics.latest_sample_before":
		at, ok := parseTime(params.At)
		if !ok {
			return fail(http.StatusBadRequest, rpcCodeInvalidParams, "invalid at")
		}
		result, err = s.one(s.Store.LatestSampleBefore(ctx, params.Metric, at))
	case "metrics.historical_window":
		from, fromOK := parseTime(params.From)
		to, toOK := parseTime(params.To)
		if !fromOK || !toOK {
			return fail(http.StatusBadRequest, rpcCodeInvalidParams, "invalid window")
		}
		samples, werr := s.Store.HistoricalWindow(ctx, params.Metric, from, to)
		err = werr
		if err == nil {
			out := make([]rpcSample, 0, len(samples))
			for _, sample := range samples {
				if !finite(sample.Value) {
					continue
				}
				out = append(out, rpcSample{Value: sample.Value, TS: sample.Timestamp.UTC().Format(time.RFC3339Nano)})
			}
			result = map[string]any{"samples": out}
		}
	default:
		return fail(http.StatusNotFound, rpcCodeMethodNotFound, "method not found")
	}
	if errors.Is(err, ErrNoData) {
		return fail(http.StatusOK, rpcCodeNoData, "no data")
	}
	if err != nil {
		return fail(http.StatusInternalServerError, rpcCodeInternal, err.Error())
	}
	return rpcReply{ID: req.ID, Result: result}, http.StatusOK
}

// one encodes a single sample. JSON has no NaN or Inf, so a non-finite
// value is reported as missing.
func (s *RPCServer) one(sample anomaly.MetricSample, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	if !finite(sample.Value) {
		return nil, ErrNoData
	}
	return rpcSample{Value: sample.Value, TS: sample.Timestamp.UTC().Format(time.RFC3339Nano)}, nil
}

func writeReply(w http.ResponseWriter, status int, reply rpcReply) {
	body, err := json.Marshal(withVersion(reply))
	if err != nil {
		status = http.StatusInternalServerError
		body, _ = json.Marshal(encodeFailure(reply, err))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// encodeReply marshals reply, falling back to an internal error reply when
// the result cannot be encoded.
func encodeReply(reply rpcReply) []byte {
	body, err := json.Marshal(withVersion(reply))
	if err == nil {
		return body
	}
	body, _ = json.Marshal(encodeFailure(reply, err))
	return body
}

func encodeFailure(reply rpcReply, err error) rpcReply {
	return withVersion(rpcReply{ID: reply.ID, Error: &rpcError{Code: rpcCodeInternal, Message: "encode result: " + err.Error()}})
}

func withVersion(reply rpcReply) rpcReply {
	reply.JSONRPC = "2.0"
	return reply
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
