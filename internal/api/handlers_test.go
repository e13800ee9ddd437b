package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"predixaai-anomaly/internal/alerts"
	"predixaai-anomaly/internal/anomaly"
	"predixaai-anomaly/internal/config"
	"predixaai-anomaly/internal/configs"
	"predixaai-anomaly/internal/detection"
	"predixaai-anomaly/internal/investigation"
	"predixaai-anomaly/internal/metricstore"
	"predixaai-anomaly/internal/scheduler"
)

type fakeScheduler struct {
	running   bool
	triggered int
}

func (f *fakeScheduler) Status() scheduler.Status {
	state := scheduler.StateStopped
	if f.running {
		state = scheduler.StateRunning
	}
	return scheduler.Status{State: state, Interval: time.Minute}
}

func (f *fakeScheduler) Trigger() bool {
	if f.running {
		f.triggered++
	}
	return f.running
}

type testServer struct {
	srv     *httptest.Server
	manager *alerts.Manager
	sched   *fakeScheduler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	manager := alerts.NewManager(alerts.NewMemoryRepository(), nil, logger)
	cfgSvc := configs.NewService(configs.NewMemoryStore(), nil, logger)
	samples := metricstore.NewMemoryStore()
	sched := &fakeScheduler{running: true}
	h := &Handler{
		Alerts:       manager,
		Investigator: investigation.NewService(manager, cfgSvc, samples, logger, investigation.Options{}),
		Configs:      cfgSvc,
		Scheduler:    sched,
		Limits:       config.DefaultLimits(),
		Timeout:      time.Second,
		Logger:       logger,
	}
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, manager: manager, sched: sched}
}

func (s *testServer) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if len(raw) > 0 && raw[0] == '{' {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode body %s: %v", raw, err)
		}
	}
	return resp, out
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("%s %s: expected status %d got %d", resp.Request.Method, resp.Request.URL.Path, want, resp.StatusCode)
	}
}

func expectField(t *testing.T, body map[string]any, key string, want any) {
	t.Helper()
	if got := body[key]; got != want {
		t.Fatalf("expected %s=%v (%T) got %v (%T)", key, want, want, got, got)
	}
}

func listLen(body map[string]any, key string) int {
	items, _ := body[key].([]any)
	return len(items)
}

func (s *testServer) createAlert(t *testing.T, metric string) anomaly.Alert {
	t.Helper()
	a, err := s.manager.Create(context.Background(), detection.Candidate{
		MetricName:       metric,
		ObservedValue:    3,
		ObservedAt:       time.Now().UTC(),
		DeviationPercent: 200,
		AnomalyType:      anomaly.TypeSpike,
		Severity:         anomaly.SeverityCritical,
	}, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return a
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	resp, body := s.do(t, http.MethodGet, "/healthz", "")
	expectStatus(t, resp, http.StatusOK)
	expectField(t, body, "ok", true)
}

func TestConfigEndpoints(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, http.MethodPut, "/configs/cpu", `{"enabled":true,"sensitivity":7,"algorithms":["zscore","mad"],"alertChannels":["ops"]}`)
	expectStatus(t, resp, http.StatusOK)
	expectField(t, body, "metricName", "cpu")
	expectField(t, body, "cooldownSeconds", float64(anomaly.DefaultCooldownSeconds))

	resp, body = s.do(t, http.MethodPut, "/configs/cpu", `{"enabled":true,"sensitivity":11,"algorithms":["zscore"]}`)
	expectStatus(t, resp, http.StatusBadRequest)
	expectField(t, body, "code", "INVALID_CONFIG")
	if listLen(body, "details") == 0 {
		t.Fatalf("expected validation details")
	}

	resp, body = s.do(t, http.MethodPut, "/configs/cpu", `{"sensitivity":5,"bogus":1}`)
	expectStatus(t, resp, http.StatusBadRequest)
	expectField(t, body, "code", "INVALID_BODY")

	resp, _ = s.do(t, http.MethodGet, "/configs/cpu", "")
	expectStatus(t, resp, http.StatusOK)

	resp, body = s.do(t, http.MethodGet, "/configs/unknown", "")
	expectStatus(t, resp, http.StatusNotFound)
	expectField(t, body, "code", "NOT_FOUND")
}

func TestAlertQuery(t *testing.T) {
	s := newTestServer(t)
	s.createAlert(t, "cpu")
	s.createAlert(t, "cpu")
	s.createAlert(t, "latency")

	resp, body := s.do(t, http.MethodGet, "/alerts?metric=cpu&limit=1", "")
	expectStatus(t, resp, http.StatusOK)
	expectField(t, body, "total", float64(2))
	if n := listLen(body, "alerts"); n != 1 {
		t.Fatalf("expected 1 alert on the page, got %d", n)
	}

	resp, body = s.do(t, http.MethodGet, "/alerts/active", "")
	expectStatus(t, resp, http.StatusOK)
	expectField(t, body, "total", float64(3))

	resp, body = s.do(t, http.MethodGet, "/alerts?severity=urgent&from=yesterday", "")
	expectStatus(t, resp, http.StatusBadRequest)
	if n := listLen(body, "details"); n != 2 {
		t.Fatalf("expected 2 query problems, got %d", n)
	}

	resp, body = s.do(t, http.MethodGet, "/alerts/stats", "")
	expectStatus(t, resp, http.StatusOK)
	expectField(t, body, "total", float64(3))
}

func TestAlertLifecycleEndpoints(t *testing.T) {
	s := newTestServer(t)
	alert := s.createAlert(t, "cpu")
	base := "/alerts/" + alert.ID

	resp, _ := s.do(t, http.MethodPost, base+"/acknowledge", `{"actor":"oncall"}`)
	expectStatus(t, resp, http.StatusBadRequest)

	resp, body := s.do(t, http.MethodPost, base+"/acknowledge", `{"actor":"oncall","version":0}`)
	expectStatus(t, resp, http.StatusOK)
	expectField(t, body, "status", "acknowledged")
	expectField(t, body, "version", float64(1))

	resp, body = s.do(t, http.MethodPost, base+"/resolve", `{"notes":"stale","version":0}`)
	expectStatus(t, resp, http.StatusConflict)
	current, ok := body["current"].(map[string]any)
	if !ok {
		t.Fatalf("conflict body must carry the current state: %v", body)
	}
	expectField(t, current, "version", float64(1))

	resp, body = s.do(t, http.MethodPost, base+"/resolve", `{"notes":"fixed","version":1}`)
	expectStatus(t, resp, http.StatusOK)
	expectField(t, body, "status", "resolved")

	resp, body = s.do(t, http.MethodPost, base+"/acknowledge", `{"actor":"late","version":2}`)
	expectStatus(t, resp, http.StatusConflict)
	expectField(t, body, "message", "already resolved")

	resp, _ = s.do(t, http.MethodGet, "/alerts/missing", "")
	expectStatus(t, resp, http.StatusNotFound)
	resp, _ = s.do(t, http.MethodPost, "/alerts/missing/resolve", `{"version":0}`)
	expectStatus(t, resp, http.StatusNotFound)
}

func TestInvestigationEndpoint(t *testing.T) {
	s := newTestServer(t)
	alert := s.createAlert(t, "cpu")

	resp, body := s.do(t, http.MethodGet, "/alerts/"+alert.ID+"/investigation", "")
	expectStatus(t, resp, http.StatusOK)
	report, ok := body["alert"].(map[string]any)
	if !ok {
		t.Fatalf("report must embed the alert: %v", body)
	}
	expectField(t, report, "id", alert.ID)
	if n := listLen(body, "statusTimeline"); n != 1 {
		t.Fatalf("expected 1 transition, got %d", n)
	}

	resp, _ = s.do(t, http.MethodGet, "/alerts/missing/investigation", "")
	expectStatus(t, resp, http.StatusNotFound)
}

func TestSchedulerEndpoints(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, http.MethodGet, "/scheduler", "")
	expectStatus(t, resp, http.StatusOK)
	expectField(t, body, "state", "running")

	resp, _ = s.do(t, http.MethodPost, "/scheduler/trigger", "")
	expectStatus(t, resp, http.StatusAccepted)
	if s.sched.triggered != 1 {
		t.Fatalf("expected one trigger, got %d", s.sched.triggered)
	}

	s.sched.running = false
	resp, body = s.do(t, http.MethodPost, "/scheduler/trigger", "")
	expectStatus(t, resp, http.StatusConflict)
	expectField(t, body, "code", "SCHEDULER_STOPPED")
}
