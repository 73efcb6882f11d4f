package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pilot-net/healthdash/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(Config{
		BaseURL: server.URL + "/api",
		Logger:  testLogger(),
	})
}

func TestAgents(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/agents" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"agents":[{"agentId":"a1","status":"running","healthScore":97.5}]}`))
	})

	agents, err := c.Agents(context.Background())
	if err != nil {
		t.Fatalf("Agents failed: %v", err)
	}
	if len(agents) != 1 {
		t.Fatalf("expected 1 agent, got %d", len(agents))
	}
	if agents[0].AgentID != "a1" || agents[0].Status != types.AgentStatusRunning {
		t.Errorf("unexpected agent %+v", agents[0])
	}
}

func TestAlerts_EncodesQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("status") != "active" || q.Get("severity") != "critical" || q.Get("limit") != "25" {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		w.Write([]byte(`{"alerts":[{"id":"alert-1","severity":"critical"}]}`))
	})

	alerts, err := c.Alerts(context.Background(), AlertQuery{
		Status:   types.AlertStatusActive,
		Severity: types.SeverityCritical,
		Limit:    25,
	})
	if err != nil {
		t.Fatalf("Alerts failed: %v", err)
	}
	if len(alerts) != 1 || alerts[0].ID != "alert-1" {
		t.Errorf("unexpected alerts %+v", alerts)
	}
}

func TestAcknowledgeAlert_SendsBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/alerts/alert-42/acknowledge" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		if body["acknowledgedBy"] != "alice" {
			t.Errorf("expected acknowledgedBy alice, got %v", body)
		}
		w.WriteHeader(http.StatusOK)
	})

	if err := c.AcknowledgeAlert(context.Background(), "alert-42", "alice"); err != nil {
		t.Fatalf("AcknowledgeAlert failed: %v", err)
	}
}

func TestResolveAlert_OmitsEmptyResolvedBy(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		if strings.TrimSpace(string(data)) != "{}" {
			t.Errorf("expected empty object body, got %s", data)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if err := c.ResolveAlert(context.Background(), "alert-7", ""); err != nil {
		t.Fatalf("ResolveAlert failed: %v", err)
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"message field", http.StatusBadRequest, `{"message":"threshold out of range"}`, "threshold out of range"},
		{"no json", http.StatusInternalServerError, "boom", "HTTP 500: Internal Server Error"},
		{"empty message", http.StatusNotFound, `{"message":""}`, "HTTP 404: Not Found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := c.Status(context.Background())
			if err == nil {
				t.Fatal("expected error")
			}
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *APIError, got %T", err)
			}
			if apiErr.StatusCode != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, apiErr.StatusCode)
			}
			if err.Error() != tt.message {
				t.Errorf("expected message %q, got %q", tt.message, err.Error())
			}
		})
	}
}

func TestIsNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.Agent(context.Background(), "missing")
	if !IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	c := NewClient(Config{
		BaseURL: server.URL + "/api",
		Timeout: 50 * time.Millisecond,
		Logger:  testLogger(),
	})

	start := time.Now()
	if _, err := c.Resources(context.Background()); err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("request was not bounded by the timeout: %v", elapsed)
	}
}

func TestTimeout_AppliesToInjectedHTTPClient(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	c := NewClient(Config{
		BaseURL:    server.URL + "/api",
		Timeout:    50 * time.Millisecond,
		HTTPClient: &http.Client{},
		Logger:     testLogger(),
	})

	start := time.Now()
	_, err := c.Status(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("request was not bounded by the timeout: %v", elapsed)
	}
}

func TestAgent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.EscapedPath() != "/api/agents/worker%2F7" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.EscapedPath())
		}
		w.Write([]byte(`{
			"agent": {"agentId": "worker/7", "status": "failed", "lastActivity": "2025-01-01T10:00:00", "healthScore": 12},
			"history": [{"agentId": "worker/7", "status": "running", "healthScore": 90}]
		}`))
	})

	detail, err := c.Agent(context.Background(), "worker/7")
	if err != nil {
		t.Fatalf("Agent failed: %v", err)
	}
	if detail.Agent.AgentID != "worker/7" || detail.Agent.Status != types.AgentStatusFailed {
		t.Errorf("unexpected agent %+v", detail.Agent)
	}
	if detail.Agent.LastActivity.IsZero() {
		t.Error("expected lastActivity to be decoded")
	}
	if len(detail.History) != 1 || detail.History[0].HealthScore != 90 {
		t.Errorf("unexpected history %+v", detail.History)
	}
}

func TestConfig(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/config" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{
			"thresholds": {"cpu": {"warning": 70, "critical": 90}},
			"refreshIntervalMs": 30000,
			"features": {"escalation": true}
		}`))
	})

	cfg, err := c.Config(context.Background())
	if err != nil {
		t.Fatalf("Config failed: %v", err)
	}
	if th := cfg.Thresholds["cpu"]; th.Warning != 70 || th.Critical != 90 {
		t.Errorf("unexpected cpu threshold %+v", th)
	}
	if cfg.RefreshIntervalMs != 30000 || !cfg.Features["escalation"] {
		t.Errorf("unexpected config %+v", cfg)
	}
}

func TestUpdateThresholds_SendsBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/api/config/thresholds" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected JSON content type, got %q", ct)
		}
		var body types.AlertThresholds
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decoding body: %v", err)
		}
		if th := body["memory"]; th.Warning != 75 || th.Critical != 95 {
			t.Errorf("unexpected memory threshold %+v", th)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	err := c.UpdateThresholds(context.Background(), types.AlertThresholds{
		"memory": {Warning: 75, Critical: 95},
	})
	if err != nil {
		t.Fatalf("UpdateThresholds failed: %v", err)
	}
}

func TestHealth_UsesRootPath(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("expected /health, got %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("Health failed: %v", err)
	}
}

func TestTimelineAndMetricsQueries(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/timeline":
			if r.URL.Query().Get("limit") != "50" {
				t.Errorf("expected limit=50, got %q", r.URL.RawQuery)
			}
			w.Write([]byte(`{"timeline":[{"id":"t1","title":"db failover"}]}`))
		case "/api/metrics":
			if r.URL.Query().Get("timeframe") != "24h" {
				t.Errorf("expected timeframe=24h, got %q", r.URL.RawQuery)
			}
			w.Write([]byte(`{"timeframe":"24h","alertsRaised":4}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	entries, err := c.Timeline(context.Background(), 50)
	if err != nil {
		t.Fatalf("Timeline failed: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "t1" {
		t.Errorf("unexpected timeline %+v", entries)
	}

	m, err := c.Metrics(context.Background(), "24h")
	if err != nil {
		t.Fatalf("Metrics failed: %v", err)
	}
	if m.AlertsRaised != 4 {
		t.Errorf("expected 4 alerts raised, got %d", m.AlertsRaised)
	}
}
