package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/nerrad567/keystone-auth/internal/auth"
)

func TestNewMetrics_Registered(t *testing.T) {
	m := NewMetrics()

	// Vectors only appear once a series exists.
	m.AuthEventsTotal.WithLabelValues("registered", "").Inc()
	m.ObserveRequest(http.MethodPost, "/api/v1/auth/login", http.StatusOK, 0.05)
	m.RateLimitRejectedTotal.WithLabelValues("/api/v1/auth/login").Inc()

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	expected := map[string]bool{
		"keystone_auth_events_total":            false,
		"keystone_http_requests_total":          false,
		"keystone_http_request_duration_seconds": false,
		"keystone_ratelimit_rejected_total":     false,
		"keystone_events_dropped_total":         false,
		"keystone_ws_connections_active":        false,
		"go_goroutines":                         false,
	}
	for _, mf := range families {
		if _, ok := expected[mf.GetName()]; ok {
			expected[mf.GetName()] = true
		}
	}
	for name, found := range expected {
		if !found {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestMetrics_Publish(t *testing.T) {
	m := NewMetrics()
	ctx := context.Background()

	m.Publish(ctx, auth.Event{Type: auth.EventLoginFailed, Reason: "unknown_email"})
	m.Publish(ctx, auth.Event{Type: auth.EventLoginFailed, Reason: "unknown_email"})
	m.Publish(ctx, auth.Event{Type: auth.EventLoginSucceeded})

	if got := testutil.ToFloat64(m.AuthEventsTotal.WithLabelValues("login_failed", "unknown_email")); got != 2 {
		t.Errorf("login_failed/unknown_email = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.AuthEventsTotal.WithLabelValues("login_succeeded", "")); got != 1 {
		t.Errorf("login_succeeded = %v, want 1", got)
	}
}

func TestMetrics_ObserveRequest(t *testing.T) {
	m := NewMetrics()
	m.ObserveRequest(http.MethodGet, "/api/v1/auth/me", http.StatusForbidden, 0.002)

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/api/v1/auth/me", "4xx")); got != 1 {
		t.Errorf("requests_total = %v, want 1", got)
	}

	var metric dto.Metric
	observer := m.RequestDuration.WithLabelValues("GET", "/api/v1/auth/me")
	if err := observer.(interface{ Write(*dto.Metric) error }).Write(&metric); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := metric.GetHistogram().GetSampleCount(); got != 1 {
		t.Errorf("histogram sample count = %d, want 1", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.WSConnections.Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "keystone_ws_connections_active 1") {
		t.Errorf("exposition missing gauge value:\n%s", body)
	}
}

func TestStatusClass(t *testing.T) {
	tests := map[int]string{200: "2xx", 201: "2xx", 401: "4xx", 429: "4xx", 503: "5xx"}
	for status, want := range tests {
		if got := StatusClass(status); got != want {
			t.Errorf("StatusClass(%d) = %q, want %q", status, got, want)
		}
	}
}
