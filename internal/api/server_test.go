package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nerrad567/keystone-auth/internal/auth"
	"github.com/nerrad567/keystone-auth/internal/infrastructure/config"
	"github.com/nerrad567/keystone-auth/internal/infrastructure/logging"
)

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() without logger: expected error")
	}
	if _, err := New(Deps{Logger: logging.Discard()}); err == nil {
		t.Error("New() without auth service: expected error")
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/health", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	body := decode[map[string]any](t, rec)
	if body["status"] != "ok" || body["store"] != "ok" {
		t.Errorf("body = %v", body)
	}
	if body["version"] != "test" {
		t.Errorf("version = %v, want test", body["version"])
	}
}

func TestHealth_StoreUnavailable(t *testing.T) {
	env := newTestEnv(t, withStore(failingChecker{}))

	rec := env.do(t, http.MethodGet, "/api/v1/health", nil, "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	body := decode[map[string]any](t, rec)
	if body["store"] != "unhealthy" {
		t.Errorf("store = %v, want unhealthy", body["store"])
	}
	if strings.Contains(rec.Body.String(), "disk I/O") {
		t.Error("health response leaks the store error")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/api/v1/health", nil, "")

	rec := httptest.NewRecorder()
	env.srv.buildMetricsRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "keystone_http_requests_total") {
		t.Error("exposition missing keystone_http_requests_total")
	}

	got := testutil.ToFloat64(env.metrics.RequestsTotal.WithLabelValues("GET", "/api/v1/health", "2xx"))
	if got != 1 {
		t.Errorf("requests for /api/v1/health = %v, want 1", got)
	}
}

func TestMetricsEndpoint_NotOnPublicRouter(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/api/v1/metrics", "/metrics"} {
		if rec := env.do(t, http.MethodGet, path, nil, ""); rec.Code != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", path, rec.Code)
		}
	}
}

func TestServer_MetricsListener(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close() //nolint:errcheck // only reserving a port

	env := newTestEnv(t)
	env.srv.cfg.Port = port + 1
	env.srv.cfg.Metrics = config.MetricsConfig{Enabled: true, Host: "127.0.0.1", Port: port}
	if err := env.srv.Start(t.Context()); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	defer env.srv.Close() //nolint:errcheck // Test cleanup

	url := fmt.Sprintf("http://127.0.0.1:%d/metrics", port)
	var resp *http.Response
	for range 50 {
		resp, err = http.Get(url) //nolint:gosec,noctx // local test listener
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t)

	t.Run("generated", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/health", nil, "")
		if id := rec.Header().Get("X-Request-ID"); len(id) != 2*requestIDBytes {
			t.Errorf("X-Request-ID = %q, want %d hex chars", id, 2*requestIDBytes)
		}
	})

	t.Run("preserves client value", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
		req.Header.Set("X-Request-ID", "client-req-42")
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		if id := rec.Header().Get("X-Request-ID"); id != "client-req-42" {
			t.Errorf("X-Request-ID = %q, want client-req-42", id)
		}
	})
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, withAllowedOrigins("https://app.example.com"))

	t.Run("preflight from allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/auth/login", nil)
		req.Header.Set("Origin", "https://app.example.com")
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusNoContent {
			t.Errorf("status = %d, want 204", rec.Code)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
			t.Errorf("Allow-Origin = %q", got)
		}
		if got := rec.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, "Authorization") {
			t.Errorf("Allow-Headers = %q, want Authorization listed", got)
		}
	})

	t.Run("other origin gets no CORS headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Allow-Origin = %q, want empty", got)
		}
	})
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/nonexistent", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	env := newTestEnv(t)

	h := env.srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	e := assertError(t, rec, http.StatusInternalServerError, ErrCodeInternal)
	if strings.Contains(e.Message, "boom") {
		t.Error("panic value leaked to client")
	}
}

func TestSourceMiddleware(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
		strings.NewReader(`{"email":"nobody@example.com","password":"whatever-pass"}`))
	req.RemoteAddr = "203.0.113.7:51234"
	req.Header.Set("X-Forwarded-For", "198.51.100.1")

	sink := &captureSink{}
	env.srv.auth = mustService(t, env, sink)
	env.handler = env.srv.buildRouter()

	env.handler.ServeHTTP(httptest.NewRecorder(), req)

	if len(sink.events) != 1 {
		t.Fatalf("events = %d, want 1", len(sink.events))
	}
	if got := sink.events[0].Source; got != "203.0.113.7" {
		t.Errorf("source = %q, want 203.0.113.7 (forwarding header ignored)", got)
	}
}

func TestSourceMiddleware_TrustedProxy(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		want       string
	}{
		{name: "direct client", remoteAddr: "203.0.113.7:51234", xff: "198.51.100.1", want: "203.0.113.7"},
		{name: "via proxy", remoteAddr: "10.0.0.5:443", xff: "198.51.100.1", want: "198.51.100.1"},
		{name: "spoofed left entry", remoteAddr: "10.0.0.5:443", xff: "1.2.3.4, 198.51.100.1", want: "198.51.100.1"},
		{name: "chained proxies", remoteAddr: "10.0.0.5:443", xff: "198.51.100.1, 10.0.0.9", want: "198.51.100.1"},
		{name: "proxy without header", remoteAddr: "10.0.0.5:443", want: "10.0.0.5"},
		{name: "malformed hop", remoteAddr: "10.0.0.5:443", xff: "198.51.100.1, unknown", want: "10.0.0.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, withTrustedProxies("10.0.0.0/8"))
			sink := &captureSink{}
			env.srv.auth = mustService(t, env, sink)
			env.handler = env.srv.buildRouter()

			req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
				strings.NewReader(`{"email":"nobody@example.com","password":"whatever-pass"}`))
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			env.handler.ServeHTTP(httptest.NewRecorder(), req)

			if len(sink.events) != 1 {
				t.Fatalf("events = %d, want 1", len(sink.events))
			}
			if got := sink.events[0].Source; got != tt.want {
				t.Errorf("source = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNew_InvalidTrustedProxy(t *testing.T) {
	env := newTestEnv(t)
	_, err := New(Deps{
		Config: config.APIConfig{TrustedProxies: []string{"proxy.internal"}},
		Logger: logging.Discard(),
		Auth:   env.srv.auth,
	})
	if err == nil {
		t.Fatal("New() with a malformed trusted proxy: expected error")
	}
}

func TestServer_StartAndClose(t *testing.T) {
	env := newTestEnv(t)

	if err := env.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start: expected error")
	}
	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() before Start = %v", err)
	}

	if err := env.srv.Start(t.Context()); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	if err := env.srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() after Start = %v", err)
	}
	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

type captureSink struct {
	events []auth.Event
}

func (s *captureSink) Publish(_ context.Context, e auth.Event) {
	s.events = append(s.events, e)
}

// mustService rebuilds the env's auth service with a different event sink.
func mustService(t *testing.T, env *testEnv, sink auth.EventSink) *auth.Service {
	t.Helper()

	svc, err := auth.NewService(auth.ServiceDeps{
		Store:  auth.NewSQLiteUserStore(env.db),
		Hasher: plainHasher{},
		Issuer: env.srv.auth.Issuer(),
		Events: sink,
	})
	if err != nil {
		t.Fatalf("NewService() error: %v", err)
	}
	return svc
}
