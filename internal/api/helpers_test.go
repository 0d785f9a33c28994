package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/keystone-auth/internal/audit"
	"github.com/nerrad567/keystone-auth/internal/auth"
	"github.com/nerrad567/keystone-auth/internal/infrastructure/config"
	"github.com/nerrad567/keystone-auth/internal/infrastructure/database"
	"github.com/nerrad567/keystone-auth/internal/infrastructure/logging"
	"github.com/nerrad567/keystone-auth/internal/observability"
	"github.com/nerrad567/keystone-auth/migrations"
)

const (
	testAccessSecret  = "api-test-access-secret-32-chars-min"
	testRefreshSecret = "api-test-refresh-secret-32-chars-mn"
	testPassword      = "correct-horse-battery"
)

// plainHasher stands in for Argon2id so handler tests stay fast. The real
// hasher is covered in the auth package.
type plainHasher struct{}

func (plainHasher) Hash(_ context.Context, p string) (string, error) { return "plain:" + p, nil }

func (plainHasher) Verify(_ context.Context, p, encoded string) (bool, error) {
	return encoded == "plain:"+p, nil
}

func (plainHasher) VerifyDummy(context.Context, string) {}

// fanout delivers events synchronously so tests can assert on them
// immediately after the request returns.
type fanout []auth.EventSink

func (f fanout) Publish(ctx context.Context, e auth.Event) {
	for _, s := range f {
		s.Publish(ctx, e)
	}
}

// fakeClock is a settable clock for the token issuer.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type failingChecker struct{}

func (failingChecker) HealthCheck(context.Context) error { return errors.New("disk I/O error") }

type testConfig struct {
	tokens    auth.TokenConfig
	rateLimit config.RateLimitConfig
	cors      config.CORSConfig
	noAudit   bool
	store     HealthChecker
	proxies   []string
}

type testOption func(*testConfig)

func withoutSecrets() testOption {
	return func(c *testConfig) { c.tokens.AccessSecret, c.tokens.RefreshSecret = "", "" }
}

func withRateLimit(rpm, burst int) testOption {
	return func(c *testConfig) {
		c.rateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMinute: rpm, Burst: burst}
	}
}

func withAllowedOrigins(origins ...string) testOption {
	return func(c *testConfig) { c.cors.AllowedOrigins = origins }
}

func withoutAudit() testOption {
	return func(c *testConfig) { c.noAudit = true }
}

func withTrustedProxies(proxies ...string) testOption {
	return func(c *testConfig) { c.proxies = proxies }
}

func withStore(hc HealthChecker) testOption {
	return func(c *testConfig) { c.store = hc }
}

// testEnv is a Server backed by a temporary SQLite database.
type testEnv struct {
	srv     *Server
	handler http.Handler
	db      *sql.DB
	metrics *observability.Metrics
	clock   *fakeClock
}

func newTestEnv(t *testing.T, opts ...testOption) *testEnv {
	t.Helper()

	tc := testConfig{
		tokens: auth.TokenConfig{
			AccessSecret:  testAccessSecret,
			RefreshSecret: testRefreshSecret,
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    24 * time.Hour,
			Issuer:        "keystone-test",
		},
	}
	for _, opt := range opts {
		opt(&tc)
	}

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "api-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(context.Background(), migrations.SQLite); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}

	logger := logging.Discard()
	metrics := observability.NewMetrics()
	hub := NewHub(config.WebSocketConfig{}, logger, metrics.WSConnections)
	clock := &fakeClock{t: time.Now().UTC()}

	sinks := fanout{metrics, hub}
	var auditRepo audit.Repository
	if !tc.noAudit {
		repo := audit.NewSQLiteRepository(db.DB)
		auditRepo = repo
		sinks = append(sinks, audit.NewSink(repo, logger))
	}

	users := auth.NewSQLiteUserStore(db.DB)
	svc, err := auth.NewService(auth.ServiceDeps{
		Store:  users,
		Hasher: plainHasher{},
		Issuer: auth.NewIssuer(tc.tokens, auth.WithClock(clock.Now)),
		Events: sinks,
	})
	if err != nil {
		t.Fatalf("NewService() error: %v", err)
	}

	var store HealthChecker = db
	if tc.store != nil {
		store = tc.store
	}

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:           "127.0.0.1",
			CORS:           tc.cors,
			TrustedProxies: tc.proxies,
		},
		RateLimit: tc.rateLimit,
		Logger:    logger,
		Auth:      svc,
		Store:     store,
		Audit:     auditRepo,
		Metrics:   metrics,
		Hub:       hub,
		Version:   "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	return &testEnv{
		srv:     srv,
		handler: srv.buildRouter(),
		db:      db.DB,
		metrics: metrics,
		clock:   clock,
	}
}

// do sends a request through the router. body is JSON-encoded unless it is
// already a string; token, when set, goes in the Authorization header.
func (e *testEnv) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

// register creates an account through the API and returns its id.
func (e *testEnv) register(t *testing.T, email string) string {
	t.Helper()

	rec := e.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email":     email,
		"password":  testPassword,
		"firstName": "Jane",
		"lastName":  "Doe",
	}, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("register %s: status = %d, body = %s", email, rec.Code, rec.Body.String())
	}
	resp := decode[registerResponse](t, rec)
	return resp.User.ID
}

// login returns a token pair for an account registered with testPassword.
func (e *testEnv) login(t *testing.T, email string) tokenResponse {
	t.Helper()

	rec := e.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email":    email,
		"password": testPassword,
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: status = %d, body = %s", email, rec.Code, rec.Body.String())
	}
	return decode[tokenResponse](t, rec)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return v
}

// assertError checks status and error code of an error response.
func assertError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) Error {
	t.Helper()

	if rec.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, status, rec.Body.String())
	}
	e := decode[Error](t, rec)
	if e.Code != code {
		t.Errorf("code = %q, want %q", e.Code, code)
	}
	if e.Status != status {
		t.Errorf("body status = %d, want %d", e.Status, status)
	}
	return e
}
