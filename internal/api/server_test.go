package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	apierrors "github.com/narvanalabs/keyrelay/internal/api/errors"
	"github.com/narvanalabs/keyrelay/internal/auth"
	"github.com/narvanalabs/keyrelay/internal/mailer"
	"github.com/narvanalabs/keyrelay/internal/ratelimit"
	"github.com/narvanalabs/keyrelay/internal/store/sqlstore"
	"github.com/narvanalabs/keyrelay/pkg/config"
)

var dbCounter atomic.Int64

type recordingSender struct {
	sent []mailer.Message
}

func (s *recordingSender) Send(ctx context.Context, msg mailer.Message) error {
	s.sent = append(s.sent, msg)
	return nil
}

type testServer struct {
	*httptest.Server
	adminKey string
	sender   *recordingSender
}

func newTestServer(t *testing.T, opts ...func(*config.Config)) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.LoadWithDefaults()
	cfg.RateLimit.Requests = 0
	for _, opt := range opts {
		opt(cfg)
	}

	dsn := fmt.Sprintf("file:e2e-%d?mode=memory&cache=shared&_pragma=busy_timeout(5000)", dbCounter.Add(1))
	st, err := sqlstore.Open(sqlstore.DefaultConfig(sqlstore.DriverSQLite, dsn), logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	tokens := auth.NewTokenService(&auth.TokenConfig{Secret: []byte(cfg.Auth.Secret), TTL: cfg.Auth.TokenTTL}, logger)
	sender := &recordingSender{}
	srv, err := NewServer(cfg, Dependencies{
		Store:       st,
		Tokens:      tokens,
		Admin:       auth.NewAdminGate(cfg.Auth.AdminKey),
		Credentials: auth.NewCredentialService(st, auth.NewHasher(bcrypt.MinCost), tokens, logger),
		Mailer:      sender,
		Limiter:     ratelimit.NewMemoryLimiter(ratelimit.MemoryConfig{}),
	}, logger)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, adminKey: cfg.Auth.AdminKey, sender: sender}
}

func (ts *testServer) call(t *testing.T, method, path, authorization string, body any) (int, apierrors.Response) {
	t.Helper()
	return ts.callWithHeaders(t, method, path, authorization, nil, body)
}

func (ts *testServer) callWithHeaders(t *testing.T, method, path, authorization string, headers map[string]string, body any) (int, apierrors.Response) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env apierrors.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func token(t *testing.T, env apierrors.Response) string {
	t.Helper()
	content, ok := env.Content.(map[string]any)
	require.True(t, ok, "missing content in %+v", env)
	tok, _ := content["token"].(string)
	require.NotEmpty(t, tok)
	return tok
}

func TestEndToEndKeyLifecycle(t *testing.T) {
	ts := newTestServer(t)
	creds := map[string]string{"name": "svc1", "key": "s3cr3t", "description": "billing"}

	status, env := ts.call(t, http.MethodPost, "/v1/auth/keys", ts.adminKey, creds)
	require.Equal(t, http.StatusOK, status, env.Message)
	registered := token(t, env)

	// Tokens issued within the same second still differ.
	status, env = ts.call(t, http.MethodPost, "/v1/auth", "", map[string]string{"name": "svc1", "key": "s3cr3t"})
	require.Equal(t, http.StatusOK, status)
	loggedIn := token(t, env)
	assert.NotEqual(t, registered, loggedIn)

	status, _ = ts.call(t, http.MethodPost, "/v1/auth", "", map[string]string{"name": "svc1", "key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, env = ts.call(t, http.MethodPost, "/v1/auth/keys", ts.adminKey, creds)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, apierrors.CodeDuplicateName, env.Code)

	// The issued token opens the email relay.
	email := map[string]string{"email": "test@email.com", "subject": "hi", "body": "hello"}
	status, _ = ts.call(t, http.MethodPost, "/v1/email", "Bearer "+loggedIn, email)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, ts.sender.sent, 1)

	// Revocation blocks login but the earlier token keeps working.
	status, _ = ts.call(t, http.MethodDelete, "/v1/auth/keys/svc1", ts.adminKey, nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = ts.call(t, http.MethodDelete, "/v1/auth/keys/svc1", ts.adminKey, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = ts.call(t, http.MethodPost, "/v1/auth", "", map[string]string{"name": "svc1", "key": "s3cr3t"})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = ts.call(t, http.MethodPost, "/v1/email", loggedIn, email)
	assert.Equal(t, http.StatusOK, status)

	status, _ = ts.call(t, http.MethodPost, "/v1/auth/keys", ts.adminKey, creds)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestEndToEndListKeys(t *testing.T) {
	ts := newTestServer(t)

	for _, name := range []string{"alpha", "beta"} {
		status, _ := ts.call(t, http.MethodPost, "/v1/auth/keys", ts.adminKey, map[string]string{"name": name, "key": "k"})
		require.Equal(t, http.StatusOK, status)
	}
	status, _ := ts.call(t, http.MethodDelete, "/v1/auth/keys/alpha", ts.adminKey, nil)
	require.Equal(t, http.StatusOK, status)

	status, env := ts.call(t, http.MethodGet, "/v1/auth/keys", ts.adminKey, nil)
	require.Equal(t, http.StatusOK, status)

	content := env.Content.(map[string]any)
	keys := content["keys"].([]any)
	require.Len(t, keys, 2)
	assert.Equal(t, map[string]any{"name": "alpha", "enabled": false}, keys[0])
	assert.Equal(t, map[string]any{"name": "beta", "enabled": true}, keys[1])
}

func TestEndToEndAdminGate(t *testing.T) {
	ts := newTestServer(t)
	body := map[string]string{"name": "svc1", "key": "s3cr3t"}

	status, env := ts.call(t, http.MethodPost, "/v1/auth/keys", "", body)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "not authenticated: no token present", env.Message)

	status, env = ts.call(t, http.MethodPost, "/v1/auth/keys", "wrong-admin-key", body)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "credentials do not grant permissions to execute this action", env.Message)

	status, _ = ts.call(t, http.MethodGet, "/v1/auth/keys", "Bearer wrong-admin-key", nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = ts.call(t, http.MethodDelete, "/v1/auth/keys/svc1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestEndToEndRequestGate(t *testing.T) {
	ts := newTestServer(t)
	email := map[string]string{"email": "test@email.com", "subject": "hi", "body": "hello"}

	status, _ := ts.call(t, http.MethodPost, "/v1/email", "", email)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, env := ts.call(t, http.MethodPost, "/v1/email", "not.a.token", email)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, apierrors.CodeTokenMalformed, env.Code)

	expired := auth.NewTokenService(&auth.TokenConfig{
		Secret: []byte(config.LoadWithDefaults().Auth.Secret),
		Now:    func() time.Time { return time.Now().Add(-2 * time.Hour) },
	}, nil)
	old, err := expired.Issue("svc1")
	require.NoError(t, err)
	status, env = ts.call(t, http.MethodPost, "/v1/email", old, email)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, apierrors.CodeTokenExpired, env.Code)

	status, _ = ts.call(t, http.MethodPost, "/v2/email", ts.adminKey, map[string]any{"to": []string{"a@email.com"}, "subject": "s", "body": "b"})
	assert.Equal(t, http.StatusOK, status)
}

func TestEndToEndPublicRoutes(t *testing.T) {
	ts := newTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/healthcheck")
	require.NoError(t, err)
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", health["status"])
	assert.NotEmpty(t, health["now"])

	for _, path := range []string{"/openapi", "/openapi/openapi.yaml"} {
		resp, err := ts.Client().Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	resp, err = ts.Client().Get(ts.URL + "/favicon.ico")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestEndToEndRequestIDInErrors(t *testing.T) {
	ts := newTestServer(t)
	_, env := ts.call(t, http.MethodPost, "/v1/email", "", map[string]string{})
	assert.NotEmpty(t, env.RequestID)
}

func TestEndToEndRevokePercentEncodedName(t *testing.T) {
	ts := newTestServer(t)

	status, env := ts.call(t, http.MethodPost, "/v1/auth/keys", ts.adminKey, map[string]string{"name": "svc@team:eu", "key": "s3cr3t"})
	require.Equal(t, http.StatusOK, status, env.Message)

	status, env = ts.call(t, http.MethodDelete, "/v1/auth/keys/svc%40team%3Aeu", ts.adminKey, nil)
	assert.Equal(t, http.StatusOK, status, env.Message)

	status, _ = ts.call(t, http.MethodPost, "/v1/auth", "", map[string]string{"name": "svc@team:eu", "key": "s3cr3t"})
	assert.Equal(t, http.StatusUnauthorized, status)

	// The unencoded form names the same, now revoked, key.
	status, env = ts.call(t, http.MethodDelete, "/v1/auth/keys/svc@team:eu", ts.adminKey, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, apierrors.CodeNotFound, env.Code)
}

func TestEndToEndLoginLimitIgnoresForwardedFor(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) {
		c.RateLimit.Requests = 3
		c.RateLimit.PerName = 0
		c.RateLimit.Window = time.Minute
	})

	counts := map[int]int{}
	for i := 0; i < 20; i++ {
		headers := map[string]string{
			"X-Forwarded-For": fmt.Sprintf("10.0.%d.%d", i/256, i%256),
			"X-Real-IP":       fmt.Sprintf("10.1.%d.%d", i/256, i%256),
		}
		status, _ := ts.callWithHeaders(t, http.MethodPost, "/v1/auth", "", headers, map[string]string{"name": "svc1", "key": "wrong"})
		counts[status]++
	}
	assert.Equal(t, map[int]int{http.StatusUnauthorized: 3, http.StatusTooManyRequests: 17}, counts)
}

func TestEndToEndLoginLimitPerName(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) {
		c.RateLimit.Requests = 100
		c.RateLimit.PerName = 4
		c.RateLimit.Window = time.Minute
		c.RateLimit.TrustProxy = true
	})

	counts := map[int]int{}
	for i := 0; i < 10; i++ {
		headers := map[string]string{"X-Forwarded-For": fmt.Sprintf("10.0.0.%d", i)}
		status, _ := ts.callWithHeaders(t, http.MethodPost, "/v1/auth", "", headers, map[string]string{"name": "svc1", "key": "wrong"})
		counts[status]++
	}
	assert.Equal(t, map[int]int{http.StatusUnauthorized: 4, http.StatusTooManyRequests: 6}, counts)

	// Other names keep their own budget.
	status, _ := ts.call(t, http.MethodPost, "/v1/auth", "", map[string]string{"name": "svc2", "key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestEndToEndLoginWrongMethod(t *testing.T) {
	ts := newTestServer(t)

	status, env := ts.call(t, http.MethodGet, "/v1/auth", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, status)
	assert.Equal(t, http.StatusMethodNotAllowed, env.Status)
}
