package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbardale/strikesentry/internal/auth"
	"github.com/tbardale/strikesentry/internal/broker"
	"github.com/tbardale/strikesentry/internal/engine"
	"github.com/tbardale/strikesentry/internal/mock"
	"github.com/tbardale/strikesentry/internal/orders"
	"github.com/tbardale/strikesentry/internal/session"
	"github.com/tbardale/strikesentry/internal/storage"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	dir := t.TempDir()
	quiet := log.New(io.Discard, "", 0)

	usersFile, err := storage.NewFile(filepath.Join(dir, "users.json"))
	require.NoError(t, err)
	sessionsFile, err := storage.NewFile(filepath.Join(dir, "sessions.json"))
	require.NoError(t, err)

	creds, err := auth.NewStore(usersFile, quiet)
	require.NoError(t, err)
	registry, err := session.NewRegistry(sessionsFile, quiet)
	require.NoError(t, err)

	provider := mock.NewProvider(24187, 50)
	factory := func(string) broker.Broker { return provider }

	disp := orders.NewDispatcher(quiet)
	eng := engine.New(creds, factory, disp, engine.Config{
		TickInterval: 50 * time.Millisecond,
		SymbolPrefix: "NSE:NIFTY",
		Underlying:   "NSE:NIFTY50-INDEX",
	}, io.Discard)
	registry.OnRevoke(func(username string) { eng.Teardown(username) })

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	srv := NewServer(Config{
		Addr:      ":0",
		SymbolMap: map[string]string{"NSE:NIFTY": "NSE:NIFTY50-INDEX", "NSE:BANKNIFTY": "NSE:NIFTYBANK-INDEX"},
	}, creds, registry, eng, logger)
	return srv
}

func doRequest(t *testing.T, srv *Server, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func signupAndLogin(t *testing.T, srv *Server, username string) map[string]string {
	t.Helper()

	rec := doRequest(t, srv, http.MethodPost, "/api/signup", credentialsRequest{Username: username, Password: "beets123"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/api/login", credentialsRequest{Username: username, Password: "beets123"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return map[string]string{
		"X-Username":      username,
		"X-Session-Token": resp["session_token"],
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestSignupDuplicate(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/signup", credentialsRequest{Username: "dwight", Password: "beets123"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/api/signup", credentialsRequest{Username: "dwight", Password: "other"}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "user_exists", errorCode(t, rec))
}

func TestSignupRejectsEmptyFields(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/signup", credentialsRequest{Username: "dwight"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginWrongPassword(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/signup", credentialsRequest{Username: "jim", Password: "beets123"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/api/login", credentialsRequest{Username: "jim", Password: "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_credentials", errorCode(t, rec))
}

func TestLoginUnknownUser(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/login", credentialsRequest{Username: "nobody", Password: "x"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_credentials", errorCode(t, rec))
}

func TestMissingSessionHeaders(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/bot/status", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "auth_required", errorCode(t, rec))
}

func TestStaleTokenAfterRelogin(t *testing.T) {
	srv := newTestServer(t)

	oldHeaders := signupAndLogin(t, srv, "pam")

	// Second login supersedes the first session.
	rec := doRequest(t, srv, http.MethodPost, "/api/login", credentialsRequest{Username: "pam", Password: "beets123"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/bot/status", nil, oldHeaders)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "session_expired", errorCode(t, rec))
}

func TestLogoutInvalidatesToken(t *testing.T) {
	srv := newTestServer(t)

	headers := signupAndLogin(t, srv, "angela")
	rec := doRequest(t, srv, http.MethodPost, "/api/logout", nil, headers)
	require.Equal(t, http.StatusOK, rec.Code)

	// The session existed and was torn down, so the old token fails as
	// expired rather than as never-logged-in.
	rec = doRequest(t, srv, http.MethodGet, "/api/bot/status", nil, headers)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "session_expired", errorCode(t, rec))
}

func TestBotStartRequiresBrokerLink(t *testing.T) {
	srv := newTestServer(t)

	headers := signupAndLogin(t, srv, "kevin")
	rec := doRequest(t, srv, http.MethodPost, "/api/bot/start", nil, headers)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_operation", errorCode(t, rec))
}

func TestBotLifecycle(t *testing.T) {
	srv := newTestServer(t)

	headers := signupAndLogin(t, srv, "oscar")
	rec := doRequest(t, srv, http.MethodPost, "/api/broker/link", brokerLinkRequest{AccessToken: "tok-123"}, headers)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/api/bot/start", nil, headers)
	require.Equal(t, http.StatusOK, rec.Code)

	// A second start is rejected while the worker is live.
	rec = doRequest(t, srv, http.MethodPost, "/api/bot/start", nil, headers)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_operation", errorCode(t, rec))

	rec = doRequest(t, srv, http.MethodGet, "/api/bot/status", nil, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	var status engine.BotStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Running)

	rec = doRequest(t, srv, http.MethodPost, "/api/bot/stop", nil, headers)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/api/bot/stop", nil, headers)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestBotConfigUpdate(t *testing.T) {
	srv := newTestServer(t)

	headers := signupAndLogin(t, srv, "stanley")
	offset := -150.0
	rec := doRequest(t, srv, http.MethodPut, "/api/bot/config", botConfigRequest{CallStrikeOffset: &offset}, headers)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/bot/status", nil, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	var status engine.BotStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, -150.0, status.Config.CallStrikeOffset)
}

func TestBotConfigIndexSwitch(t *testing.T) {
	srv := newTestServer(t)

	headers := signupAndLogin(t, srv, "phyllis")
	rec := doRequest(t, srv, http.MethodPut, "/api/bot/config", botConfigRequest{Index: "NSE:BANKNIFTY"}, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "NSE:NIFTYBANK-INDEX")

	rec = doRequest(t, srv, http.MethodPut, "/api/bot/config", botConfigRequest{Index: "NSE:FINNIFTY"}, headers)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_operation", errorCode(t, rec))
}

func TestChainRequiresBrokerLink(t *testing.T) {
	srv := newTestServer(t)

	headers := signupAndLogin(t, srv, "creed")
	rec := doRequest(t, srv, http.MethodGet, "/api/chain", nil, headers)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_operation", errorCode(t, rec))
}

func TestChainSnapshot(t *testing.T) {
	srv := newTestServer(t)

	headers := signupAndLogin(t, srv, "toby")
	rec := doRequest(t, srv, http.MethodPost, "/api/broker/link", brokerLinkRequest{AccessToken: "tok-456"}, headers)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/chain", nil, headers)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp chainResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Strikes)
	assert.NotNil(t, resp.Spot)
}

func TestPositionsAndExit(t *testing.T) {
	srv := newTestServer(t)

	headers := signupAndLogin(t, srv, "darryl")
	rec := doRequest(t, srv, http.MethodPost, "/api/broker/link", brokerLinkRequest{AccessToken: "tok-789"}, headers)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/positions", nil, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "positions")

	rec = doRequest(t, srv, http.MethodPost, "/api/positions/exit-all", nil, headers)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestExitOneValidatesBody(t *testing.T) {
	srv := newTestServer(t)

	headers := signupAndLogin(t, srv, "meredith")
	rec := doRequest(t, srv, http.MethodPost, "/api/positions/exit", broker.ExitRequest{Symbol: ""}, headers)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
