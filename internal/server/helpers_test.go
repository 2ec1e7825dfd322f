package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/safechat/internal/auth"
	"github.com/Tyrowin/safechat/internal/protocol"
	"github.com/Tyrowin/safechat/internal/server"
	"github.com/Tyrowin/safechat/internal/storage"
)

const (
	testOriginURL = "http://localhost:8080"
	testPassword  = "password123"
	readTimeout   = 2 * time.Second
)

type testEnv struct {
	srv *server.Server
	ts  *httptest.Server
	url string
}

// newTestEnv starts a full server (sqlite, auth, hub) behind httptest.
func newTestEnv(t *testing.T, mutate func(cfg *server.Config)) *testEnv {
	t.Helper()
	ctx := context.Background()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	cfg := server.NewConfig()
	cfg.JWTSecret = "test-secret"
	if mutate != nil {
		mutate(cfg)
	}

	db, err := storage.Open(ctx, filepath.Join(t.TempDir(), "users.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	tokens, err := auth.NewTokenIssuer(cfg.JWTSecret, cfg.AuthTokenDuration)
	require.NoError(t, err)
	authService := auth.NewService(storage.NewUserRepository(db), tokens, log)

	srv, err := server.New(cfg, authService, log)
	require.NoError(t, err)
	srv.Start()

	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		_ = srv.Hub().Shutdown(5 * time.Second)
		ts.Close()
	})

	return &testEnv{srv: srv, ts: ts, url: ts.URL}
}

func (e *testEnv) wsURL() string {
	return "ws" + strings.TrimPrefix(e.url, "http") + "/ws"
}

func (e *testEnv) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(e.url+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// register creates username and returns its token.
func (e *testEnv) register(t *testing.T, username string) string {
	t.Helper()
	resp := e.postJSON(t, "/api/auth/register", auth.Credentials{Username: username, Password: testPassword})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var body server.TokenResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.Token)
	return body.Token
}

func (e *testEnv) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	conn, resp, err := e.dialWithOrigin(token, testOriginURL)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (e *testEnv) dialWithOrigin(token, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return dialer.Dial(e.wsURL(), header)
}

// connect registers username and opens a WebSocket for it.
func (e *testEnv) connect(t *testing.T, username string) *websocket.Conn {
	t.Helper()
	return e.dial(t, e.register(t, username))
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame server.Frame) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(frame))
}

func readEvent(t *testing.T, conn *websocket.Conn) protocol.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	var event protocol.Event
	require.NoError(t, conn.ReadJSON(&event))
	return event
}

// expectSilence asserts nothing arrives within d. The connection cannot be
// read from afterwards.
func expectSilence(t *testing.T, conn *websocket.Conn, d time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(d)))
	_, msg, err := conn.ReadMessage()
	require.Error(t, err, "unexpected message: %s", msg)
}

func websocketDialQuery(env *testEnv, token string) (*websocket.Conn, *http.Response, error) {
	header := http.Header{}
	header.Set("Origin", testOriginURL)
	return websocket.DefaultDialer.Dial(env.wsURL()+"?token="+url.QueryEscape(token), header)
}
