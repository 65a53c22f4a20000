package web_service

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/soheilhy/cmux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pzhenzhou/respcmd/pkg/client"
	"github.com/pzhenzhou/respcmd/pkg/common"
	"github.com/pzhenzhou/respcmd/pkg/mockserver"
)

type testEnv struct {
	srv    *mockserver.Server
	cli    *client.Client
	web    *WebServer
	config *common.ClientConfig
}

func newTestEnv(t *testing.T, enableMetrics bool) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	srv := mockserver.New(mockserver.Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Start(ctx))
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = srv.Stop(stopCtx)
	})

	config := common.DefaultClientConfig(srv.Addr())
	config.Ring.Size = 2
	config.Metrics.EnableMetrics = enableMetrics
	cli, err := client.New(context.Background(), config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cli.Close() })
	return &testEnv{srv: srv, cli: cli, web: NewWebServer(config, cli), config: config}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, ApiResponse) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.web.Handler().ServeHTTP(w, req)
	var resp ApiResponse
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
	}
	return w, resp
}

func TestWebServer_Health(t *testing.T) {
	env := newTestEnv(t, false)
	w, _ := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w, _ = env.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, w.Code, "metrics route only exists with metrics enabled")
}

func TestWebServer_ListCommands(t *testing.T) {
	env := newTestEnv(t, false)
	w, resp := env.do(t, http.MethodGet, ListCommandsPath, "")
	require.Equal(t, http.StatusOK, w.Code)
	items, ok := resp.Data.([]any)
	require.True(t, ok)
	assert.Len(t, items, env.cli.Registry().Len())
	assert.Contains(t, w.Body.String(), `"id":"LATENCY.RESET"`)
	assert.Contains(t, w.Body.String(), `"key_index":1`)
}

func TestWebServer_PoolStatus(t *testing.T) {
	env := newTestEnv(t, false)
	w, resp := env.do(t, http.MethodGet, PoolStatusPath, "")
	require.Equal(t, http.StatusOK, w.Code)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ring", data["transport"])
	ring, ok := data["ring"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(2), ring["live"])
	conns, ok := ring["conns"].([]any)
	require.True(t, ok)
	require.Len(t, conns, 2)
	conn, ok := conns[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, env.srv.Addr(), conn["remote_addr"])
	assert.NotEmpty(t, conn["used_at"])
}

func TestWebServer_LatencyRoutes(t *testing.T) {
	env := newTestEnv(t, true)
	env.srv.AddLatency("fork", 15)
	env.srv.AddLatency("expire-cycle", 3)

	w, resp := env.do(t, http.MethodGet, LatencyLatestPath, "")
	require.Equal(t, http.StatusOK, w.Code)
	entries, ok := resp.Data.([]any)
	require.True(t, ok)
	assert.Len(t, entries, 2)

	w, _ = env.do(t, http.MethodPost, LatencyResetPath, `{"events":["fork"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"reset":1`)

	w, _ = env.do(t, http.MethodPost, LatencyResetPath, `{"events":[""]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = env.do(t, http.MethodPost, LatencyResetPath, `{"events":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = env.do(t, http.MethodPost, LatencyResetPath, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"reset":1`)

	w, resp = env.do(t, http.MethodGet, LatencyLatestPath, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{}, resp.Data)

	w, _ = env.do(t, http.MethodGet, env.config.Metrics.MetricsPath, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "command.count")
}

func TestWebServer_DuplicateHandler(t *testing.T) {
	env := newTestEnv(t, false)
	web := NewWebServerWithHandlers(env.config, env.cli, []WebHandler{&HealthCheckHandler{}, &HealthCheckHandler{}})
	assert.Len(t, web.handlers, 1)
}

func TestWebServer_ServeOverCmux(t *testing.T) {
	env := newTestEnv(t, false)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	m := cmux.New(l)
	errCh := make(chan error, 2)
	go func() { errCh <- env.web.Start(m) }()
	go func() { errCh <- m.Serve() }()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		env.web.Shutdown(ctx)
		m.Close()
	}()

	url := fmt.Sprintf("http://%s/healthz", l.Addr())
	assert.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)
}
