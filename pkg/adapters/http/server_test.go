package http_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/promptgraph/internal/testutils"
	httpadapter "github.com/aretw0/promptgraph/pkg/adapters/http"
	"github.com/aretw0/promptgraph/pkg/adapters/memory"
	"github.com/aretw0/promptgraph/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rig struct {
	router  *memory.Router
	rg      *testutils.RouterGraph
	manager *session.Manager
	server  *httpadapter.Server
	handler http.Handler
}

func newRig(t *testing.T, opts ...httpadapter.Option) *rig {
	t.Helper()
	r := &rig{
		router:  memory.NewRouter("admin", "secret"),
		rg:      testutils.NewRouterGraph(t),
		manager: session.NewManager(),
	}
	r.server = httpadapter.NewServer(r.manager, opts...)
	r.handler = r.server.Handler()

	_, err := r.manager.Open(context.Background(), "r1", func(ctx context.Context) (*session.Session, error) {
		return session.Open(ctx, r.rg.Graph, memory.RouterSpawner(r.router),
			session.WithID("r1"),
			session.WithCredentials(testutils.Credentials),
			session.WithHopWise(true),
			session.WithProbeWait(50*time.Millisecond),
			session.WithHopTimeout(time.Second),
			session.WithCommandTimeout(time.Second),
			session.WithConfigState(r.rg.Config),
			session.WithLifecycleHooks(r.server.Hooks()),
		)
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.manager.CloseAll() })
	return r
}

func (r *rig) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	r.handler.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func TestServer_HealthAndInfo(t *testing.T) {
	r := newRig(t, httpadapter.WithVersion("1.2.3"))

	rec := r.do(t, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	info := decode[map[string]string](t, r.do(t, "GET", "/info", nil))
	assert.Equal(t, "1.2.3", info["version"])
}

func TestServer_Sessions(t *testing.T) {
	r := newRig(t)

	list := decode[[]httpadapter.SessionInfo](t, r.do(t, "GET", "/sessions/", nil))
	require.Len(t, list, 1)
	assert.Equal(t, "r1", list[0].ID)
	assert.Equal(t, "memory-router", list[0].Graph)
	assert.Empty(t, list[0].States)

	info := decode[httpadapter.SessionInfo](t, r.do(t, "GET", "/sessions/r1/", nil))
	assert.Equal(t, []string{"username", "user", "enabled", "config", "config_if"}, info.States)

	rec := r.do(t, "GET", "/sessions/nope/", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[httpadapter.ErrorResponse](t, rec).Kind)
}

func TestServer_GoToAndExecute(t *testing.T) {
	r := newRig(t)

	rec := r.do(t, "POST", "/sessions/r1/goto", httpadapter.GotoRequest{State: "config"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "config", decode[httpadapter.OutputResponse](t, rec).State)

	rec = r.do(t, "POST", "/sessions/r1/execute", httpadapter.ExecuteRequest{Command: "show version", State: "enabled"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[httpadapter.OutputResponse](t, rec)
	assert.Equal(t, "IOS Software, Version 15.2(4)M", out.Output)
	assert.Equal(t, "enabled", out.State)

	rec = r.do(t, "POST", "/sessions/r1/execute", httpadapter.ExecuteRequest{Command: "logging host 10.0.0.1\nntp server 10.0.0.2", Configure: true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"logging host 10.0.0.1", "ntp server 10.0.0.2"}, r.router.RunningConfig())
}

func TestServer_Errors(t *testing.T) {
	r := newRig(t)

	tests := []struct {
		name   string
		path   string
		body   any
		status int
		kind   string
	}{
		{"bad command", "/sessions/r1/execute", httpadapter.ExecuteRequest{Command: "show bogus", State: "enabled"}, http.StatusUnprocessableEntity, "bad_command"},
		{"unknown state", "/sessions/r1/goto", httpadapter.GotoRequest{State: "rommon"}, http.StatusBadRequest, "bad_request"},
		{"bad duration", "/sessions/r1/goto", httpadapter.GotoRequest{State: "user", Timeout: "soon"}, http.StatusBadRequest, "bad_request"},
		{"missing command", "/sessions/r1/execute", httpadapter.ExecuteRequest{}, http.StatusBadRequest, "bad_request"},
		{"direct mode", "/sessions/r1/goto", map[string]any{"state": "config_if", "hop_wise": false}, http.StatusConflict, "no_direct_path"},
		{"unknown session", "/sessions/nope/goto", httpadapter.GotoRequest{State: "user"}, http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := r.do(t, "POST", tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.kind, decode[httpadapter.ErrorResponse](t, rec).Kind)
		})
	}

	rec := httptest.NewRecorder()
	r.handler.ServeHTTP(rec, httptest.NewRequest("POST", "/sessions/r1/goto", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Verify(t *testing.T) {
	r := newRig(t)

	rec := r.do(t, "POST", "/sessions/r1/verify", httpadapter.VerifyRequest{
		Command:  "show version",
		Expected: `Version 15\.2`,
		State:    "enabled",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = r.do(t, "POST", "/sessions/r1/verify", httpadapter.VerifyRequest{
		Command:    "show version",
		Expected:   "Version 16",
		RetryCount: 1,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "verification_failed", decode[httpadapter.ErrorResponse](t, rec).Kind)
}

func TestServer_GraphOverlay(t *testing.T) {
	r := newRig(t)
	require.Equal(t, http.StatusOK, r.do(t, "POST", "/sessions/r1/goto", httpadapter.GotoRequest{State: "config"}).Code)

	rec := r.do(t, "GET", "/sessions/r1/graph", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "graph TD"))
	assert.Contains(t, body, "class enabled visited;")
	assert.Contains(t, body, "class config current;")
	assert.Equal(t, []string{"user", "enabled", "config"}, r.server.Streams.Visited("r1"))
}

func TestServer_CloseSession(t *testing.T) {
	r := newRig(t)

	rec := r.do(t, "DELETE", "/sessions/r1/", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, r.manager.List())
	assert.Equal(t, http.StatusNotFound, r.do(t, "DELETE", "/sessions/r1/", nil).Code)
}

func TestServer_Metrics(t *testing.T) {
	r := newRig(t, httpadapter.WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("promptgraph_up 1\n"))
	})))

	rec := r.do(t, "GET", "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "promptgraph_up 1\n", rec.Body.String())

	assert.Equal(t, http.StatusNotFound, newRig(t).do(t, "GET", "/metrics", nil).Code)
}

func TestServer_SubscribeEvents(t *testing.T) {
	r := newRig(t)
	srv := httptest.NewServer(r.handler)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", srv.URL+"/sessions/r1/events?types=transition", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	require.True(t, lines.Scan())
	assert.Equal(t, "event: ping", lines.Text())

	go func() {
		body := strings.NewReader(`{"command":"show version","state":"enabled"}`)
		res, err := http.Post(srv.URL+"/sessions/r1/execute", "application/json", body)
		if err == nil {
			res.Body.Close()
		}
	}()

	var events []string
	for lines.Scan() && len(events) < 2 {
		if name, ok := strings.CutPrefix(lines.Text(), "event: "); ok {
			events = append(events, name)
		}
	}
	assert.Equal(t, []string{"transition", "transition"}, events, "command events are filtered out")
}
