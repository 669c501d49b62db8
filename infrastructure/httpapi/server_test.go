package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ahrav/go-arena/infrastructure/middleware"
	"github.com/ahrav/go-arena/infrastructure/storage/memory"
	"github.com/ahrav/go-arena/internal/application"
)

// echoGateway answers every model with a fixed reply.
type echoGateway struct{}

func (echoGateway) Fetch(_ context.Context, model, prompt string) (string, error) {
	return model + ": " + prompt, nil
}

type testEnv struct {
	server *httptest.Server
	stats  *memory.StatsStore
}

func newTestEnv(t *testing.T, storage bool) testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)
	reg := prometheus.NewRegistry()
	metrics := middleware.NewPrometheusMetrics(reg)

	stats := memory.NewStatsStore()
	var svc *application.Service
	if storage {
		svc = application.NewService(memory.NewVoteStore(), stats, application.WithServiceMetrics(metrics))
	} else {
		svc = application.NewService(nil, nil)
	}
	sessions := application.NewSessionRegistry(application.ArbiterDeps{
		Pool:    []string{"m1", "m2", "m3"},
		Gateway: echoGateway{},
		Votes:   svc,
		Logger:  logger,
	}, []byte("secret"), nil)

	srv := NewServer(Deps{
		Service:    svc,
		Sessions:   sessions,
		AdminToken: "admin-secret",
		Gatherer:   reg,
		Metrics:    metrics,
		Logger:     logger,
	})
	ts := httptest.NewServer(srv.NewRouter())
	t.Cleanup(ts.Close)
	return testEnv{server: ts, stats: stats}
}

func (e testEnv) do(t *testing.T, method, path, body string, headers ...string) (int, map[string]any) {
	t.Helper()
	var rdr *bytes.Reader
	if body != "" {
		rdr = bytes.NewReader([]byte(body))
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.server.URL+path, rdr)
	require.NoError(t, err)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	if resp.StatusCode != http.StatusNoContent && !strings.HasPrefix(path, "/metrics") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func TestServer_SessionVoteFlow(t *testing.T) {
	env := newTestEnv(t, true)

	// Given a new session
	code, body := env.do(t, http.MethodPost, "/api/sessions", "")
	require.Equal(t, http.StatusCreated, code)
	id := body["id"].(string)
	assert.Equal(t, "no_prompt", body["state"])
	assert.Equal(t, true, body["storage_available"])

	// When a prompt is submitted
	code, body = env.do(t, http.MethodPost, "/api/sessions/"+id+"/prompt", `{"prompt":"Explain quantum computing"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "responses_ready", body["state"])
	assert.Equal(t, true, body["can_vote"])

	// And the voter picks A
	code, body = env.do(t, http.MethodPost, "/api/sessions/"+id+"/vote", `{"outcome":"a"}`)
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, body["vote_id"])
	assert.Equal(t, "voted", body["state"])

	// Then a second vote conflicts and the leaderboard shows both models
	code, _ = env.do(t, http.MethodPost, "/api/sessions/"+id+"/vote", `{"outcome":"B"}`)
	assert.Equal(t, http.StatusConflict, code)

	code, body = env.do(t, http.MethodGet, "/api/leaderboard", "")
	require.Equal(t, http.StatusOK, code)
	entries := body["entries"].([]any)
	require.Len(t, entries, 2)
	assert.Equal(t, 1.0, entries[0].(map[string]any)["win_rate"])

	code, body = env.do(t, http.MethodGet, "/api/votes/count", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1.0, body["count"])

	code, _ = env.do(t, http.MethodDelete, "/api/sessions/"+id, "")
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = env.do(t, http.MethodGet, "/api/sessions/"+id, "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestServer_RequestErrors(t *testing.T) {
	env := newTestEnv(t, true)
	_, body := env.do(t, http.MethodPost, "/api/sessions", "")
	id := body["id"].(string)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{name: "dangerous prompt", method: http.MethodPost, path: "/api/sessions/" + id + "/prompt", body: `{"prompt":"<script>x</script>"}`, want: http.StatusBadRequest},
		{name: "empty prompt", method: http.MethodPost, path: "/api/sessions/" + id + "/prompt", body: `{"prompt":"   "}`, want: http.StatusBadRequest},
		{name: "malformed body", method: http.MethodPost, path: "/api/sessions/" + id + "/prompt", body: `{"prompt":`, want: http.StatusBadRequest},
		{name: "unknown outcome", method: http.MethodPost, path: "/api/sessions/" + id + "/vote", body: `{"outcome":"draw"}`, want: http.StatusBadRequest},
		{name: "vote before responses", method: http.MethodPost, path: "/api/sessions/" + id + "/vote", body: `{"outcome":"tie"}`, want: http.StatusConflict},
		{name: "unknown session", method: http.MethodPost, path: "/api/sessions/nope/refresh", want: http.StatusNotFound},
		{name: "bad limit", method: http.MethodGet, path: "/api/leaderboard?limit=x", want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := env.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, code)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestServer_AdminRoutes(t *testing.T) {
	env := newTestEnv(t, true)
	env.stats.Seed(nil, 2)

	code, _ := env.do(t, http.MethodPost, "/api/admin/cleanup", "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body := env.do(t, http.MethodPost, "/api/admin/cleanup", "", "Authorization", "Bearer admin-secret")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2.0, body["removed"])
	assert.Equal(t, 2.0, body["missing"])

	code, body = env.do(t, http.MethodPost, "/api/admin/rebuild", "", "Authorization", "Bearer admin-secret")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0.0, body["events"])

	code, body = env.do(t, http.MethodGet, "/api/admin/dbstats", "", "Authorization", "Bearer admin-secret")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["atomic_pairs"])
}

func TestServer_StorageUnavailable(t *testing.T) {
	env := newTestEnv(t, false)

	code, body := env.do(t, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["storage_available"])

	// Sessions still generate responses
	_, body = env.do(t, http.MethodPost, "/api/sessions", "")
	id := body["id"].(string)
	code, body = env.do(t, http.MethodPost, "/api/sessions/"+id+"/prompt", `{"prompt":"hi"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["storage_available"])

	// But votes and the leaderboard are refused
	code, _ = env.do(t, http.MethodPost, "/api/sessions/"+id+"/vote", `{"outcome":"A"}`)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	code, _ = env.do(t, http.MethodGet, "/api/leaderboard", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestServer_Metrics(t *testing.T) {
	env := newTestEnv(t, true)
	env.do(t, http.MethodPost, "/api/sessions", "")

	resp, err := http.Get(env.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	assert.Contains(t, buf.String(), `arena_system_state{metric="sessions_active"} 1`)
}
