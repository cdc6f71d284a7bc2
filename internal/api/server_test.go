package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jzx17/offload/internal/testutils"
	"github.com/jzx17/offload/pkg/handlers"
	"github.com/jzx17/offload/pkg/scheduler"
	"github.com/jzx17/offload/pkg/worker"
)

type testServer struct {
	*httptest.Server
	sched *scheduler.Scheduler
	gate  *testutils.Gate
}

func newTestServer(t *testing.T, poolSize int) *testServer {
	t.Helper()

	gate := testutils.NewGate(16)
	reg := worker.NewRegistry()
	require.NoError(t, handlers.RegisterBuiltins(reg))
	reg.MustRegister("gate", worker.HandlerFunc(func(ctx context.Context, payload any) (any, error) {
		if err := gate.Wait(ctx, "gate"); err != nil {
			return nil, err
		}
		return "released", nil
	}))
	reg.MustRegister("fail", worker.HandlerFunc(func(ctx context.Context, payload any) (any, error) {
		return nil, fmt.Errorf("refused")
	}))

	sched, err := scheduler.New(&scheduler.Config{
		PoolSize: poolSize,
		Registry: reg,
		Logger:   testutils.DiscardLogger(),
	})
	require.NoError(t, err)

	srv := NewServer(sched, Options{Logger: testutils.DiscardLogger()})
	ts := httptest.NewServer(srv.Router())

	t.Cleanup(func() {
		ts.Close()
		_ = sched.Shutdown(context.Background())
	})
	t.Cleanup(gate.Open)

	return &testServer{Server: ts, sched: sched, gate: gate}
}

func (ts *testServer) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()

	req, err := http.NewRequest(method, ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out map[string]any
	if len(bytes.TrimSpace(raw)) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, 2)

	resp, body := ts.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 2, body["pool_size"])
}

func TestHealthzAfterShutdown(t *testing.T) {
	ts := newTestServer(t, 1)
	require.NoError(t, ts.sched.Shutdown(context.Background()))

	resp, body := ts.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "unavailable", body["status"])
}

func TestSubmitTaskWait(t *testing.T) {
	ts := newTestServer(t, 2)

	resp, body := ts.do(t, http.MethodPost, "/v1/tasks",
		`{"type":"transform","payload":{"text":"abc","operations":["upper"]},"wait":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, "transform", body["type"])
	value, ok := body["value"].(map[string]any)
	require.True(t, ok, body)
	assert.Equal(t, "ABC", value["text"])
	assert.Len(t, body["id"], 26)
}

func TestSubmitTaskWaitQueryFlag(t *testing.T) {
	ts := newTestServer(t, 1)

	resp, body := ts.do(t, http.MethodPost, "/v1/tasks?wait=true", `{"type":"fail"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, "failed", body["status"])
	assert.Equal(t, "handler-error", body["error_kind"])
	assert.Contains(t, body["error"], "refused")
}

func TestSubmitTaskUnknownTypeFails(t *testing.T) {
	ts := newTestServer(t, 1)

	resp, body := ts.do(t, http.MethodPost, "/v1/tasks", `{"type":"render","wait":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "failed", body["status"])
	assert.Contains(t, body["error"], "unknown task type")
}

func TestSubmitTaskAsync(t *testing.T) {
	ts := newTestServer(t, 1)

	resp, body := ts.do(t, http.MethodPost, "/v1/tasks",
		`{"type":"summarize","payload":{"text":"One. Two. Three."},"priority":"high"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "queued", body["status"])

	id, _ := body["id"].(string)
	require.NotEmpty(t, id)

	assert.Eventually(t, func() bool {
		_, got := ts.do(t, http.MethodGet, "/v1/tasks/"+id, "")
		return got["status"] == "completed"
	}, 5*time.Second, 10*time.Millisecond)

	_, got := ts.do(t, http.MethodGet, "/v1/tasks/"+id, "")
	assert.NotNil(t, got["worker_id"])
	assert.NotNil(t, got["completed_at"])
}

func TestSubmitTaskValidation(t *testing.T) {
	ts := newTestServer(t, 1)

	tests := []struct {
		name string
		body string
	}{
		{name: "invalid json", body: `not json`},
		{name: "missing type", body: `{"payload":{}}`},
		{name: "unknown priority", body: `{"type":"index","priority":"urgent"}`},
		{name: "negative timeout", body: `{"type":"index","timeout_ms":-5}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := ts.do(t, http.MethodPost, "/v1/tasks", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestSubmitTaskTimeout(t *testing.T) {
	ts := newTestServer(t, 1)

	resp, body := ts.do(t, http.MethodPost, "/v1/tasks", `{"type":"gate","timeout_ms":20,"wait":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "timeout", body["status"])
	assert.Equal(t, "timeout", body["error_kind"])
}

func TestGetTaskStates(t *testing.T) {
	ts := newTestServer(t, 1)

	_, first := ts.do(t, http.MethodPost, "/v1/tasks", `{"type":"gate"}`)
	ts.gate.RequireEntered(t, 5*time.Second)
	_, second := ts.do(t, http.MethodPost, "/v1/tasks", `{"type":"gate"}`)

	_, got := ts.do(t, http.MethodGet, fmt.Sprintf("/v1/tasks/%s", first["id"]), "")
	assert.Equal(t, "active", got["status"])

	_, got = ts.do(t, http.MethodGet, fmt.Sprintf("/v1/tasks/%s", second["id"]), "")
	assert.Equal(t, "queued", got["status"])

	resp, _ := ts.do(t, http.MethodGet, "/v1/tasks/01ARZ3NDEKTSV4RRFFQ69G5FAV", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelTask(t *testing.T) {
	ts := newTestServer(t, 1)

	ts.do(t, http.MethodPost, "/v1/tasks", `{"type":"gate"}`)
	ts.gate.RequireEntered(t, 5*time.Second)
	_, queued := ts.do(t, http.MethodPost, "/v1/tasks", `{"type":"gate"}`)
	path := fmt.Sprintf("/v1/tasks/%s", queued["id"])

	resp, body := ts.do(t, http.MethodDelete, path, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "cancelled", body["status"])

	_, got := ts.do(t, http.MethodGet, path, "")
	assert.Equal(t, "cancelled", got["status"])
	assert.Equal(t, "cancelled", got["error_kind"])

	resp, _ = ts.do(t, http.MethodDelete, path, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodDelete, "/v1/tasks/unknown", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSubmitBatch(t *testing.T) {
	ts := newTestServer(t, 2)

	resp, body := ts.do(t, http.MethodPost, "/v1/tasks/batch", `{"tasks":[
		{"type":"transform","payload":{"text":"a","operations":["upper"]}},
		{"type":"fail"},
		{"type":"index","payload":{"documents":[{"id":"d1","text":"worker pool"}]}}
	]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.EqualValues(t, 3, body["total_count"])
	assert.EqualValues(t, 2, body["success_count"])

	results, ok := body["results"].([]any)
	require.True(t, ok)
	require.Len(t, results, 3)

	failed := results[1].(map[string]any)
	assert.Equal(t, false, failed["success"])
	assert.Equal(t, "handler-error", failed["error_kind"])
	assert.Equal(t, true, results[0].(map[string]any)["success"])
}

func TestSubmitBatchValidation(t *testing.T) {
	ts := newTestServer(t, 1)

	resp, _ := ts.do(t, http.MethodPost, "/v1/tasks/batch", `{"tasks":[]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := ts.do(t, http.MethodPost, "/v1/tasks/batch", `{"tasks":[{"type":"index"},{"priority":"high"}]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "tasks[1]")
}

func TestStats(t *testing.T) {
	ts := newTestServer(t, 2)

	ts.do(t, http.MethodPost, "/v1/tasks", `{"type":"fail","wait":true}`)
	ts.do(t, http.MethodPost, "/v1/tasks", `{"type":"transform","payload":{"text":"x"},"wait":true}`)

	resp, body := ts.do(t, http.MethodGet, "/v1/stats", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.EqualValues(t, 2, body["pool_size"])
	assert.EqualValues(t, 2, body["total_processed"])
	assert.EqualValues(t, 1, body["completed"])
	assert.EqualValues(t, 1, body["failed"])
	assert.InDelta(t, 0.5, body["success_rate"], 1e-9)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, 1)
	ts.do(t, http.MethodPost, "/v1/tasks", `{"type":"transform","payload":{"text":"x"},"wait":true}`)

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "offload_tasks_submitted_total")
	assert.Contains(t, string(raw), "offload_http_requests_total")
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, 1)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/v1/tasks", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
