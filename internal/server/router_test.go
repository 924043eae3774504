package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/realm/internal/history"
	"github.com/loykin/realm/internal/history/sqlite"
	mng "github.com/loykin/realm/internal/manager"
	"github.com/loykin/realm/internal/process"
	"github.com/loykin/realm/internal/route"
)

func setupRouter(t *testing.T, base string, specs ...process.Spec) (*Router, *mng.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mgr := mng.NewManager()
	mgr.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, mgr.LoadProcesses(specs))
	t.Cleanup(func() {
		mgr.StopAll()
		mgr.Close()
	})
	return NewRouter(mgr, base), mgr
}

func doReq(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("unix only")
	}
}

func TestSanitizeBase(t *testing.T) {
	cases := map[string]string{
		"":       "",
		"/":      "",
		"api":    "/api",
		"/api":   "/api",
		"/api/":  "/api",
		" api ":  "/api",
		"/a/b//": "/a/b",
	}
	for in, want := range cases {
		assert.Equal(t, want, sanitizeBase(in), in)
	}
}

func TestHealthAndBasePath(t *testing.T) {
	r, _ := setupRouter(t, "/api/")
	h := r.Handler()
	rec := doReq(t, h, http.MethodGet, "/api/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	assert.Equal(t, http.StatusNotFound, doReq(t, h, http.MethodGet, "/health").Code)
}

func TestListAndStatus(t *testing.T) {
	r, _ := setupRouter(t, "",
		process.Spec{Name: "web", Command: "bun run dev", Port: 4000, Routes: []string{"/"}},
		process.Spec{Name: "api", Command: "cargo run", Port: 4001, Routes: []string{"/api/*"}},
	)
	h := r.Handler()

	sts := decode[[]process.Status](t, doReq(t, h, http.MethodGet, "/processes"))
	require.Len(t, sts, 2)
	assert.Equal(t, "api", sts[0].Name)
	assert.Equal(t, "web", sts[1].Name)
	assert.False(t, sts[1].Running)

	st := decode[process.Status](t, doReq(t, h, http.MethodGet, "/processes/web"))
	assert.Equal(t, uint16(4000), st.Port)
	assert.Equal(t, []string{"/"}, st.Routes)

	assert.Equal(t, http.StatusNotFound, doReq(t, h, http.MethodGet, "/processes/nope").Code)
	assert.Equal(t, http.StatusBadRequest, doReq(t, h, http.MethodGet, "/processes/a..b").Code)
}

func TestActionsMapErrors(t *testing.T) {
	r, _ := setupRouter(t, "",
		process.Spec{Name: "empty", Command: ""},
		process.Spec{Name: "ghost", Command: "definitely-not-a-real-binary-xyz"},
	)
	h := r.Handler()

	assert.Equal(t, http.StatusNotFound, doReq(t, h, http.MethodPost, "/processes/nope/start").Code)
	assert.Equal(t, http.StatusBadRequest, doReq(t, h, http.MethodPost, "/processes/empty/start").Code)
	rec := doReq(t, h, http.MethodPost, "/processes/ghost/start")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decode[errorResp](t, rec).Error, "ghost")

	// stopping a handle-less process succeeds
	assert.Equal(t, http.StatusOK, doReq(t, h, http.MethodPost, "/processes/empty/stop").Code)
}

func TestStartStopRestart(t *testing.T) {
	requireUnix(t)
	r, mgr := setupRouter(t, "/api", process.Spec{Name: "sleeper", Command: "sleep 30"})
	h := r.Handler()

	require.Equal(t, http.StatusOK, doReq(t, h, http.MethodPost, "/api/processes/sleeper/start").Code)
	assert.True(t, mgr.IsRunning("sleeper"))
	first := decode[process.Status](t, doReq(t, h, http.MethodGet, "/api/processes/sleeper"))
	assert.True(t, first.Running)

	require.Equal(t, http.StatusOK, doReq(t, h, http.MethodPost, "/api/processes/sleeper/restart").Code)
	second := decode[process.Status](t, doReq(t, h, http.MethodGet, "/api/processes/sleeper"))
	assert.NotEqual(t, first.PID, second.PID)

	require.Equal(t, http.StatusOK, doReq(t, h, http.MethodPost, "/api/processes/sleeper/stop").Code)
	assert.False(t, mgr.IsRunning("sleeper"))
}

func TestBulkReportsPerItem(t *testing.T) {
	requireUnix(t)
	r, _ := setupRouter(t, "",
		process.Spec{Name: "a", Command: "sleep 30"},
		process.Spec{Name: "b", Command: " "},
	)
	h := r.Handler()

	rec := doReq(t, h, http.MethodPost, "/start-all")
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[[]ResultResp](t, rec)
	require.Len(t, res, 2)
	assert.Equal(t, ResultResp{Name: "a", OK: true}, res[0])
	assert.Equal(t, "b", res[1].Name)
	assert.False(t, res[1].OK)
	assert.Contains(t, res[1].Error, "invalid command")

	res = decode[[]ResultResp](t, doReq(t, h, http.MethodPost, "/stop-all"))
	for _, x := range res {
		assert.True(t, x.OK, x.Name)
	}
}

func TestRoutesInDisplayOrder(t *testing.T) {
	r, _ := setupRouter(t, "",
		process.Spec{Name: "frontend", Command: "x", Port: 4000, Routes: []string{"/", "/assets/*"}},
		process.Spec{Name: "backend", Command: "x", Port: 4001, Routes: []string{"/api/*", "/api/health"}},
	)
	entries := decode[[]route.Entry](t, doReq(t, r.Handler(), http.MethodGet, "/routes"))
	require.Len(t, entries, 4)
	assert.Equal(t, route.Entry{Pattern: "/api/health", Process: "backend", Port: 4001}, entries[0])
	assert.Equal(t, "/", entries[1].Pattern)
	assert.Equal(t, "/assets/*", entries[2].Pattern)
}

func TestHistoryEndpoint(t *testing.T) {
	r, _ := setupRouter(t, "")
	h := r.Handler()
	assert.Equal(t, http.StatusNotImplemented, doReq(t, h, http.MethodGet, "/history").Code)

	sink, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()
	now := time.Now().UTC()
	for i, name := range []string{"web", "api", "web"} {
		require.NoError(t, sink.Send(context.Background(), history.Event{
			Type:       history.EventStart,
			OccurredAt: now.Add(time.Duration(i) * time.Second),
			Record:     history.Record{Name: name, PID: 100 + i},
		}))
	}
	r.SetHistoryReader(sink)
	h = r.Handler()

	events := decode[[]history.Event](t, doReq(t, h, http.MethodGet, "/history?name=web"))
	require.Len(t, events, 2)
	assert.Equal(t, 102, events[0].Record.PID)

	events = decode[[]history.Event](t, doReq(t, h, http.MethodGet, "/history?limit=1"))
	require.Len(t, events, 1)

	events = decode[[]history.Event](t, doReq(t, h, http.MethodGet, "/history?name=none"))
	assert.Empty(t, events)

	assert.Equal(t, http.StatusBadRequest, doReq(t, h, http.MethodGet, "/history?limit=x").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := setupRouter(t, "/api")
	rec := doReq(t, r.Handler(), http.MethodGet, "/api/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "go_goroutines"))
}

func TestMetricsEndpointCustomGatherer(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "host_requests_total", Help: "host counter"})
	reg.MustRegister(c)
	c.Add(3)

	r, _ := setupRouter(t, "/api")
	r.SetGatherer(reg)
	rec := doReq(t, r.Handler(), http.MethodGet, "/api/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "host_requests_total 3")
	assert.NotContains(t, rec.Body.String(), "go_goroutines", "default registry must not leak in")
}

func TestNewServer(t *testing.T) {
	r, _ := setupRouter(t, "/api")
	srv, err := NewServer("127.0.0.1:0", r)
	require.NoError(t, err)
	defer func() { _ = srv.Shutdown(context.Background()) }()

	resp, err := http.Get("http://" + srv.Addr + "/api/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = NewServer(srv.Addr, r)
	assert.Error(t, err, "binding an address in use must fail")
}
