package server

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/realm/internal/history"
	mng "github.com/loykin/realm/internal/manager"
	"github.com/loykin/realm/internal/metrics"
	"github.com/loykin/realm/internal/process"
)

// Router provides embeddable HTTP handlers for controlling the supervisor.
// Endpoints, relative to basePath:
//
//	GET  /health
//	GET  /processes
//	GET  /processes/:name
//	POST /processes/:name/start|stop|restart
//	POST /start-all
//	POST /stop-all
//	GET  /routes
//	GET  /history?name=...&limit=...
//	GET  /metrics
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	mgr      *mng.Manager
	basePath string
	hist     history.Reader
	gatherer prometheus.Gatherer
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(mgr *mng.Manager, basePath string) *Router {
	return &Router{mgr: mgr, basePath: sanitizeBase(basePath)}
}

// SetHistoryReader enables the /history endpoint.
func (r *Router) SetHistoryReader(h history.Reader) { r.hist = h }

// SetGatherer makes /metrics serve g instead of the default registry.
func (r *Router) SetGatherer(g prometheus.Gatherer) { r.gatherer = g }

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/health", r.handleHealth)
	group.GET("/processes", r.handleList)
	group.GET("/processes/:name", r.handleStatus)
	group.POST("/processes/:name/start", r.handleAction(r.mgr.StartProcess))
	group.POST("/processes/:name/stop", r.handleAction(r.mgr.StopProcess))
	group.POST("/processes/:name/restart", r.handleAction(r.mgr.RestartProcess))
	group.POST("/start-all", r.handleBulk(r.mgr.StartAll))
	group.POST("/stop-all", r.handleBulk(r.mgr.StopAll))
	group.GET("/routes", r.handleRoutes)
	group.GET("/history", r.handleHistory)
	group.GET("/metrics", gin.WrapH(r.metricsHandler()))
	return g
}

func (r *Router) metricsHandler() http.Handler {
	if r.gatherer != nil {
		return metrics.HandlerFor(r.gatherer)
	}
	return metrics.Handler()
}

// NewServer binds addr and serves the router in the background. Bind errors
// are returned synchronously; stop the server with Shutdown.
func NewServer(addr string, r *Router) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	server := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.Serve(ln) }()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// ResultResp is the wire form of one bulk operation result.
type ResultResp struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func (r *Router) handleHealth(c *gin.Context) {
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleList(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.mgr.StatusAll())
}

func (r *Router) handleStatus(c *gin.Context) {
	name, ok := nameParam(c)
	if !ok {
		return
	}
	st, err := r.mgr.Status(name)
	if err != nil {
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleAction(fn func(string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		name, ok := nameParam(c)
		if !ok {
			return
		}
		if err := fn(name); err != nil {
			writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
			return
		}
		writeJSON(c, http.StatusOK, okResp{OK: true})
	}
}

func (r *Router) handleBulk(fn func() []mng.Result) gin.HandlerFunc {
	return func(c *gin.Context) {
		results := fn()
		out := make([]ResultResp, 0, len(results))
		for _, res := range results {
			rr := ResultResp{Name: res.Name, OK: res.Err == nil}
			if res.Err != nil {
				rr.Error = res.Err.Error()
			}
			out = append(out, rr)
		}
		writeJSON(c, http.StatusOK, out)
	}
}

func (r *Router) handleRoutes(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.mgr.RouteTable().Sorted())
}

func (r *Router) handleHistory(c *gin.Context) {
	if r.hist == nil {
		writeJSON(c, http.StatusNotImplemented, errorResp{Error: "history is not configured"})
		return
	}
	limit := 100
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	events, err := r.hist.Recent(c.Request.Context(), c.Query("name"), limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if events == nil {
		events = []history.Event{}
	}
	writeJSON(c, http.StatusOK, events)
}

func nameParam(c *gin.Context) (string, bool) {
	name := c.Param("name")
	if !process.ValidName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid process name: allowed [A-Za-z0-9._-] and no '..'"})
		return "", false
	}
	return name, true
}
