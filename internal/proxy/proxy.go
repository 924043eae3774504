// Package proxy serves the single public port and forwards each request to
// the process that owns its path.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/loykin/realm/internal/metrics"
	"github.com/loykin/realm/internal/route"
)

const (
	// UpstreamHost is where every supervised process is expected to listen.
	UpstreamHost = "127.0.0.1"

	// statusClientClosed marks requests abandoned by the client.
	statusClientClosed = 499

	shutdownTimeout = 5 * time.Second
)

var corsHeaders = [][2]string{
	{"Access-Control-Allow-Origin", "*"},
	{"Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS"},
	{"Access-Control-Allow-Headers", "Content-Type, Authorization"},
}

// Options configures a proxy Server.
type Options struct {
	Host    string        // listen host; empty means 127.0.0.1
	Port    int           // listen port
	Timeout time.Duration // per-request upstream timeout; 0 disables it
	Logger  *slog.Logger
}

// Server is the path-routing reverse proxy.
type Server struct {
	opts   Options
	log    *slog.Logger
	routes atomic.Pointer[route.Table]
	client *http.Client
	engine *gin.Engine
}

// New builds a proxy serving routes. The table can be swapped later with
// SetRoutes.
func New(opts Options, routes *route.Table) *Server {
	if opts.Host == "" {
		opts.Host = UpstreamHost
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Server{opts: opts, log: log.With("component", "proxy")}
	s.routes.Store(routes)

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DisableCompression = true
	s.client = &http.Client{
		Transport: transport,
		Timeout:   opts.Timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	g := gin.New()
	g.RedirectTrailingSlash = false
	g.RedirectFixedPath = false
	g.HandleMethodNotAllowed = false
	g.Use(gin.Recovery())
	g.Any("/health", handleHealth)
	g.NoRoute(s.forward)
	s.engine = g
	return s
}

// SetRoutes atomically replaces the route table used for new requests.
func (s *Server) SetRoutes(t *route.Table) {
	s.routes.Store(t)
	s.log.Info("route table updated", "routes", t.Len())
}

// Routes returns the route table currently in use.
func (s *Server) Routes() *route.Table { return s.routes.Load() }

// Handler returns the proxy as an http.Handler.
func (s *Server) Handler() http.Handler { return s.engine }

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
}

// Serve binds the listen address and serves until ctx is done. A bind
// failure is returned as *BindError.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

// Listen binds the configured address without serving, so callers can fail
// fast before starting anything else.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return nil, &BindError{Addr: s.Addr(), Err: err}
	}
	return ln, nil
}

// ServeListener serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	s.logRoutes(ln.Addr().String())
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			_ = srv.Close()
			return err
		}
		s.log.Info("proxy stopped")
		return nil
	}
}

func (s *Server) logRoutes(addr string) {
	t := s.routes.Load()
	s.log.Info("proxy listening", "addr", addr, "routes", t.Len())
	for _, e := range t.Sorted() {
		s.log.Info("route", "pattern", e.Pattern, "process", e.Process, "upstream", upstreamAddr(e.Port))
	}
}

func handleHealth(c *gin.Context) {
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte("healthy"))
}

func (s *Server) forward(c *gin.Context) {
	start := time.Now()
	r := c.Request
	log := s.log.With("request_id", uuid.NewString(), "method", r.Method, "path", r.URL.Path)

	e, ok := s.routes.Load().Match(r.URL.Path)
	if !ok {
		c.Data(http.StatusNotFound, "text/html; charset=utf-8", []byte(notFoundPage(r.URL.Path)))
		s.done(log, "", http.StatusNotFound, start)
		return
	}
	log = log.With("process", e.Process, "port", e.Port)

	target, err := url.Parse("http://" + upstreamAddr(e.Port) + requestURI(r.URL))
	if err != nil {
		log.Warn("invalid upstream uri", "error", err)
		c.Data(http.StatusBadGateway, "text/plain; charset=utf-8", []byte("Invalid upstream URI"))
		s.done(log, e.Process, http.StatusBadGateway, start)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		if s.abandoned(c, log, e.Process, start) {
			return
		}
		log.Warn("failed to read request body", "error", err)
		c.Data(http.StatusBadRequest, "text/plain; charset=utf-8", []byte("Failed to read request body"))
		s.done(log, e.Process, http.StatusBadRequest, start)
		return
	}

	out, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), bytes.NewReader(body))
	if err != nil {
		log.Warn("failed to build upstream request", "error", err)
		c.Data(http.StatusInternalServerError, "text/plain; charset=utf-8", []byte("Failed to build upstream request"))
		s.done(log, e.Process, http.StatusInternalServerError, start)
		return
	}
	for k, vs := range r.Header {
		out.Header[k] = append([]string(nil), vs...)
	}
	out.Host = upstreamAddr(e.Port)

	resp, err := s.client.Do(out)
	if err != nil {
		if s.abandoned(c, log, e.Process, start) {
			return
		}
		metrics.IncUpstreamError(e.Process, "connect")
		log.Warn("upstream unreachable", "error", err)
		c.Data(http.StatusBadGateway, "text/html; charset=utf-8", []byte(unreachablePage(e.Process, e.Port)))
		s.done(log, e.Process, http.StatusBadGateway, start)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		if s.abandoned(c, log, e.Process, start) {
			return
		}
		metrics.IncUpstreamError(e.Process, "read")
		log.Warn("failed to read upstream response", "error", err)
		c.Data(http.StatusBadGateway, "text/plain; charset=utf-8", []byte("Failed to read upstream response"))
		s.done(log, e.Process, http.StatusBadGateway, start)
		return
	}

	h := c.Writer.Header()
	for k, vs := range resp.Header {
		h[k] = append([]string(nil), vs...)
	}
	for _, kv := range corsHeaders {
		h.Set(kv[0], kv[1])
	}
	c.Writer.WriteHeader(resp.StatusCode)
	if _, err := c.Writer.Write(payload); err != nil {
		log.Debug("failed to write response", "error", err)
	}
	s.done(log, e.Process, resp.StatusCode, start)
}

// abandoned reports whether the client went away, in which case the request
// is dropped without a response.
func (s *Server) abandoned(c *gin.Context, log *slog.Logger, process string, start time.Time) bool {
	if c.Request.Context().Err() == nil {
		return false
	}
	c.Status(statusClientClosed)
	c.Abort()
	log.Debug("client disconnected", "duration", time.Since(start))
	metrics.IncProxyRequest(process, strconv.Itoa(statusClientClosed))
	return true
}

func (s *Server) done(log *slog.Logger, process string, status int, start time.Time) {
	d := time.Since(start)
	metrics.IncProxyRequest(process, strconv.Itoa(status))
	if process != "" {
		metrics.ObserveProxyDuration(process, d.Seconds())
	}
	log.Info("request", "status", status, "duration", d)
}

func upstreamAddr(port uint16) string {
	return net.JoinHostPort(UpstreamHost, strconv.Itoa(int(port)))
}

func requestURI(u *url.URL) string {
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return p
}

func notFoundPage(path string) string {
	return fmt.Sprintf("<html><body><h1>404 Not Found</h1><p>No route configured for path: %s</p></body></html>",
		html.EscapeString(path))
}

func unreachablePage(process string, port uint16) string {
	return fmt.Sprintf("<html><body><h1>502 Bad Gateway</h1><p>Failed to connect to process '%s' on port %d.</p>"+
		"<p>The process may not be running.</p></body></html>", html.EscapeString(process), port)
}
