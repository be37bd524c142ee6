package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/revivr/internal/metrics"
	"github.com/loykin/revivr/internal/supervisor"
)

// Source is the running session the router reports on.
type Source interface {
	Snapshot() supervisor.Snapshot
	RequestRestart()
}

// Router provides embeddable HTTP handlers for one supervised session.
// Endpoints:
//
//	GET  {basePath}/status   session snapshot as JSON
//	POST {basePath}/restart  schedule a restart (debounced like any other)
//	GET  {basePath}/healthz  200 while the session runs, 503 after it ended
//	GET  /metrics            Prometheus metrics
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	src      Source
	basePath string
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(src Source, basePath string) *Router {
	return &Router{src: src, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	g.GET("/metrics", gin.WrapH(metrics.Handler()))
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.POST("/restart", r.handleRestart)
	group.GET("/healthz", r.handleHealth)
	return g
}

// Start listens on addr and serves the router in the background. Binding
// errors are returned synchronously; Close the returned server to stop it.
func Start(addr, basePath string, src Source) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           NewRouter(src, basePath).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = srv.Serve(ln) }()
	return srv, nil
}

// Shutdown stops srv, waiting at most d for in-flight requests.
func Shutdown(srv *http.Server, d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.src.Snapshot())
}

func (r *Router) handleRestart(c *gin.Context) {
	snap := r.src.Snapshot()
	if snap.ExitCode != nil {
		c.JSON(http.StatusConflict, errorResp{Error: "session ended: " + snap.EndReason})
		return
	}
	r.src.RequestRestart()
	c.JSON(http.StatusAccepted, okResp{OK: true})
}

func (r *Router) handleHealth(c *gin.Context) {
	snap := r.src.Snapshot()
	if snap.ExitCode != nil {
		c.JSON(http.StatusServiceUnavailable, errorResp{Error: snap.EndReason})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}
