package prometheus

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/fluxorio/nodelet/pkg/core"
)

// Handler returns a standard HTTP handler serving the registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// FastHTTPHandler adapts Handler to fasthttp
func (m *Metrics) FastHTTPHandler() fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(m.Handler())
}

// Server serves the metrics endpoint over fasthttp. /healthz answers "ok"
// unless another handler is registered for it with Handle.
type Server struct {
	addr   string
	server *fasthttp.Server
	ln     net.Listener
	logger core.Logger
	routes map[string]fasthttp.RequestHandler
}

// NewServer creates a server for m on addr. Metrics are served at path.
func (m *Metrics) NewServer(addr, path string, logger core.Logger) *Server {
	if logger == nil {
		logger = core.DefaultLogger()
	}

	s := &Server{
		addr:   addr,
		logger: logger,
		routes: map[string]fasthttp.RequestHandler{
			path: m.FastHTTPHandler(),
			"/healthz": func(ctx *fasthttp.RequestCtx) {
				ctx.SetContentType("text/plain; charset=utf-8")
				ctx.SetBodyString("ok")
			},
		},
		server: &fasthttp.Server{
			ReadTimeout:           5 * time.Second,
			WriteTimeout:          10 * time.Second,
			NoDefaultServerHeader: true,
			ReduceMemoryUsage:     true,
		},
	}
	s.server.Handler = func(ctx *fasthttp.RequestCtx) {
		if h, ok := s.routes[string(ctx.Path())]; ok {
			h(ctx)
			return
		}
		ctx.Error("Not Found", fasthttp.StatusNotFound)
	}
	return s
}

// Handle serves h at path. Must be called before Start.
func (s *Server) Handle(path string, h fasthttp.RequestHandler) {
	s.routes[path] = h
}

// Start binds the listener and serves in the background. Bind errors are
// returned; serve errors after that are logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("metrics listen on %s: %w", s.addr, err)
	}
	s.ln = ln
	go func() {
		if err := s.server.Serve(ln); err != nil {
			s.logger.Error("metrics server stopped", "error", err)
		}
	}()
	s.logger.Info("metrics server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or the configured one before Start
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	if s.ln == nil {
		return nil
	}
	return s.server.ShutdownWithContext(ctx)
}
