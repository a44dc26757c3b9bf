package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AdminServer serves operational endpoints on a port of their own: /metrics
// always, plus whatever a binary mounts with Handle (health checks, mostly).
// The indexer has no API port, so this is where its probes live.
type AdminServer struct {
	mux    *http.ServeMux
	server *http.Server
	logger *slog.Logger
}

// NewAdminServer exposes gatherer on /metrics. A nil gatherer means the
// default registry, which is where New registers.
func NewAdminServer(port int, gatherer prometheus.Gatherer) *AdminServer {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return &AdminServer{
		mux: mux,
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		logger: slog.Default().With("component", "admin-server"),
	}
}

func (s *AdminServer) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Handler is the routing table, for tests and for embedding.
func (s *AdminServer) Handler() http.Handler {
	return s.mux
}

// Start listens in the background.
func (s *AdminServer) Start() {
	go func() {
		s.logger.Info("admin server listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("admin server error", "error", err)
		}
	}()
}

func (s *AdminServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
