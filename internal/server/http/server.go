// Package httpserver exposes the queue protocol over HTTP.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/gergesh/convex-mq/internal/metrics"
	"github.com/gergesh/convex-mq/internal/runtime"
	"github.com/gergesh/convex-mq/pkg/log"
)

// Server wraps an http.Server around the queue API.
type Server struct {
	rt     *runtime.Runtime
	logger log.Logger
	srv    *http.Server
}

// New builds a Server listening on addr.
func New(rt *runtime.Runtime, addr string, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNop()
	}
	s := &Server{rt: rt, logger: logger.With(log.Component("http"))}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the chi routing tree. Exposed for tests.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(metrics.HTTPMiddleware)

	r.Get("/v1/healthz", s.handleHealth)
	r.Get("/v1/queues", s.handleQueues)
	r.Route("/v1/queues/{queue}", func(r chi.Router) {
		r.Post("/publish", s.handlePublish)
		r.Post("/publish-batch", s.handlePublishBatch)
		r.Post("/claim", s.handleClaim)
		r.Post("/claim-ids", s.handleClaimByIDs)
		r.Post("/ack", s.handleAck)
		r.Post("/nack", s.handleNack)
		r.Get("/peek", s.handlePeek)
		r.Get("/pending", s.handleListPending)
		r.Get("/stats", s.handleStats)
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	return r
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", log.Str("addr", s.srv.Addr))
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
