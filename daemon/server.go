// Package daemon is a thin chi-router HTTP surface over a node's
// RuntimeContext, giving operators and other nodes an out-of-process
// way to drive the same host ABI the CLI exposes in-process.
package daemon

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"icn-node/core"
)

// Server wraps a RuntimeContext with a chi router and an
// *http.Server, so the node binary can expose it alongside the mesh
// listener without either owning the other's lifetime.
type Server struct {
	rc     *core.RuntimeContext
	router chi.Router
	http   *http.Server
}

// NewServer builds the router; call ListenAndServe to bind addr.
func NewServer(rc *core.RuntimeContext, addr string) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	h := &handlers{rc: rc}
	r.Get("/healthz", h.health)
	r.Get("/readyz", h.ready)

	r.Route("/v1/jobs", func(r chi.Router) {
		r.Post("/", h.submitJob)
		r.Get("/{jobID}", h.jobStatus)
		r.Delete("/{jobID}", h.cancelJob)
		r.Post("/{jobID}/receipt", h.anchorReceipt)
	})
	r.Route("/v1/mana", func(r chi.Router) {
		r.Get("/{did}", h.manaBalance)
		r.Post("/{did}/credit", h.creditMana)
		r.Post("/{did}/spend", h.spendMana)
	})
	r.Route("/v1/governance", func(r chi.Router) {
		r.Post("/proposals", h.createProposal)
		r.Post("/proposals/{id}/votes", h.castVote)
		r.Get("/proposals/{id}/tally", h.tally)
		r.Post("/proposals/{id}/apply", h.applyProposal)
	})

	return &Server{
		rc:     rc,
		router: r,
		http:   &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second},
	}
}

// ListenAndServe blocks serving HTTP until the server is shut down or
// an unrecoverable listener error occurs.
func (s *Server) ListenAndServe() error {
	logrus.WithField("addr", s.http.Addr).Info("daemon: http surface listening")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
