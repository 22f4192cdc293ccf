package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/eargollo/keeper/internal/api/handlers"
	"github.com/eargollo/keeper/internal/archive"
	"github.com/eargollo/keeper/internal/cleaner"
	"github.com/eargollo/keeper/internal/config"
	"github.com/eargollo/keeper/internal/review"
	"github.com/eargollo/keeper/internal/scheduler"
	"github.com/eargollo/keeper/internal/selection"
	"github.com/eargollo/keeper/internal/store"
	"github.com/eargollo/keeper/internal/transport"
)

// Server holds the HTTP server and all handler dependencies.
type Server struct {
	addr string
	srv  *http.Server
}

// New wires all routes and returns a Server ready to Run.
func New(
	addr string,
	st *store.Store,
	engine *selection.Engine,
	reviewer *review.Controller,
	orch *cleaner.Orchestrator,
	hub *transport.Hub,
	arch archive.Store,
	sched *scheduler.Scheduler,
	cfg *config.Config,
	version string,
) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	statusH := &handlers.StatusHandler{Store: st, Hub: hub, Sched: sched, Version: version}
	groupsH := &handlers.GroupsHandler{Store: st, Engine: engine, Cleaner: orch, Weights: cfg.Selection}
	sessionsH := &handlers.SessionsHandler{Store: st, Review: reviewer}
	jobsH := &handlers.JobsHandler{Store: st, Cleaner: orch}
	filesH := &handlers.FilesHandler{Store: st, Archive: arch}
	importH := &handlers.ImportHandler{Store: st}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", statusH.ServeHTTP)

		r.Get("/groups", groupsH.List)
		r.Post("/groups/autoselect", groupsH.AutoSelectAll)
		r.Post("/groups/pattern/apply", groupsH.ApplyPattern)
		r.Get("/groups/{id}", groupsH.Get)
		r.Get("/groups/{id}/navigation", groupsH.Navigation)
		r.Get("/groups/{id}/pattern", groupsH.Pattern)
		r.Post("/groups/{id}/autoselect", groupsH.AutoSelect)
		r.Post("/groups/{id}/retry", groupsH.Retry)
		r.Post("/groups/{id}/reset", groupsH.Reset)
		r.Get("/groups/{id}/thumbnail", filesH.GroupThumbnail)

		r.Post("/sessions", sessionsH.Start)
		r.Get("/sessions/current", sessionsH.Current)
		r.Post("/sessions/{id}/pause", sessionsH.Pause)
		r.Get("/sessions/{id}/progress", sessionsH.Progress)
		r.Post("/sessions/{id}/groups/{groupID}/propose", sessionsH.Propose)
		r.Post("/sessions/{id}/groups/{groupID}/validate", sessionsH.Validate)
		r.Post("/sessions/{id}/groups/{groupID}/skip", sessionsH.Skip)
		r.Post("/sessions/{id}/groups/{groupID}/undo", sessionsH.Undo)

		r.Post("/jobs", jobsH.Create)
		r.Get("/jobs", jobsH.List)
		r.Get("/jobs/{id}", jobsH.Get)
		r.Get("/jobs/{id}/files", jobsH.Files)
		r.Post("/jobs/{id}/cancel", jobsH.Cancel)

		r.Post("/files/import", importH.Import)
		r.Get("/files/{id}/info", filesH.Info)
		r.Get("/files/{id}/thumbnail", filesH.Thumbnail)
		r.Get("/files/{id}/preview", filesH.Preview)
	})

	return &Server{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: r},
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down HTTP server")
		return s.srv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}
