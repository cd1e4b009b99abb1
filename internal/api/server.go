// Package api exposes the REST surface: campaign CRUD and manual send,
// sender account management, recipient profiles, suppressions and the
// public unsubscribe endpoint.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/mailspace/mailspace/internal/dispatch"
	"github.com/mailspace/mailspace/internal/pkg/httputil"
	"github.com/mailspace/mailspace/internal/pkg/secrets"
	"github.com/mailspace/mailspace/internal/store"
)

// Server holds the handler dependencies.
type Server struct {
	store  store.Store
	engine *dispatch.Engine
	box    *secrets.Box

	now func() time.Time
}

// NewServer creates the API server. box may be nil when SMTP passwords
// are stored in the clear.
func NewServer(st store.Store, engine *dispatch.Engine, box *secrets.Box) *Server {
	return &Server{
		store:  st,
		engine: engine,
		box:    box,
		now:    time.Now,
	}
}

// Router builds the chi mux with all routes mounted.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/unsubscribe", s.handleUnsubscribe)

	r.Route("/api", func(r chi.Router) {
		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", s.handleListCampaigns)
			r.Post("/", s.handleCreateCampaign)
			r.Get("/{id}", s.handleGetCampaign)
			r.Put("/{id}", s.handleUpdateCampaign)
			r.Delete("/{id}", s.handleDeleteCampaign)
			r.Post("/{id}/send", s.handleSendCampaign)
		})

		r.Route("/senders", func(r chi.Router) {
			r.Get("/", s.handleListSenders)
			r.Post("/", s.handleCreateSender)
			r.Get("/{id}", s.handleGetSender)
			r.Put("/{id}", s.handleUpdateSender)
			r.Delete("/{id}", s.handleDeleteSender)
		})

		r.Route("/recipients", func(r chi.Router) {
			r.Get("/", s.handleListProfiles)
			r.Post("/", s.handleUpsertProfile)
			r.Get("/{email}", s.handleGetProfile)
			r.Delete("/{email}", s.handleDeleteProfile)
		})

		r.Route("/suppressions", func(r chi.Router) {
			r.Get("/", s.handleListSuppressions)
			r.Post("/", s.handleSuppress)
			r.Delete("/{email}", s.handleUnsuppress)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		httputil.JSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}
	httputil.OK(w, map[string]string{
		"status": "ok",
		"time":   s.now().UTC().Format(time.RFC3339),
	})
}
