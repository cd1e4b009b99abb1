package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mailspace/mailspace/internal/domain"
	"github.com/mailspace/mailspace/internal/pkg/httputil"
	"github.com/mailspace/mailspace/internal/pkg/logger"
	"github.com/mailspace/mailspace/internal/store"
)

type profileRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.store.ListProfiles(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, profiles)
}

func (s *Server) handleUpsertProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	email := domain.NormalizeEmail(req.Email)
	if email == "" {
		httputil.BadRequest(w, "email is required")
		return
	}
	if strings.TrimSpace(req.FirstName) == "" {
		httputil.BadRequest(w, "firstName is required")
		return
	}

	now := s.now().UTC()
	p := &domain.RecipientProfile{
		Email:     email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.UpsertProfile(r.Context(), p); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, p)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	email := domain.NormalizeEmail(chi.URLParam(r, "email"))
	p, err := s.store.GetProfile(r.Context(), email)
	if errors.Is(err, store.ErrNotFound) {
		httputil.NotFound(w, "profile not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, p)
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	email := domain.NormalizeEmail(chi.URLParam(r, "email"))
	err := s.store.DeleteProfile(r.Context(), email)
	if errors.Is(err, store.ErrNotFound) {
		httputil.NotFound(w, "profile not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.NoContent(w)
}

type suppressionRequest struct {
	Email  string `json:"email"`
	Reason string `json:"reason"`
}

func (s *Server) handleListSuppressions(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListSuppressions(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, entries)
}

func (s *Server) handleSuppress(w http.ResponseWriter, r *http.Request) {
	var req suppressionRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	email := domain.NormalizeEmail(req.Email)
	if email == "" {
		httputil.BadRequest(w, "email is required")
		return
	}
	reason := domain.SuppressionReason(req.Reason)
	if reason == "" {
		reason = domain.ReasonManual
	}

	entry := &domain.SuppressionEntry{
		Email:     email,
		Reason:    reason,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.Suppress(r.Context(), entry); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.Created(w, entry)
}

func (s *Server) handleUnsuppress(w http.ResponseWriter, r *http.Request) {
	email := domain.NormalizeEmail(chi.URLParam(r, "email"))
	err := s.store.Unsuppress(r.Context(), email)
	if errors.Is(err, store.ErrNotFound) {
		httputil.NotFound(w, "suppression not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.NoContent(w)
}

// handleUnsubscribe is the public endpoint behind the unsubscribe link
// rendered into every message. It answers with a minimal HTML page.
func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	email := domain.NormalizeEmail(r.URL.Query().Get("email"))
	if email == "" {
		httputil.BadRequest(w, "email parameter is required")
		return
	}

	entry := &domain.SuppressionEntry{
		Email:     email,
		Reason:    domain.ReasonUnsubscribe,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.Suppress(r.Context(), entry); err != nil {
		httputil.InternalError(w, err)
		return
	}

	logger.Info("unsubscribed", "email", email)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, `<!DOCTYPE html><html><body><h1>You have been unsubscribed.</h1><p>You will not receive further emails from us.</p></body></html>`)
}
