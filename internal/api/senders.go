package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mailspace/mailspace/internal/domain"
	"github.com/mailspace/mailspace/internal/pkg/httputil"
	"github.com/mailspace/mailspace/internal/store"
)

type senderRequest struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	FromName   string `json:"fromName"`
	FromEmail  string `json:"fromEmail"`
	DailyLimit int    `json:"dailyLimit"`
}

func (req *senderRequest) validate() string {
	switch {
	case strings.TrimSpace(req.Host) == "":
		return "host is required"
	case req.Port <= 0 || req.Port > 65535:
		return "port must be between 1 and 65535"
	case strings.TrimSpace(req.FromEmail) == "":
		return "fromEmail is required"
	case req.DailyLimit <= 0:
		return "dailyLimit must be positive"
	}
	return ""
}

// encryptPassword stores SMTP credentials encrypted when a key is
// configured. The password never appears in API responses either way.
func (s *Server) encryptPassword(plain string) (string, error) {
	if s.box == nil || plain == "" {
		return plain, nil
	}
	return s.box.Encrypt(plain)
}

func (s *Server) handleListSenders(w http.ResponseWriter, r *http.Request) {
	senders, err := s.store.ListSenders(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, senders)
}

func (s *Server) handleCreateSender(w http.ResponseWriter, r *http.Request) {
	var req senderRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if msg := req.validate(); msg != "" {
		httputil.BadRequest(w, msg)
		return
	}

	password, err := s.encryptPassword(req.Password)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	now := s.now().UTC()
	sender := &domain.SenderAccount{
		ID:         uuid.New().String(),
		Host:       req.Host,
		Port:       req.Port,
		Username:   req.Username,
		Password:   password,
		FromName:   req.FromName,
		FromEmail:  req.FromEmail,
		DailyLimit: req.DailyLimit,
		SentToday:  0,
		LastReset:  now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.store.CreateSender(r.Context(), sender); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.Created(w, sender)
}

func (s *Server) handleGetSender(w http.ResponseWriter, r *http.Request) {
	sender, err := s.store.GetSender(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		httputil.NotFound(w, "sender not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, sender)
}

func (s *Server) handleUpdateSender(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sender, err := s.store.GetSender(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		httputil.NotFound(w, "sender not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	var req senderRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if msg := req.validate(); msg != "" {
		httputil.BadRequest(w, msg)
		return
	}

	sender.Host = req.Host
	sender.Port = req.Port
	sender.Username = req.Username
	sender.FromName = req.FromName
	sender.FromEmail = req.FromEmail
	sender.DailyLimit = req.DailyLimit
	sender.UpdatedAt = s.now().UTC()

	// An omitted password keeps the stored credentials.
	if req.Password != "" {
		password, err := s.encryptPassword(req.Password)
		if err != nil {
			httputil.InternalError(w, err)
			return
		}
		sender.Password = password
	}

	if err := s.store.UpdateSender(r.Context(), sender); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, sender)
}

func (s *Server) handleDeleteSender(w http.ResponseWriter, r *http.Request) {
	err := s.store.DeleteSender(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		httputil.NotFound(w, "sender not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.NoContent(w)
}
