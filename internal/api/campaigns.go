package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mailspace/mailspace/internal/domain"
	"github.com/mailspace/mailspace/internal/pkg/httputil"
	"github.com/mailspace/mailspace/internal/pkg/logger"
	"github.com/mailspace/mailspace/internal/store"
)

// campaignRequest is the create/update payload. SendAt is wall-clock
// time in the campaign's timezone unless it carries an explicit offset.
type campaignRequest struct {
	Name       string   `json:"name"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
	Recipients []string `json:"recipients"`
	SenderIDs  []string `json:"senderIds"`
	SendAt     string   `json:"sendAt"`
	Timezone   string   `json:"timezone"`
}

func (req *campaignRequest) validate() string {
	switch {
	case strings.TrimSpace(req.Name) == "":
		return "name is required"
	case strings.TrimSpace(req.Subject) == "":
		return "subject is required"
	case strings.TrimSpace(req.Body) == "":
		return "body is required"
	case len(req.Recipients) == 0:
		return "at least one recipient is required"
	case len(req.SenderIDs) == 0:
		return "at least one sender is required"
	case req.SendAt == "":
		return "sendAt is required"
	}
	return ""
}

// parseSendAt resolves the scheduled time to UTC. Times with an explicit
// offset are taken as-is; bare wall-clock times are interpreted in tz.
func parseSendAt(value, tz string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Time{}, err
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04"} {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.New("unrecognized sendAt format")
}

func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	var (
		campaigns []domain.Campaign
		err       error
	)
	if q := r.URL.Query().Get("q"); q != "" {
		campaigns, err = s.store.SearchCampaigns(r.Context(), q)
	} else {
		campaigns, err = s.store.ListCampaigns(r.Context())
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, campaigns)
}

func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req campaignRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if msg := req.validate(); msg != "" {
		httputil.BadRequest(w, msg)
		return
	}

	sendAt, err := parseSendAt(req.SendAt, req.Timezone)
	if err != nil {
		httputil.BadRequest(w, "invalid sendAt: "+err.Error())
		return
	}

	now := s.now().UTC()
	c := &domain.Campaign{
		ID:         uuid.New().String(),
		Name:       req.Name,
		Subject:    req.Subject,
		Body:       req.Body,
		Recipients: domain.DedupeRecipients(req.Recipients),
		SenderIDs:  req.SenderIDs,
		Status:     domain.CampaignScheduled,
		SendAt:     sendAt,
		Timezone:   req.Timezone,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.store.CreateCampaign(r.Context(), c); err != nil {
		httputil.InternalError(w, err)
		return
	}

	logger.Info("campaign created", "campaign_id", c.ID, "recipients", len(c.Recipients), "send_at", c.SendAt.Format(time.RFC3339))
	httputil.Created(w, c)
}

func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.GetCampaign(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		httputil.NotFound(w, "campaign not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, c)
}

func (s *Server) handleUpdateCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := s.store.GetCampaign(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		httputil.NotFound(w, "campaign not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if c.Status == domain.CampaignProcessing {
		httputil.Conflict(w, "campaign is currently dispatching")
		return
	}

	var req campaignRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if msg := req.validate(); msg != "" {
		httputil.BadRequest(w, msg)
		return
	}
	sendAt, err := parseSendAt(req.SendAt, req.Timezone)
	if err != nil {
		httputil.BadRequest(w, "invalid sendAt: "+err.Error())
		return
	}

	c.Name = req.Name
	c.Subject = req.Subject
	c.Body = req.Body
	c.Recipients = domain.DedupeRecipients(req.Recipients)
	c.SenderIDs = req.SenderIDs
	c.SendAt = sendAt
	c.Timezone = req.Timezone
	c.UpdatedAt = s.now().UTC()

	if err := s.store.UpdateCampaign(r.Context(), c); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, c)
}

func (s *Server) handleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	err := s.store.DeleteCampaign(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		httputil.NotFound(w, "campaign not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.NoContent(w)
}

// handleSendCampaign dispatches a scheduled campaign immediately. The
// conditional claim makes this safe to race with the scheduler: exactly
// one caller wins, the rest get 409.
func (s *Server) handleSendCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	claimed, err := s.store.ClaimCampaign(r.Context(), id, domain.CampaignScheduled, domain.CampaignProcessing)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.NotFound(w, "campaign not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	if !claimed {
		httputil.Conflict(w, "campaign is not in scheduled status")
		return
	}

	report, err := s.engine.Dispatch(r.Context(), id)
	if err != nil {
		// The campaign stays in processing; the scheduler's stale
		// recovery resumes it from the persisted cursor.
		logger.Error("manual dispatch interrupted", "campaign_id", id, "error", err.Error())
		httputil.InternalError(w, err)
		return
	}

	if _, err := s.store.ClaimCampaign(r.Context(), id, domain.CampaignProcessing, domain.CampaignSent); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, report)
}
