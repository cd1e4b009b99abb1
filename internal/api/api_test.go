package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailspace/mailspace/internal/dispatch"
	"github.com/mailspace/mailspace/internal/domain"
	"github.com/mailspace/mailspace/internal/pkg/secrets"
	"github.com/mailspace/mailspace/internal/store/memory"
	"github.com/mailspace/mailspace/internal/template"
	"github.com/mailspace/mailspace/internal/transport"
)

type fakeMailer struct {
	sent []string
}

func (m *fakeMailer) Send(ctx context.Context, sender *domain.SenderAccount, msg *transport.Message) error {
	m.sent = append(m.sent, msg.To)
	return nil
}

func newTestServer(t *testing.T) (*Server, *memory.Store, *fakeMailer) {
	t.Helper()
	st := memory.New()
	mailer := &fakeMailer{}
	engine := dispatch.NewEngine(st, mailer, template.NewEngine(), dispatch.Options{
		RetryPause:   time.Millisecond,
		MessagePause: time.Millisecond,
	})
	box, err := secrets.New(strings.Repeat("k", 32))
	require.NoError(t, err)
	return NewServer(st, engine, box), st, mailer
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestCreateCampaignConvertsTimezone(t *testing.T) {
	srv, st, _ := newTestServer(t)

	rec := doJSON(t, srv.Router(), http.MethodPost, "/api/campaigns", map[string]any{
		"name":       "winter sale",
		"subject":    "Hi {{firstName}}",
		"body":       "hello",
		"recipients": []string{"A@x.com", "a@x.com", "b@x.com"},
		"senderIds":  []string{"s1"},
		"sendAt":     "2026-01-02T10:00",
		"timezone":   "America/New_York",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created domain.Campaign
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, domain.CampaignScheduled, created.Status)
	// 10:00 Eastern is 15:00 UTC in January.
	assert.Equal(t, "2026-01-02T15:00:00Z", created.SendAt.Format(time.RFC3339))
	assert.Equal(t, []string{"a@x.com", "b@x.com"}, created.Recipients, "duplicates removed at intake")

	stored, err := st.GetCampaign(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.SendAt, stored.SendAt)
}

func TestCreateCampaignValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), http.MethodPost, "/api/campaigns", map[string]any{
		"name": "missing everything",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetCampaignNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), http.MethodGet, "/api/campaigns/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateSenderEncryptsPassword(t *testing.T) {
	srv, st, _ := newTestServer(t)

	rec := doJSON(t, srv.Router(), http.MethodPost, "/api/senders", map[string]any{
		"host":       "smtp.example.com",
		"port":       587,
		"username":   "mailer",
		"password":   "hunter2",
		"fromName":   "Example",
		"fromEmail":  "news@example.com",
		"dailyLimit": 500,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "hunter2", "password must never appear in responses")

	var created domain.SenderAccount
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	stored, err := st.GetSender(context.Background(), created.ID)
	require.NoError(t, err)
	require.NotEqual(t, "hunter2", stored.Password, "password stored encrypted")

	plain, err := srv.box.Decrypt(stored.Password)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plain)
}

func TestUpdateSenderKeepsPasswordWhenOmitted(t *testing.T) {
	srv, st, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/senders", map[string]any{
		"host": "smtp.example.com", "port": 587, "password": "hunter2",
		"fromEmail": "news@example.com", "dailyLimit": 500,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created domain.SenderAccount
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	before, _ := st.GetSender(context.Background(), created.ID)

	rec = doJSON(t, router, http.MethodPut, "/api/senders/"+created.ID, map[string]any{
		"host": "smtp2.example.com", "port": 465,
		"fromEmail": "news@example.com", "dailyLimit": 200,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	after, _ := st.GetSender(context.Background(), created.ID)
	assert.Equal(t, "smtp2.example.com", after.Host)
	assert.Equal(t, before.Password, after.Password)
}

func seedSendable(t *testing.T, st *memory.Store) string {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.CreateSender(ctx, &domain.SenderAccount{
		ID: "s1", Host: "smtp.test", Port: 587, DailyLimit: 100, LastReset: time.Now().UTC(),
	}))
	require.NoError(t, st.UpsertProfile(ctx, &domain.RecipientProfile{Email: "a@x.com", FirstName: "Ann"}))
	c := &domain.Campaign{
		ID: "c1", Name: "launch", Subject: "hi", Body: "hello",
		Recipients: []string{"a@x.com"}, SenderIDs: []string{"s1"},
		Status: domain.CampaignScheduled, SendAt: time.Now().UTC(),
	}
	require.NoError(t, st.CreateCampaign(ctx, c))
	return c.ID
}

func TestSendCampaign(t *testing.T) {
	srv, st, mailer := newTestServer(t)
	router := srv.Router()
	id := seedSendable(t, st)

	rec := doJSON(t, router, http.MethodPost, "/api/campaigns/"+id+"/send", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var report domain.DispatchReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, []string{"a@x.com"}, mailer.sent)

	c, err := st.GetCampaign(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignSent, c.Status)

	// A second send finds the campaign out of scheduled status.
	rec = doJSON(t, router, http.MethodPost, "/api/campaigns/"+id+"/send", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Len(t, mailer.sent, 1, "no re-delivery")
}

func TestUpdateCampaignInProcessingConflicts(t *testing.T) {
	srv, st, _ := newTestServer(t)
	id := seedSendable(t, st)
	ok, err := st.ClaimCampaign(context.Background(), id, domain.CampaignScheduled, domain.CampaignProcessing)
	require.NoError(t, err)
	require.True(t, ok)

	rec := doJSON(t, srv.Router(), http.MethodPut, "/api/campaigns/"+id, map[string]any{
		"name": "edit", "subject": "s", "body": "b",
		"recipients": []string{"a@x.com"}, "senderIds": []string{"s1"},
		"sendAt": "2026-01-02T10:00",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUnsubscribeSuppresses(t *testing.T) {
	srv, st, _ := newTestServer(t)

	rec := doJSON(t, srv.Router(), http.MethodGet, "/unsubscribe?email=Ann%40x.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "unsubscribed")

	suppressed, err := st.IsSuppressed(context.Background(), "ann@x.com")
	require.NoError(t, err)
	assert.True(t, suppressed)
}

func TestSuppressionLifecycle(t *testing.T) {
	srv, st, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/suppressions", map[string]any{
		"email": "Bad@x.com", "reason": "complaint",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	suppressed, err := st.IsSuppressed(context.Background(), "bad@x.com")
	require.NoError(t, err)
	require.True(t, suppressed)

	rec = doJSON(t, router, http.MethodDelete, "/api/suppressions/bad@x.com", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	suppressed, err = st.IsSuppressed(context.Background(), "bad@x.com")
	require.NoError(t, err)
	assert.False(t, suppressed)
}

func TestProfileLifecycle(t *testing.T) {
	srv, _, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/recipients", map[string]any{
		"email": "New@x.com", "firstName": "New", "lastName": "Person",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/recipients/new@x.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"New"`)

	rec = doJSON(t, router, http.MethodDelete, "/api/recipients/new@x.com", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/recipients/new@x.com", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
