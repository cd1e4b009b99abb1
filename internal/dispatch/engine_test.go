package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mailspace/mailspace/internal/domain"
	"github.com/mailspace/mailspace/internal/store/memory"
	"github.com/mailspace/mailspace/internal/template"
	"github.com/mailspace/mailspace/internal/transport"
)

type sendCall struct {
	senderID  string
	recipient string
	subject   string
	body      string
}

// scriptedMailer records every call and fails a configurable number of
// times per recipient before succeeding.
type scriptedMailer struct {
	calls     []sendCall
	failures  map[string]int
	alwaysErr error
}

func (m *scriptedMailer) Send(ctx context.Context, sender *domain.SenderAccount, msg *transport.Message) error {
	m.calls = append(m.calls, sendCall{
		senderID:  sender.ID,
		recipient: msg.To,
		subject:   msg.Subject,
		body:      msg.HTMLBody,
	})
	if m.alwaysErr != nil {
		return m.alwaysErr
	}
	if m.failures[msg.To] > 0 {
		m.failures[msg.To]--
		return errors.New("connection refused")
	}
	return nil
}

func (m *scriptedMailer) callsFor(recipient string) int {
	n := 0
	for _, c := range m.calls {
		if c.recipient == recipient {
			n++
		}
	}
	return n
}

type testRig struct {
	store  *memory.Store
	mailer *scriptedMailer
	engine *Engine
	sleeps []time.Duration
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	rig := &testRig{
		store:  memory.New(),
		mailer: &scriptedMailer{failures: map[string]int{}},
	}
	rig.engine = NewEngine(rig.store, rig.mailer, template.NewEngineWithSeed(42), Options{
		RetryAttempts: 3,
		RetryPause:    2 * time.Second,
		MessagePause:  5 * time.Minute,
		BaseURL:       "http://mail.test",
	})
	// Capture pauses instead of sleeping.
	rig.engine.sleep = func(ctx context.Context, d time.Duration) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		rig.sleeps = append(rig.sleeps, d)
		return nil
	}
	return rig
}

func (r *testRig) seedProfile(t *testing.T, email, firstName string) {
	t.Helper()
	if err := r.store.UpsertProfile(context.Background(), &domain.RecipientProfile{
		Email: email, FirstName: firstName,
	}); err != nil {
		t.Fatalf("seed profile %s: %v", email, err)
	}
}

func (r *testRig) seedSender(t *testing.T, id string, dailyLimit, sentToday int) {
	t.Helper()
	if err := r.store.CreateSender(context.Background(), &domain.SenderAccount{
		ID: id, Host: "smtp.test", Port: 587, FromName: "Test", FromEmail: "test@test",
		DailyLimit: dailyLimit, SentToday: sentToday, LastReset: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed sender %s: %v", id, err)
	}
}

func (r *testRig) seedCampaign(t *testing.T, c *domain.Campaign) {
	t.Helper()
	if c.Status == "" {
		c.Status = domain.CampaignProcessing
	}
	if c.SendAt.IsZero() {
		c.SendAt = time.Now().UTC()
	}
	if err := r.store.CreateCampaign(context.Background(), c); err != nil {
		t.Fatalf("seed campaign: %v", err)
	}
}

func TestDispatchDeduplicatesRecipients(t *testing.T) {
	rig := newTestRig(t)
	rig.seedSender(t, "s1", 100, 0)
	rig.seedProfile(t, "a@x.com", "Ann")
	rig.seedProfile(t, "b@x.com", "Bob")
	rig.seedCampaign(t, &domain.Campaign{
		ID: "c1", Subject: "hi", Body: "hello",
		Recipients: []string{"a@x.com", "a@x.com", "b@x.com"},
		SenderIDs:  []string{"s1"},
	})

	report, err := rig.engine.Dispatch(context.Background(), "c1")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if report.Sent != 2 {
		t.Errorf("Sent = %d, want 2", report.Sent)
	}
	if len(rig.mailer.calls) != 2 {
		t.Errorf("mailer calls = %d, want 2", len(rig.mailer.calls))
	}
	if rig.mailer.callsFor("a@x.com") != 1 {
		t.Errorf("a@x.com received %d sends, want 1", rig.mailer.callsFor("a@x.com"))
	}
}

func TestDispatchSenderRotationAndQuota(t *testing.T) {
	// Two senders: s1 allows one more send today, s2 allows two. Three
	// recipients rotate s1, s2, s1; the third maps back to s1, which is
	// now exhausted, and is skipped without touching s2's spare quota.
	rig := newTestRig(t)
	rig.seedSender(t, "s1", 1, 0)
	rig.seedSender(t, "s2", 2, 0)
	for _, p := range []string{"r1@x.com", "r2@x.com", "r3@x.com"} {
		rig.seedProfile(t, p, "R")
	}
	rig.seedCampaign(t, &domain.Campaign{
		ID: "c1", Subject: "s", Body: "b",
		Recipients: []string{"r1@x.com", "r2@x.com", "r3@x.com"},
		SenderIDs:  []string{"s1", "s2"},
	})

	report, err := rig.engine.Dispatch(context.Background(), "c1")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	wantReasons := []domain.OutcomeReason{
		domain.OutcomeDelivered,
		domain.OutcomeDelivered,
		domain.OutcomeQuotaExceeded,
	}
	for i, want := range wantReasons {
		if report.Outcomes[i].Reason != want {
			t.Errorf("outcome[%d] = %s, want %s", i, report.Outcomes[i].Reason, want)
		}
	}

	if rig.mailer.calls[0].senderID != "s1" || rig.mailer.calls[1].senderID != "s2" {
		t.Errorf("sender rotation = %s, %s; want s1, s2",
			rig.mailer.calls[0].senderID, rig.mailer.calls[1].senderID)
	}

	s1, _ := rig.store.GetSender(context.Background(), "s1")
	s2, _ := rig.store.GetSender(context.Background(), "s2")
	if s1.SentToday != 1 {
		t.Errorf("s1.SentToday = %d, want 1", s1.SentToday)
	}
	if s2.SentToday != 1 {
		t.Errorf("s2.SentToday = %d, want 1", s2.SentToday)
	}
}

func TestDispatchRetryBudgetExhausted(t *testing.T) {
	rig := newTestRig(t)
	rig.seedSender(t, "s1", 100, 0)
	rig.seedProfile(t, "a@x.com", "Ann")
	rig.seedCampaign(t, &domain.Campaign{
		ID: "c1", Subject: "s", Body: "b",
		Recipients: []string{"a@x.com"},
		SenderIDs:  []string{"s1"},
	})
	rig.mailer.alwaysErr = errors.New("550 rejected")

	report, err := rig.engine.Dispatch(context.Background(), "c1")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if got := rig.mailer.callsFor("a@x.com"); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
	o := report.Outcomes[0]
	if o.Reason != domain.OutcomeDeliveryFailed {
		t.Errorf("reason = %s, want delivery_failed", o.Reason)
	}
	if o.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", o.Attempts)
	}

	// Two retry pauses, no message pause after a failure.
	if len(rig.sleeps) != 2 {
		t.Fatalf("sleeps = %v, want two retry pauses", rig.sleeps)
	}
	for _, d := range rig.sleeps {
		if d != 2*time.Second {
			t.Errorf("retry pause = %v, want 2s", d)
		}
	}

	// A failed delivery must not consume quota.
	s1, _ := rig.store.GetSender(context.Background(), "s1")
	if s1.SentToday != 0 {
		t.Errorf("s1.SentToday = %d, want 0", s1.SentToday)
	}
}

func TestDispatchRetryThenSuccess(t *testing.T) {
	rig := newTestRig(t)
	rig.seedSender(t, "s1", 100, 0)
	rig.seedProfile(t, "a@x.com", "Ann")
	rig.seedCampaign(t, &domain.Campaign{
		ID: "c1", Subject: "s", Body: "b",
		Recipients: []string{"a@x.com"},
		SenderIDs:  []string{"s1"},
	})
	rig.mailer.failures["a@x.com"] = 2

	report, err := rig.engine.Dispatch(context.Background(), "c1")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	o := report.Outcomes[0]
	if o.Reason != domain.OutcomeDelivered {
		t.Errorf("reason = %s, want delivered", o.Reason)
	}
	if o.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", o.Attempts)
	}
	s1, _ := rig.store.GetSender(context.Background(), "s1")
	if s1.SentToday != 1 {
		t.Errorf("s1.SentToday = %d, want 1", s1.SentToday)
	}
}

func TestDispatchProfileNotFound(t *testing.T) {
	rig := newTestRig(t)
	rig.seedSender(t, "s1", 100, 0)
	rig.seedCampaign(t, &domain.Campaign{
		ID: "c1", Subject: "s", Body: "b",
		Recipients: []string{"ghost@x.com"},
		SenderIDs:  []string{"s1"},
	})

	report, err := rig.engine.Dispatch(context.Background(), "c1")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if report.Outcomes[0].Reason != domain.OutcomeProfileNotFound {
		t.Errorf("reason = %s, want profile_not_found", report.Outcomes[0].Reason)
	}
	if len(rig.mailer.calls) != 0 {
		t.Errorf("mailer called %d times for a profileless recipient", len(rig.mailer.calls))
	}
	if len(rig.sleeps) != 0 {
		t.Errorf("sleeps = %v, want none", rig.sleeps)
	}
}

func TestDispatchUnresolvedPlaceholderBlocksDelivery(t *testing.T) {
	rig := newTestRig(t)
	rig.seedSender(t, "s1", 100, 0)
	rig.seedProfile(t, "a@x.com", "Ann")
	rig.seedCampaign(t, &domain.Campaign{
		ID: "c1", Subject: "Hi {{firstName}}", Body: "Your code: {{discountCode}}",
		Recipients: []string{"a@x.com"},
		SenderIDs:  []string{"s1"},
	})

	report, err := rig.engine.Dispatch(context.Background(), "c1")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if report.Outcomes[0].Reason != domain.OutcomeUnresolvedPlaceholders {
		t.Errorf("reason = %s, want unresolved_placeholders", report.Outcomes[0].Reason)
	}
	if len(rig.mailer.calls) != 0 {
		t.Error("malformed content must never reach the mailer")
	}
}

func TestDispatchSuppressedRecipient(t *testing.T) {
	rig := newTestRig(t)
	rig.seedSender(t, "s1", 100, 0)
	rig.seedProfile(t, "a@x.com", "Ann")
	rig.store.Suppress(context.Background(), &domain.SuppressionEntry{Email: "a@x.com"})
	rig.seedCampaign(t, &domain.Campaign{
		ID: "c1", Subject: "s", Body: "b",
		Recipients: []string{"a@x.com"},
		SenderIDs:  []string{"s1"},
	})

	report, err := rig.engine.Dispatch(context.Background(), "c1")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if report.Outcomes[0].Reason != domain.OutcomeSuppressed {
		t.Errorf("reason = %s, want suppressed", report.Outcomes[0].Reason)
	}
	if len(rig.mailer.calls) != 0 {
		t.Error("suppressed recipient must never reach the mailer")
	}
}

func TestDispatchResumesFromCursor(t *testing.T) {
	rig := newTestRig(t)
	rig.seedSender(t, "s1", 100, 0)
	rig.seedProfile(t, "a@x.com", "Ann")
	rig.seedProfile(t, "b@x.com", "Bob")
	rig.seedCampaign(t, &domain.Campaign{
		ID: "c1", Subject: "s", Body: "b",
		Recipients:         []string{"a@x.com", "b@x.com"},
		SenderIDs:          []string{"s1"},
		NextRecipientIndex: 1,
		SentCount:          1,
	})

	report, err := rig.engine.Dispatch(context.Background(), "c1")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if len(report.Outcomes) != 1 {
		t.Fatalf("outcomes = %d, want 1 (resumed past a@x.com)", len(report.Outcomes))
	}
	if report.Outcomes[0].Recipient != "b@x.com" {
		t.Errorf("recipient = %s, want b@x.com", report.Outcomes[0].Recipient)
	}
	if rig.mailer.callsFor("a@x.com") != 0 {
		t.Error("recipient before the cursor was re-delivered")
	}

	c, _ := rig.store.GetCampaign(context.Background(), "c1")
	if c.NextRecipientIndex != 2 {
		t.Errorf("cursor = %d, want 2", c.NextRecipientIndex)
	}
	if c.SentCount != 2 {
		t.Errorf("SentCount = %d, want 2", c.SentCount)
	}
}

func TestDispatchLazyQuotaReset(t *testing.T) {
	rig := newTestRig(t)
	rig.seedProfile(t, "a@x.com", "Ann")
	// Sender exhausted yesterday; the engine's lazy reset should make
	// quota available before the check.
	yesterday := time.Now().UTC().Add(-24 * time.Hour)
	rig.store.CreateSender(context.Background(), &domain.SenderAccount{
		ID: "s1", Host: "smtp.test", Port: 587,
		DailyLimit: 5, SentToday: 5, LastReset: yesterday,
	})
	rig.seedCampaign(t, &domain.Campaign{
		ID: "c1", Subject: "s", Body: "b",
		Recipients: []string{"a@x.com"},
		SenderIDs:  []string{"s1"},
	})

	report, err := rig.engine.Dispatch(context.Background(), "c1")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if report.Outcomes[0].Reason != domain.OutcomeDelivered {
		t.Errorf("reason = %s, want delivered after lazy reset", report.Outcomes[0].Reason)
	}
	s1, _ := rig.store.GetSender(context.Background(), "s1")
	if s1.SentToday != 1 {
		t.Errorf("SentToday = %d, want 1 (reset then one send)", s1.SentToday)
	}
}

func TestDispatchMessagePauseSkippedAfterLastRecipient(t *testing.T) {
	rig := newTestRig(t)
	rig.seedSender(t, "s1", 100, 0)
	rig.seedProfile(t, "a@x.com", "Ann")
	rig.seedProfile(t, "b@x.com", "Bob")
	rig.seedCampaign(t, &domain.Campaign{
		ID: "c1", Subject: "s", Body: "b",
		Recipients: []string{"a@x.com", "b@x.com"},
		SenderIDs:  []string{"s1"},
	})

	if _, err := rig.engine.Dispatch(context.Background(), "c1"); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	// One inter-message pause between the two deliveries, none after
	// the last.
	if len(rig.sleeps) != 1 || rig.sleeps[0] != 5*time.Minute {
		t.Errorf("sleeps = %v, want exactly one 5m pause", rig.sleeps)
	}
}

func TestDispatchNoSenders(t *testing.T) {
	rig := newTestRig(t)
	rig.seedCampaign(t, &domain.Campaign{
		ID: "c1", Subject: "s", Body: "b",
		Recipients: []string{"a@x.com"},
	})

	if _, err := rig.engine.Dispatch(context.Background(), "c1"); !errors.Is(err, ErrNoSenders) {
		t.Errorf("err = %v, want ErrNoSenders", err)
	}
}

func TestDispatchNoRecipients(t *testing.T) {
	rig := newTestRig(t)
	rig.seedSender(t, "s1", 100, 0)
	rig.seedCampaign(t, &domain.Campaign{
		ID: "c1", Subject: "s", Body: "b",
		Recipients: []string{"  ", ""},
		SenderIDs:  []string{"s1"},
	})

	if _, err := rig.engine.Dispatch(context.Background(), "c1"); !errors.Is(err, ErrNoRecipients) {
		t.Errorf("err = %v, want ErrNoRecipients", err)
	}
	if len(rig.mailer.calls) != 0 {
		t.Errorf("mailer calls = %d, want 0", len(rig.mailer.calls))
	}
}

func TestDispatchContextCancelled(t *testing.T) {
	rig := newTestRig(t)
	rig.seedSender(t, "s1", 100, 0)
	rig.seedProfile(t, "a@x.com", "Ann")
	rig.seedProfile(t, "b@x.com", "Bob")
	rig.seedCampaign(t, &domain.Campaign{
		ID: "c1", Subject: "s", Body: "b",
		Recipients: []string{"a@x.com", "b@x.com"},
		SenderIDs:  []string{"s1"},
	})

	ctx, cancel := context.WithCancel(context.Background())
	// Cancel during the inter-message pause after the first delivery.
	rig.engine.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	report, err := rig.engine.Dispatch(ctx, "c1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if report.Sent != 1 {
		t.Errorf("Sent = %d, want 1 before cancellation", report.Sent)
	}

	// Cursor survived, so a resumed run starts at the second recipient.
	c, _ := rig.store.GetCampaign(context.Background(), "c1")
	if c.NextRecipientIndex != 1 {
		t.Errorf("cursor = %d, want 1", c.NextRecipientIndex)
	}
}

func TestDispatchRendersPersonalizedContent(t *testing.T) {
	rig := newTestRig(t)
	rig.seedSender(t, "s1", 100, 0)
	rig.seedProfile(t, "ann@x.com", "Ann")
	rig.seedCampaign(t, &domain.Campaign{
		ID:      "c1",
		Subject: "{Hey|Hi} {{firstName}}",
		Body:    `Hello {{firstName}}, <a href="{{unsubscribeUrl}}">unsubscribe</a>`,
		Recipients: []string{"ann@x.com"},
		SenderIDs:  []string{"s1"},
	})

	if _, err := rig.engine.Dispatch(context.Background(), "c1"); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	call := rig.mailer.calls[0]
	if call.subject != "Hey Ann" && call.subject != "Hi Ann" {
		t.Errorf("subject = %q", call.subject)
	}
	wantLink := "http://mail.test/unsubscribe?email=ann%40x.com"
	if want := `Hello Ann, <a href="` + wantLink + `">unsubscribe</a>`; call.body != want {
		t.Errorf("body = %q, want %q", call.body, want)
	}
}
