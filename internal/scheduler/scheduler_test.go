package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/mailspace/mailspace/internal/dispatch"
	"github.com/mailspace/mailspace/internal/domain"
	"github.com/mailspace/mailspace/internal/store/memory"
	"github.com/mailspace/mailspace/internal/template"
	"github.com/mailspace/mailspace/internal/transport"
)

type nullMailer struct {
	sent []string
}

func (m *nullMailer) Send(ctx context.Context, sender *domain.SenderAccount, msg *transport.Message) error {
	m.sent = append(m.sent, msg.To)
	return nil
}

func newTestScheduler(t *testing.T) (*Scheduler, *memory.Store, *nullMailer) {
	t.Helper()
	st := memory.New()
	mailer := &nullMailer{}
	engine := dispatch.NewEngine(st, mailer, template.NewEngine(), dispatch.Options{
		RetryPause:   time.Millisecond,
		MessagePause: time.Millisecond,
	})
	sched := New(st, engine, nil, nil, Options{
		PollInterval: time.Hour,
		StaleWindow:  30 * time.Minute,
	})
	return sched, st, mailer
}

func seedReadyCampaign(t *testing.T, st *memory.Store, id string, sendAt time.Time) {
	t.Helper()
	ctx := context.Background()
	if err := st.CreateSender(ctx, &domain.SenderAccount{
		ID: "s1", Host: "smtp.test", Port: 587, DailyLimit: 100, LastReset: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed sender: %v", err)
	}
	for _, email := range []string{"a@x.com", "b@x.com"} {
		if err := st.UpsertProfile(ctx, &domain.RecipientProfile{Email: email, FirstName: "T"}); err != nil {
			t.Fatalf("seed profile: %v", err)
		}
	}
	if err := st.CreateCampaign(ctx, &domain.Campaign{
		ID: id, Name: "launch", Subject: "hi", Body: "hello",
		Recipients: []string{"a@x.com", "b@x.com"},
		SenderIDs:  []string{"s1"},
		Status:     domain.CampaignScheduled,
		SendAt:     sendAt,
	}); err != nil {
		t.Fatalf("seed campaign: %v", err)
	}
}

func TestRunOnceDispatchesDueCampaign(t *testing.T) {
	sched, st, mailer := newTestScheduler(t)
	seedReadyCampaign(t, st, "c1", time.Now().UTC().Add(-time.Minute))

	sched.runOnce(context.Background())

	c, err := st.GetCampaign(context.Background(), "c1")
	if err != nil {
		t.Fatalf("get campaign: %v", err)
	}
	if c.Status != domain.CampaignSent {
		t.Errorf("status = %s, want sent", c.Status)
	}
	if c.NextRecipientIndex != 2 {
		t.Errorf("cursor = %d, want 2", c.NextRecipientIndex)
	}
	if c.SentCount != 2 {
		t.Errorf("SentCount = %d, want 2", c.SentCount)
	}
	if len(mailer.sent) != 2 {
		t.Errorf("deliveries = %v, want both recipients", mailer.sent)
	}
}

func TestRunOnceIgnoresFutureCampaign(t *testing.T) {
	sched, st, mailer := newTestScheduler(t)
	seedReadyCampaign(t, st, "c1", time.Now().UTC().Add(time.Hour))

	sched.runOnce(context.Background())

	c, _ := st.GetCampaign(context.Background(), "c1")
	if c.Status != domain.CampaignScheduled {
		t.Errorf("status = %s, want scheduled", c.Status)
	}
	if len(mailer.sent) != 0 {
		t.Errorf("deliveries = %v, want none", mailer.sent)
	}
}

func TestProcessCampaignLosesClaimRace(t *testing.T) {
	sched, st, mailer := newTestScheduler(t)
	seedReadyCampaign(t, st, "c1", time.Now().UTC().Add(-time.Minute))

	// Another worker already moved the campaign to processing.
	if ok, err := st.ClaimCampaign(context.Background(), "c1", domain.CampaignScheduled, domain.CampaignProcessing); err != nil || !ok {
		t.Fatalf("pre-claim: ok=%v err=%v", ok, err)
	}

	sched.processCampaign(context.Background(), "c1")

	c, _ := st.GetCampaign(context.Background(), "c1")
	if c.Status != domain.CampaignProcessing {
		t.Errorf("status = %s, want processing (untouched by the loser)", c.Status)
	}
	if len(mailer.sent) != 0 {
		t.Errorf("loser dispatched %v", mailer.sent)
	}
}

func TestRunOnceDispatchesEachCampaignOnce(t *testing.T) {
	sched, st, mailer := newTestScheduler(t)
	seedReadyCampaign(t, st, "c1", time.Now().UTC().Add(-time.Minute))

	sched.runOnce(context.Background())
	sched.runOnce(context.Background())

	if len(mailer.sent) != 2 {
		t.Errorf("deliveries = %d, want 2 (no re-dispatch of a sent campaign)", len(mailer.sent))
	}
}

func TestRecoverStaleResumesCampaign(t *testing.T) {
	sched, st, mailer := newTestScheduler(t)

	// A campaign stamped an hour ago, stuck in processing with one of
	// two recipients already delivered.
	past := time.Now().UTC().Add(-time.Hour)
	st.SetClock(func() time.Time { return past })
	seedReadyCampaign(t, st, "c1", past)
	if ok, _ := st.ClaimCampaign(context.Background(), "c1", domain.CampaignScheduled, domain.CampaignProcessing); !ok {
		t.Fatal("pre-claim failed")
	}
	if err := st.SaveDispatchProgress(context.Background(), "c1", 1, &past, 1); err != nil {
		t.Fatalf("seed progress: %v", err)
	}
	st.SetClock(time.Now)

	sched.runOnce(context.Background())

	c, _ := st.GetCampaign(context.Background(), "c1")
	if c.Status != domain.CampaignSent {
		t.Errorf("status = %s, want sent after recovery", c.Status)
	}
	if len(mailer.sent) != 1 || mailer.sent[0] != "b@x.com" {
		t.Errorf("deliveries = %v, want only the recipient past the cursor", mailer.sent)
	}
}

func TestRecoverStaleSkipsFreshProcessing(t *testing.T) {
	sched, st, mailer := newTestScheduler(t)
	seedReadyCampaign(t, st, "c1", time.Now().UTC().Add(-time.Minute))
	if ok, _ := st.ClaimCampaign(context.Background(), "c1", domain.CampaignScheduled, domain.CampaignProcessing); !ok {
		t.Fatal("pre-claim failed")
	}

	// Just claimed, inside the stale window.
	sched.recoverStale(context.Background())

	c, _ := st.GetCampaign(context.Background(), "c1")
	if c.Status != domain.CampaignProcessing {
		t.Errorf("status = %s, want processing left alone", c.Status)
	}
	if len(mailer.sent) != 0 {
		t.Errorf("deliveries = %v, want none", mailer.sent)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	sched, _, _ := newTestScheduler(t)

	if err := sched.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := sched.Start(); err == nil {
		t.Error("second Start should fail while running")
	}
	sched.Stop()
	sched.Stop() // idempotent

	if err := sched.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	sched.Stop()
}

func TestDailyQuotaResetJob(t *testing.T) {
	sched, st, _ := newTestScheduler(t)
	ctx := context.Background()

	yesterday := time.Now().UTC().Add(-24 * time.Hour)
	for _, id := range []string{"s1", "s2"} {
		if err := st.CreateSender(ctx, &domain.SenderAccount{
			ID: id, Host: "smtp.test", Port: 587,
			DailyLimit: 10, SentToday: 7, LastReset: yesterday,
		}); err != nil {
			t.Fatalf("seed sender: %v", err)
		}
	}

	sched.ctx, sched.cancel = context.WithCancel(context.Background())
	defer sched.cancel()
	sched.resetAllQuotas()

	for _, id := range []string{"s1", "s2"} {
		s, err := st.GetSender(ctx, id)
		if err != nil {
			t.Fatalf("get sender %s: %v", id, err)
		}
		if s.SentToday != 0 {
			t.Errorf("%s.SentToday = %d, want 0", id, s.SentToday)
		}
	}
}
