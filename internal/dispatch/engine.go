// Package dispatch implements the campaign dispatch engine: the loop
// that walks a campaign's recipient list and delivers one message per
// recipient through a rotating pool of sender accounts.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mailspace/mailspace/internal/domain"
	"github.com/mailspace/mailspace/internal/pkg/logger"
	"github.com/mailspace/mailspace/internal/store"
	"github.com/mailspace/mailspace/internal/template"
	"github.com/mailspace/mailspace/internal/transport"
)

var (
	// ErrNoSenders is returned when a campaign has no sender accounts.
	ErrNoSenders = errors.New("dispatch: campaign has no sender accounts")
	// ErrNoRecipients is returned when a campaign has no deliverable
	// recipients after normalization.
	ErrNoRecipients = errors.New("dispatch: campaign has no recipients")
)

// Options tune the engine's pacing. Zero values take the defaults
// below.
type Options struct {
	// RetryAttempts is the total number of delivery attempts per
	// recipient, first try included.
	RetryAttempts int
	// RetryPause is the wait between attempts to the same recipient.
	RetryPause time.Duration
	// MessagePause is the wait after a successful delivery before the
	// next recipient. Skipped after the last recipient and after
	// non-delivery outcomes.
	MessagePause time.Duration
	// BaseURL is the public root used to build unsubscribe links.
	BaseURL string
}

const (
	defaultRetryAttempts = 3
	defaultRetryPause    = 2 * time.Second
	defaultMessagePause  = 5 * time.Minute
)

// Engine walks campaigns recipient by recipient.
type Engine struct {
	store  store.Store
	mailer transport.Mailer
	tmpl   *template.Engine
	opts   Options

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine creates a dispatch engine.
func NewEngine(st store.Store, mailer transport.Mailer, tmpl *template.Engine, opts Options) *Engine {
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = defaultRetryAttempts
	}
	if opts.RetryPause == 0 {
		opts.RetryPause = defaultRetryPause
	}
	if opts.MessagePause == 0 {
		opts.MessagePause = defaultMessagePause
	}
	return &Engine{
		store:  st,
		mailer: mailer,
		tmpl:   tmpl,
		opts:   opts,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Dispatch processes the campaign from its resume cursor to the end of
// the deduplicated recipient list. Every recipient yields exactly one
// outcome; the cursor is persisted after each one, so an interrupted
// run resumes without re-delivery. The returned report covers only the
// recipients handled by this run.
func (e *Engine) Dispatch(ctx context.Context, campaignID string) (*domain.DispatchReport, error) {
	c, err := e.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("loading campaign: %w", err)
	}
	if len(c.SenderIDs) == 0 {
		return nil, ErrNoSenders
	}

	recipients := domain.DedupeRecipients(c.Recipients)
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}

	report := &domain.DispatchReport{
		CampaignID: campaignID,
		StartedAt:  e.now().UTC(),
	}
	defer func() { report.FinishedAt = e.now().UTC() }()

	sentCount := c.SentCount
	start := c.NextRecipientIndex
	if start < 0 {
		start = 0
	}

	logger.Info("dispatch started",
		"campaign_id", campaignID,
		"recipients", len(recipients),
		"cursor", start,
		"senders", len(c.SenderIDs))

	for i := start; i < len(recipients); i++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		// The sender for a recipient is a pure function of its index,
		// so retries and resumed runs always use the same account.
		senderID := c.SenderIDs[i%len(c.SenderIDs)]
		outcome := e.processRecipient(ctx, c, recipients[i], senderID)
		report.Add(outcome)

		var lastSentAt *time.Time
		if outcome.Delivered() {
			sentCount++
			t := outcome.At
			lastSentAt = &t
		}
		if err := e.store.SaveDispatchProgress(ctx, campaignID, i+1, lastSentAt, sentCount); err != nil {
			return report, fmt.Errorf("saving cursor at %d: %w", i+1, err)
		}

		logger.Info("recipient processed",
			"campaign_id", campaignID,
			"recipient", outcome.Recipient,
			"reason", string(outcome.Reason),
			"attempts", outcome.Attempts)

		// Pace the stream after real deliveries. The last recipient
		// ends the run immediately.
		if outcome.Delivered() && i < len(recipients)-1 {
			if err := e.sleep(ctx, e.opts.MessagePause); err != nil {
				return report, err
			}
		}
	}

	return report, nil
}

func (e *Engine) processRecipient(ctx context.Context, c *domain.Campaign, email, senderID string) domain.DispatchOutcome {
	outcome := domain.DispatchOutcome{
		Recipient: email,
		SenderID:  senderID,
		At:        e.now().UTC(),
	}

	suppressed, err := e.store.IsSuppressed(ctx, email)
	if err != nil {
		outcome.Reason = domain.OutcomeDeliveryFailed
		outcome.Error = err.Error()
		return outcome
	}
	if suppressed {
		outcome.Reason = domain.OutcomeSuppressed
		return outcome
	}

	profile, err := e.store.GetProfile(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		outcome.Reason = domain.OutcomeProfileNotFound
		return outcome
	}
	if err != nil {
		outcome.Reason = domain.OutcomeDeliveryFailed
		outcome.Error = err.Error()
		return outcome
	}

	vars := template.Vars{
		FirstName:      profile.FirstName,
		Email:          email,
		UnsubscribeURL: template.UnsubscribeURL(e.opts.BaseURL, email),
	}
	subject := e.tmpl.Render(c.Subject, vars)
	body := e.tmpl.Render(c.Body, vars)

	// A leftover brace token means the content is broken for this
	// recipient. No delivery, no retry.
	if template.HasUnresolvedPlaceholders(subject) || template.HasUnresolvedPlaceholders(body) {
		outcome.Reason = domain.OutcomeUnresolvedPlaceholders
		return outcome
	}

	// Lazy reset runs before the quota check so the first send of a new
	// day sees a fresh counter.
	sender, err := e.store.ResetQuotaIfNewDay(ctx, senderID, e.now())
	if err != nil {
		outcome.Reason = domain.OutcomeDeliveryFailed
		outcome.Error = fmt.Sprintf("loading sender %s: %v", senderID, err)
		return outcome
	}
	if sender.QuotaExhausted() {
		// The recipient's sender is fixed; an exhausted account means
		// a skip, never a fallback to another account.
		outcome.Reason = domain.OutcomeQuotaExceeded
		return outcome
	}

	msg := &transport.Message{To: email, Subject: subject, HTMLBody: body}

	var lastErr error
	for attempt := 1; attempt <= e.opts.RetryAttempts; attempt++ {
		outcome.Attempts = attempt
		if lastErr = e.mailer.Send(ctx, sender, msg); lastErr == nil {
			break
		}
		logger.Warn("delivery attempt failed",
			"campaign_id", c.ID,
			"recipient", email,
			"attempt", attempt,
			"error", lastErr.Error())
		if attempt < e.opts.RetryAttempts {
			if err := e.sleep(ctx, e.opts.RetryPause); err != nil {
				lastErr = err
				break
			}
		}
	}
	if lastErr != nil {
		outcome.Reason = domain.OutcomeDeliveryFailed
		outcome.Error = lastErr.Error()
		return outcome
	}

	// The increment lands only after confirmed delivery, and failure to
	// record it surfaces as an error rather than an unrecorded send.
	outcome.At = e.now().UTC()
	if err := e.store.IncrementSentCount(ctx, senderID); err != nil {
		logger.Error("sent but failed to record quota use",
			"sender_id", senderID, "error", err.Error())
	}
	outcome.Reason = domain.OutcomeDelivered
	return outcome
}
