// Package scheduler polls for due campaigns and drives them through the
// dispatch engine. A daily cron job resets every sender account's quota
// counter at UTC midnight.
package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/mailspace/mailspace/internal/dispatch"
	"github.com/mailspace/mailspace/internal/domain"
	"github.com/mailspace/mailspace/internal/pkg/distlock"
	"github.com/mailspace/mailspace/internal/pkg/logger"
	"github.com/mailspace/mailspace/internal/store"
)

const (
	defaultPollInterval = time.Minute
	defaultStaleWindow  = 30 * time.Minute
	defaultLockTTL      = 10 * time.Minute
)

// Options tune the scheduler's polling and recovery behavior.
type Options struct {
	// PollInterval is how often the scheduler checks for due campaigns.
	PollInterval time.Duration
	// StaleWindow is how long a campaign may sit in processing without a
	// progress update before a poller reclaims it.
	StaleWindow time.Duration
	// LockTTL bounds how long a campaign's dispatch lock is held without
	// renewal.
	LockTTL time.Duration
}

// Scheduler owns the polling loop and the daily quota reset job.
type Scheduler struct {
	store  store.Store
	engine *dispatch.Engine
	opts   Options

	// Optional backends for the distributed lock. Either may be nil; the
	// store's conditional claim is the real double-dispatch guard.
	redisClient *redis.Client
	db          *sql.DB

	cron *cron.Cron
	now  func() time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// New creates a scheduler. redisClient and db may be nil.
func New(st store.Store, engine *dispatch.Engine, redisClient *redis.Client, db *sql.DB, opts Options) *Scheduler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.StaleWindow <= 0 {
		opts.StaleWindow = defaultStaleWindow
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaultLockTTL
	}
	return &Scheduler{
		store:       st,
		engine:      engine,
		opts:        opts,
		redisClient: redisClient,
		db:          db,
		now:         time.Now,
	}
}

// Start launches the polling loop and the daily reset cron. It returns
// an error if the scheduler is already running.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())

	logger.Info("scheduler starting",
		"poll_interval", s.opts.PollInterval.String(),
		"stale_window", s.opts.StaleWindow.String())

	s.wg.Add(1)
	go s.pollLoop()

	s.cron = cron.New()
	// Midnight UTC, matching the calendar-day quota window.
	if _, err := s.cron.AddFunc("0 0 * * *", s.resetAllQuotas); err != nil {
		return fmt.Errorf("registering quota reset job: %w", err)
	}
	s.cron.Start()

	return nil
}

// Stop cancels the polling loop and waits for any in-flight dispatch to
// finish its current recipient.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	logger.Info("scheduler stopping")
	s.cancel()
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.wg.Wait()
	logger.Info("scheduler stopped")
}

func (s *Scheduler) pollLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	// One pass immediately so a restart picks up overdue work without
	// waiting a full interval.
	s.runOnce(s.ctx)

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(s.ctx)
		}
	}
}

// runOnce performs a single poll pass: dispatch due campaigns, then
// recover any left stale in processing by a dead worker.
func (s *Scheduler) runOnce(ctx context.Context) {
	due, err := s.store.DueCampaigns(ctx, s.now().UTC())
	if err != nil {
		logger.Error("polling due campaigns", "error", err.Error())
		return
	}

	for i := range due {
		if ctx.Err() != nil {
			return
		}
		s.processCampaign(ctx, due[i].ID)
	}

	s.recoverStale(ctx)
}

// processCampaign claims the campaign and runs it to completion. The
// claim from scheduled to processing is atomic, so concurrent pollers
// that pick up the same campaign all lose here except one.
func (s *Scheduler) processCampaign(ctx context.Context, campaignID string) {
	lock := distlock.NewLock(s.redisClient, s.db, fmt.Sprintf("campaign:%s", campaignID), s.opts.LockTTL)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		logger.Error("acquiring campaign lock", "campaign_id", campaignID, "error", err.Error())
		return
	}
	if !acquired {
		logger.Info("campaign locked by another worker", "campaign_id", campaignID)
		return
	}
	defer lock.Release(ctx)

	claimed, err := s.store.ClaimCampaign(ctx, campaignID, domain.CampaignScheduled, domain.CampaignProcessing)
	if err != nil {
		logger.Error("claiming campaign", "campaign_id", campaignID, "error", err.Error())
		return
	}
	if !claimed {
		// Another poller won, or the campaign was edited out of
		// scheduled status between the query and the claim.
		return
	}

	s.dispatchClaimed(ctx, campaignID)
}

// dispatchClaimed runs a campaign already in processing status and
// finalizes it on success.
func (s *Scheduler) dispatchClaimed(ctx context.Context, campaignID string) {
	report, err := s.engine.Dispatch(ctx, campaignID)
	if err != nil {
		// The cursor is already persisted per recipient, so the campaign
		// stays in processing and the stale recovery pass resumes it.
		logger.Error("dispatch interrupted",
			"campaign_id", campaignID, "error", err.Error())
		return
	}

	finished, err := s.store.ClaimCampaign(ctx, campaignID, domain.CampaignProcessing, domain.CampaignSent)
	if err != nil {
		logger.Error("finalizing campaign", "campaign_id", campaignID, "error", err.Error())
		return
	}
	if !finished {
		logger.Warn("campaign left processing during dispatch", "campaign_id", campaignID)
		return
	}

	logger.Info("campaign completed",
		"campaign_id", campaignID,
		"sent", report.Sent,
		"skipped", report.Skipped,
		"failed", report.Failed)
}

// recoverStale resumes campaigns stuck in processing past the stale
// window, typically after a worker crash mid-dispatch.
func (s *Scheduler) recoverStale(ctx context.Context) {
	all, err := s.store.ListCampaigns(ctx)
	if err != nil {
		logger.Error("listing campaigns for stale recovery", "error", err.Error())
		return
	}

	cutoff := s.now().UTC().Add(-s.opts.StaleWindow)
	for i := range all {
		if ctx.Err() != nil {
			return
		}
		c := &all[i]
		if c.Status != domain.CampaignProcessing || c.UpdatedAt.After(cutoff) {
			continue
		}

		reclaimed, err := s.store.ReclaimStale(ctx, c.ID, cutoff)
		if err != nil {
			logger.Error("reclaiming stale campaign", "campaign_id", c.ID, "error", err.Error())
			continue
		}
		if !reclaimed {
			continue
		}

		logger.Warn("resuming stale campaign",
			"campaign_id", c.ID, "cursor", c.NextRecipientIndex)
		s.dispatchClaimed(ctx, c.ID)
	}
}

// resetAllQuotas is the daily cron job. It is safe to run alongside the
// per-account lazy reset that the dispatch engine performs.
func (s *Scheduler) resetAllQuotas() {
	ctx, cancel := context.WithTimeout(s.ctx, time.Minute)
	defer cancel()

	n, err := s.store.ResetAllQuotas(ctx, s.now().UTC())
	if err != nil {
		logger.Error("daily quota reset failed", "error", err.Error())
		return
	}
	logger.Info("daily quota reset", "accounts", n)
}
