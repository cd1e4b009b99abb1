// Package store defines the persistence contract shared by the dynamo,
// postgres and memory backends.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/mailspace/mailspace/internal/domain"
)

var (
	// ErrNotFound is returned when an entity does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrAlreadyExists is returned on duplicate creation.
	ErrAlreadyExists = errors.New("store: already exists")
)

// CampaignStore persists campaigns and implements the conditional status
// transitions that guard against double dispatch.
type CampaignStore interface {
	CreateCampaign(ctx context.Context, c *domain.Campaign) error
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)
	ListCampaigns(ctx context.Context) ([]domain.Campaign, error)
	// SearchCampaigns matches the query case-insensitively against
	// campaign names. Empty query lists everything.
	SearchCampaigns(ctx context.Context, query string) ([]domain.Campaign, error)
	UpdateCampaign(ctx context.Context, c *domain.Campaign) error
	DeleteCampaign(ctx context.Context, id string) error

	// DueCampaigns returns campaigns in scheduled status whose send
	// time is at or before now.
	DueCampaigns(ctx context.Context, now time.Time) ([]domain.Campaign, error)

	// ClaimCampaign atomically transitions the campaign from one status
	// to another, stamping updated_at. It returns false when the
	// campaign was not in the expected status, which is how concurrent
	// pollers lose the race. This compare-and-set is the sole guard
	// against double dispatch.
	ClaimCampaign(ctx context.Context, id string, from, to domain.CampaignStatus) (bool, error)

	// ReclaimStale re-arms a campaign stuck in processing whose
	// updated_at is at or before cutoff, stamping updated_at so other
	// pollers back off. Returns false if the campaign is not stale.
	ReclaimStale(ctx context.Context, id string, cutoff time.Time) (bool, error)

	// SaveDispatchProgress persists the resume cursor after each
	// processed recipient, plus the last delivery time and running sent
	// count.
	SaveDispatchProgress(ctx context.Context, id string, nextIndex int, lastSentAt *time.Time, sentCount int) error
}

// SenderStore persists sender accounts and owns their quota arithmetic.
type SenderStore interface {
	CreateSender(ctx context.Context, s *domain.SenderAccount) error
	GetSender(ctx context.Context, id string) (*domain.SenderAccount, error)
	ListSenders(ctx context.Context) ([]domain.SenderAccount, error)
	UpdateSender(ctx context.Context, s *domain.SenderAccount) error
	DeleteSender(ctx context.Context, id string) error

	// ResetQuotaIfNewDay zeroes SentToday and stamps LastReset, but
	// only when LastReset falls on an earlier UTC day than now. The
	// check-and-zero is atomic, so concurrent callers on the same day
	// reset at most once. Returns the account as stored afterwards.
	ResetQuotaIfNewDay(ctx context.Context, id string, now time.Time) (*domain.SenderAccount, error)

	// IncrementSentCount durably adds one to SentToday. Called only
	// after a confirmed delivery.
	IncrementSentCount(ctx context.Context, id string) error

	// ResetAllQuotas zeroes every account's counter regardless of
	// LastReset. The daily job uses this alongside the lazy per-account
	// reset; both are safe to run on the same day.
	ResetAllQuotas(ctx context.Context, now time.Time) (int, error)
}

// RecipientStore persists recipient profiles keyed by normalized email.
type RecipientStore interface {
	UpsertProfile(ctx context.Context, p *domain.RecipientProfile) error
	GetProfile(ctx context.Context, email string) (*domain.RecipientProfile, error)
	ListProfiles(ctx context.Context) ([]domain.RecipientProfile, error)
	DeleteProfile(ctx context.Context, email string) error
}

// SuppressionStore persists the do-not-mail set.
type SuppressionStore interface {
	Suppress(ctx context.Context, e *domain.SuppressionEntry) error
	IsSuppressed(ctx context.Context, email string) (bool, error)
	ListSuppressions(ctx context.Context) ([]domain.SuppressionEntry, error)
	Unsuppress(ctx context.Context, email string) error
}

// Store is the full persistence surface.
type Store interface {
	CampaignStore
	SenderStore
	RecipientStore
	SuppressionStore

	Ping(ctx context.Context) error
	Close() error
}
