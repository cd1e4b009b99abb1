// Package memory implements store.Store in process memory. It backs
// tests and local development; the scheduler and dispatch engine see
// the same conditional-transition semantics the durable backends give.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mailspace/mailspace/internal/domain"
	"github.com/mailspace/mailspace/internal/store"
)

// Store is an in-memory store.Store. Safe for concurrent use.
type Store struct {
	mu           sync.Mutex
	campaigns    map[string]*domain.Campaign
	senders      map[string]*domain.SenderAccount
	profiles     map[string]*domain.RecipientProfile
	suppressions map[string]*domain.SuppressionEntry
	now          func() time.Time
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		campaigns:    make(map[string]*domain.Campaign),
		senders:      make(map[string]*domain.SenderAccount),
		profiles:     make(map[string]*domain.RecipientProfile),
		suppressions: make(map[string]*domain.SuppressionEntry),
		now:          time.Now,
	}
}

// SetClock overrides the store's clock, for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func copyCampaign(c *domain.Campaign) *domain.Campaign {
	cp := *c
	cp.Recipients = append([]string(nil), c.Recipients...)
	cp.SenderIDs = append([]string(nil), c.SenderIDs...)
	if c.LastSentAt != nil {
		t := *c.LastSentAt
		cp.LastSentAt = &t
	}
	return &cp
}

func copySender(a *domain.SenderAccount) *domain.SenderAccount {
	cp := *a
	return &cp
}

// ---- campaigns ----

func (s *Store) CreateCampaign(ctx context.Context, c *domain.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.campaigns[c.ID]; ok {
		return store.ErrAlreadyExists
	}
	now := s.now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	s.campaigns[c.ID] = copyCampaign(c)
	return nil
}

func (s *Store) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyCampaign(c), nil
}

func (s *Store) ListCampaigns(ctx context.Context) ([]domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Campaign, 0, len(s.campaigns))
	for _, c := range s.campaigns {
		out = append(out, *copyCampaign(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) SearchCampaigns(ctx context.Context, query string) ([]domain.Campaign, error) {
	all, _ := s.ListCampaigns(ctx)
	if query == "" {
		return all, nil
	}
	q := strings.ToLower(query)
	out := make([]domain.Campaign, 0, len(all))
	for _, c := range all {
		if strings.Contains(strings.ToLower(c.Name), q) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) UpdateCampaign(ctx context.Context, c *domain.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.campaigns[c.ID]
	if !ok {
		return store.ErrNotFound
	}
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = s.now().UTC()
	s.campaigns[c.ID] = copyCampaign(c)
	return nil
}

func (s *Store) DeleteCampaign(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.campaigns[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.campaigns, id)
	return nil
}

func (s *Store) DueCampaigns(ctx context.Context, now time.Time) ([]domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Campaign
	for _, c := range s.campaigns {
		if c.Due(now) {
			out = append(out, *copyCampaign(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SendAt.Before(out[j].SendAt) })
	return out, nil
}

func (s *Store) ClaimCampaign(ctx context.Context, id string, from, to domain.CampaignStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if c.Status != from {
		return false, nil
	}
	c.Status = to
	c.UpdatedAt = s.now().UTC()
	return true, nil
}

func (s *Store) ReclaimStale(ctx context.Context, id string, cutoff time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if c.Status != domain.CampaignProcessing || c.UpdatedAt.After(cutoff) {
		return false, nil
	}
	c.UpdatedAt = s.now().UTC()
	return true, nil
}

func (s *Store) SaveDispatchProgress(ctx context.Context, id string, nextIndex int, lastSentAt *time.Time, sentCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return store.ErrNotFound
	}
	c.NextRecipientIndex = nextIndex
	c.SentCount = sentCount
	if lastSentAt != nil {
		t := *lastSentAt
		c.LastSentAt = &t
	}
	c.UpdatedAt = s.now().UTC()
	return nil
}

// ---- senders ----

func (s *Store) CreateSender(ctx context.Context, a *domain.SenderAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.senders[a.ID]; ok {
		return store.ErrAlreadyExists
	}
	now := s.now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	if a.LastReset.IsZero() {
		a.LastReset = now
	}
	s.senders[a.ID] = copySender(a)
	return nil
}

func (s *Store) GetSender(ctx context.Context, id string) (*domain.SenderAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.senders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copySender(a), nil
}

func (s *Store) ListSenders(ctx context.Context) ([]domain.SenderAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.SenderAccount, 0, len(s.senders))
	for _, a := range s.senders {
		out = append(out, *copySender(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateSender(ctx context.Context, a *domain.SenderAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.senders[a.ID]
	if !ok {
		return store.ErrNotFound
	}
	a.CreatedAt = existing.CreatedAt
	a.UpdatedAt = s.now().UTC()
	s.senders[a.ID] = copySender(a)
	return nil
}

func (s *Store) DeleteSender(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.senders[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.senders, id)
	return nil
}

func (s *Store) ResetQuotaIfNewDay(ctx context.Context, id string, now time.Time) (*domain.SenderAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.senders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if a.NeedsDailyReset(now) {
		a.SentToday = 0
		a.LastReset = now.UTC()
		a.UpdatedAt = s.now().UTC()
	}
	return copySender(a), nil
}

func (s *Store) IncrementSentCount(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.senders[id]
	if !ok {
		return store.ErrNotFound
	}
	a.SentToday++
	a.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Store) ResetAllQuotas(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.senders {
		a.SentToday = 0
		a.LastReset = now.UTC()
		a.UpdatedAt = s.now().UTC()
	}
	return len(s.senders), nil
}

// ---- recipient profiles ----

func (s *Store) UpsertProfile(ctx context.Context, p *domain.RecipientProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := domain.NormalizeEmail(p.Email)
	if email == "" {
		return store.ErrNotFound
	}
	p.Email = email
	now := s.now().UTC()
	if existing, ok := s.profiles[email]; ok {
		p.CreatedAt = existing.CreatedAt
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	cp := *p
	s.profiles[email] = &cp
	return nil
}

func (s *Store) GetProfile(ctx context.Context, email string) (*domain.RecipientProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[domain.NormalizeEmail(email)]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) ListProfiles(ctx context.Context) ([]domain.RecipientProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.RecipientProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (s *Store) DeleteProfile(ctx context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := domain.NormalizeEmail(email)
	if _, ok := s.profiles[key]; !ok {
		return store.ErrNotFound
	}
	delete(s.profiles, key)
	return nil
}

// ---- suppressions ----

func (s *Store) Suppress(ctx context.Context, e *domain.SuppressionEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := domain.NormalizeEmail(e.Email)
	e.Email = email
	if _, ok := s.suppressions[email]; ok {
		// Re-suppressing is a no-op, not an error.
		return nil
	}
	e.CreatedAt = s.now().UTC()
	cp := *e
	s.suppressions[email] = &cp
	return nil
}

func (s *Store) IsSuppressed(ctx context.Context, email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.suppressions[domain.NormalizeEmail(email)]
	return ok, nil
}

func (s *Store) ListSuppressions(ctx context.Context) ([]domain.SuppressionEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.SuppressionEntry, 0, len(s.suppressions))
	for _, e := range s.suppressions {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (s *Store) Unsuppress(ctx context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := domain.NormalizeEmail(email)
	if _, ok := s.suppressions[key]; !ok {
		return store.ErrNotFound
	}
	delete(s.suppressions, key)
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }
