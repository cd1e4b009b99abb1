package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/mailspace/mailspace/internal/domain"
	"github.com/mailspace/mailspace/internal/store"
)

const campaignCols = `id, name, subject, body, recipients, sender_ids, status,
	send_at, timezone, next_recipient_index, last_sent_at, sent_count,
	created_at, updated_at`

func scanCampaign(row interface{ Scan(...any) error }) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	var recipients, senderIDs pq.StringArray
	var lastSentAt sql.NullTime
	err := row.Scan(
		&c.ID, &c.Name, &c.Subject, &c.Body, &recipients, &senderIDs, &c.Status,
		&c.SendAt, &c.Timezone, &c.NextRecipientIndex, &lastSentAt, &c.SentCount,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Recipients = []string(recipients)
	c.SenderIDs = []string(senderIDs)
	if lastSentAt.Valid {
		t := lastSentAt.Time
		c.LastSentAt = &t
	}
	return c, nil
}

func (s *Store) CreateCampaign(ctx context.Context, c *domain.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO campaigns
			(id, name, subject, body, recipients, sender_ids, status,
			 send_at, timezone, next_recipient_index, sent_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
	`, c.ID, c.Name, c.Subject, c.Body, pq.Array(c.Recipients), pq.Array(c.SenderIDs),
		c.Status, c.SendAt, c.Timezone, c.NextRecipientIndex, c.SentCount)
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

func (s *Store) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+campaignCols+` FROM campaigns WHERE id = $1`, id)
	c, err := scanCampaign(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (s *Store) ListCampaigns(ctx context.Context) ([]domain.Campaign, error) {
	return s.queryCampaigns(ctx,
		`SELECT `+campaignCols+` FROM campaigns ORDER BY created_at DESC`)
}

func (s *Store) SearchCampaigns(ctx context.Context, query string) ([]domain.Campaign, error) {
	if query == "" {
		return s.ListCampaigns(ctx)
	}
	return s.queryCampaigns(ctx,
		`SELECT `+campaignCols+` FROM campaigns WHERE name ILIKE $1 ORDER BY created_at DESC`,
		"%"+query+"%")
}

func (s *Store) DueCampaigns(ctx context.Context, now time.Time) ([]domain.Campaign, error) {
	return s.queryCampaigns(ctx,
		`SELECT `+campaignCols+` FROM campaigns
		 WHERE status = 'scheduled' AND send_at <= $1
		 ORDER BY send_at ASC`, now.UTC())
}

func (s *Store) queryCampaigns(ctx context.Context, q string, args ...any) ([]domain.Campaign, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *Store) UpdateCampaign(ctx context.Context, c *domain.Campaign) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns
		SET name = $2, subject = $3, body = $4, recipients = $5, sender_ids = $6,
		    status = $7, send_at = $8, timezone = $9, next_recipient_index = $10,
		    last_sent_at = $11, sent_count = $12, updated_at = NOW()
		WHERE id = $1
	`, c.ID, c.Name, c.Subject, c.Body, pq.Array(c.Recipients), pq.Array(c.SenderIDs),
		c.Status, c.SendAt, c.Timezone, c.NextRecipientIndex, c.LastSentAt, c.SentCount)
	if err != nil {
		return fmt.Errorf("update campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteCampaign(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM campaigns WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ClaimCampaign performs the conditional status transition. RowsAffected
// of zero means another process won the race or the campaign moved on.
func (s *Store) ClaimCampaign(ctx context.Context, id string, from, to domain.CampaignStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return false, fmt.Errorf("claim campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (s *Store) ReclaimStale(ctx context.Context, id string, cutoff time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns SET updated_at = NOW()
		WHERE id = $1 AND status = 'processing' AND updated_at <= $2
	`, id, cutoff.UTC())
	if err != nil {
		return false, fmt.Errorf("reclaim stale campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (s *Store) SaveDispatchProgress(ctx context.Context, id string, nextIndex int, lastSentAt *time.Time, sentCount int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns
		SET next_recipient_index = $2,
		    last_sent_at = COALESCE($3, last_sent_at),
		    sent_count = $4,
		    updated_at = NOW()
		WHERE id = $1
	`, id, nextIndex, lastSentAt, sentCount)
	if err != nil {
		return fmt.Errorf("save dispatch progress: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
