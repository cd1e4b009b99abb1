package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mailspace/mailspace/internal/domain"
	"github.com/mailspace/mailspace/internal/store"
)

const senderCols = `id, host, port, username, password, from_name, from_email,
	daily_limit, sent_today, last_reset, created_at, updated_at`

func scanSender(row interface{ Scan(...any) error }) (*domain.SenderAccount, error) {
	a := &domain.SenderAccount{}
	err := row.Scan(
		&a.ID, &a.Host, &a.Port, &a.Username, &a.Password, &a.FromName, &a.FromEmail,
		&a.DailyLimit, &a.SentToday, &a.LastReset, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Store) CreateSender(ctx context.Context, a *domain.SenderAccount) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.LastReset.IsZero() {
		a.LastReset = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sender_accounts
			(id, host, port, username, password, from_name, from_email,
			 daily_limit, sent_today, last_reset, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
	`, a.ID, a.Host, a.Port, a.Username, a.Password, a.FromName, a.FromEmail,
		a.DailyLimit, a.SentToday, a.LastReset)
	if err != nil {
		return fmt.Errorf("create sender: %w", err)
	}
	return nil
}

func (s *Store) GetSender(ctx context.Context, id string) (*domain.SenderAccount, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+senderCols+` FROM sender_accounts WHERE id = $1`, id)
	a, err := scanSender(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sender: %w", err)
	}
	return a, nil
}

func (s *Store) ListSenders(ctx context.Context) ([]domain.SenderAccount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+senderCols+` FROM sender_accounts ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list senders: %w", err)
	}
	defer rows.Close()

	var out []domain.SenderAccount
	for rows.Next() {
		a, err := scanSender(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sender: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *Store) UpdateSender(ctx context.Context, a *domain.SenderAccount) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sender_accounts
		SET host = $2, port = $3, username = $4, password = $5,
		    from_name = $6, from_email = $7, daily_limit = $8, updated_at = NOW()
		WHERE id = $1
	`, a.ID, a.Host, a.Port, a.Username, a.Password, a.FromName, a.FromEmail, a.DailyLimit)
	if err != nil {
		return fmt.Errorf("update sender: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteSender(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sender_accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete sender: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ResetQuotaIfNewDay zeroes the counter only when last_reset falls on an
// earlier UTC day. The date comparison runs inside the UPDATE, so
// concurrent callers reset at most once per day.
func (s *Store) ResetQuotaIfNewDay(ctx context.Context, id string, now time.Time) (*domain.SenderAccount, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sender_accounts
		SET sent_today = 0, last_reset = $2, updated_at = NOW()
		WHERE id = $1
		  AND (last_reset AT TIME ZONE 'UTC')::date < ($2 AT TIME ZONE 'UTC')::date
	`, id, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("reset quota: %w", err)
	}
	return s.GetSender(ctx, id)
}

func (s *Store) IncrementSentCount(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sender_accounts
		SET sent_today = sent_today + 1, updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("increment sent count: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ResetAllQuotas(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sender_accounts
		SET sent_today = 0, last_reset = $1, updated_at = NOW()
	`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("reset all quotas: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
