package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mailspace/mailspace/internal/domain"
	"github.com/mailspace/mailspace/internal/store"
)

// Recipient profiles and the suppression set. Both are keyed by
// normalized email.

func (s *Store) UpsertProfile(ctx context.Context, p *domain.RecipientProfile) error {
	p.Email = domain.NormalizeEmail(p.Email)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recipient_profiles (email, first_name, last_name, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (email) DO UPDATE
		SET first_name = EXCLUDED.first_name,
		    last_name = EXCLUDED.last_name,
		    updated_at = NOW()
	`, p.Email, p.FirstName, p.LastName)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

func (s *Store) GetProfile(ctx context.Context, email string) (*domain.RecipientProfile, error) {
	p := &domain.RecipientProfile{}
	err := s.db.QueryRowContext(ctx, `
		SELECT email, first_name, last_name, created_at, updated_at
		FROM recipient_profiles WHERE email = $1
	`, domain.NormalizeEmail(email)).Scan(
		&p.Email, &p.FirstName, &p.LastName, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

func (s *Store) ListProfiles(ctx context.Context) ([]domain.RecipientProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT email, first_name, last_name, created_at, updated_at
		FROM recipient_profiles ORDER BY email ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var out []domain.RecipientProfile
	for rows.Next() {
		var p domain.RecipientProfile
		if err := rows.Scan(&p.Email, &p.FirstName, &p.LastName, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) DeleteProfile(ctx context.Context, email string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM recipient_profiles WHERE email = $1`, domain.NormalizeEmail(email))
	if err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Suppress(ctx context.Context, e *domain.SuppressionEntry) error {
	e.Email = domain.NormalizeEmail(e.Email)
	if e.Reason == "" {
		e.Reason = domain.ReasonManual
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppressions (email, reason, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (email) DO NOTHING
	`, e.Email, e.Reason)
	if err != nil {
		return fmt.Errorf("suppress: %w", err)
	}
	return nil
}

func (s *Store) IsSuppressed(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM suppressions WHERE email = $1)`,
		domain.NormalizeEmail(email)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check suppression: %w", err)
	}
	return exists, nil
}

func (s *Store) ListSuppressions(ctx context.Context) ([]domain.SuppressionEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT email, reason, created_at FROM suppressions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list suppressions: %w", err)
	}
	defer rows.Close()

	var out []domain.SuppressionEntry
	for rows.Next() {
		var e domain.SuppressionEntry
		if err := rows.Scan(&e.Email, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan suppression: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Unsuppress(ctx context.Context, email string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM suppressions WHERE email = $1`, domain.NormalizeEmail(email))
	if err != nil {
		return fmt.Errorf("unsuppress: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
