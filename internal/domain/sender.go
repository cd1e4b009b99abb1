package domain

import (
	"time"
)

// SenderAccount is an SMTP (or SES) identity with a daily sending quota.
// SentToday only ever moves up within a day; the only thing that lowers it
// is the daily reset, which zeroes it when LastReset falls on an earlier
// UTC calendar day than now.
type SenderAccount struct {
	ID        string `json:"id" db:"id"`
	Host      string `json:"host" db:"host"`
	Port      int    `json:"port" db:"port"`
	Username  string `json:"username" db:"username"`
	// Password is stored encrypted at rest. Decryption happens only at
	// the moment a connection is opened.
	Password  string `json:"-" db:"password"`
	FromName  string `json:"from_name" db:"from_name"`
	FromEmail string `json:"from_email" db:"from_email"`

	DailyLimit int        `json:"daily_limit" db:"daily_limit"`
	SentToday  int        `json:"sent_today" db:"sent_today"`
	LastReset  time.Time  `json:"last_reset" db:"last_reset"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// dayKey is the UTC calendar-date form used for reset comparisons.
const dayKey = "2006-01-02"

// NeedsDailyReset reports whether the account's counter belongs to an
// earlier UTC day than now. Comparing formatted dates rather than a 24h
// delta makes the reset idempotent: once LastReset is stamped with
// today's date, further checks on the same day are no-ops.
func (s *SenderAccount) NeedsDailyReset(now time.Time) bool {
	return s.LastReset.UTC().Format(dayKey) != now.UTC().Format(dayKey)
}

// QuotaExhausted reports whether the account has no quota left today.
func (s *SenderAccount) QuotaExhausted() bool {
	return s.SentToday >= s.DailyLimit
}

// Remaining returns how many more messages the account may send today.
func (s *SenderAccount) Remaining() int {
	if s.SentToday >= s.DailyLimit {
		return 0
	}
	return s.DailyLimit - s.SentToday
}
