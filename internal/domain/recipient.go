package domain

import "time"

// RecipientProfile maps a normalized email address to personalization
// data. Dispatch refuses to send to an address with no profile, so the
// profile store is effectively the opt-in registry.
type RecipientProfile struct {
	Email     string    `json:"email" db:"email"`
	FirstName string    `json:"first_name" db:"first_name"`
	LastName  string    `json:"last_name" db:"last_name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
