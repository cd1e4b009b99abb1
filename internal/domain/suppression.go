package domain

import "time"

// SuppressionReason enumerates why an address was suppressed.
type SuppressionReason string

const (
	ReasonUnsubscribe SuppressionReason = "unsubscribe"
	ReasonComplaint   SuppressionReason = "complaint"
	ReasonManual      SuppressionReason = "manual"
)

// SuppressionEntry marks an address that must never be mailed again.
// Entries accumulate from unsubscribes and manual additions; there is
// no expiry. Dispatch consults the set before every delivery.
type SuppressionEntry struct {
	Email     string            `json:"email" db:"email"`
	Reason    SuppressionReason `json:"reason" db:"reason"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
}
