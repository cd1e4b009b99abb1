package domain

import "time"

// OutcomeReason tags the result of processing one recipient during a
// dispatch run. Exactly one reason applies per recipient.
type OutcomeReason string

const (
	OutcomeDelivered              OutcomeReason = "delivered"
	OutcomeSuppressed             OutcomeReason = "suppressed"
	OutcomeProfileNotFound        OutcomeReason = "profile_not_found"
	OutcomeUnresolvedPlaceholders OutcomeReason = "unresolved_placeholders"
	OutcomeQuotaExceeded          OutcomeReason = "quota_exceeded"
	OutcomeDeliveryFailed         OutcomeReason = "delivery_failed"
)

// DispatchOutcome records what happened to a single recipient.
type DispatchOutcome struct {
	Recipient string        `json:"recipient"`
	SenderID  string        `json:"sender_id,omitempty"`
	Reason    OutcomeReason `json:"reason"`
	Attempts  int           `json:"attempts"`
	Error     string        `json:"error,omitempty"`
	At        time.Time     `json:"at"`
}

// Delivered reports whether the message actually went out.
func (o DispatchOutcome) Delivered() bool {
	return o.Reason == OutcomeDelivered
}

// DispatchReport aggregates the outcomes of one dispatch run.
type DispatchReport struct {
	CampaignID string            `json:"campaign_id"`
	Outcomes   []DispatchOutcome `json:"outcomes"`
	Sent       int               `json:"sent"`
	Skipped    int               `json:"skipped"`
	Failed     int               `json:"failed"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

// Add appends an outcome and updates the aggregate counters.
func (r *DispatchReport) Add(o DispatchOutcome) {
	r.Outcomes = append(r.Outcomes, o)
	switch o.Reason {
	case OutcomeDelivered:
		r.Sent++
	case OutcomeDeliveryFailed:
		r.Failed++
	default:
		r.Skipped++
	}
}
