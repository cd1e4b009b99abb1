package domain

import (
	"strings"
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
// Transitions are one-way: scheduled -> processing -> sent.
type CampaignStatus string

const (
	CampaignScheduled  CampaignStatus = "scheduled"
	CampaignProcessing CampaignStatus = "processing"
	CampaignSent       CampaignStatus = "sent"
)

// Campaign represents a bulk email campaign with its content, recipient
// list, sender pool and delivery schedule.
type Campaign struct {
	ID       string `json:"id" db:"id"`
	Name     string `json:"name" db:"name"`
	Subject  string `json:"subject" db:"subject"`
	Body     string `json:"body" db:"body"`

	// Recipients holds raw recipient addresses as submitted. Dedup and
	// normalization happen at dispatch time so the stored list remains
	// an audit trail of what was requested.
	Recipients []string `json:"recipients" db:"-"`

	// SenderIDs is the ordered pool of sender accounts. Ordering matters:
	// recipient i is always delivered through SenderIDs[i % len(SenderIDs)].
	SenderIDs []string `json:"sender_ids" db:"-"`

	Status   CampaignStatus `json:"status" db:"status"`
	SendAt   time.Time      `json:"send_at" db:"send_at"`
	Timezone string         `json:"timezone" db:"timezone"`

	// NextRecipientIndex is the resume cursor. A dispatch run starts at
	// this offset into the deduplicated recipient list, so an interrupted
	// campaign never re-delivers to recipients already handled.
	NextRecipientIndex int        `json:"next_recipient_index" db:"next_recipient_index"`
	LastSentAt         *time.Time `json:"last_sent_at" db:"last_sent_at"`
	SentCount          int        `json:"sent_count" db:"sent_count"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the campaign is in a final state.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignSent
}

// Due reports whether the campaign is ready for dispatch at the given
// instant. SendAt is stored in UTC regardless of the display timezone.
func (c *Campaign) Due(now time.Time) bool {
	return c.Status == CampaignScheduled && !c.SendAt.After(now.UTC())
}

// NormalizeEmail canonicalizes an address for identity comparison:
// trimmed and lowercased. All recipient, profile and suppression lookups
// go through this so the same mailbox never appears under two spellings.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// DedupeRecipients normalizes a raw recipient list and drops duplicates,
// keeping first-occurrence order.
func DedupeRecipients(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		email := NormalizeEmail(r)
		if email == "" {
			continue
		}
		if _, dup := seen[email]; dup {
			continue
		}
		seen[email] = struct{}{}
		out = append(out, email)
	}
	return out
}
