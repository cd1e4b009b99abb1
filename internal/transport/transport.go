// Package transport delivers rendered messages through a sender account.
package transport

import (
	"context"

	"github.com/mailspace/mailspace/internal/domain"
)

// Message is a fully-rendered email ready for delivery. By the time a
// message reaches this struct, all substitution and spintax expansion is
// complete and placeholder validation has passed.
type Message struct {
	To       string
	Subject  string
	HTMLBody string
}

// Mailer delivers one message through the given sender account. The
// dispatch engine owns retries; implementations should make exactly one
// delivery attempt per call.
type Mailer interface {
	Send(ctx context.Context, sender *domain.SenderAccount, msg *Message) error
}
