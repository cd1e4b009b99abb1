package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"net/smtp"
	"time"

	"github.com/google/uuid"
	"github.com/mailspace/mailspace/internal/domain"
	"github.com/mailspace/mailspace/internal/pkg/logger"
	"github.com/mailspace/mailspace/internal/pkg/secrets"
)

// SMTPMailer sends through each sender account's own SMTP server.
// Credentials are decrypted per send; nothing is cached between calls
// because consecutive recipients usually rotate across accounts.
type SMTPMailer struct {
	box         *secrets.Box
	dialTimeout time.Duration
}

// NewSMTPMailer creates an SMTP mailer. box may be nil when passwords
// are stored in the clear.
func NewSMTPMailer(box *secrets.Box, dialTimeout time.Duration) *SMTPMailer {
	if dialTimeout == 0 {
		dialTimeout = 30 * time.Second
	}
	return &SMTPMailer{box: box, dialTimeout: dialTimeout}
}

// Send performs a single SMTP transaction with the sender's server.
func (m *SMTPMailer) Send(ctx context.Context, sender *domain.SenderAccount, msg *Message) error {
	if sender.Host == "" {
		return fmt.Errorf("sender %s has no SMTP host", sender.ID)
	}

	password := sender.Password
	if m.box != nil && password != "" {
		decrypted, err := m.box.Decrypt(password)
		if err != nil {
			return fmt.Errorf("decrypting credentials for %s: %w", sender.ID, err)
		}
		password = decrypted
	}

	messageID := fmt.Sprintf("%s@mailspace", uuid.New().String())

	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("From: %s <%s>\r\n", sender.FromName, sender.FromEmail))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", msg.To))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", msg.Subject))
	buf.WriteString(fmt.Sprintf("Message-ID: <%s>\r\n", messageID))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(msg.HTMLBody)
	buf.WriteString("\r\n")

	addr := fmt.Sprintf("%s:%d", sender.Host, sender.Port)
	if err := m.sendSMTP(ctx, addr, sender.Host, sender.Username, password, sender.FromEmail, msg.To, buf.Bytes()); err != nil {
		return fmt.Errorf("SMTP send via %s: %w", sender.Host, err)
	}

	logger.Info("smtp delivered", "recipient", msg.To, "sender_id", sender.ID, "message_id", messageID)
	return nil
}

// sendSMTP performs the raw SMTP transaction. STARTTLS is used when the
// server offers it; AUTH runs only when credentials are configured.
func (m *SMTPMailer) sendSMTP(ctx context.Context, addr, host, username, password, from, to string, payload []byte) error {
	dialer := &net.Dialer{Timeout: m.dialTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("SMTP connect to %s: %w", addr, err)
	}
	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("SMTP client: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsCfg := &tls.Config{ServerName: host}
		if tlsErr := client.StartTLS(tlsCfg); tlsErr != nil {
			log.Printf("[SMTP] STARTTLS failed (continuing without TLS): %v", tlsErr)
		}
	}

	if username != "" && password != "" {
		if err := client.Auth(&plainAuth{user: username, pass: password}); err != nil {
			return fmt.Errorf("AUTH: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("RCPT TO: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("DATA close: %w", err)
	}
	return client.Quit()
}

// plainAuth implements smtp.Auth without the TLS requirement that
// stdlib's PlainAuth enforces. Submission ports on private relays often
// run without TLS.
type plainAuth struct {
	user, pass string
}

func (a *plainAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	resp := []byte("\x00" + a.user + "\x00" + a.pass)
	return "PLAIN", resp, nil
}

func (a *plainAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	return nil, nil
}
