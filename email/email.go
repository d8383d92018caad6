// Package email sends account-activation mail. Message construction is
// separated from transport so it can be tested without an SMTP server.
package email

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"net/url"
	"strings"
)

// Sender delivers activation mail. The service depends on this
// interface; tests substitute a recording fake.
type Sender interface {
	SendActivationEmail(ctx context.Context, to, activationCode string) error
}

// SMTPConfig configures the SMTP transport.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string

	// BaseURL is the public base URL of the service, used to build
	// activation links, e.g. "https://sso.example.com".
	BaseURL string
}

// SMTPSender sends activation mail over plain SMTP with AUTH PLAIN.
type SMTPSender struct {
	cfg    SMTPConfig
	logger *slog.Logger
}

var _ Sender = (*SMTPSender)(nil)

// NewSMTPSender creates an SMTP-backed sender.
func NewSMTPSender(cfg SMTPConfig, logger *slog.Logger) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("smtp port is required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("smtp from address is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTPSender{cfg: cfg, logger: logger}, nil
}

// SendActivationEmail mails an activation link to the given address.
// The context is accepted for interface symmetry; net/smtp has no
// context support and relies on its own connection timeouts.
func (s *SMTPSender) SendActivationEmail(_ context.Context, to, activationCode string) error {
	msg := buildActivationMessage(s.cfg.From, to, activationLink(s.cfg.BaseURL, activationCode))

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	if err := smtp.SendMail(addr, auth, s.cfg.From, []string{to}, msg); err != nil {
		return fmt.Errorf("failed to send activation email: %w", err)
	}

	s.logger.Info("Activation email sent", "to", to)
	return nil
}

// activationLink builds the link embedded in the mail. The code is a
// signed token and must be query-escaped.
func activationLink(baseURL, activationCode string) string {
	return fmt.Sprintf("%s/activate?activation_code=%s",
		strings.TrimRight(baseURL, "/"), url.QueryEscape(activationCode))
}

func buildActivationMessage(from, to, link string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: Activate your account\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString("Welcome!\r\n\r\n")
	b.WriteString("Open the link below to activate your account. The link expires in 15 minutes.\r\n\r\n")
	b.WriteString(link + "\r\n")
	return []byte(b.String())
}
