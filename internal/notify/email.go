package notify

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"

	"cloudsql-report-agent/internal/report"
)

type Mailer interface {
	Send(ctx context.Context, e report.Email) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	From     string
	To       string
	Password string
}

// SMTPMailer sends plain-text mail over STARTTLS with PLAIN auth as the sender.
type SMTPMailer struct {
	cfg SMTPConfig
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

func (m *SMTPMailer) Send(ctx context.Context, e report.Email) error {
	msg, err := m.message(e)
	if err != nil {
		return err
	}
	client, err := mail.NewClient(m.cfg.Host,
		mail.WithPort(m.cfg.Port),
		mail.WithTLSPolicy(mail.TLSMandatory),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(m.cfg.From),
		mail.WithPassword(m.cfg.Password),
	)
	if err != nil {
		return fmt.Errorf("smtp client %s:%d: %w", m.cfg.Host, m.cfg.Port, err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send to %s: %w", m.cfg.To, err)
	}
	return nil
}

func (m *SMTPMailer) message(e report.Email) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return nil, fmt.Errorf("email from %q: %w", m.cfg.From, err)
	}
	if err := msg.To(m.cfg.To); err != nil {
		return nil, fmt.Errorf("email to %q: %w", m.cfg.To, err)
	}
	msg.Subject(e.Subject)
	msg.SetBodyString(mail.TypeTextPlain, e.Body)
	return msg, nil
}
