package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// SMTPMailer sends email through a plain SMTP relay. Used as the fallback
// provider when SES is not configured.
type SMTPMailer struct {
	cfg    SMTPConfig
	logger *zap.Logger
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

func NewSMTPMailer(cfg SMTPConfig, logger *zap.Logger) *SMTPMailer {
	if cfg.Port == 0 {
		cfg.Port = 587
	}

	return &SMTPMailer{
		cfg:    cfg,
		logger: logger,
	}
}

// Send sends one email over SMTP
func (s *SMTPMailer) Send(ctx context.Context, msg EmailMessage) error {
	if msg.To == "" {
		return fmt.Errorf("email message missing 'to' address")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", msg.From)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)

	d := gomail.NewDialer(s.cfg.Host, s.cfg.Port, s.cfg.Username, s.cfg.Password)

	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}

	s.logger.Info("email sent via SMTP",
		zap.String("to", msg.To),
		zap.String("host", s.cfg.Host),
	)

	return nil
}
