package notify

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// Mailer sends one plain text email.
type Mailer interface {
	SendMail(ctx context.Context, to, subject, body string) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer opens a connection per message.
type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

func (m *SMTPMailer) message(to, subject, body string) *gomail.Message {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)
	return msg
}

func (m *SMTPMailer) SendMail(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.dialer.DialAndSend(m.message(to, subject, body)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

type EmailChannel struct {
	mailer Mailer
	logger *zap.Logger
}

func NewEmailChannel(mailer Mailer, logger *zap.Logger) *EmailChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailChannel{mailer: mailer, logger: logger}
}

func (c *EmailChannel) Name() string { return ChannelEmail }

func (c *EmailChannel) CanReach(r Recipient) bool { return strings.TrimSpace(r.Email) != "" }

func (c *EmailChannel) Send(ctx context.Context, r Recipient, m Message) error {
	if !c.CanReach(r) {
		return ErrUnreachable
	}
	if err := c.mailer.SendMail(ctx, r.Email, m.Subject, m.Body); err != nil {
		c.logger.Error("email send failed",
			zap.String("recipient_id", r.UserID.String()),
			zap.Error(err),
		)
		return err
	}
	c.logger.Info("email sent", zap.String("recipient_id", r.UserID.String()))
	return nil
}
