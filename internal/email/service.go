package email

import (
	"context"
	"fmt"
	"strings"

	"github.com/jwalitptl/alleraid-api/internal/model"
	"github.com/jwalitptl/alleraid-api/pkg/notify"
)

type Service interface {
	SendInvitation(ctx context.Context, inv *model.Invitation) error
}

type service struct {
	mailer notify.Mailer
	appURL string
}

// NewService sends invitation emails that point at appURL.
func NewService(mailer notify.Mailer, appURL string) Service {
	return &service{mailer: mailer, appURL: strings.TrimRight(appURL, "/")}
}

func (s *service) SendInvitation(ctx context.Context, inv *model.Invitation) error {
	subject := fmt.Sprintf("%s invited you to be their AllerAid buddy", inv.FromName)

	var b strings.Builder
	greeting := inv.ToName
	if greeting == "" {
		greeting = "there"
	}
	fmt.Fprintf(&b, "Hi %s,\n\n", greeting)
	fmt.Fprintf(&b, "%s (%s) would like you to be notified if they have an allergic emergency.\n", inv.FromName, inv.FromEmail)
	if inv.Message != "" {
		fmt.Fprintf(&b, "\n\"%s\"\n", inv.Message)
	}
	if s.appURL != "" {
		fmt.Fprintf(&b, "\nOpen %s/invitations to accept or decline.\n", s.appURL)
	}

	if err := s.mailer.SendMail(ctx, inv.ToEmail, subject, b.String()); err != nil {
		return fmt.Errorf("failed to send invitation email: %w", err)
	}
	return nil
}
