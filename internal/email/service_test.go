package email

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/alleraid-api/internal/model"
)

type captureMailer struct {
	to, subject, body string
	err               error
}

func (m *captureMailer) SendMail(ctx context.Context, to, subject, body string) error {
	m.to, m.subject, m.body = to, subject, body
	return m.err
}

func TestSendInvitation(t *testing.T) {
	mailer := &captureMailer{}
	svc := NewService(mailer, "https://app.alleraid.test/")

	err := svc.SendInvitation(context.Background(), &model.Invitation{
		FromName:  "Ana",
		FromEmail: "ana@example.com",
		ToEmail:   "bo@example.com",
		ToName:    "Bo",
		Message:   "please",
	})
	require.NoError(t, err)

	assert.Equal(t, "bo@example.com", mailer.to)
	assert.Equal(t, "Ana invited you to be their AllerAid buddy", mailer.subject)
	assert.Contains(t, mailer.body, "Hi Bo")
	assert.Contains(t, mailer.body, "\"please\"")
	assert.Contains(t, mailer.body, "https://app.alleraid.test/invitations")
}

func TestSendInvitationMailerError(t *testing.T) {
	svc := NewService(&captureMailer{err: errors.New("smtp down")}, "")
	err := svc.SendInvitation(context.Background(), &model.Invitation{ToEmail: "bo@example.com"})
	assert.ErrorContains(t, err, "smtp down")
}
