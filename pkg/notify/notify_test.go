package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jwalitptl/alleraid-api/pkg/messaging"
)

func TestSMSChannelSend(t *testing.T) {
	var got smsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg-1","status":"queued"}`))
	}))
	defer srv.Close()

	ch := NewSMSChannel(SMSConfig{BaseURL: srv.URL, APIKey: "secret", Sender: "AllerAid"}, zap.NewNop())
	err := ch.Send(context.Background(), Recipient{UserID: uuid.New(), Phone: "+15550100"}, Message{Body: "help"})
	require.NoError(t, err)

	assert.Equal(t, "AllerAid", got.From)
	assert.Equal(t, "+15550100", got.To)
	assert.Equal(t, "help", got.Text)
}

func TestSMSChannelGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"carrier down"}`))
	}))
	defer srv.Close()

	ch := NewSMSChannel(SMSConfig{BaseURL: srv.URL}, nil)
	err := ch.Send(context.Background(), Recipient{Phone: "+15550100"}, Message{Body: "help"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "carrier down")
}

func TestSMSChannelRequiresPhone(t *testing.T) {
	ch := NewSMSChannel(SMSConfig{BaseURL: "http://127.0.0.1:1"}, nil)
	assert.False(t, ch.CanReach(Recipient{UserID: uuid.New()}))
	assert.ErrorIs(t, ch.Send(context.Background(), Recipient{}, Message{}), ErrUnreachable)
}

func TestPushChannelPublishesToUserTopic(t *testing.T) {
	broker := messaging.NewMemoryBroker()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	user := uuid.New()
	msgs, err := broker.Subscribe(ctx, PushTopic(user))
	require.NoError(t, err)

	ch := NewPushChannel(broker, zap.NewNop())
	require.NoError(t, ch.Send(ctx, Recipient{UserID: user}, Message{
		Subject: "Emergency",
		Body:    "Ana needs help",
		Data:    map[string]string{"alert_id": "a1"},
	}))

	select {
	case raw := <-msgs:
		var env struct {
			Type    string      `json:"type"`
			Payload pushPayload `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(raw, &env))
		assert.Equal(t, pushMessageType, env.Type)
		assert.Equal(t, "Emergency", env.Payload.Title)
		assert.Equal(t, "Ana needs help", env.Payload.Body)
	case <-time.After(time.Second):
		t.Fatal("push not published")
	}
}

func TestPushChannelBrokerClosed(t *testing.T) {
	broker := messaging.NewMemoryBroker()
	require.NoError(t, broker.Close())

	ch := NewPushChannel(broker, nil)
	err := ch.Send(context.Background(), Recipient{UserID: uuid.New()}, Message{})
	assert.ErrorIs(t, err, messaging.ErrBrokerClosed)
}

type fakeMailer struct {
	to, subject, body string
	err               error
}

func (f *fakeMailer) SendMail(ctx context.Context, to, subject, body string) error {
	f.to, f.subject, f.body = to, subject, body
	return f.err
}

func TestEmailChannel(t *testing.T) {
	mailer := &fakeMailer{}
	ch := NewEmailChannel(mailer, zap.NewNop())

	require.NoError(t, ch.Send(context.Background(), Recipient{Email: "bo@example.com"}, Message{Subject: "s", Body: "b"}))
	assert.Equal(t, "bo@example.com", mailer.to)
	assert.Equal(t, "s", mailer.subject)

	mailer.err = errors.New("smtp down")
	assert.EqualError(t, ch.Send(context.Background(), Recipient{Email: "bo@example.com"}, Message{}), "smtp down")
	assert.ErrorIs(t, ch.Send(context.Background(), Recipient{}, Message{}), ErrUnreachable)
}

func TestSMTPMailerMessage(t *testing.T) {
	m := NewSMTPMailer(SMTPConfig{Host: "localhost", Port: 25, From: "alerts@example.com"})
	msg := m.message("bo@example.com", "Invitation", "join me")

	assert.Equal(t, []string{"alerts@example.com"}, msg.GetHeader("From"))
	assert.Equal(t, []string{"bo@example.com"}, msg.GetHeader("To"))
	assert.Equal(t, []string{"Invitation"}, msg.GetHeader("Subject"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.SendMail(ctx, "bo@example.com", "s", "b"), context.Canceled)
}
