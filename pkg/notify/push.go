package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jwalitptl/alleraid-api/pkg/messaging"
)

const pushMessageType = "push_notification"

// PushTopic is the broker channel a device session listens on.
func PushTopic(userID uuid.UUID) string { return "push:" + userID.String() }

type pushPayload struct {
	Title string      `json:"title"`
	Body  string      `json:"body"`
	Data  interface{} `json:"data,omitempty"`
}

// PushChannel hands push notifications to the broker; device gateways
// subscribed to the user's topic deliver them.
type PushChannel struct {
	broker messaging.Broker
	logger *zap.Logger
}

func NewPushChannel(broker messaging.Broker, logger *zap.Logger) *PushChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PushChannel{broker: broker, logger: logger}
}

func (c *PushChannel) Name() string { return ChannelPush }

func (c *PushChannel) CanReach(r Recipient) bool { return r.UserID != uuid.Nil }

func (c *PushChannel) Send(ctx context.Context, r Recipient, m Message) error {
	if !c.CanReach(r) {
		return ErrUnreachable
	}

	msg := messaging.Message{
		Type:    pushMessageType,
		Payload: pushPayload{Title: m.Subject, Body: m.Body, Data: m.Data},
	}
	if err := c.broker.Publish(ctx, PushTopic(r.UserID), msg); err != nil {
		c.logger.Error("push publish failed",
			zap.String("recipient_id", r.UserID.String()),
			zap.Error(err),
		)
		return fmt.Errorf("failed to publish push notification: %w", err)
	}

	c.logger.Debug("push published", zap.String("recipient_id", r.UserID.String()))
	return nil
}
