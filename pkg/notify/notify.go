// Package notify delivers a single message to a single recipient over one
// transport. Channels never retry; callers decide what a failure means.
package notify

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

const (
	ChannelSMS   = "sms"
	ChannelPush  = "push"
	ChannelEmail = "email"
)

// ErrUnreachable is returned when the recipient has no address for the channel.
var ErrUnreachable = errors.New("recipient is not reachable on this channel")

type Recipient struct {
	UserID uuid.UUID
	Name   string
	Phone  string
	Email  string
}

type Message struct {
	Subject string
	Body    string
	// Data is the structured payload for channels that carry one.
	Data interface{}
}

type Channel interface {
	Name() string
	CanReach(r Recipient) bool
	Send(ctx context.Context, r Recipient, m Message) error
}
