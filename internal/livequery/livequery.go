// Package livequery turns plain repository queries into snapshot streams.
// Writers announce changes on a topic; every live query listening on that
// topic re-runs and emits its full result set.
package livequery

import (
	"context"
	"time"

	"github.com/jwalitptl/alleraid-api/internal/registry"
	"github.com/jwalitptl/alleraid-api/pkg/logger"
	"github.com/jwalitptl/alleraid-api/pkg/messaging"
)

const (
	channelPrefix    = "changes:"
	resubscribeDelay = time.Second
	runTimeout       = 10 * time.Second
)

type change struct {
	Topic string `json:"topic"`
}

type Notifier struct {
	broker messaging.Broker
	logger *logger.Logger
}

func NewNotifier(broker messaging.Broker, log *logger.Logger) *Notifier {
	if log == nil {
		log = logger.Nop()
	}
	return &Notifier{broker: broker, logger: log}
}

// Notify announces a change on each topic. Failures are logged; live queries
// catch up on the next change.
func (n *Notifier) Notify(ctx context.Context, topics ...string) {
	for _, topic := range topics {
		if err := n.broker.Publish(ctx, channelPrefix+topic, change{Topic: topic}); err != nil {
			n.logger.Error(err, "failed to publish change", "topic", topic)
		}
	}
}

// Query builds a stream source that emits run's result once immediately and
// again after every change announced on topic.
func Query[T any](n *Notifier, topic string, run func(ctx context.Context) (T, error)) registry.Source[T] {
	return func(ctx context.Context, emit func(T)) {
		for {
			changes, err := n.broker.Subscribe(ctx, channelPrefix+topic)
			if err != nil {
				n.logger.Error(err, "failed to subscribe to changes", "topic", topic)
			} else {
				refresh(ctx, n, topic, run, emit)
				for range changes {
					refresh(ctx, n, topic, run, emit)
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(resubscribeDelay):
			}
		}
	}
}

func refresh[T any](ctx context.Context, n *Notifier, topic string, run func(context.Context) (T, error), emit func(T)) {
	if ctx.Err() != nil {
		return
	}
	runCtx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	result, err := run(runCtx)
	if err != nil {
		n.logger.Error(err, "live query failed", "topic", topic)
		return
	}
	emit(result)
}

// Change topics written by the services.
func AlertTopic(alertID string) string { return "alert:" + alertID }
func AlertsForRecipientTopic(userID string) string { return "alerts:recipient:" + userID }
func InvitationsForEmailTopic(email string) string { return "invitations:email:" + email }
func RelationsForUserTopic(userID string) string { return "relations:user:" + userID }
