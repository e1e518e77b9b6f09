package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBrokerPublishSubscribe(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := b.Subscribe(ctx, "alerts")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "alerts", Message{Type: "ALERT_CREATED", Payload: "x"}))
	require.NoError(t, b.Publish(ctx, "other", "ignored"))

	select {
	case msg := <-ch:
		assert.JSONEq(t, `{"type":"ALERT_CREATED","payload":"x"}`, string(msg))
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
}

func TestMemoryBrokerUnsubscribeOnCancel(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := b.Subscribe(ctx, "alerts")
	require.NoError(t, err)

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestMemoryBrokerClosed(t *testing.T) {
	b := NewMemoryBroker()
	require.NoError(t, b.Close())

	assert.ErrorIs(t, b.Publish(context.Background(), "a", 1), ErrBrokerClosed)
	_, err := b.Subscribe(context.Background(), "a")
	assert.ErrorIs(t, err, ErrBrokerClosed)
}
