package livequery

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/alleraid-api/internal/registry"
	"github.com/jwalitptl/alleraid-api/pkg/messaging"
)

func next(t *testing.T, ch <-chan int) int {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot received")
		return 0
	}
}

func TestQueryEmitsInitialSnapshotAndReruns(t *testing.T) {
	broker := messaging.NewMemoryBroker()
	defer broker.Close()
	n := NewNotifier(broker, nil)

	var counter atomic.Int32
	run := func(ctx context.Context) (int, error) {
		return int(counter.Load()), nil
	}

	reg := registry.New[int](nil)
	defer reg.Close()
	topic := AlertTopic("a1")

	ch, unsub := reg.Subscribe(registry.AlertKey("a1"), Query(n, topic, run))
	defer unsub()
	assert.Equal(t, 0, next(t, ch))

	counter.Store(5)
	n.Notify(context.Background(), topic)
	assert.Equal(t, 5, next(t, ch))

	counter.Store(9)
	n.Notify(context.Background(), AlertTopic("other"))
	select {
	case v := <-ch:
		t.Fatalf("unexpected snapshot %d for unrelated topic", v)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestQuerySkipsFailedRuns(t *testing.T) {
	broker := messaging.NewMemoryBroker()
	defer broker.Close()
	n := NewNotifier(broker, nil)

	var fail atomic.Bool
	fail.Store(true)
	run := func(ctx context.Context) (int, error) {
		if fail.Load() {
			return 0, errors.New("store down")
		}
		return 42, nil
	}

	reg := registry.New[int](nil)
	defer reg.Close()
	topic := RelationsForUserTopic("u1")
	ch, unsub := reg.Subscribe(registry.RelationsForUserKey("u1"), Query(n, topic, run))
	defer unsub()

	fail.Store(false)
	require.Eventually(t, func() bool {
		n.Notify(context.Background(), topic)
		select {
		case v := <-ch:
			return v == 42
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNotifyLogsPublishFailure(t *testing.T) {
	broker := messaging.NewMemoryBroker()
	require.NoError(t, broker.Close())
	n := NewNotifier(broker, nil)

	assert.NotPanics(t, func() {
		n.Notify(context.Background(), InvitationsForEmailTopic("x@example.com"))
	})
}
