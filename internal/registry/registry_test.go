package registry

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/alleraid-api/pkg/metrics"
)

type fakeSource struct {
	starts  atomic.Int32
	stopped chan struct{}
	emitCh  chan func(int)
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		stopped: make(chan struct{}, 10),
		emitCh:  make(chan func(int), 10),
	}
}

func (f *fakeSource) source(ctx context.Context, emit func(int)) {
	f.starts.Add(1)
	f.emitCh <- emit
	<-ctx.Done()
	f.stopped <- struct{}{}
}

func (f *fakeSource) emitter(t *testing.T) func(int) {
	t.Helper()
	select {
	case emit := <-f.emitCh:
		return emit
	case <-time.After(time.Second):
		t.Fatal("source was not started")
		return nil
	}
}

func receive(t *testing.T, ch <-chan int) int {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		t.Fatal("no value received")
		return 0
	}
}

func TestRegistrySharesOneUpstream(t *testing.T) {
	r := New[int](nil)
	src := newFakeSource()
	key := AlertsForBuddyKey("b1")

	ch1, unsub1 := r.Subscribe(key, src.source)
	emit := src.emitter(t)
	emit(1)
	assert.Equal(t, 1, receive(t, ch1))

	ch2, unsub2 := r.Subscribe(key, src.source)
	assert.Equal(t, 1, receive(t, ch2), "late subscriber gets latest snapshot")

	assert.Equal(t, int32(1), src.starts.Load())
	assert.Equal(t, 2, r.Subscribers(key))
	assert.Equal(t, 1, r.Len())

	emit(2)
	assert.Equal(t, 2, receive(t, ch1))
	assert.Equal(t, 2, receive(t, ch2))

	unsub1()
	assert.True(t, r.Active(key), "stream stays up while a subscriber remains")
	select {
	case <-src.stopped:
		t.Fatal("upstream stopped too early")
	default:
	}

	unsub2()
	assert.False(t, r.Active(key))
	assert.Equal(t, 0, r.Len())
	select {
	case <-src.stopped:
	case <-time.After(time.Second):
		t.Fatal("upstream not torn down after last unsubscribe")
	}

	_, ok := <-ch1
	assert.False(t, ok)
}

func TestRegistryUnsubscribeIsIdempotent(t *testing.T) {
	r := New[int](nil)
	src := newFakeSource()
	key := RelationsForUserKey("u1")

	_, unsub1 := r.Subscribe(key, src.source)
	_, unsub2 := r.Subscribe(key, src.source)
	src.emitter(t)

	unsub1()
	unsub1()
	assert.Equal(t, 1, r.Subscribers(key))
	assert.True(t, r.Active(key))

	unsub2()
	assert.False(t, r.Active(key))
}

func TestRegistryRestartsAfterTeardown(t *testing.T) {
	r := New[int](nil)
	src := newFakeSource()
	key := InvitationsForEmailKey("a@example.com")

	_, unsub := r.Subscribe(key, src.source)
	src.emitter(t)
	unsub()
	<-src.stopped

	ch, unsub := r.Subscribe(key, src.source)
	defer unsub()
	emit := src.emitter(t)
	assert.Equal(t, int32(2), src.starts.Load())

	emit(7)
	assert.Equal(t, 7, receive(t, ch))
}

func TestRegistryKeepsLatestForSlowReader(t *testing.T) {
	r := New[int](nil)
	src := newFakeSource()
	key := AlertKey("a1")

	ch, unsub := r.Subscribe(key, src.source)
	defer unsub()
	emit := src.emitter(t)

	emit(1)
	emit(2)
	emit(3)
	assert.Equal(t, 3, receive(t, ch))
}

func TestRegistryGaugeAndClose(t *testing.T) {
	m := metrics.NewNop()
	r := New[int](nil, WithGauge[int](m.LiveSubscriptions))
	src := newFakeSource()

	ch, _ := r.Subscribe(AlertKey("a"), src.source)
	src.emitter(t)
	_, _ = r.Subscribe(AlertKey("b"), src.source)
	src.emitter(t)
	require.Equal(t, 2, r.Len())

	r.Close()
	assert.Equal(t, 0, r.Len())
	_, ok := <-ch
	assert.False(t, ok)
}
