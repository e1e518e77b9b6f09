// Package registry guards real-time streams so that at most one upstream
// stream runs per key, shared by every local subscriber of that key.
package registry

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/alleraid-api/pkg/logger"
)

// Source runs an upstream stream until ctx is cancelled, calling emit with
// every new snapshot.
type Source[T any] func(ctx context.Context, emit func(T))

// Unsubscribe releases one subscription. Calling it more than once is a no-op.
type Unsubscribe func()

type Registry[T any] struct {
	mu      sync.Mutex
	entries map[string]*entry[T]
	logger  *logger.Logger
	gauge   prometheus.Gauge
}

type entry[T any] struct {
	key     string
	cancel  context.CancelFunc
	subs    map[uint64]chan T
	nextID  uint64
	last    T
	hasLast bool
}

type Option[T any] func(*Registry[T])

// WithGauge tracks the number of live upstream streams.
func WithGauge[T any](g prometheus.Gauge) Option[T] {
	return func(r *Registry[T]) { r.gauge = g }
}

func New[T any](log *logger.Logger, opts ...Option[T]) *Registry[T] {
	if log == nil {
		log = logger.Nop()
	}
	r := &Registry[T]{
		entries: make(map[string]*entry[T]),
		logger:  log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe attaches a subscriber to key, starting source only if no stream is
// running for key yet. A late subscriber receives the latest snapshot first.
// The returned channel always holds the most recent snapshot; intermediate
// snapshots may be skipped by slow readers.
func (r *Registry[T]) Subscribe(key string, source Source[T]) (<-chan T, Unsubscribe) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		e = &entry[T]{
			key:    key,
			cancel: cancel,
			subs:   make(map[uint64]chan T),
		}
		r.entries[key] = e
		if r.gauge != nil {
			r.gauge.Inc()
		}
		r.logger.Debug("starting live stream", "key", key)
		go source(ctx, func(v T) { r.emit(e, v) })
	}

	id := e.nextID
	e.nextID++
	ch := make(chan T, 1)
	e.subs[id] = ch
	if e.hasLast {
		ch <- e.last
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() { r.release(e, id) })
	}
}

func (r *Registry[T]) emit(e *entry[T], v T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.entries[e.key] != e {
		return
	}
	e.last = v
	e.hasLast = true
	for _, ch := range e.subs {
		offerLatest(ch, v)
	}
}

func (r *Registry[T]) release(e *entry[T], id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := e.subs[id]
	if !ok {
		return
	}
	delete(e.subs, id)
	close(ch)

	if len(e.subs) > 0 || r.entries[e.key] != e {
		return
	}
	delete(r.entries, e.key)
	e.cancel()
	if r.gauge != nil {
		r.gauge.Dec()
	}
	r.logger.Debug("stopped live stream", "key", e.key)
}

// Active reports whether an upstream stream is running for key.
func (r *Registry[T]) Active(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[key]
	return ok
}

func (r *Registry[T]) Subscribers(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[key]; ok {
		return len(e.subs)
	}
	return 0
}

// Len returns the number of running upstream streams.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close tears down every stream and closes all subscriber channels.
func (r *Registry[T]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, e := range r.entries {
		for id, ch := range e.subs {
			delete(e.subs, id)
			close(ch)
		}
		e.cancel()
		delete(r.entries, key)
		if r.gauge != nil {
			r.gauge.Dec()
		}
	}
}

// offerLatest replaces any unread value in a one-slot channel.
func offerLatest[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

// Keys for the streams used by the services.
func AlertKey(alertID string) string { return "alert:" + alertID }
func AlertsForBuddyKey(buddyID string) string { return "emergencyAlertsForBuddy:" + buddyID }
func InvitationsForEmailKey(email string) string { return "invitationsForEmail:" + email }
func RelationsForUserKey(userID string) string { return "relationsForUser:" + userID }
