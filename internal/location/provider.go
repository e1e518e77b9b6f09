package location

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/alleraid-api/internal/model"
)

var (
	ErrFixTimeout       = errors.New("timed out waiting for location fix")
	ErrWatchUnsupported = errors.New("provider cannot watch this user")
)

// FixRequest bounds a single position lookup.
type FixRequest struct {
	HighAccuracy bool
	Timeout      time.Duration
	// MaxAge is the oldest cached fix that may be returned without waiting.
	MaxAge time.Duration
}

// Provider yields a current position for a user.
type Provider interface {
	CurrentFix(ctx context.Context, userID uuid.UUID, req FixRequest) (model.Fix, error)
}

// Watcher is implemented by providers that can push positions as they
// arrive. Watch blocks until ctx is done.
type Watcher interface {
	Watch(ctx context.Context, userID uuid.UUID, onFix func(model.Fix)) error
}

// ReportedProvider serves positions that devices report to the API. The most
// recent fix per user is cached; lookups that find nothing fresh enough wait
// for the next report.
type ReportedProvider struct {
	fixes              *cache.Cache
	highAccuracyMeters float64

	mu      sync.Mutex
	waiters map[uuid.UUID]map[chan model.Fix]struct{}
	now     func() time.Time
}

func NewReportedProvider(ttl time.Duration, highAccuracyMeters float64) *ReportedProvider {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &ReportedProvider{
		fixes:              cache.New(ttl, 2*ttl),
		highAccuracyMeters: highAccuracyMeters,
		waiters:            make(map[uuid.UUID]map[chan model.Fix]struct{}),
		now:                time.Now,
	}
}

// Report records a device position and wakes anyone waiting on that user.
func (p *ReportedProvider) Report(userID uuid.UUID, fix model.Fix) {
	if fix.Timestamp.IsZero() {
		fix.Timestamp = p.now().UTC()
	}
	p.fixes.SetDefault(userID.String(), fix)

	p.mu.Lock()
	defer p.mu.Unlock()
	for ch := range p.waiters[userID] {
		select {
		case ch <- fix:
		default:
		}
	}
}

// Latest returns the cached fix for userID, if any.
func (p *ReportedProvider) Latest(userID uuid.UUID) (model.Fix, bool) {
	v, ok := p.fixes.Get(userID.String())
	if !ok {
		return model.Fix{}, false
	}
	return v.(model.Fix), true
}

func (p *ReportedProvider) acceptable(fix model.Fix, req FixRequest) bool {
	if req.HighAccuracy && p.highAccuracyMeters > 0 && fix.Accuracy > p.highAccuracyMeters {
		return false
	}
	return true
}

func (p *ReportedProvider) CurrentFix(ctx context.Context, userID uuid.UUID, req FixRequest) (model.Fix, error) {
	ch, release := p.listen(userID, 1)
	defer release()

	if fix, ok := p.Latest(userID); ok && p.now().Sub(fix.Timestamp) <= req.MaxAge && p.acceptable(fix, req) {
		return fix, nil
	}

	timer := time.NewTimer(req.Timeout)
	defer timer.Stop()
	for {
		select {
		case fix := <-ch:
			if p.acceptable(fix, req) {
				return fix, nil
			}
		case <-timer.C:
			return model.Fix{}, ErrFixTimeout
		case <-ctx.Done():
			return model.Fix{}, ctx.Err()
		}
	}
}

func (p *ReportedProvider) Watch(ctx context.Context, userID uuid.UUID, onFix func(model.Fix)) error {
	ch, release := p.listen(userID, 16)
	defer release()

	for {
		select {
		case fix := <-ch:
			onFix(fix)
		case <-ctx.Done():
			return nil
		}
	}
}

func (p *ReportedProvider) listen(userID uuid.UUID, buffer int) (<-chan model.Fix, func()) {
	ch := make(chan model.Fix, buffer)

	p.mu.Lock()
	if p.waiters[userID] == nil {
		p.waiters[userID] = make(map[chan model.Fix]struct{})
	}
	p.waiters[userID][ch] = struct{}{}
	p.mu.Unlock()

	return ch, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.waiters[userID], ch)
		if len(p.waiters[userID]) == 0 {
			delete(p.waiters, userID)
		}
	}
}
