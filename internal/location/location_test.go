package location

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/alleraid-api/internal/model"
	apperrors "github.com/jwalitptl/alleraid-api/pkg/errors"
	"github.com/jwalitptl/alleraid-api/pkg/metrics"
)

type recordingPublisher struct {
	samples chan model.LocationSample
	failN   atomic.Int32
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{samples: make(chan model.LocationSample, 100)}
}

func (p *recordingPublisher) Publish(ctx context.Context, s model.LocationSample) error {
	if p.failN.Load() > 0 {
		p.failN.Add(-1)
		return errors.New("store unavailable")
	}
	p.samples <- s
	return nil
}

func (p *recordingPublisher) next(t *testing.T) model.LocationSample {
	t.Helper()
	select {
	case s := <-p.samples:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no sample published")
		return model.LocationSample{}
	}
}

// pollingProvider has no native watch and always returns a fix for its user.
type pollingProvider struct {
	mu    sync.Mutex
	calls map[uuid.UUID]int
}

func (p *pollingProvider) CurrentFix(ctx context.Context, userID uuid.UUID, req FixRequest) (model.Fix, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls == nil {
		p.calls = make(map[uuid.UUID]int)
	}
	p.calls[userID]++
	return model.Fix{Latitude: float64(p.calls[userID]), Longitude: 1, Timestamp: time.Now()}, nil
}

// unsupportedWatcher claims watch support but refuses at runtime.
type unsupportedWatcher struct {
	pollingProvider
}

func (u *unsupportedWatcher) Watch(ctx context.Context, userID uuid.UUID, onFix func(model.Fix)) error {
	return ErrWatchUnsupported
}

func fastConfig() Config {
	return Config{
		HighAccuracyTimeout:   30 * time.Millisecond,
		HighAccuracyMaxAge:    5 * time.Minute,
		LowAccuracyTimeout:    30 * time.Millisecond,
		LowAccuracyMaxAge:     10 * time.Minute,
		PatientPollInterval:   10 * time.Millisecond,
		ResponderPollInterval: 20 * time.Millisecond,
	}
}

func TestGetFixHighAccuracyFromCache(t *testing.T) {
	provider := NewReportedProvider(time.Minute, 50)
	b := NewBroadcaster(provider, newRecordingPublisher(), fastConfig(), nil, nil)
	user := uuid.New()

	provider.Report(user, model.Fix{Latitude: 51.5, Longitude: -0.1, Accuracy: 10})

	fix, err := b.GetFix(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, 51.5, fix.Latitude)
	assert.False(t, fix.Timestamp.IsZero())
}

func TestGetFixFallsBackToLowAccuracy(t *testing.T) {
	provider := NewReportedProvider(time.Minute, 50)
	b := NewBroadcaster(provider, newRecordingPublisher(), fastConfig(), nil, nil)
	user := uuid.New()

	provider.Report(user, model.Fix{Latitude: 1, Longitude: 2, Accuracy: 800})

	fix, err := b.GetFix(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, 800.0, fix.Accuracy)
}

func TestGetFixUnavailable(t *testing.T) {
	provider := NewReportedProvider(time.Minute, 50)
	b := NewBroadcaster(provider, newRecordingPublisher(), fastConfig(), nil, nil)

	_, err := b.GetFix(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, apperrors.IsUnavailable(err))
	assert.ErrorIs(t, err, ErrLocationUnavailable)
}

func TestGetFixWaitsForNextReport(t *testing.T) {
	provider := NewReportedProvider(time.Minute, 50)
	cfg := fastConfig()
	cfg.HighAccuracyTimeout = time.Second
	b := NewBroadcaster(provider, newRecordingPublisher(), cfg, nil, nil)
	user := uuid.New()

	go func() {
		time.Sleep(20 * time.Millisecond)
		provider.Report(user, model.Fix{Latitude: 3, Longitude: 4, Accuracy: 5})
	}()

	fix, err := b.GetFix(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, 3.0, fix.Latitude)
}

func TestStartWatchUsesNativeWatch(t *testing.T) {
	provider := NewReportedProvider(time.Minute, 50)
	pub := newRecordingPublisher()
	b := NewBroadcaster(provider, pub, fastConfig(), nil, metrics.NewNop())
	defer b.Close()

	alertID, user := uuid.New(), uuid.New()
	b.StartWatch(model.SubjectPatient, alertID, user)
	require.True(t, b.Active(alertID, model.SubjectPatient))

	require.Eventually(t, func() bool {
		provider.Report(user, model.Fix{Latitude: 9, Longitude: 9})
		select {
		case s := <-pub.samples:
			return s.AlertID == alertID && s.Role == model.SubjectPatient && s.Fix.Latitude == 9
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStartWatchPollsWithoutNativeWatch(t *testing.T) {
	pub := newRecordingPublisher()
	b := NewBroadcaster(&pollingProvider{}, pub, fastConfig(), nil, nil)
	defer b.Close()

	alertID := uuid.New()
	b.StartWatch(model.SubjectResponder, alertID, uuid.New())

	first := pub.next(t)
	second := pub.next(t)
	assert.Equal(t, model.SubjectResponder, first.Role)
	assert.Less(t, first.Fix.Latitude, second.Fix.Latitude)
}

func TestStartWatchFallsBackWhenWatchUnsupported(t *testing.T) {
	pub := newRecordingPublisher()
	b := NewBroadcaster(&unsupportedWatcher{}, pub, fastConfig(), nil, nil)
	defer b.Close()

	b.StartWatch(model.SubjectPatient, uuid.New(), uuid.New())
	s := pub.next(t)
	assert.Equal(t, model.SubjectPatient, s.Role)
}

func TestStartWatchReplacesExisting(t *testing.T) {
	provider := &pollingProvider{}
	pub := newRecordingPublisher()
	b := NewBroadcaster(provider, pub, fastConfig(), nil, nil)
	defer b.Close()

	alertID := uuid.New()
	first, second := uuid.New(), uuid.New()

	b.StartWatch(model.SubjectPatient, alertID, first)
	pub.next(t)
	b.StartWatch(model.SubjectPatient, alertID, second)

	provider.mu.Lock()
	firstCalls := provider.calls[first]
	provider.mu.Unlock()

	// the first watch has exited, so its call count stays put
	time.Sleep(50 * time.Millisecond)
	provider.mu.Lock()
	assert.Equal(t, firstCalls, provider.calls[first])
	assert.Greater(t, provider.calls[second], 0)
	provider.mu.Unlock()

	assert.True(t, b.Active(alertID, model.SubjectPatient))
}

func TestStopWatchIsIdempotent(t *testing.T) {
	b := NewBroadcaster(&pollingProvider{}, newRecordingPublisher(), fastConfig(), nil, nil)
	alertID := uuid.New()

	b.StartWatch(model.SubjectPatient, alertID, uuid.New())
	b.StartWatch(model.SubjectResponder, alertID, uuid.New())

	b.StopWatch(alertID, model.SubjectPatient)
	b.StopWatch(alertID, model.SubjectPatient)
	assert.False(t, b.Active(alertID, model.SubjectPatient))
	assert.True(t, b.Active(alertID, model.SubjectResponder))

	b.StopAll(alertID)
	b.StopAll(alertID)
	assert.False(t, b.Active(alertID, model.SubjectResponder))
}

func TestPublishFailureDoesNotStopStream(t *testing.T) {
	pub := newRecordingPublisher()
	pub.failN.Store(2)
	b := NewBroadcaster(&pollingProvider{}, pub, fastConfig(), nil, metrics.NewNop())
	defer b.Close()

	b.StartWatch(model.SubjectPatient, uuid.New(), uuid.New())
	s := pub.next(t)
	assert.Equal(t, 3.0, s.Fix.Latitude, "first two ticks failed to publish")
}
