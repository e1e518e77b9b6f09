// Package location acquires device positions and streams them into alert
// records while an alert is live.
package location

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/alleraid-api/internal/model"
	apperrors "github.com/jwalitptl/alleraid-api/pkg/errors"
	"github.com/jwalitptl/alleraid-api/pkg/logger"
	"github.com/jwalitptl/alleraid-api/pkg/metrics"
)

// ErrLocationUnavailable is wrapped by GetFix when both accuracy tiers fail.
var ErrLocationUnavailable = errors.New("location unavailable")

// Publisher writes one sample into the alert record.
type Publisher interface {
	Publish(ctx context.Context, sample model.LocationSample) error
}

type Config struct {
	HighAccuracyTimeout   time.Duration
	HighAccuracyMaxAge    time.Duration
	LowAccuracyTimeout    time.Duration
	LowAccuracyMaxAge     time.Duration
	PatientPollInterval   time.Duration
	ResponderPollInterval time.Duration
	PublishTimeout        time.Duration
}

func DefaultConfig() Config {
	return Config{
		HighAccuracyTimeout:   30 * time.Second,
		HighAccuracyMaxAge:    5 * time.Minute,
		LowAccuracyTimeout:    15 * time.Second,
		LowAccuracyMaxAge:     10 * time.Minute,
		PatientPollInterval:   5 * time.Second,
		ResponderPollInterval: 10 * time.Second,
		PublishTimeout:        10 * time.Second,
	}
}

type subject struct {
	alertID uuid.UUID
	role    model.SubjectRole
}

type watch struct {
	userID uuid.UUID
	cancel context.CancelFunc
	done   chan struct{}
}

// Broadcaster runs at most one watch per (alert, role) subject.
type Broadcaster struct {
	provider  Provider
	publisher Publisher
	config    Config
	logger    *logger.Logger
	metrics   *metrics.Metrics

	mu      sync.Mutex
	watches map[subject]*watch
}

func NewBroadcaster(provider Provider, publisher Publisher, config Config, log *logger.Logger, m *metrics.Metrics) *Broadcaster {
	if log == nil {
		log = logger.Nop()
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = 10 * time.Second
	}
	return &Broadcaster{
		provider:  provider,
		publisher: publisher,
		config:    config,
		logger:    log,
		metrics:   m,
		watches:   make(map[subject]*watch),
	}
}

// GetFix tries a high accuracy fix first and falls back to low accuracy.
func (b *Broadcaster) GetFix(ctx context.Context, userID uuid.UUID) (model.Fix, error) {
	fix, err := b.provider.CurrentFix(ctx, userID, FixRequest{
		HighAccuracy: true,
		Timeout:      b.config.HighAccuracyTimeout,
		MaxAge:       b.config.HighAccuracyMaxAge,
	})
	if err == nil {
		return fix, nil
	}
	b.logger.Debug("high accuracy fix failed, trying low accuracy", "user_id", userID.String(), "error", err.Error())

	fix, lowErr := b.provider.CurrentFix(ctx, userID, FixRequest{
		HighAccuracy: false,
		Timeout:      b.config.LowAccuracyTimeout,
		MaxAge:       b.config.LowAccuracyMaxAge,
	})
	if lowErr == nil {
		return fix, nil
	}
	return model.Fix{}, apperrors.Unavailable("location unavailable",
		fmt.Errorf("%w: %v", ErrLocationUnavailable, errors.Join(err, lowErr)))
}

// StartWatch begins streaming userID's position into the alert under role.
// An existing watch for the same subject is replaced.
func (b *Broadcaster) StartWatch(role model.SubjectRole, alertID, userID uuid.UUID) {
	key := subject{alertID: alertID, role: role}
	ctx, cancel := context.WithCancel(context.Background())
	w := &watch{userID: userID, cancel: cancel, done: make(chan struct{})}

	b.mu.Lock()
	old := b.watches[key]
	b.watches[key] = w
	b.mu.Unlock()

	if old != nil {
		old.cancel()
		<-old.done
	} else if b.metrics != nil {
		b.metrics.ActiveWatches.Inc()
	}

	b.logger.Info("location watch started",
		"alert_id", alertID.String(), "role", string(role), "user_id", userID.String())
	go b.run(ctx, key, w)
}

// StopWatch is a no-op when the subject has no watch.
func (b *Broadcaster) StopWatch(alertID uuid.UUID, role model.SubjectRole) {
	key := subject{alertID: alertID, role: role}

	b.mu.Lock()
	w, ok := b.watches[key]
	if ok {
		delete(b.watches, key)
	}
	b.mu.Unlock()

	if !ok {
		return
	}
	w.cancel()
	<-w.done
	if b.metrics != nil {
		b.metrics.ActiveWatches.Dec()
	}
	b.logger.Info("location watch stopped", "alert_id", alertID.String(), "role", string(role))
}

// StopAll stops both subjects of an alert.
func (b *Broadcaster) StopAll(alertID uuid.UUID) {
	b.StopWatch(alertID, model.SubjectPatient)
	b.StopWatch(alertID, model.SubjectResponder)
}

// Active reports whether a watch is running for the subject.
func (b *Broadcaster) Active(alertID uuid.UUID, role model.SubjectRole) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.watches[subject{alertID: alertID, role: role}]
	return ok
}

// Close stops every watch.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	keys := make([]subject, 0, len(b.watches))
	for k := range b.watches {
		keys = append(keys, k)
	}
	b.mu.Unlock()

	for _, k := range keys {
		b.StopWatch(k.alertID, k.role)
	}
}

func (b *Broadcaster) run(ctx context.Context, key subject, w *watch) {
	defer close(w.done)

	emit := func(fix model.Fix) {
		b.publish(ctx, key, fix)
	}

	if watcher, ok := b.provider.(Watcher); ok {
		err := watcher.Watch(ctx, w.userID, emit)
		if err == nil || ctx.Err() != nil {
			return
		}
		b.logger.Warn("native watch unavailable, polling instead",
			"alert_id", key.alertID.String(), "role", string(key.role), "error", err.Error())
	}

	b.poll(ctx, key, w.userID, emit)
}

func (b *Broadcaster) poll(ctx context.Context, key subject, userID uuid.UUID, emit func(model.Fix)) {
	interval := b.config.PatientPollInterval
	if key.role == model.SubjectResponder {
		interval = b.config.ResponderPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fix, err := b.provider.CurrentFix(ctx, userID, FixRequest{
				Timeout: interval,
				MaxAge:  interval,
			})
			if err != nil {
				if ctx.Err() == nil {
					b.logger.Debug("poll tick without fix",
						"alert_id", key.alertID.String(), "role", string(key.role), "error", err.Error())
				}
				continue
			}
			emit(fix)
		}
	}
}

func (b *Broadcaster) publish(ctx context.Context, key subject, fix model.Fix) {
	if ctx.Err() != nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, b.config.PublishTimeout)
	defer cancel()

	err := b.publisher.Publish(pubCtx, model.LocationSample{
		AlertID: key.alertID,
		Role:    key.role,
		Fix:     fix,
	})
	status := "success"
	if err != nil {
		status = "error"
		// the next tick retries
		b.logger.Error(err, "failed to publish location sample",
			"alert_id", key.alertID.String(), "role", string(key.role))
	}
	if b.metrics != nil {
		b.metrics.LocationSamples.WithLabelValues(string(key.role), status).Inc()
	}
}
