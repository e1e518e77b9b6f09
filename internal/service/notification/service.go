package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jwalitptl/alleraid-api/internal/geo"
	"github.com/jwalitptl/alleraid-api/internal/model"
	"github.com/jwalitptl/alleraid-api/internal/repository"
	"github.com/jwalitptl/alleraid-api/pkg/logger"
	"github.com/jwalitptl/alleraid-api/pkg/metrics"
	"github.com/jwalitptl/alleraid-api/pkg/notify"
)

const defaultSendTimeout = 20 * time.Second

var errNoChannel = errors.New("no configured channel can reach recipient")

// DefaultPreference is the channel order used when none is configured.
var DefaultPreference = []string{notify.ChannelSMS, notify.ChannelPush, notify.ChannelEmail}

type DispatchResult struct {
	RecipientID uuid.UUID                `json:"recipient_id"`
	Channel     string                   `json:"channel,omitempty"`
	Status      model.NotificationStatus `json:"status"`
	Error       string                   `json:"error,omitempty"`
}

// DispatchReport summarises one fan-out. Every recipient appears exactly once.
type DispatchReport struct {
	AlertID uuid.UUID        `json:"alert_id"`
	Results []DispatchResult `json:"results"`
	Sent    int              `json:"sent"`
	Failed  int              `json:"failed"`
}

type Service interface {
	// Dispatch notifies every recipient once, in parallel, and waits for all
	// attempts. Delivery failures are reported, never returned.
	Dispatch(ctx context.Context, alert *model.Alert, recipients []*model.Profile) *DispatchReport
	// Status returns the live per-recipient tasks for an alert.
	Status(alertID uuid.UUID) []model.NotificationTask
	// Tasks returns the persisted tasks, which outlive the live map.
	Tasks(ctx context.Context, alertID uuid.UUID) ([]*model.NotificationTask, error)
	ClearStatus(alertID uuid.UUID)
}

type Config struct {
	// Preference lists channel names, most preferred first.
	Preference  []string
	SendTimeout time.Duration
}

type service struct {
	repo     repository.NotificationTaskRepository
	channels []notify.Channel
	timeout  time.Duration
	logger   *logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu   sync.RWMutex
	live map[uuid.UUID]map[uuid.UUID]model.NotificationTask
}

// NewService orders channels by cfg.Preference. Channels that are not named
// in the preference list are never used.
func NewService(repo repository.NotificationTaskRepository, channels []notify.Channel, cfg Config, log *logger.Logger, m *metrics.Metrics) Service {
	if log == nil {
		log = logger.Nop()
	}
	pref := cfg.Preference
	if len(pref) == 0 {
		pref = DefaultPreference
	}
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}

	byName := make(map[string]notify.Channel, len(channels))
	for _, c := range channels {
		byName[c.Name()] = c
	}
	ordered := make([]notify.Channel, 0, len(pref))
	for _, name := range pref {
		if c, ok := byName[name]; ok {
			ordered = append(ordered, c)
		}
	}

	return &service{
		repo:     repo,
		channels: ordered,
		timeout:  timeout,
		logger:   log,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
		live:     make(map[uuid.UUID]map[uuid.UUID]model.NotificationTask),
	}
}

func (s *service) Dispatch(ctx context.Context, alert *model.Alert, recipients []*model.Profile) *DispatchReport {
	report := &DispatchReport{AlertID: alert.ID, Results: make([]DispatchResult, len(recipients))}
	msg := composeMessage(alert)

	var g errgroup.Group
	for i, p := range recipients {
		g.Go(func() error {
			report.Results[i] = s.deliver(ctx, alert.ID, p, msg)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range report.Results {
		if r.Status == model.NotificationStatusSent {
			report.Sent++
		} else {
			report.Failed++
		}
	}
	s.logger.Info("alert notifications dispatched",
		"alert_id", alert.ID.String(), "sent", report.Sent, "failed", report.Failed)
	return report
}

func (s *service) deliver(ctx context.Context, alertID uuid.UUID, p *model.Profile, msg notify.Message) DispatchResult {
	// sends and their terminal states must outlive the caller
	storeCtx := context.WithoutCancel(ctx)
	now := s.now()
	task := model.NotificationTask{
		AlertID:     alertID,
		RecipientID: p.ID,
		Status:      model.NotificationStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.record(storeCtx, task)

	rcpt := notify.Recipient{UserID: p.ID, Name: p.Name, Phone: p.Phone, Email: p.Email}
	ch := s.pick(rcpt)
	if ch == nil {
		s.finish(storeCtx, &task, "none", errNoChannel, 0)
		return result(task)
	}

	task.Channel = ch.Name()
	task.Status = model.NotificationStatusSending
	task.UpdatedAt = s.now()
	s.record(storeCtx, task)

	sendCtx, cancel := context.WithTimeout(storeCtx, s.timeout)
	defer cancel()
	start := time.Now()
	err := ch.Send(sendCtx, rcpt, msg)
	s.finish(storeCtx, &task, ch.Name(), err, time.Since(start))
	return result(task)
}

func (s *service) finish(ctx context.Context, task *model.NotificationTask, channel string, err error, took time.Duration) {
	task.UpdatedAt = s.now()
	if err != nil {
		task.Status = model.NotificationStatusFailed
		task.LastError = err.Error()
		s.logger.Error(err, "notification failed",
			"alert_id", task.AlertID.String(), "recipient_id", task.RecipientID.String(), "channel", channel)
	} else {
		task.Status = model.NotificationStatusSent
	}
	s.record(ctx, *task)

	if s.metrics != nil {
		s.metrics.NotificationsDispatched.WithLabelValues(channel, string(task.Status)).Inc()
		if took > 0 {
			s.metrics.NotificationLatency.WithLabelValues(channel).Observe(took.Seconds())
		}
	}
}

func (s *service) pick(r notify.Recipient) notify.Channel {
	for _, c := range s.channels {
		if c.CanReach(r) {
			return c
		}
	}
	return nil
}

// record mirrors the task into the live map and persists it. A storage
// failure is logged; the live map stays authoritative for the UI.
func (s *service) record(ctx context.Context, task model.NotificationTask) {
	s.mu.Lock()
	if s.live[task.AlertID] == nil {
		s.live[task.AlertID] = make(map[uuid.UUID]model.NotificationTask)
	}
	s.live[task.AlertID][task.RecipientID] = task
	s.mu.Unlock()

	if err := s.repo.Upsert(ctx, &task); err != nil {
		s.logger.Error(err, "failed to persist notification task",
			"alert_id", task.AlertID.String(), "recipient_id", task.RecipientID.String(), "status", string(task.Status))
	}
}

func (s *service) Status(alertID uuid.UUID) []model.NotificationTask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.NotificationTask, 0, len(s.live[alertID]))
	for _, t := range s.live[alertID] {
		out = append(out, t)
	}
	return out
}

func (s *service) Tasks(ctx context.Context, alertID uuid.UUID) ([]*model.NotificationTask, error) {
	tasks, err := s.repo.ListByAlert(ctx, alertID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notification tasks: %w", err)
	}
	return tasks, nil
}

func (s *service) ClearStatus(alertID uuid.UUID) {
	s.mu.Lock()
	delete(s.live, alertID)
	s.mu.Unlock()
}

func result(t model.NotificationTask) DispatchResult {
	return DispatchResult{RecipientID: t.RecipientID, Channel: t.Channel, Status: t.Status, Error: t.LastError}
}

func composeMessage(a *model.Alert) notify.Message {
	notice := model.AlertNotice{
		AlertID:      a.ID,
		PatientName:  a.InitiatorName,
		Allergies:    a.Allergies,
		Instructions: a.Instructions,
	}

	var b strings.Builder
	fmt.Fprintf(&b, "EMERGENCY: %s needs help.", a.InitiatorName)
	if len(a.Allergies) > 0 {
		fmt.Fprintf(&b, " Allergies: %s.", strings.Join(a.Allergies, ", "))
	}
	if a.Instructions != "" {
		fmt.Fprintf(&b, " Instructions: %s", a.Instructions)
	}
	if a.Location != nil {
		link := geo.MapsLink(a.Location.Latitude, a.Location.Longitude)
		lat, lon := a.Location.Latitude, a.Location.Longitude
		notice.LocationURL = link
		notice.Latitude = &lat
		notice.Longitude = &lon
		fmt.Fprintf(&b, " Location: %s", link)
	}

	return notify.Message{
		Subject: fmt.Sprintf("Emergency alert from %s", a.InitiatorName),
		Body:    b.String(),
		Data:    notice,
	}
}
