package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/alleraid-api/internal/geo"
	"github.com/jwalitptl/alleraid-api/internal/livequery"
	"github.com/jwalitptl/alleraid-api/internal/model"
	"github.com/jwalitptl/alleraid-api/internal/registry"
	"github.com/jwalitptl/alleraid-api/internal/repository"
	"github.com/jwalitptl/alleraid-api/internal/service/notification"
	apperrors "github.com/jwalitptl/alleraid-api/pkg/errors"
	"github.com/jwalitptl/alleraid-api/pkg/logger"
	"github.com/jwalitptl/alleraid-api/pkg/metrics"
)

// Tracker acquires positions and runs per-alert location watches.
type Tracker interface {
	GetFix(ctx context.Context, userID uuid.UUID) (model.Fix, error)
	StartWatch(role model.SubjectRole, alertID, userID uuid.UUID)
	StopAll(alertID uuid.UUID)
}

type BuddyLister interface {
	ListBuddies(ctx context.Context, userID uuid.UUID) ([]model.Buddy, error)
}

type CreateResult struct {
	Alert         *model.Alert                 `json:"alert"`
	Notifications *notification.DispatchReport `json:"notifications"`
}

type Service interface {
	CreateAlert(ctx context.Context, initiatorID uuid.UUID, req model.CreateAlertRequest) (*CreateResult, error)
	Accept(ctx context.Context, alertID, responderID uuid.UUID) (*model.Alert, error)
	Resolve(ctx context.Context, alertID, actorID uuid.UUID) (*model.Alert, error)
	// Get returns the alert to its initiator or one of its recipients.
	Get(ctx context.Context, alertID, userID uuid.UUID) (*model.Alert, error)
	ListActiveForBuddy(ctx context.Context, buddyID uuid.UUID) ([]*model.Alert, error)
	ListHistory(ctx context.Context, initiatorID uuid.UUID) ([]*model.Alert, error)
	NotificationStatus(ctx context.Context, alertID, userID uuid.UUID) ([]model.NotificationTask, error)
	WatchAlert(alertID uuid.UUID) (<-chan *model.Alert, registry.Unsubscribe)
	WatchAlertsForBuddy(buddyID uuid.UUID) (<-chan []*model.Alert, registry.Unsubscribe)
	Close()
}

type service struct {
	alerts     repository.AlertRepository
	profiles   repository.ProfileRepository
	outbox     repository.OutboxRepository
	buddies    BuddyLister
	tracker    Tracker
	dispatcher notification.Service
	notifier   *livequery.Notifier
	logger     *logger.Logger
	metrics    *metrics.Metrics
	now        func() time.Time

	alertFeeds *registry.Registry[*model.Alert]
	buddyFeeds *registry.Registry[[]*model.Alert]
}

type Deps struct {
	Repositories repository.Repositories
	Buddies      BuddyLister
	Tracker      Tracker
	Dispatcher   notification.Service
	Notifier     *livequery.Notifier
	Logger       *logger.Logger
	Metrics      *metrics.Metrics
}

func NewService(d Deps) Service {
	log := d.Logger
	if log == nil {
		log = logger.Nop()
	}
	s := &service{
		alerts:     d.Repositories.Alerts,
		profiles:   d.Repositories.Profiles,
		outbox:     d.Repositories.Outbox,
		buddies:    d.Buddies,
		tracker:    d.Tracker,
		dispatcher: d.Dispatcher,
		notifier:   d.Notifier,
		logger:     log,
		metrics:    d.Metrics,
		now:        func() time.Time { return time.Now().UTC() },
	}
	if d.Metrics != nil {
		s.alertFeeds = registry.New(log, registry.WithGauge[*model.Alert](d.Metrics.LiveSubscriptions))
		s.buddyFeeds = registry.New(log, registry.WithGauge[[]*model.Alert](d.Metrics.LiveSubscriptions))
	} else {
		s.alertFeeds = registry.New[*model.Alert](log)
		s.buddyFeeds = registry.New[[]*model.Alert](log)
	}
	return s
}

func (s *service) CreateAlert(ctx context.Context, initiatorID uuid.UUID, req model.CreateAlertRequest) (*CreateResult, error) {
	initiator, err := s.profiles.Get(ctx, initiatorID)
	if err != nil {
		return nil, fmt.Errorf("failed to get initiator profile: %w", err)
	}

	allergies := initiator.Allergies
	if len(req.Allergies) > 0 {
		allergies = req.Allergies
	}
	instructions := initiator.EmergencyInstructions
	if req.Instructions != "" {
		instructions = req.Instructions
	}

	buddies, err := s.buddies.ListBuddies(ctx, initiatorID)
	if err != nil {
		return nil, fmt.Errorf("failed to list buddies: %w", err)
	}
	recipients := make([]*model.Profile, 0, len(buddies))
	recipientIDs := make([]uuid.UUID, 0, len(buddies))
	seen := map[uuid.UUID]bool{initiatorID: true}
	for _, b := range buddies {
		if seen[b.UserID] {
			continue
		}
		seen[b.UserID] = true
		recipientIDs = append(recipientIDs, b.UserID)
		recipients = append(recipients, &model.Profile{ID: b.UserID, Name: b.Name, Email: b.Email, Phone: b.Phone})
	}

	now := s.now()
	alert := model.NewAlert(initiator, s.initialLocation(ctx, initiatorID, req, now), allergies, instructions, recipientIDs, now)
	if err := s.alerts.Create(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to create alert: %w", err)
	}

	s.afterTransition(ctx, alert, model.EventAlertCreated, "create")
	if s.tracker != nil {
		s.tracker.StartWatch(model.SubjectPatient, alert.ID, initiatorID)
	}

	s.logger.Info("alert created",
		"alert_id", alert.ID.String(), "initiator_id", initiatorID.String(), "recipients", len(recipientIDs))

	report := s.dispatcher.Dispatch(ctx, alert, recipients)
	return &CreateResult{Alert: alert, Notifications: report}, nil
}

// initialLocation prefers coordinates sent with the request, then a fresh fix.
// A missing location never blocks an alert.
func (s *service) initialLocation(ctx context.Context, userID uuid.UUID, req model.CreateAlertRequest, now time.Time) *model.Location {
	if req.Latitude != nil && req.Longitude != nil {
		return &model.Location{
			Latitude:  *req.Latitude,
			Longitude: *req.Longitude,
			Accuracy:  req.Accuracy,
			Address:   req.Address,
			Timestamp: now,
		}
	}
	if s.tracker == nil {
		return nil
	}
	fix, err := s.tracker.GetFix(ctx, userID)
	if err != nil {
		s.logger.Warn("creating alert without location", "user_id", userID.String(), "error", err.Error())
		return nil
	}
	loc := fix.ToLocation()
	loc.Address = req.Address
	return &loc
}

func (s *service) Accept(ctx context.Context, alertID, responderID uuid.UUID) (*model.Alert, error) {
	alert, err := s.alerts.Get(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if alert.IsResolved() {
		return nil, apperrors.InvalidState("alert is already resolved")
	}
	if !alert.IsRecipient(responderID) {
		return nil, apperrors.PermissionDenied("only notified buddies can respond to this alert")
	}
	if alert.Status == model.AlertStatusResponding {
		return nil, apperrors.AlreadyResponding(alertID.String())
	}

	info := model.ResponderInfo{ResponderID: responderID, RespondedAt: s.now()}
	p, err := s.profiles.Get(ctx, responderID)
	switch {
	case err == nil:
		info.ResponderName = p.Name
	case !apperrors.IsNotFound(err):
		return nil, fmt.Errorf("failed to get responder profile: %w", err)
	}

	if s.tracker != nil {
		fix, err := s.tracker.GetFix(ctx, responderID)
		if err != nil {
			s.logger.Warn("accepting without responder location",
				"alert_id", alertID.String(), "responder_id", responderID.String(), "error", err.Error())
		} else {
			loc := fix.ToLocation()
			info.Location = &loc
			info.DistanceKm, info.ETAMinutes = distanceTo(alert.Location, loc)
		}
	}

	updated, err := s.alerts.Accept(ctx, alertID, info)
	if err != nil {
		if apperrors.CodeOf(err) != apperrors.ErrUnknown {
			return nil, err
		}
		return nil, fmt.Errorf("failed to accept alert: %w", err)
	}

	s.afterTransition(ctx, updated, model.EventAlertAccepted, "accept")
	if s.tracker != nil {
		s.tracker.StartWatch(model.SubjectResponder, alertID, responderID)
	}
	s.logger.Info("alert accepted", "alert_id", alertID.String(), "responder_id", responderID.String())
	return updated, nil
}

func (s *service) Resolve(ctx context.Context, alertID, actorID uuid.UUID) (*model.Alert, error) {
	alert, err := s.alerts.Get(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if !alert.CanResolve(actorID) {
		return nil, apperrors.PermissionDenied("only the patient or the responder can resolve this alert")
	}
	if alert.IsResolved() {
		return nil, apperrors.InvalidState("alert is already resolved")
	}

	updated, err := s.alerts.Resolve(ctx, alertID, model.Resolution{ResolvedBy: actorID, ResolvedAt: s.now()})
	if err != nil {
		if apperrors.CodeOf(err) != apperrors.ErrUnknown {
			return nil, err
		}
		return nil, fmt.Errorf("failed to resolve alert: %w", err)
	}

	if s.tracker != nil {
		s.tracker.StopAll(alertID)
	}
	s.dispatcher.ClearStatus(alertID)
	s.afterTransition(ctx, updated, model.EventAlertResolved, "resolve")
	s.logger.Info("alert resolved", "alert_id", alertID.String(), "resolved_by", actorID.String())
	return updated, nil
}

func (s *service) Get(ctx context.Context, alertID, userID uuid.UUID) (*model.Alert, error) {
	alert, err := s.alerts.Get(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if alert.InitiatorID != userID && !alert.IsRecipient(userID) {
		return nil, apperrors.PermissionDenied("alert is not shared with you")
	}
	return alert, nil
}

func (s *service) ListActiveForBuddy(ctx context.Context, buddyID uuid.UUID) ([]*model.Alert, error) {
	alerts, err := s.alerts.ListActiveForRecipient(ctx, buddyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active alerts: %w", err)
	}
	return alerts, nil
}

func (s *service) ListHistory(ctx context.Context, initiatorID uuid.UUID) ([]*model.Alert, error) {
	alerts, err := s.alerts.ListByInitiator(ctx, initiatorID)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert history: %w", err)
	}
	return alerts, nil
}

func (s *service) NotificationStatus(ctx context.Context, alertID, userID uuid.UUID) ([]model.NotificationTask, error) {
	if _, err := s.Get(ctx, alertID, userID); err != nil {
		return nil, err
	}
	return s.dispatcher.Status(alertID), nil
}

func (s *service) WatchAlert(alertID uuid.UUID) (<-chan *model.Alert, registry.Unsubscribe) {
	id := alertID.String()
	return s.alertFeeds.Subscribe(registry.AlertKey(id),
		livequery.Query(s.notifier, livequery.AlertTopic(id), func(ctx context.Context) (*model.Alert, error) {
			return s.alerts.Get(ctx, alertID)
		}))
}

func (s *service) WatchAlertsForBuddy(buddyID uuid.UUID) (<-chan []*model.Alert, registry.Unsubscribe) {
	id := buddyID.String()
	return s.buddyFeeds.Subscribe(registry.AlertsForBuddyKey(id),
		livequery.Query(s.notifier, livequery.AlertsForRecipientTopic(id), func(ctx context.Context) ([]*model.Alert, error) {
			return s.alerts.ListActiveForRecipient(ctx, buddyID)
		}))
}

func (s *service) Close() {
	s.alertFeeds.Close()
	s.buddyFeeds.Close()
}

// afterTransition records the outbox event, wakes live feeds and counts the
// transition. None of these can fail the transition itself.
func (s *service) afterTransition(ctx context.Context, alert *model.Alert, eventType, transition string) {
	event, err := model.NewOutboxEvent(eventType, alert.ID, alert)
	if err == nil {
		err = s.outbox.Create(ctx, event)
	}
	if err != nil {
		s.logger.Error(err, "failed to write outbox event", "alert_id", alert.ID.String(), "event_type", eventType)
	}

	publishChange(ctx, s.notifier, alert)
	if s.metrics != nil {
		s.metrics.AlertTransitions.WithLabelValues(transition, string(alert.Status)).Inc()
	}
}

func publishChange(ctx context.Context, n *livequery.Notifier, alert *model.Alert) {
	if n == nil {
		return
	}
	topics := make([]string, 0, len(alert.RecipientIDs)+1)
	topics = append(topics, livequery.AlertTopic(alert.ID.String()))
	for _, id := range alert.RecipientIDs {
		topics = append(topics, livequery.AlertsForRecipientTopic(id.String()))
	}
	n.Notify(ctx, topics...)
}

// distanceTo returns nil values when the patient position is unknown.
func distanceTo(patient *model.Location, responder model.Location) (*float64, *int) {
	if patient == nil {
		return nil, nil
	}
	d := geo.Distance(
		geo.Point{Latitude: patient.Latitude, Longitude: patient.Longitude},
		geo.Point{Latitude: responder.Latitude, Longitude: responder.Longitude},
	)
	eta := geo.ETA(d)
	return &d, &eta
}
