package buddy

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/alleraid-api/internal/email"
	"github.com/jwalitptl/alleraid-api/internal/livequery"
	"github.com/jwalitptl/alleraid-api/internal/model"
	"github.com/jwalitptl/alleraid-api/internal/registry"
	"github.com/jwalitptl/alleraid-api/internal/repository"
	apperrors "github.com/jwalitptl/alleraid-api/pkg/errors"
	"github.com/jwalitptl/alleraid-api/pkg/logger"
	"github.com/jwalitptl/alleraid-api/pkg/metrics"
)

// InvitationLists holds a user's pending invitations in both directions.
type InvitationLists struct {
	Received []*model.Invitation `json:"received"`
	Sent     []*model.Invitation `json:"sent"`
}

type Service interface {
	SendInvitation(ctx context.Context, fromUserID uuid.UUID, req model.SendInvitationRequest) (*model.SendInvitationResult, error)
	CheckDuplicate(ctx context.Context, currentUserID uuid.UUID, targetEmail string) (model.DuplicateResult, error)
	AcceptInvitation(ctx context.Context, invitationID, accepterID uuid.UUID) (*model.Relation, error)
	DeclineInvitation(ctx context.Context, invitationID, userID uuid.UUID) (*model.Invitation, error)
	CancelInvitation(ctx context.Context, invitationID, userID uuid.UUID) (*model.Invitation, error)
	ListBuddies(ctx context.Context, userID uuid.UUID) ([]model.Buddy, error)
	ListInvitations(ctx context.Context, userID uuid.UUID) (*InvitationLists, error)
	WatchInvitations(email string) (<-chan []*model.Invitation, registry.Unsubscribe)
	WatchRelations(userID uuid.UUID) (<-chan []model.Buddy, registry.Unsubscribe)
	Close()
}

type service struct {
	invitations repository.InvitationRepository
	relations   repository.RelationRepository
	contacts    repository.ContactRepository
	profiles    repository.ProfileRepository
	notifier    *livequery.Notifier
	mailer      email.Service
	logger      *logger.Logger
	metrics     *metrics.Metrics
	now         func() time.Time

	invitationFeeds *registry.Registry[[]*model.Invitation]
	relationFeeds   *registry.Registry[[]model.Buddy]
}

// NewService wires the buddy graph. mailer may be nil, in which case
// invitees only see invitations in the app.
func NewService(repos repository.Repositories, notifier *livequery.Notifier, mailer email.Service, log *logger.Logger, m *metrics.Metrics) Service {
	if log == nil {
		log = logger.Nop()
	}
	s := &service{
		invitations: repos.Invitations,
		relations:   repos.Relations,
		contacts:    repos.Contacts,
		profiles:    repos.Profiles,
		notifier:    notifier,
		mailer:      mailer,
		logger:      log,
		metrics:     m,
		now:         func() time.Time { return time.Now().UTC() },
	}
	if m != nil {
		s.invitationFeeds = registry.New(log, registry.WithGauge[[]*model.Invitation](m.LiveSubscriptions))
		s.relationFeeds = registry.New(log, registry.WithGauge[[]model.Buddy](m.LiveSubscriptions))
	} else {
		s.invitationFeeds = registry.New[[]*model.Invitation](log)
		s.relationFeeds = registry.New[[]model.Buddy](log)
	}
	return s
}

func (s *service) SendInvitation(ctx context.Context, fromUserID uuid.UUID, req model.SendInvitationRequest) (*model.SendInvitationResult, error) {
	sender, err := s.profiles.Get(ctx, fromUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get sender profile: %w", err)
	}

	target := model.NormalizeEmail(req.Email)
	if target == "" {
		return nil, apperrors.BadRequest("email is required", nil)
	}
	if target == model.NormalizeEmail(sender.Email) {
		return nil, apperrors.BadRequest("cannot invite yourself", nil)
	}

	dup, err := s.checkDuplicate(ctx, sender, target)
	if err != nil {
		return nil, err
	}
	if dup.IsDuplicate() {
		s.logger.Info("duplicate invitation skipped",
			"from_user_id", fromUserID.String(), "kind", string(dup.Kind))
		s.outcome("duplicate_" + string(dup.Kind))
		return &model.SendInvitationResult{Duplicate: dup}, nil
	}

	inv := &model.Invitation{
		ID:         uuid.New(),
		FromUserID: sender.ID,
		FromName:   sender.Name,
		FromEmail:  model.NormalizeEmail(sender.Email),
		ToEmail:    target,
		ToName:     req.Name,
		Message:    req.Message,
		Status:     model.InvitationStatusPending,
		CreatedAt:  s.now(),
	}
	invitee, err := s.profiles.GetByEmail(ctx, target)
	switch {
	case err == nil:
		inv.ToUserID = &invitee.ID
		if inv.ToName == "" {
			inv.ToName = invitee.Name
		}
	case !apperrors.IsNotFound(err):
		return nil, fmt.Errorf("failed to look up invitee: %w", err)
	}

	if err := s.invitations.Create(ctx, inv); err != nil {
		return nil, fmt.Errorf("failed to create invitation: %w", err)
	}
	s.notify(ctx, livequery.InvitationsForEmailTopic(target))
	s.outcome("sent")

	if s.mailer != nil {
		if err := s.mailer.SendInvitation(ctx, inv); err != nil {
			s.logger.Error(err, "failed to email invitation", "invitation_id", inv.ID.String())
		}
	}

	s.logger.Info("invitation sent", "invitation_id", inv.ID.String(), "from_user_id", fromUserID.String())
	return &model.SendInvitationResult{Invitation: inv}, nil
}

func (s *service) CheckDuplicate(ctx context.Context, currentUserID uuid.UUID, targetEmail string) (model.DuplicateResult, error) {
	current, err := s.profiles.Get(ctx, currentUserID)
	if err != nil {
		return model.DuplicateResult{}, fmt.Errorf("failed to get profile: %w", err)
	}
	return s.checkDuplicate(ctx, current, model.NormalizeEmail(targetEmail))
}

// duplicateQuery is what every duplicate rule sees. invitee is nil when the
// target email has no registered profile.
type duplicateQuery struct {
	current *model.Profile
	invitee *model.Profile
	target  string
}

// duplicateRule reports whether q matches and, if so, the name to show.
type duplicateRule struct {
	kind  model.DuplicateKind
	match func(ctx context.Context, q duplicateQuery) (bool, string, error)
}

// duplicateRules lists the rules in priority order; the first match wins.
func (s *service) duplicateRules() []duplicateRule {
	return []duplicateRule{
		{kind: model.DuplicateExistingBuddy, match: s.relationFrom(func(q duplicateQuery) (uuid.UUID, uuid.UUID) {
			return q.current.ID, q.invitee.ID
		})},
		{kind: model.DuplicateExistingBuddy, match: s.relationFrom(func(q duplicateQuery) (uuid.UUID, uuid.UUID) {
			return q.invitee.ID, q.current.ID
		})},
		{kind: model.DuplicatePendingSentInvitation, match: s.pendingSent},
		{kind: model.DuplicatePendingReceivedInvitation, match: s.pendingReceived},
		{kind: model.DuplicateLegacyBuddy, match: s.legacyContact},
	}
}

func evaluateDuplicateRules(ctx context.Context, rules []duplicateRule, q duplicateQuery) (model.DuplicateResult, error) {
	for _, rule := range rules {
		ok, name, err := rule.match(ctx, q)
		if err != nil {
			return model.DuplicateResult{}, err
		}
		if ok {
			return model.DuplicateResult{Kind: rule.kind, DisplayName: name}, nil
		}
	}
	return model.DuplicateResult{}, nil
}

func (s *service) checkDuplicate(ctx context.Context, current *model.Profile, target string) (model.DuplicateResult, error) {
	invitee, err := s.profiles.GetByEmail(ctx, target)
	if err != nil {
		if !apperrors.IsNotFound(err) {
			return model.DuplicateResult{}, fmt.Errorf("failed to look up target: %w", err)
		}
		invitee = nil
	}
	return evaluateDuplicateRules(ctx, s.duplicateRules(), duplicateQuery{current: current, invitee: invitee, target: target})
}

func (s *service) relationFrom(pair func(q duplicateQuery) (uuid.UUID, uuid.UUID)) func(context.Context, duplicateQuery) (bool, string, error) {
	return func(ctx context.Context, q duplicateQuery) (bool, string, error) {
		if q.invitee == nil {
			return false, "", nil
		}
		user1, user2 := pair(q)
		rel, err := s.relations.Find(ctx, user1, user2)
		if err != nil {
			return false, "", fmt.Errorf("failed to find relation: %w", err)
		}
		return rel != nil, q.invitee.Name, nil
	}
}

func (s *service) pendingSent(ctx context.Context, q duplicateQuery) (bool, string, error) {
	sent, err := s.invitations.ListPendingFromUser(ctx, q.current.ID)
	if err != nil {
		return false, "", fmt.Errorf("failed to list sent invitations: %w", err)
	}
	for _, inv := range sent {
		if model.NormalizeEmail(inv.ToEmail) == q.target {
			return true, displayName(inv.ToName, q.invitee, q.target), nil
		}
	}
	return false, "", nil
}

func (s *service) pendingReceived(ctx context.Context, q duplicateQuery) (bool, string, error) {
	received, err := s.invitations.ListPendingForEmail(ctx, q.current.Email)
	if err != nil {
		return false, "", fmt.Errorf("failed to list received invitations: %w", err)
	}
	for _, inv := range received {
		if model.NormalizeEmail(inv.FromEmail) == q.target || (q.invitee != nil && inv.FromUserID == q.invitee.ID) {
			return true, displayName(inv.FromName, q.invitee, q.target), nil
		}
	}
	return false, "", nil
}

func (s *service) legacyContact(ctx context.Context, q duplicateQuery) (bool, string, error) {
	contact, err := s.contacts.FindByEmail(ctx, q.current.ID, q.target)
	if err != nil {
		return false, "", fmt.Errorf("failed to find contact: %w", err)
	}
	if contact == nil {
		return false, "", nil
	}
	return true, displayName(contact.Name, q.invitee, q.target), nil
}

func displayName(name string, p *model.Profile, email string) string {
	if name != "" {
		return name
	}
	if p != nil && p.Name != "" {
		return p.Name
	}
	return email
}

// AcceptInvitation is safe to retry: accepting an accepted invitation returns
// the relation created the first time.
func (s *service) AcceptInvitation(ctx context.Context, invitationID, accepterID uuid.UUID) (*model.Relation, error) {
	inv, err := s.invitations.Get(ctx, invitationID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeAddressee(ctx, inv, accepterID); err != nil {
		return nil, err
	}

	if inv.IsPending() {
		accepted := inv.Clone()
		if err := accepted.Accept(accepterID, s.now()); err != nil {
			return nil, err
		}
		err := s.invitations.Respond(ctx, accepted, model.InvitationStatusPending)
		switch {
		case err == nil:
			inv = accepted
		case apperrors.IsInvalidState(err):
			// lost a race; the winner may have accepted it already
			if inv, err = s.invitations.Get(ctx, invitationID); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("failed to accept invitation: %w", err)
		}
	}
	if inv.Status != model.InvitationStatusAccepted {
		return nil, apperrors.InvalidState("invitation is already " + string(inv.Status))
	}

	rel, err := s.ensureRelation(ctx, inv, accepterID)
	if err != nil {
		return nil, err
	}

	s.notify(ctx,
		livequery.InvitationsForEmailTopic(model.NormalizeEmail(inv.ToEmail)),
		livequery.RelationsForUserTopic(rel.User1ID.String()),
		livequery.RelationsForUserTopic(rel.User2ID.String()),
	)
	s.outcome("accepted")
	s.logger.Info("invitation accepted", "invitation_id", invitationID.String(), "relation_id", rel.ID.String())
	return rel, nil
}

func (s *service) ensureRelation(ctx context.Context, inv *model.Invitation, accepterID uuid.UUID) (*model.Relation, error) {
	existing, err := s.relations.GetByInvitation(ctx, inv.ID)
	if err == nil {
		return existing, nil
	}
	if !apperrors.IsNotFound(err) {
		return nil, fmt.Errorf("failed to get relation: %w", err)
	}

	rel := model.NewAcceptedRelation(inv, accepterID, s.now())
	created, err := s.relations.Create(ctx, rel)
	if err != nil {
		return nil, fmt.Errorf("failed to create relation: %w", err)
	}
	if !created {
		return s.relations.GetByInvitation(ctx, inv.ID)
	}
	return rel, nil
}

func (s *service) DeclineInvitation(ctx context.Context, invitationID, userID uuid.UUID) (*model.Invitation, error) {
	inv, err := s.invitations.Get(ctx, invitationID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeAddressee(ctx, inv, userID); err != nil {
		return nil, err
	}
	return s.respond(ctx, inv, "declined", func(i *model.Invitation) error { return i.Decline(s.now()) })
}

func (s *service) CancelInvitation(ctx context.Context, invitationID, userID uuid.UUID) (*model.Invitation, error) {
	inv, err := s.invitations.Get(ctx, invitationID)
	if err != nil {
		return nil, err
	}
	if inv.FromUserID != userID {
		return nil, apperrors.PermissionDenied("only the sender can cancel an invitation")
	}
	return s.respond(ctx, inv, "cancelled", func(i *model.Invitation) error { return i.Cancel(s.now()) })
}

func (s *service) respond(ctx context.Context, inv *model.Invitation, outcome string, transition func(*model.Invitation) error) (*model.Invitation, error) {
	updated := inv.Clone()
	if err := transition(updated); err != nil {
		return nil, err
	}
	if err := s.invitations.Respond(ctx, updated, inv.Status); err != nil {
		if apperrors.IsInvalidState(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update invitation: %w", err)
	}
	s.notify(ctx, livequery.InvitationsForEmailTopic(model.NormalizeEmail(inv.ToEmail)))
	s.outcome(outcome)
	return updated, nil
}

func (s *service) authorizeAddressee(ctx context.Context, inv *model.Invitation, userID uuid.UUID) error {
	var addr string
	p, err := s.profiles.Get(ctx, userID)
	switch {
	case err == nil:
		addr = p.Email
	case !apperrors.IsNotFound(err):
		return fmt.Errorf("failed to get profile: %w", err)
	}
	if !inv.IsAddressee(userID, addr) {
		return apperrors.PermissionDenied("invitation is addressed to someone else")
	}
	return nil
}

// ListBuddies merges relations where the user is either side. Buddies whose
// profile cannot be found are left out.
func (s *service) ListBuddies(ctx context.Context, userID uuid.UUID) ([]model.Buddy, error) {
	asInviter, err := s.relations.ListByUser1(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list relations: %w", err)
	}
	asInvitee, err := s.relations.ListByUser2(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list relations: %w", err)
	}

	byID := make(map[uuid.UUID]*model.Relation, len(asInviter)+len(asInvitee))
	for _, rel := range append(asInviter, asInvitee...) {
		if rel.Status == model.RelationStatusAccepted {
			byID[rel.ID] = rel
		}
	}

	buddies := make([]model.Buddy, 0, len(byID))
	seen := make(map[uuid.UUID]bool, len(byID))
	for _, rel := range byID {
		other, ok := rel.Other(userID)
		if !ok || other == userID || seen[other] {
			continue
		}
		p, err := s.profiles.Get(ctx, other)
		if err != nil {
			if apperrors.IsNotFound(err) {
				s.logger.Warn("buddy profile missing, skipping",
					"user_id", userID.String(), "buddy_id", other.String(), "relation_id", rel.ID.String())
				continue
			}
			return nil, fmt.Errorf("failed to get buddy profile: %w", err)
		}
		seen[other] = true
		buddies = append(buddies, model.Buddy{
			RelationID: rel.ID,
			UserID:     p.ID,
			Name:       p.Name,
			Email:      p.Email,
			Phone:      p.Phone,
		})
	}

	sort.Slice(buddies, func(i, j int) bool {
		if buddies[i].Name != buddies[j].Name {
			return buddies[i].Name < buddies[j].Name
		}
		return buddies[i].UserID.String() < buddies[j].UserID.String()
	})
	return buddies, nil
}

func (s *service) ListInvitations(ctx context.Context, userID uuid.UUID) (*InvitationLists, error) {
	p, err := s.profiles.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	received, err := s.invitations.ListPendingForEmail(ctx, p.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to list received invitations: %w", err)
	}
	sent, err := s.invitations.ListPendingFromUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sent invitations: %w", err)
	}
	return &InvitationLists{Received: received, Sent: sent}, nil
}

func (s *service) WatchInvitations(addr string) (<-chan []*model.Invitation, registry.Unsubscribe) {
	addr = model.NormalizeEmail(addr)
	return s.invitationFeeds.Subscribe(registry.InvitationsForEmailKey(addr),
		livequery.Query(s.notifier, livequery.InvitationsForEmailTopic(addr), func(ctx context.Context) ([]*model.Invitation, error) {
			return s.invitations.ListPendingForEmail(ctx, addr)
		}))
}

func (s *service) WatchRelations(userID uuid.UUID) (<-chan []model.Buddy, registry.Unsubscribe) {
	return s.relationFeeds.Subscribe(registry.RelationsForUserKey(userID.String()),
		livequery.Query(s.notifier, livequery.RelationsForUserTopic(userID.String()), func(ctx context.Context) ([]model.Buddy, error) {
			return s.ListBuddies(ctx, userID)
		}))
}

func (s *service) Close() {
	s.invitationFeeds.Close()
	s.relationFeeds.Close()
}

func (s *service) notify(ctx context.Context, topics ...string) {
	if s.notifier != nil {
		s.notifier.Notify(ctx, topics...)
	}
}

func (s *service) outcome(name string) {
	if s.metrics != nil {
		s.metrics.InvitationOutcomes.WithLabelValues(name).Inc()
	}
}
