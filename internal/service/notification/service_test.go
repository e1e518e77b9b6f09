package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/alleraid-api/internal/model"
	"github.com/jwalitptl/alleraid-api/internal/repository/memory"
	"github.com/jwalitptl/alleraid-api/pkg/metrics"
	"github.com/jwalitptl/alleraid-api/pkg/notify"
)

type fakeChannel struct {
	name  string
	reach func(notify.Recipient) bool
	fail  map[uuid.UUID]error

	mu   sync.Mutex
	sent map[uuid.UUID]notify.Message
}

func newFakeChannel(name string, reach func(notify.Recipient) bool) *fakeChannel {
	return &fakeChannel{name: name, reach: reach, fail: map[uuid.UUID]error{}, sent: map[uuid.UUID]notify.Message{}}
}

func (c *fakeChannel) Name() string                     { return c.name }
func (c *fakeChannel) CanReach(r notify.Recipient) bool { return c.reach(r) }

func (c *fakeChannel) Send(ctx context.Context, r notify.Recipient, m notify.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent[r.UserID] = m
	return c.fail[r.UserID]
}

func (c *fakeChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func hasPhone(r notify.Recipient) bool { return r.Phone != "" }
func always(notify.Recipient) bool     { return true }

func testAlert() *model.Alert {
	return &model.Alert{
		ID:            uuid.New(),
		InitiatorID:   uuid.New(),
		InitiatorName: "Ana",
		Status:        model.AlertStatusActive,
		Allergies:     []string{"peanuts", "shellfish"},
		Instructions:  "EpiPen in left pocket",
		Location:      &model.Location{Latitude: 51.5, Longitude: -0.12},
		CreatedAt:     time.Now(),
	}
}

func TestDispatchOneFailureDoesNotAffectOther(t *testing.T) {
	store := memory.NewStore()
	sms := newFakeChannel(notify.ChannelSMS, hasPhone)
	svc := NewService(store.Notifications, []notify.Channel{sms}, Config{}, nil, metrics.NewNop())

	ok := &model.Profile{ID: uuid.New(), Name: "Bo", Phone: "+1555000001"}
	broken := &model.Profile{ID: uuid.New(), Name: "Cy", Phone: "+1555000002"}
	sms.fail[broken.ID] = errors.New("carrier rejected")

	alert := testAlert()
	report := svc.Dispatch(context.Background(), alert, []*model.Profile{ok, broken})

	require.Len(t, report.Results, 2)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 2, sms.count())

	status := map[uuid.UUID]model.NotificationTask{}
	for _, task := range svc.Status(alert.ID) {
		status[task.RecipientID] = task
	}
	assert.Equal(t, model.NotificationStatusSent, status[ok.ID].Status)
	assert.Equal(t, model.NotificationStatusFailed, status[broken.ID].Status)
	assert.Equal(t, "carrier rejected", status[broken.ID].LastError)

	persisted, err := svc.Tasks(context.Background(), alert.ID)
	require.NoError(t, err)
	require.Len(t, persisted, 2)
	for _, task := range persisted {
		assert.True(t, task.Status.IsTerminal())
		assert.Equal(t, notify.ChannelSMS, task.Channel)
	}
}

func TestDispatchFollowsPreferenceOrder(t *testing.T) {
	store := memory.NewStore()
	sms := newFakeChannel(notify.ChannelSMS, hasPhone)
	push := newFakeChannel(notify.ChannelPush, always)
	email := newFakeChannel(notify.ChannelEmail, always)

	svc := NewService(store.Notifications, []notify.Channel{email, push, sms}, Config{
		Preference: []string{notify.ChannelSMS, notify.ChannelPush, notify.ChannelEmail},
	}, nil, nil)

	withPhone := &model.Profile{ID: uuid.New(), Phone: "+1555000001", Email: "a@example.com"}
	withoutPhone := &model.Profile{ID: uuid.New(), Email: "b@example.com"}

	report := svc.Dispatch(context.Background(), testAlert(), []*model.Profile{withPhone, withoutPhone})
	assert.Equal(t, 2, report.Sent)

	byRecipient := map[uuid.UUID]string{}
	for _, r := range report.Results {
		byRecipient[r.RecipientID] = r.Channel
	}
	assert.Equal(t, notify.ChannelSMS, byRecipient[withPhone.ID])
	assert.Equal(t, notify.ChannelPush, byRecipient[withoutPhone.ID])
	assert.Zero(t, email.count(), "exactly one channel attempt per recipient")
}

func TestDispatchUnreachableRecipientFails(t *testing.T) {
	store := memory.NewStore()
	sms := newFakeChannel(notify.ChannelSMS, hasPhone)
	svc := NewService(store.Notifications, []notify.Channel{sms}, Config{Preference: []string{notify.ChannelSMS}}, nil, nil)

	p := &model.Profile{ID: uuid.New(), Name: "No Phone"}
	report := svc.Dispatch(context.Background(), testAlert(), []*model.Profile{p})

	require.Len(t, report.Results, 1)
	assert.Equal(t, model.NotificationStatusFailed, report.Results[0].Status)
	assert.Equal(t, errNoChannel.Error(), report.Results[0].Error)
}

func TestSMSTextCarriesAlertDetails(t *testing.T) {
	msg := composeMessage(testAlert())

	assert.Contains(t, msg.Body, "Ana")
	assert.Contains(t, msg.Body, "peanuts, shellfish")
	assert.Contains(t, msg.Body, "EpiPen in left pocket")
	assert.Contains(t, msg.Body, "https://maps.google.com/?q=51.500000,-0.120000")

	notice, ok := msg.Data.(model.AlertNotice)
	require.True(t, ok)
	assert.Equal(t, "Ana", notice.PatientName)
	require.NotNil(t, notice.Latitude)
	assert.Equal(t, 51.5, *notice.Latitude)
}

func TestSMSTextWithoutLocation(t *testing.T) {
	a := testAlert()
	a.Location = nil
	msg := composeMessage(a)

	assert.NotContains(t, msg.Body, "Location:")
	assert.Empty(t, msg.Data.(model.AlertNotice).LocationURL)
}

func TestClearStatus(t *testing.T) {
	store := memory.NewStore()
	push := newFakeChannel(notify.ChannelPush, always)
	svc := NewService(store.Notifications, []notify.Channel{push}, Config{}, nil, nil)

	alert := testAlert()
	svc.Dispatch(context.Background(), alert, []*model.Profile{{ID: uuid.New()}})
	require.Len(t, svc.Status(alert.ID), 1)

	svc.ClearStatus(alert.ID)
	assert.Empty(t, svc.Status(alert.ID))

	persisted, err := svc.Tasks(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.Len(t, persisted, 1)
}

type slowChannel struct {
	delay time.Duration
}

func (c slowChannel) Name() string                   { return notify.ChannelPush }
func (c slowChannel) CanReach(notify.Recipient) bool { return true }

func (c slowChannel) Send(ctx context.Context, r notify.Recipient, m notify.Message) error {
	select {
	case <-time.After(c.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestDispatchSurvivesCallerCancellation(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store.Notifications, []notify.Channel{slowChannel{delay: 100 * time.Millisecond}},
		Config{SendTimeout: time.Second}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	defer cancel()

	alert := testAlert()
	report := svc.Dispatch(ctx, alert, []*model.Profile{{ID: uuid.New()}, {ID: uuid.New()}})

	assert.Equal(t, 2, report.Sent)
	assert.Equal(t, 0, report.Failed)
	for _, task := range svc.Status(alert.ID) {
		assert.Equal(t, model.NotificationStatusSent, task.Status)
		assert.Empty(t, task.LastError)
	}
}
