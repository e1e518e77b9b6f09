package router

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	alertHandler "github.com/jwalitptl/alleraid-api/internal/handler/alert"
	buddyHandler "github.com/jwalitptl/alleraid-api/internal/handler/buddy"
	"github.com/jwalitptl/alleraid-api/internal/handler/health"
	locationHandler "github.com/jwalitptl/alleraid-api/internal/handler/location"
	"github.com/jwalitptl/alleraid-api/internal/handler/prometheus"
	"github.com/jwalitptl/alleraid-api/internal/livequery"
	"github.com/jwalitptl/alleraid-api/internal/location"
	"github.com/jwalitptl/alleraid-api/internal/middleware"
	"github.com/jwalitptl/alleraid-api/internal/model"
	"github.com/jwalitptl/alleraid-api/internal/repository/memory"
	alertService "github.com/jwalitptl/alleraid-api/internal/service/alert"
	buddyService "github.com/jwalitptl/alleraid-api/internal/service/buddy"
	"github.com/jwalitptl/alleraid-api/internal/service/notification"
	"github.com/jwalitptl/alleraid-api/pkg/auth"
	"github.com/jwalitptl/alleraid-api/pkg/logger"
	"github.com/jwalitptl/alleraid-api/pkg/messaging"
	"github.com/jwalitptl/alleraid-api/pkg/metrics"
	"github.com/jwalitptl/alleraid-api/pkg/notify"
	"github.com/jwalitptl/alleraid-api/pkg/validator"
)

type testApp struct {
	engine *gin.Engine
	store  *memory.Store
	jwt    auth.JWTService

	ana, bo, dee *model.Profile
}

func newTestApp(t *testing.T, cfg RouterConfig) *testApp {
	t.Helper()
	log := logger.Nop()
	reg := promclient.NewRegistry()
	m := metrics.NewMetrics("test", "", reg)

	store := memory.NewStore()
	broker := messaging.NewMemoryBroker()
	notifier := livequery.NewNotifier(broker, log)

	buddies := buddyService.NewService(store.Repositories(), notifier, nil, log, m)
	dispatcher := notification.NewService(store.Notifications,
		[]notify.Channel{notify.NewPushChannel(broker, zap.NewNop())},
		notification.Config{Preference: []string{notify.ChannelPush}}, log, m)

	provider := location.NewReportedProvider(time.Minute, 50)
	locCfg := location.DefaultConfig()
	locCfg.HighAccuracyTimeout = 20 * time.Millisecond
	locCfg.LowAccuracyTimeout = 20 * time.Millisecond
	locCfg.PatientPollInterval = 20 * time.Millisecond
	locCfg.ResponderPollInterval = 20 * time.Millisecond
	tracker := location.NewBroadcaster(provider, alertService.NewLocationPublisher(store.Alerts, notifier), locCfg, log, m)

	alerts := alertService.NewService(alertService.Deps{
		Repositories: store.Repositories(),
		Buddies:      buddies,
		Tracker:      tracker,
		Dispatcher:   dispatcher,
		Notifier:     notifier,
		Logger:       log,
		Metrics:      m,
	})
	t.Cleanup(func() {
		tracker.Close()
		alerts.Close()
		buddies.Close()
		broker.Close()
	})

	jwt := auth.NewJWTService("test-secret", "alleraid")
	v := validator.New()
	cfg.Mode = gin.TestMode
	if cfg.CORSConfig.AllowOrigins == nil {
		cfg.CORSConfig = middleware.DefaultCORSConfig()
	}
	r := NewRouter(
		middleware.NewAuthMiddleware(jwt),
		health.NewHandler(),
		prometheus.New(reg, m),
		cfg,
		log,
		alertHandler.NewHandler(alerts, v),
		buddyHandler.NewHandler(buddies, v),
		locationHandler.NewHandler(provider, v, log),
	)
	r.Setup()

	app := &testApp{
		engine: r.Engine(),
		store:  store,
		jwt:    jwt,
		ana: &model.Profile{
			ID: uuid.New(), Name: "Ana", Email: "ana@example.com",
			Allergies: []string{"peanuts"}, EmergencyInstructions: "EpiPen in bag",
		},
		bo:  &model.Profile{ID: uuid.New(), Name: "Bo", Email: "bo@example.com"},
		dee: &model.Profile{ID: uuid.New(), Name: "Dee", Email: "dee@example.com"},
	}
	for _, p := range []*model.Profile{app.ana, app.bo, app.dee} {
		store.Profiles.Put(p)
	}
	return app
}

func (a *testApp) token(t *testing.T, p *model.Profile) string {
	t.Helper()
	tok, err := a.jwt.GenerateAccessToken(p.ID, p.Email, time.Hour)
	require.NoError(t, err)
	return tok
}

func (a *testApp) do(t *testing.T, method, path string, as *model.Profile, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		req.Header.Set("Authorization", "Bearer "+a.token(t, as))
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	return w
}

type envelope[T any] struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) envelope[T] {
	t.Helper()
	var env envelope[T]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

// befriend runs the invitation protocol over HTTP.
func (a *testApp) befriend(t *testing.T, from, to *model.Profile) {
	t.Helper()
	w := a.do(t, http.MethodPost, "/api/v1/invitations", from, map[string]string{"email": to.Email})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	inv := decode[model.SendInvitationResult](t, w).Data.Invitation
	require.NotNil(t, inv)

	w = a.do(t, http.MethodPost, "/api/v1/invitations/"+inv.ID.String()+"/accept", to, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestRequiresAuthentication(t *testing.T) {
	app := newTestApp(t, RouterConfig{})

	w := app.do(t, http.MethodGet, "/api/v1/buddies", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "error", decode[any](t, w).Status)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/buddies", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w = httptest.NewRecorder()
	app.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/buddies?access_token="+app.token(t, app.bo), nil)
	w = httptest.NewRecorder()
	app.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	app := newTestApp(t, RouterConfig{})

	w := app.do(t, http.MethodGet, "/api/v1/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, APIVersion, w.Header().Get(middleware.HeaderAPIVersion))
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderXRequestID))

	w = app.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "test_http_requests_total")
}

func TestInvitationFlow(t *testing.T) {
	app := newTestApp(t, RouterConfig{})

	w := app.do(t, http.MethodPost, "/api/v1/invitations", app.ana, map[string]string{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = app.do(t, http.MethodGet, "/api/v1/invitations/check?email=bo@example.com", app.ana, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[model.DuplicateResult](t, w).Data.IsDuplicate())

	app.befriend(t, app.ana, app.bo)

	w = app.do(t, http.MethodPost, "/api/v1/invitations", app.ana, map[string]string{"email": "BO@example.com"})
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[model.SendInvitationResult](t, w).Data
	assert.Nil(t, res.Invitation)
	assert.Equal(t, model.DuplicateExistingBuddy, res.Duplicate.Kind)

	w = app.do(t, http.MethodGet, "/api/v1/buddies", app.bo, nil)
	require.Equal(t, http.StatusOK, w.Code)
	buddies := decode[[]model.Buddy](t, w).Data
	require.Len(t, buddies, 1)
	assert.Equal(t, app.ana.ID, buddies[0].UserID)
	assert.Equal(t, 1, app.store.Relations.Count())
}

func TestDeclineByWrongUserIsForbidden(t *testing.T) {
	app := newTestApp(t, RouterConfig{})

	w := app.do(t, http.MethodPost, "/api/v1/invitations", app.ana, map[string]string{"email": app.bo.Email})
	require.Equal(t, http.StatusCreated, w.Code)
	inv := decode[model.SendInvitationResult](t, w).Data.Invitation

	w = app.do(t, http.MethodPost, "/api/v1/invitations/"+inv.ID.String()+"/decline", app.dee, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = app.do(t, http.MethodPost, "/api/v1/invitations/"+inv.ID.String()+"/cancel", app.ana, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.InvitationStatusCancelled, decode[model.Invitation](t, w).Data.Status)

	w = app.do(t, http.MethodPost, "/api/v1/invitations/"+inv.ID.String()+"/accept", app.bo, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAlertLifecycle(t *testing.T) {
	app := newTestApp(t, RouterConfig{})
	app.befriend(t, app.ana, app.bo)

	w := app.do(t, http.MethodPost, "/api/v1/locations", app.bo, map[string]float64{
		"latitude": 51.5014, "longitude": -0.1419, "accuracy": 10,
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	w = app.do(t, http.MethodPost, "/api/v1/alerts", app.ana, map[string]interface{}{
		"latitude": 51.5007, "longitude": -0.1246, "accuracy": 5,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[alertService.CreateResult](t, w).Data
	alert := created.Alert
	require.NotNil(t, alert)
	assert.Equal(t, model.AlertStatusActive, alert.Status)
	assert.Equal(t, []string{"peanuts"}, alert.Allergies)
	assert.Equal(t, []uuid.UUID{app.bo.ID}, alert.RecipientIDs)
	require.NotNil(t, created.Notifications)
	assert.Equal(t, 1, created.Notifications.Sent)

	alertPath := "/api/v1/alerts/" + alert.ID.String()

	w = app.do(t, http.MethodGet, alertPath, app.dee, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = app.do(t, http.MethodGet, "/api/v1/alerts/incoming", app.bo, nil)
	require.Equal(t, http.StatusOK, w.Code)
	incoming := decode[[]*model.Alert](t, w).Data
	require.Len(t, incoming, 1)
	assert.Equal(t, alert.ID, incoming[0].ID)

	w = app.do(t, http.MethodGet, alertPath+"/notifications", app.ana, nil)
	require.Equal(t, http.StatusOK, w.Code)
	tasks := decode[[]model.NotificationTask](t, w).Data
	require.Len(t, tasks, 1)
	assert.Equal(t, model.NotificationStatusSent, tasks[0].Status)
	assert.Equal(t, notify.ChannelPush, tasks[0].Channel)

	w = app.do(t, http.MethodPost, alertPath+"/accept", app.dee, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = app.do(t, http.MethodPost, alertPath+"/accept", app.bo, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	accepted := decode[model.Alert](t, w).Data
	assert.Equal(t, model.AlertStatusResponding, accepted.Status)
	require.NotNil(t, accepted.Response)
	assert.Equal(t, app.bo.ID, accepted.Response.ResponderID)
	require.NotNil(t, accepted.Response.DistanceKm)
	assert.InDelta(t, 1.2, *accepted.Response.DistanceKm, 0.2)

	w = app.do(t, http.MethodPost, alertPath+"/accept", app.bo, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = app.do(t, http.MethodPost, alertPath+"/resolve", app.ana, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.AlertStatusResolved, decode[model.Alert](t, w).Data.Status)

	w = app.do(t, http.MethodPost, alertPath+"/resolve", app.bo, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = app.do(t, http.MethodGet, "/api/v1/alerts/history", app.ana, nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[[]*model.Alert](t, w).Data
	require.Len(t, history, 1)
	assert.Equal(t, model.AlertStatusResolved, history[0].Status)
}

func TestAlertBadRequests(t *testing.T) {
	app := newTestApp(t, RouterConfig{})

	w := app.do(t, http.MethodGet, "/api/v1/alerts/not-a-uuid", app.ana, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = app.do(t, http.MethodPost, "/api/v1/alerts", app.ana, map[string]float64{"latitude": 51.5})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = app.do(t, http.MethodPost, "/api/v1/alerts", app.ana, map[string]float64{"latitude": 123, "longitude": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = app.do(t, http.MethodGet, "/api/v1/alerts/"+uuid.NewString(), app.ana, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestIncomingAlertStream(t *testing.T) {
	app := newTestApp(t, RouterConfig{})
	app.befriend(t, app.ana, app.bo)

	srv := httptest.NewServer(app.engine)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		srv.URL+"/api/v1/alerts/incoming/stream?access_token="+app.token(t, app.bo), nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	events := make(chan []*model.Alert, 4)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			var alerts []*model.Alert
			if json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &alerts) == nil {
				events <- alerts
			}
		}
	}()

	next := func() []*model.Alert {
		select {
		case a := <-events:
			return a
		case <-time.After(2 * time.Second):
			t.Fatal("no stream event")
			return nil
		}
	}

	assert.Empty(t, next(), "initial snapshot")

	w := app.do(t, http.MethodPost, "/api/v1/alerts", app.ana, map[string]float64{"latitude": 51.5, "longitude": -0.12})
	require.Equal(t, http.StatusCreated, w.Code)

	assert.Eventually(t, func() bool {
		select {
		case a := <-events:
			return len(a) == 1
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRateLimitPerUser(t *testing.T) {
	app := newTestApp(t, RouterConfig{
		RateLimitEnabled: true,
		RateLimit:        middleware.RateLimiterConfig{RPS: 0.001, Burst: 2},
	})

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, app.do(t, http.MethodGet, "/api/v1/buddies", app.ana, nil).Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, app.do(t, http.MethodGet, "/api/v1/buddies", app.ana, nil).Code)
	assert.Equal(t, http.StatusOK, app.do(t, http.MethodGet, "/api/v1/buddies", app.bo, nil).Code)
}
