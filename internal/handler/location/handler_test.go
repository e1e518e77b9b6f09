package location

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/alleraid-api/internal/middleware"
	"github.com/jwalitptl/alleraid-api/internal/model"
	"github.com/jwalitptl/alleraid-api/pkg/logger"
	"github.com/jwalitptl/alleraid-api/pkg/validator"
)

type recordingReporter struct {
	mu    sync.Mutex
	fixes map[uuid.UUID][]model.Fix
}

func (r *recordingReporter) Report(userID uuid.UUID, fix model.Fix) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fixes[userID] = append(r.fixes[userID], fix)
}

func (r *recordingReporter) count(userID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fixes[userID])
}

func setup(t *testing.T) (*gin.Engine, *recordingReporter, uuid.UUID) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	userID := uuid.New()
	reporter := &recordingReporter{fixes: map[uuid.UUID][]model.Fix{}}

	engine := gin.New()
	engine.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserID, userID)
		c.Next()
	})
	NewHandler(reporter, validator.New(), logger.Nop()).RegisterRoutes(engine.Group(""))
	return engine, reporter, userID
}

func TestReportLocation(t *testing.T) {
	engine, reporter, userID := setup(t)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"valid", `{"latitude":51.5,"longitude":-0.12,"accuracy":8}`, http.StatusAccepted},
		{"latitude out of range", `{"latitude":91,"longitude":0}`, http.StatusBadRequest},
		{"negative accuracy", `{"latitude":1,"longitude":1,"accuracy":-1}`, http.StatusBadRequest},
		{"not json", `lat=1`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/locations", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			engine.ServeHTTP(w, req)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
		})
	}
	assert.Equal(t, 1, reporter.count(userID))
}

func TestStreamLocations(t *testing.T) {
	engine, reporter, userID := setup(t)
	srv := httptest.NewServer(engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/locations/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]float64{"latitude": 51.5, "longitude": -0.12, "accuracy": 5}))
	var reply ack
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "ok", reply.Status)
	require.NotNil(t, reply.Fix)
	assert.Equal(t, 51.5, reply.Fix.Latitude)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("garbage")))
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "error", reply.Status)

	require.NoError(t, conn.WriteJSON(map[string]float64{"latitude": 95, "longitude": 0}))
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "error", reply.Status)
	assert.Contains(t, reply.Error, "latitude")

	assert.Eventually(t, func() bool { return reporter.count(userID) == 1 }, time.Second, 10*time.Millisecond)
}
