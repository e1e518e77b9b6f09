package location

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jwalitptl/alleraid-api/internal/handler"
	"github.com/jwalitptl/alleraid-api/internal/model"
	apperrors "github.com/jwalitptl/alleraid-api/pkg/errors"
	"github.com/jwalitptl/alleraid-api/pkg/httputil"
	"github.com/jwalitptl/alleraid-api/pkg/logger"
	"github.com/jwalitptl/alleraid-api/pkg/validator"
)

const (
	maxMessageSize = 4096
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	writeWait      = 10 * time.Second
)

// Reporter records device positions.
type Reporter interface {
	Report(userID uuid.UUID, fix model.Fix)
}

type Handler struct {
	reporter  Reporter
	validator validator.Validator
	logger    *logger.Logger
	upgrader  websocket.Upgrader
	now       func() time.Time
}

func NewHandler(reporter Reporter, v validator.Validator, log *logger.Logger) *Handler {
	return &Handler{
		reporter:  reporter,
		validator: v,
		logger:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Callers are authenticated by token, not by cookie.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		now: time.Now,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	locations := r.Group("/locations")
	{
		locations.POST("", h.ReportLocation)
		locations.GET("/ws", h.StreamLocations)
	}
}

type ack struct {
	Status string     `json:"status"`
	Error  string     `json:"error,omitempty"`
	Fix    *model.Fix `json:"fix,omitempty"`
}

func (h *Handler) report(userID uuid.UUID, req model.ReportLocationRequest) (model.Fix, error) {
	if err := h.validator.Validate(req); err != nil {
		return model.Fix{}, err
	}
	fix := model.Fix{
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Accuracy:  req.Accuracy,
		Timestamp: h.now().UTC(),
	}
	h.reporter.Report(userID, fix)
	return fix, nil
}

func (h *Handler) ReportLocation(c *gin.Context) {
	userID, ok := handler.CurrentUser(c)
	if !ok {
		return
	}

	var req model.ReportLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid request body", err))
		return
	}
	fix, err := h.report(userID, req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusAccepted, fix)
}

// StreamLocations upgrades to a websocket over which a device sends one JSON
// position per message. Each message is acknowledged.
func (h *Handler) StreamLocations(c *gin.Context) {
	userID, ok := handler.CurrentUser(c)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "user_id", userID.String(), "error", err.Error())
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()

	h.logger.Debug("location stream opened", "user_id", userID.String())
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("location stream closed", "user_id", userID.String(), "error", err.Error())
			}
			return
		}

		reply := ack{Status: "ok"}
		var req model.ReportLocationRequest
		if err := json.Unmarshal(data, &req); err != nil {
			reply = ack{Status: "error", Error: "invalid message"}
		} else if fix, err := h.report(userID, req); err != nil {
			reply = ack{Status: "error", Error: err.Error()}
		} else {
			reply.Fix = &fix
		}

		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(reply); err != nil {
			return
		}
	}
}
