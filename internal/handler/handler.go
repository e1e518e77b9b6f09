// Package handler holds helpers shared by the HTTP handlers.
package handler

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/alleraid-api/internal/middleware"
	apperrors "github.com/jwalitptl/alleraid-api/pkg/errors"
	"github.com/jwalitptl/alleraid-api/pkg/httputil"
)

// HeartbeatInterval spaces the keep-alive events on idle streams.
var HeartbeatInterval = 15 * time.Second

type RouteRegistrar interface {
	RegisterRoutes(*gin.RouterGroup)
}

// CurrentUser returns the authenticated caller or writes a 401.
func CurrentUser(c *gin.Context) (uuid.UUID, bool) {
	id, ok := middleware.UserID(c)
	if !ok {
		httputil.RespondWithError(c, apperrors.Unauthorized(nil))
		return uuid.Nil, false
	}
	return id, true
}

// ParamID parses a uuid path parameter or writes a 400.
func ParamID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid "+name, err))
		return uuid.Nil, false
	}
	return id, true
}

// Stream relays feed to the client as server-sent events named event until the
// client goes away or the feed closes, then calls stop.
func Stream[T any](c *gin.Context, event string, feed <-chan T, stop func()) {
	defer stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()
	done := c.Request.Context().Done()

	c.Stream(func(io.Writer) bool {
		select {
		case <-done:
			return false
		case v, ok := <-feed:
			if !ok {
				return false
			}
			c.SSEvent(event, v)
			return true
		case t := <-heartbeat.C:
			c.SSEvent("heartbeat", t.UTC().Format(time.RFC3339))
			return true
		}
	})
}
