package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/alleraid-api/pkg/logger"
)

// Logger logs one line per request. Bodies are never logged: they carry
// locations and medical details.
func Logger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		event := log.ZL.Info()
		switch {
		case status >= 500:
			event = log.ZL.Error()
		case status >= 400:
			event = log.ZL.Warn()
		}

		event = event.
			Str("request_id", c.GetString(ContextRequestID)).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("route", c.FullPath()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent())
		if userID, ok := UserID(c); ok {
			event = event.Str("user_id", userID.String())
		}
		event.Msg("Request processed")
	}
}
