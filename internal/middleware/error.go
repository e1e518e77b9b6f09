package middleware

import (
	"github.com/gin-gonic/gin"

	apperrors "github.com/jwalitptl/alleraid-api/pkg/errors"
	"github.com/jwalitptl/alleraid-api/pkg/httputil"
	"github.com/jwalitptl/alleraid-api/pkg/logger"
)

// ErrorHandler logs errors attached to the context. Server errors log at
// error level, client errors at debug. A handler that attached an error
// without writing a response gets the standard error envelope.
func ErrorHandler(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		reqLog := log.WithContext(c.Request.Context())
		for _, e := range c.Errors {
			fields := []interface{}{
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"client_ip", c.ClientIP(),
			}
			if apperrors.CodeOf(e.Err) == apperrors.ErrUnknown || apperrors.CodeOf(e.Err) == apperrors.ErrInternal {
				reqLog.Error(e.Err, "Request error", fields...)
			} else {
				reqLog.Debug("Request rejected", append(fields, "error", e.Err.Error())...)
			}
		}

		if !c.Writer.Written() {
			httputil.AbortWithError(c, c.Errors.Last().Err)
		}
	}
}
