package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	apperrors "github.com/jwalitptl/alleraid-api/pkg/errors"
	"github.com/jwalitptl/alleraid-api/pkg/httputil"
	"github.com/jwalitptl/alleraid-api/pkg/logger"
)

// Recovery turns a panic into a 500 envelope and logs the stack.
func Recovery(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				err := fmt.Errorf("panic: %v", rec)
				log.WithContext(c.Request.Context()).Error(err, "Request panic recovered",
					"stack", string(debug.Stack()),
					"method", c.Request.Method,
					"path", c.Request.URL.Path)

				if c.Writer.Written() {
					c.Abort()
					return
				}
				httputil.AbortWithError(c, apperrors.Internal(err))
			}
		}()
		c.Next()
	}
}
