package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/alleraid-api/pkg/auth"
	apperrors "github.com/jwalitptl/alleraid-api/pkg/errors"
	"github.com/jwalitptl/alleraid-api/pkg/httputil"
)

const (
	ContextUserID    = "user_id"
	ContextUserEmail = "user_email"

	// accessTokenParam lets EventSource and websocket clients, which cannot
	// set headers, authenticate through the query string.
	accessTokenParam = "access_token"
)

type AuthMiddleware struct {
	jwt auth.JWTService
}

func NewAuthMiddleware(jwt auth.JWTService) *AuthMiddleware {
	return &AuthMiddleware{jwt: jwt}
}

// Authenticate verifies the bearer token and stores the caller's user id and
// email on the context.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c)
		if err != nil {
			httputil.AbortWithError(c, err)
			return
		}

		claims, err := m.jwt.ValidateToken(token)
		if err != nil {
			httputil.AbortWithError(c, err)
			return
		}
		userID, err := claims.UserID()
		if err != nil {
			httputil.AbortWithError(c, apperrors.Unauthorized(err))
			return
		}

		c.Set(ContextUserID, userID)
		c.Set(ContextUserEmail, claims.Email)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if token := c.Query(accessTokenParam); token != "" {
			return token, nil
		}
		return "", apperrors.Unauthorized(nil)
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", apperrors.Unauthorized(nil)
	}
	return parts[1], nil
}

// UserID returns the authenticated caller.
func UserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

func UserEmail(c *gin.Context) string {
	return c.GetString(ContextUserEmail)
}
