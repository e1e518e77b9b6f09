package middleware

import "github.com/gin-gonic/gin"

const HeaderAPIVersion = "X-API-Version"

func APIVersion(version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header(HeaderAPIVersion, version)
		c.Next()
	}
}
