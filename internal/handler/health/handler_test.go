package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestReadinessCheck(t *testing.T) {
	gin.SetMode(gin.TestMode)

	ok := Check{Name: "database", Ping: func(context.Context) error { return nil }}
	down := Check{Name: "redis", Ping: func(context.Context) error { return errors.New("connection refused") }}

	tests := []struct {
		name       string
		checks     []Check
		wantStatus int
		wantBody   string
	}{
		{"no dependencies", nil, http.StatusOK, `{"status":"UP"}`},
		{"all healthy", []Check{ok}, http.StatusOK, `{"status":"UP"}`},
		{"one down", []Check{ok, down}, http.StatusServiceUnavailable, `{"status":"DOWN","failed":{"redis":"connection refused"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := gin.New()
			NewHandler(tt.checks...).RegisterRoutes(engine.Group(""))

			w := httptest.NewRecorder()
			engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.JSONEq(t, tt.wantBody, w.Body.String())
		})
	}
}

func TestLivenessCheck(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	NewHandler().RegisterRoutes(engine.Group(""))

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
