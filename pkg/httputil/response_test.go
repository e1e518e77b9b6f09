package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jwalitptl/alleraid-api/pkg/errors"
)

func TestRespondWithError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{"not found", apperrors.NotFound("alert", nil), http.StatusNotFound, "alert not found"},
		{"wrapped permission", fmt.Errorf("failed to accept: %w", apperrors.PermissionDenied("not a recipient")), http.StatusForbidden, "not a recipient"},
		{"already responding", apperrors.AlreadyResponding("a1"), http.StatusConflict, "alert a1 already has a responder"},
		{"unavailable", apperrors.Unavailable("location unavailable", nil), http.StatusServiceUnavailable, "location unavailable"},
		{"plain error hides text", errors.New("pq: connection refused"), http.StatusInternalServerError, "internal server error"},
		{"internal app error hides text", apperrors.Internal(errors.New("boom")), http.StatusInternalServerError, "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			RespondWithError(c, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			var body Response
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, "error", body.Status)
			assert.Equal(t, tt.wantMsg, body.Message)
			assert.Len(t, c.Errors, 1)
		})
	}
}

func TestRespondWithSuccess(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	RespondWithSuccess(c, http.StatusCreated, map[string]string{"id": "1"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"status":"success","data":{"id":"1"}}`, w.Body.String())
}
