package httputil

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/alleraid-api/pkg/errors"
)

// Response wraps all API responses
type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Code    int         `json:"code,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func NewSuccessResponse(data interface{}) *Response {
	return &Response{Status: "success", Data: data}
}

func NewErrorResponse(message string) *Response {
	return &Response{Status: "error", Message: message}
}

// RespondWithSuccess sends a success response
func RespondWithSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, NewSuccessResponse(data))
}

// RespondWithError records err on the context for the error middleware and
// writes the matching status. Errors that are not AppErrors become a 500
// without leaking their text.
func RespondWithError(c *gin.Context, err error) {
	_ = c.Error(err)
	status, body := errorBody(err)
	c.JSON(status, body)
}

// AbortWithError is RespondWithError for middleware.
func AbortWithError(c *gin.Context, err error) {
	_ = c.Error(err)
	status, body := errorBody(err)
	c.AbortWithStatusJSON(status, body)
}

func errorBody(err error) (int, *Response) {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		status := appErr.StatusCode()
		if status == http.StatusInternalServerError {
			return status, &Response{Status: "error", Message: "internal server error", Code: int(errors.ErrInternal)}
		}
		return status, &Response{Status: "error", Message: appErr.Message, Code: int(appErr.Code)}
	}
	return http.StatusInternalServerError, &Response{Status: "error", Message: "internal server error", Code: int(errors.ErrInternal)}
}
