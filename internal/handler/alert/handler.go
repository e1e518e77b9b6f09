package alert

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/alleraid-api/internal/handler"
	"github.com/jwalitptl/alleraid-api/internal/model"
	alertService "github.com/jwalitptl/alleraid-api/internal/service/alert"
	apperrors "github.com/jwalitptl/alleraid-api/pkg/errors"
	"github.com/jwalitptl/alleraid-api/pkg/httputil"
	"github.com/jwalitptl/alleraid-api/pkg/validator"
)

type Handler struct {
	service   alertService.Service
	validator validator.Validator
}

func NewHandler(service alertService.Service, v validator.Validator) *Handler {
	return &Handler{service: service, validator: v}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	alerts := r.Group("/alerts")
	{
		alerts.POST("", h.CreateAlert)
		alerts.GET("/history", h.ListHistory)
		alerts.GET("/incoming", h.ListIncoming)
		alerts.GET("/incoming/stream", h.StreamIncoming)
		alerts.GET("/:id", h.GetAlert)
		alerts.POST("/:id/accept", h.AcceptAlert)
		alerts.POST("/:id/resolve", h.ResolveAlert)
		alerts.GET("/:id/notifications", h.GetNotifications)
		alerts.GET("/:id/stream", h.StreamAlert)
	}
}

// CreateAlert triggers an emergency. The body is optional; an empty one uses
// the caller's profile and current position.
func (h *Handler) CreateAlert(c *gin.Context) {
	userID, ok := handler.CurrentUser(c)
	if !ok {
		return
	}

	var req model.CreateAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid request body", err))
		return
	}
	if err := h.validator.Validate(req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	if (req.Latitude == nil) != (req.Longitude == nil) {
		httputil.RespondWithError(c, apperrors.BadRequest("latitude and longitude must be sent together", nil))
		return
	}

	result, err := h.service.CreateAlert(c.Request.Context(), userID, req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusCreated, result)
}

func (h *Handler) GetAlert(c *gin.Context) {
	userID, ok := handler.CurrentUser(c)
	if !ok {
		return
	}
	alertID, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}

	alert, err := h.service.Get(c.Request.Context(), alertID, userID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, alert)
}

func (h *Handler) AcceptAlert(c *gin.Context) {
	userID, ok := handler.CurrentUser(c)
	if !ok {
		return
	}
	alertID, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}

	alert, err := h.service.Accept(c.Request.Context(), alertID, userID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, alert)
}

func (h *Handler) ResolveAlert(c *gin.Context) {
	userID, ok := handler.CurrentUser(c)
	if !ok {
		return
	}
	alertID, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}

	alert, err := h.service.Resolve(c.Request.Context(), alertID, userID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, alert)
}

func (h *Handler) GetNotifications(c *gin.Context) {
	userID, ok := handler.CurrentUser(c)
	if !ok {
		return
	}
	alertID, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}

	tasks, err := h.service.NotificationStatus(c.Request.Context(), alertID, userID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, tasks)
}

func (h *Handler) ListHistory(c *gin.Context) {
	userID, ok := handler.CurrentUser(c)
	if !ok {
		return
	}

	alerts, err := h.service.ListHistory(c.Request.Context(), userID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, alerts)
}

func (h *Handler) ListIncoming(c *gin.Context) {
	userID, ok := handler.CurrentUser(c)
	if !ok {
		return
	}

	alerts, err := h.service.ListActiveForBuddy(c.Request.Context(), userID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, alerts)
}

func (h *Handler) StreamAlert(c *gin.Context) {
	userID, ok := handler.CurrentUser(c)
	if !ok {
		return
	}
	alertID, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	if _, err := h.service.Get(c.Request.Context(), alertID, userID); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	feed, stop := h.service.WatchAlert(alertID)
	handler.Stream(c, "alert", feed, stop)
}

func (h *Handler) StreamIncoming(c *gin.Context) {
	userID, ok := handler.CurrentUser(c)
	if !ok {
		return
	}

	feed, stop := h.service.WatchAlertsForBuddy(userID)
	handler.Stream(c, "alerts", feed, stop)
}
