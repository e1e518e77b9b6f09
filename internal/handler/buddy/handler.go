package buddy

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/alleraid-api/internal/handler"
	"github.com/jwalitptl/alleraid-api/internal/middleware"
	"github.com/jwalitptl/alleraid-api/internal/model"
	buddyService "github.com/jwalitptl/alleraid-api/internal/service/buddy"
	apperrors "github.com/jwalitptl/alleraid-api/pkg/errors"
	"github.com/jwalitptl/alleraid-api/pkg/httputil"
	"github.com/jwalitptl/alleraid-api/pkg/validator"
)

type Handler struct {
	service   buddyService.Service
	validator validator.Validator
}

func NewHandler(service buddyService.Service, v validator.Validator) *Handler {
	return &Handler{service: service, validator: v}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	invitations := r.Group("/invitations")
	{
		invitations.POST("", h.SendInvitation)
		invitations.GET("", h.ListInvitations)
		invitations.GET("/check", h.CheckDuplicate)
		invitations.GET("/stream", h.StreamInvitations)
		invitations.POST("/:id/accept", h.AcceptInvitation)
		invitations.POST("/:id/decline", h.DeclineInvitation)
		invitations.POST("/:id/cancel", h.CancelInvitation)
	}

	buddies := r.Group("/buddies")
	{
		buddies.GET("", h.ListBuddies)
		buddies.GET("/stream", h.StreamBuddies)
	}
}

// SendInvitation answers 201 with the new invitation, or 200 with the
// duplicate classification when nothing was created.
func (h *Handler) SendInvitation(c *gin.Context) {
	userID, ok := handler.CurrentUser(c)
	if !ok {
		return
	}

	var req model.SendInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid request body", err))
		return
	}
	if err := h.validator.Validate(req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	result, err := h.service.SendInvitation(c.Request.Context(), userID, req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	status := http.StatusCreated
	if result.Invitation == nil {
		status = http.StatusOK
	}
	httputil.RespondWithSuccess(c, status, result)
}

func (h *Handler) CheckDuplicate(c *gin.Context) {
	userID, ok := handler.CurrentUser(c)
	if !ok {
		return
	}

	email := c.Query("email")
	if err := h.validator.ValidateField("email", email, "required", "email"); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	result, err := h.service.CheckDuplicate(c.Request.Context(), userID, email)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, result)
}

func (h *Handler) ListInvitations(c *gin.Context) {
	userID, ok := handler.CurrentUser(c)
	if !ok {
		return
	}

	lists, err := h.service.ListInvitations(c.Request.Context(), userID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, lists)
}

func (h *Handler) AcceptInvitation(c *gin.Context) {
	userID, ok := handler.CurrentUser(c)
	if !ok {
		return
	}
	invitationID, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}

	relation, err := h.service.AcceptInvitation(c.Request.Context(), invitationID, userID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, relation)
}

func (h *Handler) DeclineInvitation(c *gin.Context) {
	userID, ok := handler.CurrentUser(c)
	if !ok {
		return
	}
	invitationID, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}

	inv, err := h.service.DeclineInvitation(c.Request.Context(), invitationID, userID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, inv)
}

func (h *Handler) CancelInvitation(c *gin.Context) {
	userID, ok := handler.CurrentUser(c)
	if !ok {
		return
	}
	invitationID, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}

	inv, err := h.service.CancelInvitation(c.Request.Context(), invitationID, userID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, inv)
}

func (h *Handler) ListBuddies(c *gin.Context) {
	userID, ok := handler.CurrentUser(c)
	if !ok {
		return
	}

	buddies, err := h.service.ListBuddies(c.Request.Context(), userID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, buddies)
}

// StreamInvitations follows pending invitations addressed to the email in the
// caller's token.
func (h *Handler) StreamInvitations(c *gin.Context) {
	if _, ok := handler.CurrentUser(c); !ok {
		return
	}
	email := middleware.UserEmail(c)
	if email == "" {
		httputil.RespondWithError(c, apperrors.BadRequest("token carries no email", nil))
		return
	}

	feed, stop := h.service.WatchInvitations(email)
	handler.Stream(c, "invitations", feed, stop)
}

func (h *Handler) StreamBuddies(c *gin.Context) {
	userID, ok := handler.CurrentUser(c)
	if !ok {
		return
	}

	feed, stop := h.service.WatchRelations(userID)
	handler.Stream(c, "buddies", feed, stop)
}
