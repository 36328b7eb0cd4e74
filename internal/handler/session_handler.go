package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/localmart/localmart-api/internal/models"
	"github.com/localmart/localmart-api/internal/service"
	appErrors "github.com/localmart/localmart-api/pkg/errors"
	"github.com/localmart/localmart-api/pkg/response"
)

// SessionHandler exposes refresh token history and bulk revocation.
type SessionHandler struct {
	tokens *service.RefreshTokenService
}

// NewSessionHandler constructs a session handler.
func NewSessionHandler(tokens *service.RefreshTokenService) *SessionHandler {
	return &SessionHandler{tokens: tokens}
}

// List godoc
// @Summary List sessions
// @Description List a user's refresh token history; admins or the owner only
// @Tags Sessions
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /users/{id}/sessions [get]
func (h *SessionHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if !models.CanModify(claims, c.Param("id")) {
		response.Error(c, appErrors.ErrForbidden)
		return
	}

	tokens, err := h.tokens.ListByUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions"))
		return
	}

	response.JSON(c, http.StatusOK, tokens, nil)
}

// RevokeAll godoc
// @Summary Revoke all sessions
// @Description Revoke every active refresh token of a user; admins or the owner only
// @Tags Sessions
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /users/{id}/sessions [delete]
func (h *SessionHandler) RevokeAll(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if !models.CanModify(claims, c.Param("id")) {
		response.Error(c, appErrors.ErrForbidden)
		return
	}

	revoked, err := h.tokens.RevokeAllForUser(c.Request.Context(), c.Param("id"), c.ClientIP(), models.ReasonLogout)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke sessions"))
		return
	}

	response.JSON(c, http.StatusOK, gin.H{"revoked": revoked}, nil)
}
