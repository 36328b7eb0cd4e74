package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/localmart/localmart-api/internal/service"
	appErrors "github.com/localmart/localmart-api/pkg/errors"
	"github.com/localmart/localmart-api/pkg/response"
)

// ClaimHandler manages operation claims on users.
type ClaimHandler struct {
	claims *service.ClaimService
}

// NewClaimHandler constructs a claim handler.
func NewClaimHandler(claims *service.ClaimService) *ClaimHandler {
	return &ClaimHandler{claims: claims}
}

// List godoc
// @Summary List user claims
// @Description Resolve the operation claims attached to a user
// @Tags Claims
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Router /users/{id}/claims [get]
func (h *ClaimHandler) List(c *gin.Context) {
	claims, err := h.claims.ClaimsFor(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, claims, nil)
}

// Grant godoc
// @Summary Grant claim
// @Description Attach an operation claim to a user, creating it on first use
// @Tags Claims
// @Accept json
// @Produce json
// @Param id path string true "User ID"
// @Param payload body map[string]string true "Claim name"
// @Success 204 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /users/{id}/claims [post]
func (h *ClaimHandler) Grant(c *gin.Context) {
	var payload struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "claim name required"))
		return
	}

	if err := h.claims.Grant(c.Request.Context(), c.Param("id"), payload.Name); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Revoke godoc
// @Summary Revoke claim
// @Description Detach an operation claim from a user
// @Tags Claims
// @Produce json
// @Param id path string true "User ID"
// @Param name path string true "Claim name"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /users/{id}/claims/{name} [delete]
func (h *ClaimHandler) Revoke(c *gin.Context) {
	if err := h.claims.Revoke(c.Request.Context(), c.Param("id"), c.Param("name")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
