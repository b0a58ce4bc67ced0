package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/procurement-api/internal/service"
	"github.com/noah-isme/procurement-api/pkg/response"
)

// AccountHandler exposes budget account figures.
type AccountHandler struct {
	accounts    *service.AccountService
	encumbrance *service.EncumbranceService
}

// NewAccountHandler creates a new handler.
func NewAccountHandler(accounts *service.AccountService, encumbrance *service.EncumbranceService) *AccountHandler {
	return &AccountHandler{accounts: accounts, encumbrance: encumbrance}
}

// Get godoc
// @Summary Fetch a requester's budget account
// @Description Recomputes the encumbrance snapshot, then returns the account figures
// @Tags Accounts
// @Produce json
// @Param requester path string true "Requester identity"
// @Success 200 {object} response.Envelope
// @Failure 500 {object} response.Envelope
// @Router /accounts/{requester} [get]
func (h *AccountHandler) Get(c *gin.Context) {
	requester := c.Param("requester")

	// Best-effort refresh so the caller sees current figures; a failed
	// recompute still serves the last snapshot.
	_, _ = h.encumbrance.Compute(c.Request.Context(), requester)

	account, err := h.accounts.Get(c.Request.Context(), requester)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, account, nil)
}

// RecomputeAll godoc
// @Summary Recompute every active account's encumbrance
// @Description Runs the full sweep immediately, same as the scheduled job
// @Tags Accounts
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 500 {object} response.Envelope
// @Router /sweeps/encumbrance [post]
func (h *AccountHandler) RecomputeAll(c *gin.Context) {
	recomputed, err := h.encumbrance.RecomputeAll(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, gin.H{"recomputed": recomputed}, nil)
}
