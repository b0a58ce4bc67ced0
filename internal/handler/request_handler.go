package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/procurement-api/internal/dto"
	"github.com/noah-isme/procurement-api/internal/service"
	appErrors "github.com/noah-isme/procurement-api/pkg/errors"
	"github.com/noah-isme/procurement-api/pkg/response"
)

// RequestHandler wires HTTP endpoints to the approval workflow.
type RequestHandler struct {
	workflow *service.WorkflowService
}

// NewRequestHandler creates a new handler.
func NewRequestHandler(workflow *service.WorkflowService) *RequestHandler {
	return &RequestHandler{workflow: workflow}
}

// Submit godoc
// @Summary Submit a purchase request
// @Description Enqueue a request, fold it into the requester's encumbrance and evaluate auto-approval
// @Tags Requests
// @Accept json
// @Produce json
// @Param payload body dto.SubmitRequest true "Request payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /requests [post]
func (h *RequestHandler) Submit(c *gin.Context) {
	var req dto.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid request payload"))
		return
	}

	result, err := h.workflow.Submit(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, result)
}

// Get godoc
// @Summary Fetch a purchase request
// @Tags Requests
// @Produce json
// @Param txnId path string true "Transaction identifier"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /requests/{txnId} [get]
func (h *RequestHandler) Get(c *gin.Context) {
	request, err := h.workflow.Get(c.Request.Context(), c.Param("txnId"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, request, nil)
}

// Decide godoc
// @Summary Decide a pending purchase request
// @Description Approve or reject a pending request under the workflow lock
// @Tags Requests
// @Accept json
// @Produce json
// @Param txnId path string true "Transaction identifier"
// @Param payload body dto.DecisionRequest true "Decision payload"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /requests/{txnId}/decision [post]
func (h *RequestHandler) Decide(c *gin.Context) {
	var req dto.DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid decision payload"))
		return
	}

	result, err := h.workflow.Decide(c.Request.Context(), c.Param("txnId"), claimsFromContext(c), req.Decision)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, result, nil)
}
