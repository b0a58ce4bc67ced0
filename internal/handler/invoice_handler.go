package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/procurement-api/internal/dto"
	"github.com/noah-isme/procurement-api/internal/service"
	appErrors "github.com/noah-isme/procurement-api/pkg/errors"
	"github.com/noah-isme/procurement-api/pkg/response"
)

// InvoiceHandler triggers invoice batch runs and external passes.
type InvoiceHandler struct {
	invoices *service.InvoiceService
}

// NewInvoiceHandler creates a new handler.
func NewInvoiceHandler(invoices *service.InvoiceService) *InvoiceHandler {
	return &InvoiceHandler{invoices: invoices}
}

// RunBatch godoc
// @Summary Run an invoice batch
// @Description Group undocumented ledger entries for a request type into per-division invoices
// @Tags Invoices
// @Accept json
// @Produce json
// @Param payload body dto.RunBatchRequest true "Batch payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /invoices/batch [post]
func (h *InvoiceHandler) RunBatch(c *gin.Context) {
	var req dto.RunBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid batch payload"))
		return
	}

	result, err := h.invoices.RunBatch(c.Request.Context(), req.RequestType)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, result, nil)
}

// ExternalPass godoc
// @Summary Generate the same-day external aggregation document
// @Tags Invoices
// @Accept json
// @Produce json
// @Param payload body dto.ExternalPassRequest true "External pass payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /invoices/external [post]
func (h *InvoiceHandler) ExternalPass(c *gin.Context) {
	var req dto.ExternalPassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid external pass payload"))
		return
	}

	invoice, err := h.invoices.ExternalPass(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, invoice, nil)
}
