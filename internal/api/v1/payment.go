package v1

import (
	"net/http"

	"github.com/flexprice/dealpay/internal/api/dto"
	"github.com/flexprice/dealpay/internal/domain/payment"
	ierr "github.com/flexprice/dealpay/internal/errors"
	"github.com/flexprice/dealpay/internal/logger"
	"github.com/flexprice/dealpay/internal/service"
	"github.com/gin-gonic/gin"
)

type PaymentHandler struct {
	processor service.ProcessorService
	stages    service.StageSyncService
	repo      payment.Repository
	logger    *logger.Logger
}

func NewPaymentHandler(
	processor service.ProcessorService,
	stages service.StageSyncService,
	repo payment.Repository,
	logger *logger.Logger,
) *PaymentHandler {
	return &PaymentHandler{
		processor: processor,
		stages:    stages,
		repo:      repo,
		logger:    logger,
	}
}

// @Summary Run a payment cycle
// @Description Creates missing payment links, reconciles sessions and issues refunds
// @Tags Payments
// @Accept json
// @Produce json
// @Param request body dto.ProcessPaymentsRequest false "Run options"
// @Success 200 {object} service.ProcessResult
// @Failure 400 {object} middleware.ErrorResponse
// @Failure 429 {object} service.ProcessResult
// @Router /payments/process [post]
func (h *PaymentHandler) Process(c *gin.Context) {
	var req dto.ProcessPaymentsRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(ierr.WithError(err).
				WithHint("Invalid request format").
				Mark(ierr.ErrValidation))
			return
		}
	}
	if err := req.Validate(); err != nil {
		c.Error(err)
		return
	}

	result, err := h.processor.Process(c.Request.Context(), req.ToProcessRequest())
	if err != nil {
		if result != nil && ierr.IsSessionLimitExceeded(err) {
			c.JSON(http.StatusTooManyRequests, result)
			return
		}
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// @Summary Get the ledger of a deal
// @Tags Payments
// @Produce json
// @Param id path string true "Deal ID"
// @Success 200 {object} dto.DealLedgerResponse
// @Router /deals/{id}/payments [get]
func (h *PaymentHandler) GetDealLedger(c *gin.Context) {
	dealID := c.Param("id")
	ctx := c.Request.Context()

	records, err := h.repo.ListByDealID(ctx, dealID)
	if err != nil {
		c.Error(err)
		return
	}
	deletions, err := h.repo.ListDeletions(ctx, &payment.DeletionFilter{DealID: dealID})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, dto.NewDealLedgerResponse(dealID, records, deletions))
}

// @Summary Sync the CRM stage of a deal from its ledger
// @Tags Payments
// @Produce json
// @Param id path string true "Deal ID"
// @Success 200 {object} service.StageSyncResult
// @Router /deals/{id}/stage/sync [post]
func (h *PaymentHandler) SyncStage(c *gin.Context) {
	result, err := h.stages.Sync(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// @Summary Remove the ledger of a deal deleted from the CRM
// @Tags Payments
// @Produce json
// @Param id path string true "Deal ID"
// @Success 200 {object} service.CleanupResult
// @Failure 400 {object} middleware.ErrorResponse
// @Router /deals/{id}/cleanup [post]
func (h *PaymentHandler) CleanupDeal(c *gin.Context) {
	result, err := h.processor.CleanupDeal(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}
