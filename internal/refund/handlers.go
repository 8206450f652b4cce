package refund

import (
	"github.com/gin-gonic/gin"
	"github.com/vendora/escrow-api/internal/types"
	"github.com/vendora/escrow-api/pkg/response"
)

// GinHandlers contains HTTP handlers for refund endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// ProcessRefundHandler handles POST requests to process partial refunds.
// Requires a valid JWT token and an idempotency key. The initiator identity
// and role come from the token, never from the request body.
func (h *GinHandlers) ProcessRefundHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		idempotencyKey := c.GetHeader("Idempotency-Key")
		if idempotencyKey == "" {
			response.BadRequest(c, "Idempotency-Key header is required")
			return
		}

		var cmd types.ProcessPartialRefundCommand
		if err := c.ShouldBindJSON(&cmd); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		// The token is authoritative for who initiates the refund.
		cmd.InitiatedByRole = c.GetString("role")
		cmd.InitiatedByUserID = c.GetString("sellerID")
		if cmd.InitiatedByRole == types.RoleAdmin {
			cmd.InitiatedByUserID = c.GetString("userID")
		}

		refund, err := h.service.Process(cmd, idempotencyKey)
		response.Handle(c, refund, err)
	}
}

// CheckEligibilityHandler handles POST requests asking whether a refund
// could currently be applied.
func (h *GinHandlers) CheckEligibilityHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var query types.CheckRefundEligibilityQuery
		if err := c.ShouldBindJSON(&query); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		eligibility, err := h.service.CheckEligibility(query)
		response.Handle(c, eligibility, err)
	}
}

// GetRefundHandler handles GET requests for one refund by id. Sellers may
// only read their own refunds; admins may read any.
func (h *GinHandlers) GetRefundHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		refundID := c.Param("refund_id")

		refund, err := h.service.GetRefund(refundID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		if c.GetString("role") != types.RoleAdmin && refund.SellerID != c.GetString("sellerID") {
			response.Forbidden(c, "refund belongs to another seller")
			return
		}

		response.Success(c, refund)
	}
}
