package payout

import (
	"github.com/gin-gonic/gin"
	"github.com/vendora/escrow-api/internal/types"
	"github.com/vendora/escrow-api/pkg/response"
)

// GinHandlers contains HTTP handlers for payout endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// SchedulePayoutHandler handles POST requests to schedule a payout over
// released escrow entries. Requires internal authentication.
func (h *GinHandlers) SchedulePayoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var request ScheduleRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		result, err := h.service.Schedule(request)
		response.Handle(c, result, err)
	}
}

// ExecutePayoutHandler handles POST requests to run one scheduled payout
// immediately, ahead of the batch sweep. Requires internal authentication.
func (h *GinHandlers) ExecutePayoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		payoutID := c.Param("payout_id")

		result, err := h.service.ExecutePayout(c.Request.Context(), payoutID)
		response.Handle(c, result, err)
	}
}

// ListPayoutsHandler handles GET requests for the caller's payouts.
func (h *GinHandlers) ListPayoutsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sellerID := c.GetString("sellerID")
		if c.GetString("role") == types.RoleAdmin {
			if q := c.Query("seller_id"); q != "" {
				sellerID = q
			}
		}
		if sellerID == "" {
			response.BadRequest(c, "seller ID is required")
			return
		}

		payouts, err := h.service.ListSellerPayouts(sellerID)
		response.Handle(c, payouts, err)
	}
}

// GetPayoutHandler handles GET requests for payout detail. Sellers may only
// read their own payouts; admins may read any.
func (h *GinHandlers) GetPayoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		payoutID := c.Param("payout_id")

		result, err := h.service.GetPayout(payoutID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		if c.GetString("role") != types.RoleAdmin && result.Payout.SellerID != c.GetString("sellerID") {
			response.Forbidden(c, "payout belongs to another seller")
			return
		}

		response.Success(c, result)
	}
}
