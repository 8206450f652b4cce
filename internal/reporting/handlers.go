package reporting

import (
	"encoding/csv"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vendora/escrow-api/internal/types"
	"github.com/vendora/escrow-api/pkg/response"
)

// GinHandlers contains HTTP handlers for reporting endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// resolveSeller scopes the report to the caller's own seller unless the
// caller is an admin targeting another seller explicitly.
func resolveSeller(c *gin.Context) string {
	sellerID := c.GetString("sellerID")
	if c.GetString("role") == types.RoleAdmin {
		if q := c.Query("seller_id"); q != "" {
			sellerID = q
		}
	}
	return sellerID
}

// parseRange reads optional from/to query parameters as dates or RFC3339
// timestamps. An exclusive upper bound of the next day is used for plain
// dates so "to=2026-03-31" includes the whole day.
func parseRange(c *gin.Context) (time.Time, time.Time, error) {
	var from, to time.Time
	parse := func(value string) (time.Time, bool, error) {
		if t, err := time.Parse("2006-01-02", value); err == nil {
			return t, true, nil
		}
		t, err := time.Parse(time.RFC3339, value)
		return t, false, err
	}

	if value := c.Query("from"); value != "" {
		t, _, err := parse(value)
		if err != nil {
			return from, to, fmt.Errorf("invalid from parameter: %s", value)
		}
		from = t
	}
	if value := c.Query("to"); value != "" {
		t, dateOnly, err := parse(value)
		if err != nil {
			return from, to, fmt.Errorf("invalid to parameter: %s", value)
		}
		if dateOnly {
			t = t.AddDate(0, 0, 1)
		}
		to = t
	}
	return from, to, nil
}

// CommissionSummaryHandler handles GET requests for a seller's commission
// summary over a date range.
func (h *GinHandlers) CommissionSummaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sellerID := resolveSeller(c)
		from, to, err := parseRange(c)
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		summary, err := h.service.Summary(sellerID, from, to)
		response.Handle(c, summary, err)
	}
}

// CommissionOrdersHandler handles GET requests for the per-order records
// backing a commission summary.
func (h *GinHandlers) CommissionOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sellerID := resolveSeller(c)
		from, to, err := parseRange(c)
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		orders, err := h.service.Orders(sellerID, from, to)
		response.Handle(c, orders, err)
	}
}

// CommissionExportHandler handles GET requests for a CSV export of the
// per-order commission records.
func (h *GinHandlers) CommissionExportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sellerID := resolveSeller(c)
		from, to, err := parseRange(c)
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		orders, err := h.service.Orders(sellerID, from, to)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		filename := fmt.Sprintf("commission_%s_%s.csv", sellerID, time.Now().Format("20060102"))
		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", "attachment; filename="+filename)

		writer := csv.NewWriter(c.Writer)
		header := []string{
			"record_id", "order_id", "order_amount", "applied_rate",
			"gross_commission", "refunded_commission", "net_commission",
			"rule_description", "created_at",
		}
		if err := writer.Write(header); err != nil {
			return
		}
		for i := range orders {
			order := &orders[i]
			row := []string{
				order.RecordID,
				order.OrderID,
				order.OrderAmount.StringFixed(2),
				order.AppliedRate.String(),
				order.GrossCommission.StringFixed(2),
				order.RefundedCommission.StringFixed(2),
				order.NetCommission.StringFixed(2),
				order.RuleDescription,
				order.CreatedAt.Format(time.RFC3339),
			}
			if err := writer.Write(row); err != nil {
				return
			}
		}
		writer.Flush()
	}
}
