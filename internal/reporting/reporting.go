package reporting

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vendora/escrow-api/internal/commission"
	"github.com/vendora/escrow-api/internal/types"
	"gorm.io/gorm"
)

// CommissionSummary aggregates a seller's commission activity over a date
// range.
type CommissionSummary struct {
	SellerID            string          `json:"seller_id"`
	From                *time.Time      `json:"from,omitempty"`
	To                  *time.Time      `json:"to,omitempty"`
	OrderCount          int             `json:"order_count"`
	TotalOrderAmount    decimal.Decimal `json:"total_order_amount"`
	TotalRefundedAmount decimal.Decimal `json:"total_refunded_amount"`
	GrossCommission     decimal.Decimal `json:"gross_commission"`
	RefundedCommission  decimal.Decimal `json:"refunded_commission"`
	NetCommission       decimal.Decimal `json:"net_commission"`
	EffectiveRate       decimal.Decimal `json:"effective_rate"`
}

// Service produces commission reporting views over the recorded ledger.
type Service struct {
	commission *commission.Database
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		commission: commission.NewDatabase(gormDB),
	}
}

// Summary computes the commission summary for one seller. Zero from/to
// means an unbounded range on that side.
func (s *Service) Summary(sellerID string, from, to time.Time) (*CommissionSummary, error) {
	if sellerID == "" {
		return nil, fmt.Errorf("%w: seller ID is required", types.ErrValidation)
	}

	records, err := s.commission.ListRecordsBySeller(sellerID, from, to)
	if err != nil {
		return nil, err
	}

	summary := &CommissionSummary{
		SellerID:            sellerID,
		OrderCount:          len(records),
		TotalOrderAmount:    decimal.Zero,
		TotalRefundedAmount: decimal.Zero,
		GrossCommission:     decimal.Zero,
		RefundedCommission:  decimal.Zero,
		NetCommission:       decimal.Zero,
		EffectiveRate:       decimal.Zero,
	}
	if !from.IsZero() {
		summary.From = &from
	}
	if !to.IsZero() {
		summary.To = &to
	}

	for i := range records {
		record := &records[i]
		summary.TotalOrderAmount = summary.TotalOrderAmount.Add(record.OrderAmount)
		summary.TotalRefundedAmount = summary.TotalRefundedAmount.Add(record.RefundedOrderAmount)
		summary.GrossCommission = summary.GrossCommission.Add(record.GrossCommission)
		summary.RefundedCommission = summary.RefundedCommission.Add(record.RefundedCommission)
		summary.NetCommission = summary.NetCommission.Add(record.NetCommission)
	}

	netOrderAmount := summary.TotalOrderAmount.Sub(summary.TotalRefundedAmount)
	if netOrderAmount.Cmp(decimal.Zero) > 0 {
		summary.EffectiveRate = summary.NetCommission.Div(netOrderAmount).Round(6)
	}

	return summary, nil
}

// Orders returns the per-order commission records backing a summary.
func (s *Service) Orders(sellerID string, from, to time.Time) ([]commission.RecordResponse, error) {
	if sellerID == "" {
		return nil, fmt.Errorf("%w: seller ID is required", types.ErrValidation)
	}

	records, err := s.commission.ListRecordsBySeller(sellerID, from, to)
	if err != nil {
		return nil, err
	}

	responses := make([]commission.RecordResponse, 0, len(records))
	for i := range records {
		record := &records[i]
		responses = append(responses, commission.RecordResponse{
			RecordID:           record.RecordID,
			OrderID:            record.OrderID,
			SellerID:           record.SellerID,
			OrderAmount:        record.OrderAmount,
			AppliedRate:        record.AppliedRate,
			GrossCommission:    record.GrossCommission,
			RefundedCommission: record.RefundedCommission,
			NetCommission:      record.NetCommission,
			RuleDescription:    record.RuleDescription,
			CreatedAt:          record.CreatedAt,
		})
	}
	return responses, nil
}
