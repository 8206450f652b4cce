package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vendora/escrow-api/internal/audit"
	"github.com/vendora/escrow-api/internal/commission"
	"github.com/vendora/escrow-api/internal/escrow"
	"github.com/vendora/escrow-api/internal/gateway"
	"github.com/vendora/escrow-api/internal/refund"
	"github.com/vendora/escrow-api/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type okGateway struct{}

func (okGateway) ExecuteRefund(ctx context.Context, req gateway.RefundRequest) (*gateway.Result, error) {
	return &gateway.Result{
		Reference:         req.Reference,
		ProviderReference: "PRV_stub_" + req.Reference,
		Amount:            req.Amount,
		Currency:          req.Currency,
	}, nil
}

type fixture struct {
	db         *gorm.DB
	escrow     *escrow.Service
	commission *commission.Service
	refund     *refund.Service
	service    *Service
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&escrow.Entry{},
		&types.IdempotencyRecord{},
		&commission.Rule{},
		&commission.Record{},
		&refund.Refund{},
		&Settlement{},
		&LineItem{},
		&Invoice{},
		&InvoiceLineItem{},
		&audit.Event{},
	))

	commissionSvc := commission.NewService(db)
	_, err = commissionSvc.CreateRule(commission.CreateRuleInput{
		Rate: decimal.RequireFromString("0.10"),
	})
	require.NoError(t, err)

	escrowSvc := escrow.NewService(db, commissionSvc)
	refundSvc := refund.NewService(db, escrowSvc, commissionSvc, okGateway{}, 3, 3)

	return &fixture{
		db:         db,
		escrow:     escrowSvc,
		commission: commissionSvc,
		refund:     refundSvc,
		service:    NewService(db, decimal.RequireFromString("0.15"), "USD"),
	}
}

// hold creates an escrow hold with held_at placed in the given period.
func (f *fixture) hold(t *testing.T, orderID, amount string, heldAt time.Time) *escrow.HoldResponse {
	t.Helper()
	hold, err := f.escrow.HoldForOrder(types.OrderSettledEvent{
		OrderID:              orderID,
		SellerID:             "SELLER_1",
		PaymentTransactionID: "PAY_" + orderID,
		Amount:               decimal.RequireFromString(amount),
		Currency:             "USD",
	}, "")
	require.NoError(t, err)
	err = f.db.Model(&escrow.Entry{}).
		Where("entry_id = ?", hold.EntryID).
		Update("held_at", heldAt).Error
	require.NoError(t, err)
	return hold
}

func (f *fixture) refundOrder(t *testing.T, orderID, amount string) *refund.Refund {
	t.Helper()
	result, err := f.refund.Process(types.ProcessPartialRefundCommand{
		OrderID:              orderID,
		PaymentTransactionID: "PAY_" + orderID,
		SellerID:             "SELLER_1",
		Amount:               decimal.RequireFromString(amount),
		Reason:               "buyer return",
		InitiatedByUserID:    "SELLER_1",
		InitiatedByRole:      types.RoleSeller,
	}, uuid.New().String())
	require.NoError(t, err)
	require.Equal(t, refund.StatusSucceeded, result.Status)
	return result
}

func midMonth(t *testing.T) (time.Time, int, int) {
	t.Helper()
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), 15, 12, 0, 0, 0, time.UTC), now.Year(), int(now.Month())
}

func TestRunAggregatesPeriod(t *testing.T) {
	f := setupFixture(t)
	heldAt, year, month := midMonth(t)

	f.hold(t, "ORD_1", "200.00", heldAt)
	f.hold(t, "ORD_2", "100.00", heldAt)
	f.refundOrder(t, "ORD_2", "40.00")

	result, err := f.service.Run("SELLER_1", year, month)
	require.NoError(t, err)
	settlement := result.Settlement

	assert.Equal(t, StatusFinalized, settlement.Status)
	assert.True(t, settlement.GrossSales.Equal(decimal.RequireFromString("300.00")))
	assert.True(t, settlement.TotalRefunds.Equal(decimal.RequireFromString("40.00")))
	assert.True(t, settlement.NetSales.Equal(decimal.RequireFromString("260.00")))
	// Commission: 20.00 + (10.00 - 4.00 reversal) = 26.00.
	assert.True(t, settlement.TotalCommission.Equal(decimal.RequireFromString("26.00")), "got %s", settlement.TotalCommission)
	assert.True(t, settlement.PriorPeriodAdjustments.IsZero())
	// Payable: 260.00 - 26.00.
	assert.True(t, settlement.NetPayable.Equal(decimal.RequireFromString("234.00")), "got %s", settlement.NetPayable)

	// Sale line net amounts sum exactly to net sales.
	require.Len(t, settlement.LineItems, 2)
	lineSum := decimal.Zero
	for _, item := range settlement.LineItems {
		assert.Equal(t, LineTypeSale, item.Type)
		lineSum = lineSum.Add(item.NetAmount)
	}
	assert.True(t, lineSum.Equal(settlement.NetSales))
}

func TestRunEmitsInvoiceWithTax(t *testing.T) {
	f := setupFixture(t)
	heldAt, year, month := midMonth(t)
	f.hold(t, "ORD_1", "200.00", heldAt)

	result, err := f.service.Run("SELLER_1", year, month)
	require.NoError(t, err)
	invoice := result.Invoice
	require.NotNil(t, invoice)

	assert.Equal(t, InvoiceTypeCommission, invoice.InvoiceType)
	assert.True(t, invoice.NetAmount.Equal(decimal.RequireFromString("20.00")))
	// 15% tax on 20.00.
	assert.True(t, invoice.TaxAmount.Equal(decimal.RequireFromString("3.00")), "got %s", invoice.TaxAmount)
	assert.True(t, invoice.GrossAmount.Equal(decimal.RequireFromString("23.00")))
	require.Len(t, invoice.Lines, 1)
	assert.Equal(t, "ORD_1", invoice.Lines[0].OrderID)
}

func TestRunRejectsSecondClose(t *testing.T) {
	f := setupFixture(t)
	heldAt, year, month := midMonth(t)
	f.hold(t, "ORD_1", "100.00", heldAt)

	_, err := f.service.Run("SELLER_1", year, month)
	require.NoError(t, err)

	_, err = f.service.Run("SELLER_1", year, month)
	assert.ErrorIs(t, err, types.ErrAlreadySettled)
}

func TestRunPriorPeriodAdjustment(t *testing.T) {
	f := setupFixture(t)
	heldAt, year, month := midMonth(t)

	// The order settled last month; the refund lands this month.
	f.hold(t, "ORD_prior", "100.00", heldAt.AddDate(0, -1, 0))
	f.hold(t, "ORD_current", "50.00", heldAt)
	refunded := f.refundOrder(t, "ORD_prior", "30.00")

	result, err := f.service.Run("SELLER_1", year, month)
	require.NoError(t, err)
	settlement := result.Settlement

	// Current sales are untouched by the prior-period refund.
	assert.True(t, settlement.GrossSales.Equal(decimal.RequireFromString("50.00")))
	assert.True(t, settlement.NetSales.Equal(decimal.RequireFromString("50.00")))
	assert.True(t, settlement.TotalCommission.Equal(decimal.RequireFromString("5.00")))
	assert.True(t, settlement.TotalRefunds.Equal(decimal.RequireFromString("30.00")))

	// Adjustment: -30.00 refund plus 3.00 commission reversal.
	expectedAdjustment := refunded.CommissionReversal.Sub(refunded.Amount)
	assert.True(t, settlement.PriorPeriodAdjustments.Equal(expectedAdjustment),
		"got %s want %s", settlement.PriorPeriodAdjustments, expectedAdjustment)
	assert.True(t, settlement.NetPayable.Equal(
		settlement.NetSales.Sub(settlement.TotalCommission).Add(expectedAdjustment)))

	var adjustments []LineItem
	for _, item := range settlement.LineItems {
		if item.Type == LineTypeAdjustment {
			adjustments = append(adjustments, item)
		}
	}
	require.Len(t, adjustments, 1)
	assert.Equal(t, "ORD_prior", adjustments[0].OrderID)
	assert.True(t, adjustments[0].NetAmount.IsZero())
	assert.True(t, adjustments[0].AdjustmentAmount.Equal(expectedAdjustment))
}

func TestRunEmptyPeriod(t *testing.T) {
	f := setupFixture(t)
	_, year, month := midMonth(t)

	result, err := f.service.Run("SELLER_1", year, month)
	require.NoError(t, err)
	assert.True(t, result.Settlement.NetPayable.IsZero())
	assert.Empty(t, result.Settlement.LineItems)
}

func TestGetSettlementScopes(t *testing.T) {
	f := setupFixture(t)
	heldAt, year, month := midMonth(t)
	f.hold(t, "ORD_1", "100.00", heldAt)

	created, err := f.service.Run("SELLER_1", year, month)
	require.NoError(t, err)

	fetched, err := f.service.GetSettlement(created.Settlement.SettlementID)
	require.NoError(t, err)
	assert.Equal(t, created.Settlement.SettlementID, fetched.Settlement.SettlementID)
	require.NotNil(t, fetched.Invoice)
	assert.Len(t, fetched.Settlement.LineItems, 1)

	_, err = f.service.GetSettlement("STL_missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestAppendAuditNote(t *testing.T) {
	f := setupFixture(t)
	heldAt, year, month := midMonth(t)
	f.hold(t, "ORD_1", "100.00", heldAt)

	created, err := f.service.Run("SELLER_1", year, month)
	require.NoError(t, err)
	settlementID := created.Settlement.SettlementID

	require.NoError(t, f.service.AppendAuditNote(settlementID, "manual review requested"))
	require.NoError(t, f.service.AppendAuditNote(settlementID, "review cleared"))

	fetched, err := f.service.GetSettlement(settlementID)
	require.NoError(t, err)
	assert.Equal(t, "manual review requested\nreview cleared", fetched.Settlement.AuditNote)
}
