package refund

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vendora/escrow-api/internal/audit"
	"github.com/vendora/escrow-api/internal/commission"
	"github.com/vendora/escrow-api/internal/escrow"
	"github.com/vendora/escrow-api/internal/gateway"
	"github.com/vendora/escrow-api/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// stubGateway is a deterministic provider double. Errors are returned in
// order; once the script is exhausted every call succeeds. onCall, when set,
// runs on every call so a test can interleave ledger activity with the
// provider round trip.
type stubGateway struct {
	script []error
	calls  int
	onCall func()
}

func (g *stubGateway) ExecuteRefund(ctx context.Context, req gateway.RefundRequest) (*gateway.Result, error) {
	g.calls++
	if g.onCall != nil {
		g.onCall()
	}
	if len(g.script) > 0 {
		err := g.script[0]
		g.script = g.script[1:]
		if err != nil {
			return nil, err
		}
	}
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
	gateway    *stubGateway
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
		&Refund{},
		&audit.Event{},
	))

	commissionSvc := commission.NewService(db)
	_, err = commissionSvc.CreateRule(commission.CreateRuleInput{
		Rate: decimal.RequireFromString("0.10"),
	})
	require.NoError(t, err)

	escrowSvc := escrow.NewService(db, commissionSvc)
	gw := &stubGateway{}

	return &fixture{
		db:         db,
		escrow:     escrowSvc,
		commission: commissionSvc,
		gateway:    gw,
		service:    NewService(db, escrowSvc, commissionSvc, gw, 3, 3),
	}
}

func (f *fixture) hold(t *testing.T, orderID, amount string) *escrow.HoldResponse {
	t.Helper()
	hold, err := f.escrow.HoldForOrder(types.OrderSettledEvent{
		OrderID:              orderID,
		SellerID:             "SELLER_1",
		PaymentTransactionID: "PAY_" + orderID,
		Amount:               decimal.RequireFromString(amount),
		Currency:             "USD",
	}, "")
	require.NoError(t, err)
	return hold
}

func refundCmd(orderID, amount string) types.ProcessPartialRefundCommand {
	return types.ProcessPartialRefundCommand{
		OrderID:              orderID,
		PaymentTransactionID: "PAY_" + orderID,
		SellerID:             "SELLER_1",
		Amount:               decimal.RequireFromString(amount),
		Reason:               "buyer return",
		InitiatedByUserID:    "SELLER_1",
		InitiatedByRole:      types.RoleSeller,
	}
}

func TestProcessPartialRefund(t *testing.T) {
	f := setupFixture(t)
	hold := f.hold(t, "ORD_1", "200.00")

	refund, err := f.service.Process(refundCmd("ORD_1", "50.00"), uuid.New().String())
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, refund.Status)
	assert.True(t, refund.Amount.Equal(decimal.RequireFromString("50.00")))
	// 50/200 of the 20.00 gross commission.
	assert.True(t, refund.CommissionReversal.Equal(decimal.RequireFromString("5.00")), "got %s", refund.CommissionReversal)
	assert.NotEmpty(t, refund.ProviderReference)

	entry, err := f.escrow.GetEntry(hold.EntryID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusPartiallyReleased, entry.Status)
	assert.True(t, entry.Remaining().Equal(decimal.RequireFromString("150.00")))

	record, err := f.commission.GetRecord("ORD_1", "SELLER_1")
	require.NoError(t, err)
	assert.True(t, record.NetCommission.Equal(decimal.RequireFromString("15.00")), "got %s", record.NetCommission)
}

func TestSequentialRefundsExhaustEntry(t *testing.T) {
	f := setupFixture(t)
	hold := f.hold(t, "ORD_1", "100.00")

	for _, amount := range []string{"40.00", "35.00", "25.00"} {
		_, err := f.service.Process(refundCmd("ORD_1", amount), uuid.New().String())
		require.NoError(t, err)
	}

	entry, err := f.escrow.GetEntry(hold.EntryID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusRefunded, entry.Status)
	assert.True(t, entry.Remaining().IsZero())

	// Reversals sum exactly to the gross commission once the entry empties.
	record, err := f.commission.GetRecord("ORD_1", "SELLER_1")
	require.NoError(t, err)
	assert.True(t, record.RefundedCommission.Equal(record.GrossCommission))
	assert.True(t, record.NetCommission.IsZero())

	// The empty entry refuses further refunds.
	_, err = f.service.Process(refundCmd("ORD_1", "1.00"), uuid.New().String())
	assert.ErrorIs(t, err, types.ErrInsufficientEscrowBalance)
}

func TestFinalRefundAbsorbsRoundingRemainder(t *testing.T) {
	f := setupFixture(t)
	f.hold(t, "ORD_1", "100.01")

	// Each partial reversal rounds; the final one must absorb the drift.
	for _, amount := range []string{"33.33", "33.33", "33.35"} {
		_, err := f.service.Process(refundCmd("ORD_1", amount), uuid.New().String())
		require.NoError(t, err)
	}

	record, err := f.commission.GetRecord("ORD_1", "SELLER_1")
	require.NoError(t, err)
	assert.True(t, record.RefundedCommission.Equal(record.GrossCommission),
		"refunded %s vs gross %s", record.RefundedCommission, record.GrossCommission)
}

func TestEmptyingRefundAbsorbsConcurrentRounding(t *testing.T) {
	f := setupFixture(t)
	// 99.99 at 7.25% gives a 7.25 gross commission whose thirds all round
	// down, so the refund that empties the entry must absorb the lost cent.
	_, err := f.commission.CreateRule(commission.CreateRuleInput{
		CategoryID: "BOOKS",
		Rate:       decimal.RequireFromString("0.0725"),
	})
	require.NoError(t, err)
	_, err = f.escrow.HoldForOrder(types.OrderSettledEvent{
		OrderID:              "ORD_1",
		SellerID:             "SELLER_1",
		PaymentTransactionID: "PAY_ORD_1",
		CategoryID:           "BOOKS",
		Amount:               decimal.RequireFromString("99.99"),
		Currency:             "USD",
	}, "")
	require.NoError(t, err)

	// Two more refunds land while the first one's provider call is in
	// flight, making the first refund the emptying one only at ledger time.
	f.gateway.onCall = func() {
		f.gateway.onCall = nil
		for _, amount := range []string{"33.99", "33.00"} {
			_, err := f.service.Process(refundCmd("ORD_1", amount), uuid.New().String())
			require.NoError(t, err)
		}
	}

	first, err := f.service.Process(refundCmd("ORD_1", "33.00"), uuid.New().String())
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, first.Status)
	// 2.39 as computed up front, 2.40 once it became the emptying refund.
	assert.True(t, first.CommissionReversal.Equal(decimal.RequireFromString("2.40")),
		"got %s", first.CommissionReversal)

	record, err := f.commission.GetRecord("ORD_1", "SELLER_1")
	require.NoError(t, err)
	assert.True(t, record.RefundedCommission.Equal(record.GrossCommission),
		"refunded %s vs gross %s", record.RefundedCommission, record.GrossCommission)
	assert.True(t, record.NetCommission.IsZero(), "net %s", record.NetCommission)
}

func TestRefundExceedingRemainingRejected(t *testing.T) {
	f := setupFixture(t)
	hold := f.hold(t, "ORD_1", "100.00")

	_, err := f.service.Process(refundCmd("ORD_1", "100.01"), uuid.New().String())
	assert.ErrorIs(t, err, types.ErrInsufficientEscrowBalance)

	// The rejected request must leave no refund rows or ledger movement.
	refunds, err := f.service.GetDB().ListByEntry(hold.EntryID)
	require.NoError(t, err)
	assert.Empty(t, refunds)
	assert.Zero(t, f.gateway.calls)
}

func TestGatewayFailureLeavesLedgerUntouched(t *testing.T) {
	f := setupFixture(t)
	hold := f.hold(t, "ORD_1", "100.00")
	permanent := fmt.Errorf("%w: card account closed", types.ErrProviderPermanent)
	f.gateway.script = []error{permanent}

	refund, err := f.service.Process(refundCmd("ORD_1", "50.00"), uuid.New().String())
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, refund.Status)
	assert.Contains(t, refund.ErrorDetail, "card account closed")

	entry, err := f.escrow.GetEntry(hold.EntryID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusHeld, entry.Status)
	assert.True(t, entry.RefundedAmount.IsZero())

	record, err := f.commission.GetRecord("ORD_1", "SELLER_1")
	require.NoError(t, err)
	assert.True(t, record.RefundedCommission.IsZero())

	// A failed refund is terminal; the retry is a new request.
	retry, err := f.service.Process(refundCmd("ORD_1", "50.00"), uuid.New().String())
	require.NoError(t, err)
	assert.NotEqual(t, refund.RefundID, retry.RefundID)
	assert.Equal(t, StatusSucceeded, retry.Status)
}

func TestTransientGatewayErrorRetried(t *testing.T) {
	f := setupFixture(t)
	f.hold(t, "ORD_1", "100.00")
	transient := fmt.Errorf("%w: provider timeout", types.ErrProviderTransient)
	f.gateway.script = []error{transient, transient}

	refund, err := f.service.Process(refundCmd("ORD_1", "50.00"), uuid.New().String())
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, refund.Status)
	assert.Equal(t, 3, f.gateway.calls)
}

func TestTransientErrorsExhaustAttempts(t *testing.T) {
	f := setupFixture(t)
	f.hold(t, "ORD_1", "100.00")
	transient := fmt.Errorf("%w: provider timeout", types.ErrProviderTransient)
	f.gateway.script = []error{transient, transient, transient}

	refund, err := f.service.Process(refundCmd("ORD_1", "50.00"), uuid.New().String())
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, refund.Status)
	assert.Equal(t, 3, f.gateway.calls)
}

func TestIdempotentReplay(t *testing.T) {
	f := setupFixture(t)
	f.hold(t, "ORD_1", "100.00")
	key := uuid.New().String()

	first, err := f.service.Process(refundCmd("ORD_1", "50.00"), key)
	require.NoError(t, err)

	second, err := f.service.Process(refundCmd("ORD_1", "50.00"), key)
	require.NoError(t, err)
	assert.Equal(t, first.RefundID, second.RefundID)

	// Only one gateway movement and one ledger application happened.
	assert.Equal(t, 1, f.gateway.calls)
	entry, err := f.escrow.GetDB().GetByOrderSeller("ORD_1", "SELLER_1")
	require.NoError(t, err)
	assert.True(t, entry.RefundedAmount.Equal(decimal.RequireFromString("50.00")))
}

func TestAuthorization(t *testing.T) {
	f := setupFixture(t)
	f.hold(t, "ORD_1", "100.00")

	cmd := refundCmd("ORD_1", "10.00")
	cmd.InitiatedByUserID = "SELLER_2"
	_, err := f.service.Process(cmd, "")
	assert.ErrorIs(t, err, types.ErrNotAuthorized)

	// Admins can act on any seller's orders.
	cmd = refundCmd("ORD_1", "10.00")
	cmd.InitiatedByUserID = "USR_admin"
	cmd.InitiatedByRole = types.RoleAdmin
	refund, err := f.service.Process(cmd, "")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, refund.Status)
}

func TestRefundAgainstDisbursedEntry(t *testing.T) {
	f := setupFixture(t)
	hold := f.hold(t, "ORD_1", "100.00")

	entry, err := f.escrow.GetEntry(hold.EntryID)
	require.NoError(t, err)
	require.NoError(t, f.escrow.GetDB().TransitionStatus(f.db, entry, escrow.StatusReleased, entry.HeldAt))
	require.NoError(t, f.escrow.GetDB().TransitionStatus(f.db, entry, escrow.StatusDisbursed, entry.HeldAt))

	_, err = f.service.Process(refundCmd("ORD_1", "10.00"), "")
	assert.ErrorIs(t, err, types.ErrEntryDisbursed)
}

func TestCheckEligibility(t *testing.T) {
	f := setupFixture(t)
	f.hold(t, "ORD_1", "100.00")

	eligible, err := f.service.CheckEligibility(types.CheckRefundEligibilityQuery{
		OrderID:  "ORD_1",
		SellerID: "SELLER_1",
		Amount:   decimal.RequireFromString("60.00"),
	})
	require.NoError(t, err)
	assert.True(t, eligible.Eligible)
	assert.True(t, eligible.MaxRefundable.Equal(decimal.RequireFromString("100.00")))

	ineligible, err := f.service.CheckEligibility(types.CheckRefundEligibilityQuery{
		OrderID:  "ORD_1",
		SellerID: "SELLER_1",
		Amount:   decimal.RequireFromString("150.00"),
	})
	require.NoError(t, err)
	assert.False(t, ineligible.Eligible)

	missing, err := f.service.CheckEligibility(types.CheckRefundEligibilityQuery{
		OrderID:  "ORD_unknown",
		SellerID: "SELLER_1",
		Amount:   decimal.RequireFromString("10.00"),
	})
	require.NoError(t, err)
	assert.False(t, missing.Eligible)
	assert.True(t, missing.MaxRefundable.IsZero())
}

func TestRefundWritesAuditTrail(t *testing.T) {
	f := setupFixture(t)
	hold := f.hold(t, "ORD_1", "100.00")

	_, err := f.service.Process(refundCmd("ORD_1", "25.00"), "")
	require.NoError(t, err)

	events, err := audit.NewDatabase(f.db).ListByEntity(audit.EntityEscrowEntry, hold.EntryID)
	require.NoError(t, err)
	var actions []string
	for _, event := range events {
		actions = append(actions, event.Action)
	}
	assert.Contains(t, actions, "refund_applied")
}
