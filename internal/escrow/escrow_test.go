package escrow

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vendora/escrow-api/internal/audit"
	"github.com/vendora/escrow-api/internal/commission"
	"github.com/vendora/escrow-api/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&Entry{},
		&types.IdempotencyRecord{},
		&commission.Rule{},
		&commission.Record{},
		&audit.Event{},
	))
	return db
}

func setupService(t *testing.T) (*Service, *commission.Service) {
	t.Helper()
	db := setupTestDB(t)
	commissionSvc := commission.NewService(db)
	_, err := commissionSvc.CreateRule(commission.CreateRuleInput{
		Rate: decimal.RequireFromString("0.10"),
	})
	require.NoError(t, err)
	return NewService(db, commissionSvc), commissionSvc
}

func settledEvent(orderID, sellerID, amount string) types.OrderSettledEvent {
	return types.OrderSettledEvent{
		OrderID:              orderID,
		SellerID:             sellerID,
		PaymentTransactionID: "PAY_" + orderID,
		Amount:               decimal.RequireFromString(amount),
		Currency:             "USD",
	}
}

func TestHoldForOrderCreatesEntryAndCommission(t *testing.T) {
	service, commissionSvc := setupService(t)

	hold, err := service.HoldForOrder(settledEvent("ORD_1", "SELLER_1", "250.00"), uuid.New().String())
	require.NoError(t, err)

	assert.Equal(t, StatusHeld, hold.Status)
	assert.True(t, hold.Amount.Equal(decimal.RequireFromString("250.00")))
	assert.True(t, hold.Commission.Equal(decimal.RequireFromString("25.00")), "got %s", hold.Commission)

	// Hold covers the full order amount; the commission lives in its own record.
	record, err := commissionSvc.GetRecord("ORD_1", "SELLER_1")
	require.NoError(t, err)
	assert.True(t, record.NetCommission.Equal(decimal.RequireFromString("25.00")))

	entry, err := service.GetEntry(hold.EntryID)
	require.NoError(t, err)
	assert.True(t, entry.Remaining().Equal(entry.Amount))
}

func TestHoldForOrderRejectsDuplicate(t *testing.T) {
	service, _ := setupService(t)

	_, err := service.HoldForOrder(settledEvent("ORD_1", "SELLER_1", "100.00"), uuid.New().String())
	require.NoError(t, err)

	_, err = service.HoldForOrder(settledEvent("ORD_1", "SELLER_1", "100.00"), uuid.New().String())
	assert.ErrorIs(t, err, types.ErrDuplicateHold)
}

func TestHoldForOrderIdempotentReplay(t *testing.T) {
	service, _ := setupService(t)
	key := uuid.New().String()

	first, err := service.HoldForOrder(settledEvent("ORD_1", "SELLER_1", "100.00"), key)
	require.NoError(t, err)

	// Same idempotency key replays the original hold instead of failing.
	second, err := service.HoldForOrder(settledEvent("ORD_1", "SELLER_1", "100.00"), key)
	require.NoError(t, err)
	assert.Equal(t, first.EntryID, second.EntryID)
}

func TestHoldForOrderBlockedWithoutRule(t *testing.T) {
	db := setupTestDB(t)
	commissionSvc := commission.NewService(db)
	service := NewService(db, commissionSvc)

	_, err := service.HoldForOrder(settledEvent("ORD_1", "SELLER_1", "100.00"), uuid.New().String())
	assert.ErrorIs(t, err, types.ErrNoApplicableRule)

	// No orphan hold may exist after the failed intake.
	_, err = service.GetDB().GetByOrderSeller("ORD_1", "SELLER_1")
	assert.ErrorIs(t, err, types.ErrNotFound)

	// Provisioning a fallback rule unblocks the retried event.
	_, err = commissionSvc.CreateRule(commission.CreateRuleInput{
		Rate: decimal.RequireFromString("0.10"),
	})
	require.NoError(t, err)

	hold, err := service.HoldForOrder(settledEvent("ORD_1", "SELLER_1", "100.00"), uuid.New().String())
	require.NoError(t, err)
	assert.Equal(t, StatusHeld, hold.Status)
}

func TestHoldForOrderValidation(t *testing.T) {
	service, _ := setupService(t)

	event := settledEvent("ORD_1", "SELLER_1", "100.00")
	event.Currency = "DOLLARS"
	_, err := service.HoldForOrder(event, "")
	assert.ErrorIs(t, err, types.ErrValidation)

	event = settledEvent("ORD_2", "SELLER_1", "0")
	_, err = service.HoldForOrder(event, "")
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestRelease(t *testing.T) {
	service, _ := setupService(t)

	hold, err := service.HoldForOrder(settledEvent("ORD_1", "SELLER_1", "100.00"), "")
	require.NoError(t, err)

	entry, err := service.Release(hold.EntryID)
	require.NoError(t, err)
	assert.Equal(t, StatusReleased, entry.Status)
	require.NotNil(t, entry.ReleasedAt)

	// Released entries stay refundable but cannot be released again.
	assert.True(t, entry.Refundable())
	_, err = service.Release(hold.EntryID)
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestReleaseBlockedByOpenDispute(t *testing.T) {
	service, _ := setupService(t)

	hold, err := service.HoldForOrder(settledEvent("ORD_1", "SELLER_1", "100.00"), "")
	require.NoError(t, err)
	require.NoError(t, service.SetDisputeOpen(hold.EntryID, true))

	_, err = service.Release(hold.EntryID)
	assert.ErrorIs(t, err, types.ErrValidation)

	require.NoError(t, service.SetDisputeOpen(hold.EntryID, false))
	_, err = service.Release(hold.EntryID)
	assert.NoError(t, err)
}

func TestReleaseDueSweep(t *testing.T) {
	service, _ := setupService(t)

	dueHold, err := service.HoldForOrder(settledEvent("ORD_due", "SELLER_1", "100.00"), "")
	require.NoError(t, err)
	disputed, err := service.HoldForOrder(settledEvent("ORD_disputed", "SELLER_1", "100.00"), "")
	require.NoError(t, err)
	require.NoError(t, service.SetDisputeOpen(disputed.EntryID, true))

	// Backdate both holds past the return window.
	for _, entryID := range []string{dueHold.EntryID, disputed.EntryID} {
		err = service.GetDB().Conn().Model(&Entry{}).
			Where("entry_id = ?", entryID).
			Update("held_at", time.Now().Add(-15*24*time.Hour)).Error
		require.NoError(t, err)
	}

	// A fresh hold inside the window must not be touched.
	fresh, err := service.HoldForOrder(settledEvent("ORD_fresh", "SELLER_1", "100.00"), "")
	require.NoError(t, err)

	released, err := service.ReleaseDue(time.Now(), 14*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	entry, err := service.GetEntry(dueHold.EntryID)
	require.NoError(t, err)
	assert.Equal(t, StatusReleased, entry.Status)

	entry, err = service.GetEntry(disputed.EntryID)
	require.NoError(t, err)
	assert.Equal(t, StatusHeld, entry.Status)

	entry, err = service.GetEntry(fresh.EntryID)
	require.NoError(t, err)
	assert.Equal(t, StatusHeld, entry.Status)
}

func TestHoldWritesAuditTrail(t *testing.T) {
	service, _ := setupService(t)

	hold, err := service.HoldForOrder(settledEvent("ORD_1", "SELLER_1", "100.00"), "")
	require.NoError(t, err)
	_, err = service.Release(hold.EntryID)
	require.NoError(t, err)

	events, err := audit.NewDatabase(service.GetDB().Conn()).ListByEntity(audit.EntityEscrowEntry, hold.EntryID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "hold_created", events[0].Action)
	assert.Equal(t, "released", events[1].Action)
}
