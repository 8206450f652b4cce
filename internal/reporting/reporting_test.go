package reporting

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vendora/escrow-api/internal/commission"
	"github.com/vendora/escrow-api/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupReporting(t *testing.T) (*Service, *commission.Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&commission.Rule{}, &commission.Record{}))

	commissionSvc := commission.NewService(db)
	_, err = commissionSvc.CreateRule(commission.CreateRuleInput{
		Rate: decimal.RequireFromString("0.10"),
	})
	require.NoError(t, err)

	return NewService(db), commissionSvc, db
}

func record(t *testing.T, db *gorm.DB, svc *commission.Service, orderID, sellerID, amount string) {
	t.Helper()
	parsed := decimal.RequireFromString(amount)
	applied, err := svc.ComputeFor(sellerID, "", parsed)
	require.NoError(t, err)
	_, err = svc.RecordFor(db, orderID, sellerID, "USD", parsed, applied)
	require.NoError(t, err)
}

func TestSummaryTotals(t *testing.T) {
	service, commissionSvc, db := setupReporting(t)
	record(t, db, commissionSvc, "ORD_1", "SELLER_1", "100.00")
	record(t, db, commissionSvc, "ORD_2", "SELLER_1", "250.00")
	record(t, db, commissionSvc, "ORD_other", "SELLER_2", "999.00")

	summary, err := service.Summary("SELLER_1", time.Time{}, time.Time{})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.OrderCount)
	assert.True(t, summary.TotalOrderAmount.Equal(decimal.RequireFromString("350.00")))
	assert.True(t, summary.GrossCommission.Equal(decimal.RequireFromString("35.00")))
	assert.True(t, summary.NetCommission.Equal(decimal.RequireFromString("35.00")))
	assert.True(t, summary.EffectiveRate.Equal(decimal.RequireFromString("0.10")), "got %s", summary.EffectiveRate)
}

func TestSummaryEmptyRange(t *testing.T) {
	service, _, _ := setupReporting(t)

	summary, err := service.Summary("SELLER_1", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Zero(t, summary.OrderCount)
	assert.True(t, summary.NetCommission.IsZero())
	assert.True(t, summary.EffectiveRate.IsZero())
}

func TestSummaryRequiresSeller(t *testing.T) {
	service, _, _ := setupReporting(t)

	_, err := service.Summary("", time.Time{}, time.Time{})
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestSummaryDateRange(t *testing.T) {
	service, commissionSvc, db := setupReporting(t)
	record(t, db, commissionSvc, "ORD_old", "SELLER_1", "100.00")
	record(t, db, commissionSvc, "ORD_new", "SELLER_1", "200.00")

	// Push one record out of the queried range.
	err := db.Model(&commission.Record{}).
		Where("order_id = ?", "ORD_old").
		Update("created_at", time.Now().AddDate(0, -2, 0)).Error
	require.NoError(t, err)

	from := time.Now().AddDate(0, -1, 0)
	summary, err := service.Summary("SELLER_1", from, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.OrderCount)
	assert.True(t, summary.TotalOrderAmount.Equal(decimal.RequireFromString("200.00")))
}

func TestOrdersDrillDown(t *testing.T) {
	service, commissionSvc, db := setupReporting(t)
	record(t, db, commissionSvc, "ORD_1", "SELLER_1", "100.00")

	orders, err := service.Orders("SELLER_1", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "ORD_1", orders[0].OrderID)
	assert.True(t, orders[0].GrossCommission.Equal(decimal.RequireFromString("10.00")))
	assert.NotEmpty(t, orders[0].RuleDescription)
}
