package commission

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vendora/escrow-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateRule(rule *Rule) error {
	return d.db.Create(rule).Error
}

func (d *Database) ListRules() ([]Rule, error) {
	var rules []Rule
	if err := d.db.Order("created_at ASC").Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

func (d *Database) ListActiveRules() ([]Rule, error) {
	var rules []Rule
	if err := d.db.Where("active = ?", true).Order("created_at ASC").Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

func (d *Database) SetRuleActive(ruleID string, active bool) error {
	result := d.db.Model(&Rule{}).Where("rule_id = ?", ruleID).Update("active", active)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return types.ErrNotFound
	}
	return nil
}

// CreateRecord persists the computed commission for one (order, seller)
// pair, inside the caller's transaction.
func (d *Database) CreateRecord(tx *gorm.DB, record *Record) error {
	return tx.Create(record).Error
}

func (d *Database) GetRecordByOrderSeller(orderID, sellerID string) (*Record, error) {
	var record Record
	if err := d.db.Where("order_id = ? AND seller_id = ?", orderID, sellerID).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}
	return &record, nil
}

// ApplyReversal increments the refunded totals of a record using an
// optimistic version check. The caller computes the new absolute values; the
// update only lands if nobody else touched the row since it was read.
func (d *Database) ApplyReversal(tx *gorm.DB, record *Record, orderRefund, commissionReversal decimal.Decimal) error {
	newRefundedOrder := record.RefundedOrderAmount.Add(orderRefund)
	newRefundedCommission := record.RefundedCommission.Add(commissionReversal)
	newNet := record.GrossCommission.Sub(newRefundedCommission)

	result := tx.Model(&Record{}).
		Where("record_id = ? AND version = ?", record.RecordID, record.Version).
		Updates(map[string]interface{}{
			"refunded_order_amount": newRefundedOrder,
			"refunded_commission":   newRefundedCommission,
			"net_commission":        newNet,
			"version":               record.Version + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return types.ErrConcurrencyConflict
	}

	record.RefundedOrderAmount = newRefundedOrder
	record.RefundedCommission = newRefundedCommission
	record.NetCommission = newNet
	record.Version++
	return nil
}

// ListRecordsBySeller returns commission records for a seller, optionally
// bounded to a creation-time range. Zero times mean unbounded.
func (d *Database) ListRecordsBySeller(sellerID string, from, to time.Time) ([]Record, error) {
	query := d.db.Where("seller_id = ?", sellerID)
	if !from.IsZero() {
		query = query.Where("created_at >= ?", from)
	}
	if !to.IsZero() {
		query = query.Where("created_at < ?", to)
	}
	var records []Record
	if err := query.Order("created_at ASC").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
