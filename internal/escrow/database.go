package escrow

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

// Conn exposes the underlying connection for cross-service transactions.
func (d *Database) Conn() *gorm.DB {
	return d.db
}

func (d *Database) GetByEntryID(entryID string) (*Entry, error) {
	var entry Entry
	if err := d.db.Where("entry_id = ?", entryID).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}
	return &entry, nil
}

func (d *Database) GetByOrderSeller(orderID, sellerID string) (*Entry, error) {
	var entry Entry
	if err := d.db.Where("order_id = ? AND seller_id = ?", orderID, sellerID).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}
	return &entry, nil
}

func (d *Database) ListBySeller(sellerID string) ([]Entry, error) {
	var entries []Entry
	if err := d.db.Where("seller_id = ?", sellerID).Order("held_at ASC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// ListHeldBefore returns entries still inside the hold states whose hold
// started before the cutoff, for the release sweep.
func (d *Database) ListHeldBefore(cutoff time.Time) ([]Entry, error) {
	var entries []Entry
	if err := d.db.
		Where("status IN ? AND held_at <= ? AND dispute_open = ?",
			[]string{StatusHeld, StatusPartiallyReleased}, cutoff, false).
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// ListHeldInPeriod returns entries whose hold was created inside [from, to),
// used by the settlement aggregator.
func (d *Database) ListHeldInPeriod(sellerID string, from, to time.Time) ([]Entry, error) {
	var entries []Entry
	if err := d.db.
		Where("seller_id = ? AND held_at >= ? AND held_at < ?", sellerID, from, to).
		Order("held_at ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// ApplyRefund adds amount to the entry's refunded total with an optimistic
// version check and sets the resulting status. The caller validated the
// amount against the remaining balance; the version guard catches a racing
// writer in between.
func (d *Database) ApplyRefund(tx *gorm.DB, entry *Entry, amount decimal.Decimal) error {
	newRefunded := entry.RefundedAmount.Add(amount)

	newStatus := entry.Status
	if newRefunded.Cmp(entry.Amount) == 0 {
		newStatus = StatusRefunded
	} else if entry.Status == StatusHeld {
		newStatus = StatusPartiallyReleased
	}

	result := tx.Model(&Entry{}).
		Where("entry_id = ? AND version = ?", entry.EntryID, entry.Version).
		Updates(map[string]interface{}{
			"refunded_amount": newRefunded,
			"status":          newStatus,
			"version":         entry.Version + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return types.ErrConcurrencyConflict
	}

	entry.RefundedAmount = newRefunded
	entry.Status = newStatus
	entry.Version++
	return nil
}

// TransitionStatus moves an entry to a new status under the version guard.
func (d *Database) TransitionStatus(tx *gorm.DB, entry *Entry, newStatus string, at time.Time) error {
	updates := map[string]interface{}{
		"status":  newStatus,
		"version": entry.Version + 1,
	}
	switch newStatus {
	case StatusReleased:
		updates["released_at"] = at
	case StatusDisbursed:
		updates["disbursed_at"] = at
	}

	result := tx.Model(&Entry{}).
		Where("entry_id = ? AND version = ?", entry.EntryID, entry.Version).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return types.ErrConcurrencyConflict
	}

	entry.Status = newStatus
	entry.Version++
	switch newStatus {
	case StatusReleased:
		entry.ReleasedAt = &at
	case StatusDisbursed:
		entry.DisbursedAt = &at
	}
	return nil
}

// GetIdempotencyRecord retrieves an idempotency record by key
func (d *Database) GetIdempotencyRecord(key string) (*types.IdempotencyRecord, error) {
	var record types.IdempotencyRecord
	if err := d.db.Where("idempotency_key = ?", key).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// CreateIdempotencyRecord writes an idempotency record inside the caller's
// transaction so retried intake events replay the original entry.
func (d *Database) CreateIdempotencyRecord(tx *gorm.DB, key, resourceID, resourceType string) error {
	record := types.IdempotencyRecord{
		IdempotencyKey: key,
		ResourceID:     resourceID,
		ResourceType:   resourceType,
		ExpiresAt:      time.Now().Add(24 * time.Hour),
	}
	return tx.Create(&record).Error
}
