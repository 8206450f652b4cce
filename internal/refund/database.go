package refund

import (
	"errors"
	"time"

	"github.com/vendora/escrow-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) Conn() *gorm.DB {
	return d.db
}

func (d *Database) CreateRefund(refund *Refund) error {
	return d.db.Create(refund).Error
}

func (d *Database) GetByRefundID(refundID string) (*Refund, error) {
	var refund Refund
	if err := d.db.Where("refund_id = ?", refundID).First(&refund).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}
	return &refund, nil
}

// UpdateStatus moves a refund to a new status. Succeeded refunds are
// immutable, enforced here as the single update path.
func (d *Database) UpdateStatus(tx *gorm.DB, refund *Refund, status, providerRef, errorDetail string) error {
	if refund.Status == StatusSucceeded {
		return errors.New("succeeded refunds are immutable")
	}

	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}
	if providerRef != "" {
		updates["provider_reference"] = providerRef
	}
	if errorDetail != "" {
		updates["error_detail"] = errorDetail
	}

	if err := tx.Model(&Refund{}).Where("refund_id = ?", refund.RefundID).Updates(updates).Error; err != nil {
		return err
	}

	refund.Status = status
	if providerRef != "" {
		refund.ProviderReference = providerRef
	}
	if errorDetail != "" {
		refund.ErrorDetail = errorDetail
	}
	return nil
}

// ListSucceededInPeriod returns succeeded refunds for a seller whose
// completion fell inside [from, to), for settlement aggregation.
func (d *Database) ListSucceededInPeriod(sellerID string, from, to time.Time) ([]Refund, error) {
	var refunds []Refund
	if err := d.db.
		Where("seller_id = ? AND status = ? AND updated_at >= ? AND updated_at < ?",
			sellerID, StatusSucceeded, from, to).
		Order("updated_at ASC").
		Find(&refunds).Error; err != nil {
		return nil, err
	}
	return refunds, nil
}

// ListByEntry returns all refund attempts against one escrow entry.
func (d *Database) ListByEntry(entryID string) ([]Refund, error) {
	var refunds []Refund
	if err := d.db.Where("entry_id = ?", entryID).Order("created_at ASC").Find(&refunds).Error; err != nil {
		return nil, err
	}
	return refunds, nil
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

// CreateRefundWithIdempotency creates the refund and its idempotency record
// in one transaction.
func (d *Database) CreateRefundWithIdempotency(refund *Refund, idempotencyKey string) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(refund).Error; err != nil {
			return err
		}
		record := types.IdempotencyRecord{
			IdempotencyKey: idempotencyKey,
			ResourceID:     refund.RefundID,
			ResourceType:   "refund",
			ExpiresAt:      time.Now().Add(24 * time.Hour),
		}
		return tx.Create(&record).Error
	})
}
