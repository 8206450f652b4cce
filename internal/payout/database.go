package payout

import (
	"errors"
	"fmt"
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

func (d *Database) CreatePayout(payout *Payout) error {
	return d.db.Create(payout).Error
}

func (d *Database) GetByPayoutID(payoutID string) (*Payout, error) {
	var payout Payout
	if err := d.db.Where("payout_id = ?", payoutID).First(&payout).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}
	return &payout, nil
}

func (d *Database) ListBySeller(sellerID string) ([]Payout, error) {
	var payouts []Payout
	if err := d.db.Where("seller_id = ?", sellerID).
		Order("created_at DESC").
		Find(&payouts).Error; err != nil {
		return nil, err
	}
	return payouts, nil
}

// ListActiveBySeller returns payouts that still cover their entries, which
// excludes failed ones.
func (d *Database) ListActiveBySeller(sellerID string) ([]Payout, error) {
	var payouts []Payout
	if err := d.db.Where("seller_id = ? AND status IN ?", sellerID,
		[]string{StatusScheduled, StatusProcessing, StatusPaid}).
		Find(&payouts).Error; err != nil {
		return nil, err
	}
	return payouts, nil
}

// ListDue returns scheduled payouts whose scheduled time has passed.
func (d *Database) ListDue(now time.Time) ([]Payout, error) {
	var payouts []Payout
	if err := d.db.Where("status = ? AND scheduled_for <= ?", StatusScheduled, now).
		Order("scheduled_for ASC").
		Find(&payouts).Error; err != nil {
		return nil, err
	}
	return payouts, nil
}

// MarkProcessing transitions SCHEDULED to PROCESSING with a version check,
// so two processor passes cannot both claim the same payout.
func (d *Database) MarkProcessing(payout *Payout, batchID string) error {
	result := d.db.Model(&Payout{}).
		Where("payout_id = ? AND version = ? AND status = ?",
			payout.PayoutID, payout.Version, StatusScheduled).
		Updates(map[string]interface{}{
			"status":     StatusProcessing,
			"batch_id":   batchID,
			"version":    payout.Version + 1,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: payout %s was modified concurrently", types.ErrConcurrencyConflict, payout.PayoutID)
	}
	payout.Status = StatusProcessing
	payout.BatchID = batchID
	payout.Version++
	return nil
}

// Finalize transitions PROCESSING to PAID or FAILED with a version check.
func (d *Database) Finalize(tx *gorm.DB, payout *Payout, status, providerRef, errorDetail string) error {
	updates := map[string]interface{}{
		"status":             status,
		"provider_reference": providerRef,
		"error_detail":       errorDetail,
		"version":            payout.Version + 1,
		"updated_at":         time.Now(),
	}
	var paidAt *time.Time
	if status == StatusPaid {
		now := time.Now()
		paidAt = &now
		updates["paid_at"] = paidAt
	}

	result := tx.Model(&Payout{}).
		Where("payout_id = ? AND version = ? AND status = ?",
			payout.PayoutID, payout.Version, StatusProcessing).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: payout %s was modified concurrently", types.ErrConcurrencyConflict, payout.PayoutID)
	}
	payout.Status = status
	payout.ProviderReference = providerRef
	payout.ErrorDetail = errorDetail
	payout.PaidAt = paidAt
	payout.Version++
	return nil
}
