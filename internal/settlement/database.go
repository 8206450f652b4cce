package settlement

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

func (d *Database) GetByKey(sellerID string, year, month int) (*Settlement, error) {
	var settlement Settlement
	if err := d.db.Where("seller_id = ? AND year = ? AND month = ?", sellerID, year, month).
		First(&settlement).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}
	return &settlement, nil
}

func (d *Database) GetBySettlementID(settlementID string) (*Settlement, error) {
	var settlement Settlement
	if err := d.db.Preload("LineItems").
		Where("settlement_id = ?", settlementID).
		First(&settlement).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}
	return &settlement, nil
}

func (d *Database) GetInvoiceBySettlementID(settlementID string) (*Invoice, error) {
	var invoice Invoice
	if err := d.db.Preload("Lines").
		Where("settlement_id = ?", settlementID).
		First(&invoice).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}
	return &invoice, nil
}

func (d *Database) ListBySeller(sellerID string) ([]Settlement, error) {
	var settlements []Settlement
	if err := d.db.Where("seller_id = ?", sellerID).
		Order("year DESC, month DESC").
		Find(&settlements).Error; err != nil {
		return nil, err
	}
	return settlements, nil
}

// AppendAuditNote is the only write permitted on a finalized settlement.
func (d *Database) AppendAuditNote(settlementID, note string) error {
	settlement, err := d.getHeader(settlementID)
	if err != nil {
		return err
	}
	combined := note
	if settlement.AuditNote != "" {
		combined = settlement.AuditNote + "\n" + note
	}
	return d.db.Model(&Settlement{}).
		Where("settlement_id = ?", settlement.SettlementID).
		Updates(map[string]interface{}{
			"audit_note": combined,
			"updated_at": time.Now(),
		}).Error
}

func (d *Database) getHeader(settlementID string) (*Settlement, error) {
	var settlement Settlement
	if err := d.db.Where("settlement_id = ?", settlementID).First(&settlement).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}
	return &settlement, nil
}
