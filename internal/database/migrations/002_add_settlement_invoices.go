package migrations

import (
	"github.com/vendora/escrow-api/internal/settlement"
	"gorm.io/gorm"
)

func AddSettlementInvoices(db *gorm.DB) error {
	if err := db.AutoMigrate(&settlement.Invoice{}); err != nil {
		return err
	}

	return db.AutoMigrate(&settlement.InvoiceLineItem{})
}
