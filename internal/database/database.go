package database

import (
	"fmt"

	"github.com/vendora/escrow-api/internal/commission"
	"github.com/vendora/escrow-api/internal/database/migrations"
	"github.com/vendora/escrow-api/internal/escrow"
	"github.com/vendora/escrow-api/internal/payout"
	"github.com/vendora/escrow-api/internal/refund"
	"github.com/vendora/escrow-api/internal/settlement"
	"github.com/vendora/escrow-api/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := migrations.AddAuditEvents(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := migrations.AddSettlementInvoices(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Auto-migrate other schemas
	err = db.AutoMigrate(
		&escrow.Entry{},
		&types.IdempotencyRecord{},
		&commission.Rule{},
		&commission.Record{},
		&refund.Refund{},
		&settlement.Settlement{},
		&settlement.LineItem{},
		&payout.Payout{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}
