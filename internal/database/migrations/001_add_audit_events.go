package migrations

import (
	"github.com/vendora/escrow-api/internal/audit"
	"gorm.io/gorm"
)

func AddAuditEvents(db *gorm.DB) error {
	return db.AutoMigrate(&audit.Event{})
}
