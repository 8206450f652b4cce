package audit

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Event is one append-only entry in the financial audit log. Every mutation
// of an escrow entry, commission record, refund, settlement or payout writes
// one, inside the same transaction as the mutation itself. Events are never
// updated or deleted.
type Event struct {
	gorm.Model   `json:"-"`
	EventID      string          `gorm:"uniqueIndex" json:"event_id"`
	EntityType   string          `gorm:"index:idx_audit_events_entity" json:"entity_type"`
	EntityID     string          `gorm:"index:idx_audit_events_entity" json:"entity_id"`
	Action       string          `json:"action"`
	ActorID      string          `json:"actor_id"`
	ActorRole    string          `json:"actor_role"`
	BeforeAmount decimal.Decimal `gorm:"type:decimal(20,2)" json:"before_amount"`
	AfterAmount  decimal.Decimal `gorm:"type:decimal(20,2)" json:"after_amount"`
	Note         string          `json:"note"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Entity types recorded in the log.
const (
	EntityEscrowEntry      = "escrow_entry"
	EntityCommissionRecord = "commission_record"
	EntityRefund           = "refund"
	EntitySettlement       = "settlement"
	EntityPayout           = "payout"
)

// Append writes an event within the given transaction (or plain connection).
func Append(tx *gorm.DB, event *Event) error {
	if event.EventID == "" {
		event.EventID = "AUD_" + uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	return tx.Create(event).Error
}

// Database provides read access to the audit log.
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// ListByEntity returns the event history for one entity, oldest first.
func (d *Database) ListByEntity(entityType, entityID string) ([]Event, error) {
	var events []Event
	if err := d.db.Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("created_at ASC, id ASC").
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
