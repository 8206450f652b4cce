package payout

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	StatusScheduled  = "SCHEDULED"
	StatusProcessing = "PROCESSING"
	StatusPaid       = "PAID"
	StatusFailed     = "FAILED"
)

// Payout moves the released escrow balance of one or more entries to a
// seller. The state machine is SCHEDULED -> PROCESSING -> PAID | FAILED;
// FAILED is terminal and a retry is always a fresh payout over the same
// entries. EntryIDs is stored as a JSON array.
type Payout struct {
	gorm.Model        `json:"-"`
	PayoutID          string          `gorm:"uniqueIndex" json:"payout_id"`
	SellerID          string          `gorm:"index" json:"seller_id"`
	Amount            decimal.Decimal `gorm:"type:decimal(20,2)" json:"amount"`
	Currency          string          `json:"currency"`
	Status            string          `gorm:"index" json:"status"`
	EntryIDs          string          `json:"-"`
	EntryCount        int             `json:"entry_count"`
	BatchID           string          `gorm:"index" json:"batch_id,omitempty"`
	ScheduledFor      time.Time       `json:"scheduled_for"`
	ExternalReference string          `gorm:"uniqueIndex" json:"external_reference"`
	ProviderReference string          `json:"provider_reference,omitempty"`
	ErrorDetail       string          `json:"error_detail,omitempty"`
	AuditNote         string          `json:"audit_note,omitempty"`
	Version           int             `json:"-"`
	PaidAt            *time.Time      `json:"paid_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Entries decodes the covered escrow entry IDs.
func (p *Payout) Entries() []string {
	var ids []string
	if err := json.Unmarshal([]byte(p.EntryIDs), &ids); err != nil {
		return nil
	}
	return ids
}

// SetEntries encodes the covered escrow entry IDs.
func (p *Payout) SetEntries(ids []string) error {
	encoded, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	p.EntryIDs = string(encoded)
	p.EntryCount = len(ids)
	return nil
}

// ScheduleRequest asks for a payout over a set of released escrow entries.
// ScheduledFor defaults to now when omitted.
type ScheduleRequest struct {
	SellerID     string     `json:"seller_id" binding:"required"`
	EntryIDs     []string   `json:"entry_ids" binding:"required,min=1"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
}

// PayoutResponse is the API shape of a payout with its entries decoded.
type PayoutResponse struct {
	Payout   *Payout  `json:"payout"`
	EntryIDs []string `json:"entry_ids"`
}

// NewPayoutResponse builds the response shape from a payout row.
func NewPayoutResponse(p *Payout) *PayoutResponse {
	return &PayoutResponse{Payout: p, EntryIDs: p.Entries()}
}
