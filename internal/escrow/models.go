package escrow

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Escrow entry lifecycle. PARTIALLY_RELEASED marks an entry that took a
// partial refund while still inside the return window. DISBURSED is terminal:
// funds already paid out cannot be refunded through this ledger (clawback is
// a separate recovery path).
const (
	StatusHeld              = "HELD"
	StatusPartiallyReleased = "PARTIALLY_RELEASED"
	StatusReleased          = "RELEASED"
	StatusRefunded          = "REFUNDED"
	StatusDisbursed         = "DISBURSED"
)

// Entry identifies one seller's held funds for one order. The hold basis is
// the full order total; commission is tracked on the commission record and
// deducted only at settlement. RefundedAmount only ever grows, and only
// through ApplyRefund; remaining balance is always derived.
type Entry struct {
	gorm.Model           `json:"-"`
	EntryID              string          `gorm:"uniqueIndex" json:"entry_id"`
	OrderID              string          `gorm:"uniqueIndex:idx_escrow_entries_order_seller" json:"order_id"`
	SellerID             string          `gorm:"uniqueIndex:idx_escrow_entries_order_seller" json:"seller_id"`
	PaymentTransactionID string          `json:"payment_transaction_id"`
	Amount               decimal.Decimal `gorm:"type:decimal(20,2)" json:"amount"`
	RefundedAmount       decimal.Decimal `gorm:"type:decimal(20,2)" json:"refunded_amount"`
	Currency             string          `json:"currency"`
	Status               string          `gorm:"index" json:"status"`
	DisputeOpen          bool            `json:"dispute_open"`
	AuditNote            string          `json:"audit_note,omitempty"`
	Version              int             `json:"-"`
	HeldAt               time.Time       `json:"held_at"`
	ReleasedAt           *time.Time      `json:"released_at,omitempty"`
	DisbursedAt          *time.Time      `json:"disbursed_at,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// Remaining is the refundable balance still held for the seller.
func (e *Entry) Remaining() decimal.Decimal {
	return e.Amount.Sub(e.RefundedAmount)
}

// Refundable reports whether the entry can still take refunds.
func (e *Entry) Refundable() bool {
	switch e.Status {
	case StatusHeld, StatusPartiallyReleased, StatusReleased:
		return true
	}
	return false
}

// HoldResponse is returned to the Orders collaborator after intake.
type HoldResponse struct {
	EntryID         string          `json:"entry_id"`
	OrderID         string          `json:"order_id"`
	SellerID        string          `json:"seller_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Status          string          `json:"status"`
	CommissionID    string          `json:"commission_record_id"`
	Commission      decimal.Decimal `json:"commission_amount"`
	RuleDescription string          `json:"rule_description"`
	Timestamp       time.Time       `json:"timestamp"`
}
