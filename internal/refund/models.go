package refund

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusSucceeded  = "SUCCEEDED"
	StatusFailed     = "FAILED"
)

// Refund is one refund attempt against one (order, seller). Succeeded
// refunds are immutable; a Failed refund is retried by creating a new record
// with a fresh external reference, never by editing the failed one.
type Refund struct {
	gorm.Model           `json:"-"`
	RefundID             string          `gorm:"uniqueIndex" json:"refund_id"`
	OrderID              string          `gorm:"index" json:"order_id"`
	SellerID             string          `gorm:"index" json:"seller_id"`
	EntryID              string          `gorm:"index" json:"entry_id"`
	PaymentTransactionID string          `json:"payment_transaction_id"`
	Amount               decimal.Decimal `gorm:"type:decimal(20,2)" json:"amount"`
	EscrowPortion        decimal.Decimal `gorm:"type:decimal(20,2)" json:"escrow_portion"`
	CommissionReversal   decimal.Decimal `gorm:"type:decimal(20,2)" json:"commission_reversal"`
	Currency             string          `json:"currency"`
	Status               string          `gorm:"index" json:"status"`
	InitiatedByUserID    string          `json:"initiated_by_user_id"`
	InitiatedByRole      string          `json:"initiated_by_role"`
	Reason               string          `json:"reason"`
	AuditNote            string          `json:"audit_note,omitempty"`
	ExternalReference    string          `gorm:"uniqueIndex" json:"external_reference"`
	ProviderReference    string          `json:"provider_reference,omitempty"`
	ErrorDetail          string          `json:"error_detail,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}
