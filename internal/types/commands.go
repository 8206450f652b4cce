package types

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Caller roles carried in JWT claims and on refund records.
const (
	RoleSeller = "seller"
	RoleAdmin  = "admin"
)

// OrderSettledEvent is the payload the Orders collaborator sends when payment
// capture succeeds for a sub-order. It triggers the escrow hold and the
// initial commission computation.
type OrderSettledEvent struct {
	OrderID              string          `json:"order_id" validate:"required"`
	SellerID             string          `json:"seller_id" validate:"required"`
	PaymentTransactionID string          `json:"payment_transaction_id" validate:"required"`
	CategoryID           string          `json:"category_id"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency" validate:"required,len=3"`
}

// ProcessPartialRefundCommand is the command surface exposed to the Returns
// collaborator and to seller/admin callers.
type ProcessPartialRefundCommand struct {
	OrderID              string          `json:"order_id" validate:"required"`
	PaymentTransactionID string          `json:"payment_transaction_id" validate:"required"`
	SellerID             string          `json:"seller_id" validate:"required"`
	Amount               decimal.Decimal `json:"amount"`
	Reason               string          `json:"reason" validate:"required"`
	InitiatedByUserID    string          `json:"initiated_by_user_id" validate:"required"`
	InitiatedByRole      string          `json:"initiated_by_role" validate:"required,oneof=seller admin"`
	AuditNote            string          `json:"audit_note"`
}

// CheckRefundEligibilityQuery asks whether a refund of Amount could currently
// be applied against the (order, seller) escrow entry.
type CheckRefundEligibilityQuery struct {
	OrderID  string          `json:"order_id" validate:"required"`
	SellerID string          `json:"seller_id" validate:"required"`
	Amount   decimal.Decimal `json:"amount"`
}

// RefundEligibility is the answer to a CheckRefundEligibilityQuery.
type RefundEligibility struct {
	Eligible      bool            `json:"eligible"`
	MaxRefundable decimal.Decimal `json:"max_refundable"`
	Reason        string          `json:"reason,omitempty"`
}

// IdempotencyRecord links a caller-supplied Idempotency-Key to the resource
// created on the first attempt so retried requests replay the original
// outcome. Written in the same transaction as the resource itself.
type IdempotencyRecord struct {
	gorm.Model
	IdempotencyKey string    `gorm:"uniqueIndex" json:"idempotency_key"`
	ResourceID     string    `json:"resource_id"`
	ResourceType   string    `json:"resource_type"`
	ExpiresAt      time.Time `json:"expires_at"`
}
