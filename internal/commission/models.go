package commission

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Rule is one candidate commission rate. Empty SellerID/CategoryID means the
// rule is unscoped on that axis; a rule with both empty is the global
// fallback. Lower Priority wins within equal scope specificity.
type Rule struct {
	gorm.Model `json:"-"`
	RuleID     string              `gorm:"uniqueIndex" json:"rule_id"`
	SellerID   string              `gorm:"index" json:"seller_id,omitempty"`
	CategoryID string              `gorm:"index" json:"category_id,omitempty"`
	Rate       decimal.Decimal     `gorm:"type:decimal(8,6)" json:"rate"`
	MinAmount  decimal.NullDecimal `gorm:"type:decimal(20,2)" json:"min_amount,omitempty"`
	MaxAmount  decimal.NullDecimal `gorm:"type:decimal(20,2)" json:"max_amount,omitempty"`
	Priority   int                 `json:"priority"`
	Active     bool                `gorm:"index" json:"active"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// Record is the persisted outcome of applying a rule to one (order, seller)
// pair. It is a rate snapshot: later rule changes never touch it. Only the
// refund processor mutates the refunded totals, guarded by Version.
type Record struct {
	gorm.Model          `json:"-"`
	RecordID            string          `gorm:"uniqueIndex" json:"record_id"`
	OrderID             string          `gorm:"uniqueIndex:idx_commission_records_order_seller" json:"order_id"`
	SellerID            string          `gorm:"uniqueIndex:idx_commission_records_order_seller" json:"seller_id"`
	OrderAmount         decimal.Decimal `gorm:"type:decimal(20,2)" json:"order_amount"`
	AppliedRate         decimal.Decimal `gorm:"type:decimal(8,6)" json:"applied_rate"`
	GrossCommission     decimal.Decimal `gorm:"type:decimal(20,2)" json:"gross_commission"`
	RefundedOrderAmount decimal.Decimal `gorm:"type:decimal(20,2)" json:"refunded_order_amount"`
	RefundedCommission  decimal.Decimal `gorm:"type:decimal(20,2)" json:"refunded_commission"`
	NetCommission       decimal.Decimal `gorm:"type:decimal(20,2)" json:"net_commission"`
	RuleDescription     string          `json:"rule_description"`
	Currency            string          `json:"currency"`
	Version             int             `json:"-"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// Applied is the outcome of rule selection for one order amount.
type Applied struct {
	RuleID      string          `json:"rule_id"`
	Rate        decimal.Decimal `json:"rate"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// RecordResponse is the reporting shape for one commission record.
type RecordResponse struct {
	RecordID            string          `json:"record_id"`
	OrderID             string          `json:"order_id"`
	SellerID            string          `json:"seller_id"`
	OrderAmount         decimal.Decimal `json:"order_amount"`
	AppliedRate         decimal.Decimal `json:"applied_rate"`
	GrossCommission     decimal.Decimal `json:"gross_commission"`
	RefundedCommission  decimal.Decimal `json:"refunded_commission"`
	NetCommission       decimal.Decimal `json:"net_commission"`
	RuleDescription     string          `json:"rule_description"`
	CreatedAt           time.Time       `json:"created_at"`
}
