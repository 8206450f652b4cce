package settlement

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	StatusFinalized = "FINALIZED"

	LineTypeSale       = "SALE"
	LineTypeAdjustment = "REFUND_ADJUSTMENT"

	InvoiceTypeCommission = "COMMISSION"
)

// Settlement is one immutable per-seller calendar-month closing. The
// (seller, year, month) key is unique; a second aggregation attempt for a
// finalized period fails with AlreadySettled. After finalization the only
// permitted edit is appending to the audit note.
type Settlement struct {
	gorm.Model             `json:"-"`
	SettlementID           string          `gorm:"uniqueIndex" json:"settlement_id"`
	SellerID               string          `gorm:"uniqueIndex:idx_settlements_seller_period" json:"seller_id"`
	Year                   int             `gorm:"uniqueIndex:idx_settlements_seller_period" json:"year"`
	Month                  int             `gorm:"uniqueIndex:idx_settlements_seller_period" json:"month"`
	GrossSales             decimal.Decimal `gorm:"type:decimal(20,2)" json:"gross_sales"`
	TotalRefunds           decimal.Decimal `gorm:"type:decimal(20,2)" json:"total_refunds"`
	NetSales               decimal.Decimal `gorm:"type:decimal(20,2)" json:"net_sales"`
	TotalCommission        decimal.Decimal `gorm:"type:decimal(20,2)" json:"total_commission"`
	PriorPeriodAdjustments decimal.Decimal `gorm:"type:decimal(20,2)" json:"prior_period_adjustments"`
	NetPayable             decimal.Decimal `gorm:"type:decimal(20,2)" json:"net_payable"`
	Currency               string          `json:"currency"`
	Status                 string          `json:"status"`
	AuditNote              string          `json:"audit_note,omitempty"`
	FinalizedAt            time.Time       `json:"finalized_at"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`

	LineItems []LineItem `gorm:"foreignKey:SettlementID;references:SettlementID" json:"line_items,omitempty"`
}

// LineItem is one order's contribution to a settlement. SALE lines cover
// orders settled inside the period; their net amounts sum exactly to the
// header's net sales. REFUND_ADJUSTMENT lines surface in-period refunds
// against orders settled in earlier periods: net amount stays zero and the
// signed adjustment feeds the header's prior-period adjustments.
type LineItem struct {
	gorm.Model       `json:"-"`
	LineItemID       string          `gorm:"uniqueIndex" json:"line_item_id"`
	SettlementID     string          `gorm:"index" json:"settlement_id"`
	OrderID          string          `json:"order_id"`
	Type             string          `json:"type"`
	GrossAmount      decimal.Decimal `gorm:"type:decimal(20,2)" json:"gross_amount"`
	RefundAmount     decimal.Decimal `gorm:"type:decimal(20,2)" json:"refund_amount"`
	CommissionAmount decimal.Decimal `gorm:"type:decimal(20,2)" json:"commission_amount"`
	NetAmount        decimal.Decimal `gorm:"type:decimal(20,2)" json:"net_amount"`
	AdjustmentAmount decimal.Decimal `gorm:"type:decimal(20,2)" json:"adjustment_amount"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Invoice is the billing document derived from a settlement's commission
// total, with the flat tax applied. One invoice per (seller, year, month,
// invoice type).
type Invoice struct {
	gorm.Model   `json:"-"`
	InvoiceID    string          `gorm:"uniqueIndex" json:"invoice_id"`
	SettlementID string          `gorm:"index" json:"settlement_id"`
	SellerID     string          `gorm:"uniqueIndex:idx_invoices_seller_period_type" json:"seller_id"`
	Year         int             `gorm:"uniqueIndex:idx_invoices_seller_period_type" json:"year"`
	Month        int             `gorm:"uniqueIndex:idx_invoices_seller_period_type" json:"month"`
	InvoiceType  string          `gorm:"uniqueIndex:idx_invoices_seller_period_type" json:"invoice_type"`
	NetAmount    decimal.Decimal `gorm:"type:decimal(20,2)" json:"net_amount"`
	TaxRate      decimal.Decimal `gorm:"type:decimal(8,6)" json:"tax_rate"`
	TaxAmount    decimal.Decimal `gorm:"type:decimal(20,2)" json:"tax_amount"`
	GrossAmount  decimal.Decimal `gorm:"type:decimal(20,2)" json:"gross_amount"`
	Currency     string          `json:"currency"`
	IssuedAt     time.Time       `json:"issued_at"`
	CreatedAt    time.Time       `json:"created_at"`

	Lines []InvoiceLineItem `gorm:"foreignKey:InvoiceID;references:InvoiceID" json:"lines,omitempty"`
}

// InvoiceLineItem is one order's commission charge on an invoice.
type InvoiceLineItem struct {
	gorm.Model  `json:"-"`
	LineID      string          `gorm:"uniqueIndex" json:"line_id"`
	InvoiceID   string          `gorm:"index" json:"invoice_id"`
	OrderID     string          `json:"order_id"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `gorm:"type:decimal(20,2)" json:"amount"`
	CreatedAt   time.Time       `json:"created_at"`
}

// RunRequest targets one seller period for aggregation.
type RunRequest struct {
	SellerID string `json:"seller_id" binding:"required"`
	Year     int    `json:"year" binding:"required"`
	Month    int    `json:"month" binding:"required,min=1,max=12"`
}

// SettlementResponse is the aggregation result returned to the caller.
type SettlementResponse struct {
	Settlement *Settlement `json:"settlement"`
	Invoice    *Invoice    `json:"invoice"`
}
