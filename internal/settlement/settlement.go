package settlement

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vendora/escrow-api/internal/audit"
	"github.com/vendora/escrow-api/internal/commission"
	"github.com/vendora/escrow-api/internal/escrow"
	"github.com/vendora/escrow-api/internal/refund"
	"github.com/vendora/escrow-api/internal/types"
	"github.com/vendora/escrow-api/pkg/response"
	"gorm.io/gorm"
)

// Service closes a seller's activity for a calendar month into an immutable
// settlement with line items and emits the commission invoice. Aggregation
// for different sellers runs fully in parallel; the per-key mutex stops a
// single seller/period from aggregating concurrently with itself.
type Service struct {
	db         *Database
	escrowDB   *escrow.Database
	refundDB   *refund.Database
	commission *commission.Database

	taxRate         decimal.Decimal
	defaultCurrency string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates a new settlement aggregator.
func NewService(gormDB *gorm.DB, taxRate decimal.Decimal, defaultCurrency string) *Service {
	return &Service{
		db:              NewDatabase(gormDB),
		escrowDB:        escrow.NewDatabase(gormDB),
		refundDB:        refund.NewDatabase(gormDB),
		commission:      commission.NewDatabase(gormDB),
		taxRate:         taxRate,
		defaultCurrency: defaultCurrency,
		locks:           make(map[string]*sync.Mutex),
	}
}

func (s *Service) lockFor(sellerID string, year, month int) *sync.Mutex {
	key := fmt.Sprintf("%s:%04d-%02d", sellerID, year, month)
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.locks[key] = l
	return l
}

// Run aggregates one (seller, year, month) period. The whole batch is
// all-or-nothing: any line-item computation error aborts without persisting
// a partial settlement.
func (s *Service) Run(sellerID string, year, month int) (*SettlementResponse, error) {
	logger := log.With().
		Str("seller_id", sellerID).
		Int("year", year).
		Int("month", month).
		Str("service", "settlement").
		Logger()

	if sellerID == "" || year < 2000 || month < 1 || month > 12 {
		return nil, fmt.Errorf("%w: invalid settlement target", types.ErrValidation)
	}

	lock := s.lockFor(sellerID, year, month)
	lock.Lock()
	defer lock.Unlock()

	if _, err := s.db.GetByKey(sellerID, year, month); err == nil {
		logger.Warn().Msg("period already settled, rejecting duplicate run")
		return nil, fmt.Errorf("%w: %s %04d-%02d", types.ErrAlreadySettled, sellerID, year, month)
	} else if !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}

	periodStart := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	periodEnd := periodStart.AddDate(0, 1, 0)

	logger.Info().
		Time("period_start", periodStart).
		Time("period_end", periodEnd).
		Msg("starting settlement aggregation")

	entries, err := s.escrowDB.ListHeldInPeriod(sellerID, periodStart, periodEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate period sales: %w", err)
	}

	refunds, err := s.refundDB.ListSucceededInPeriod(sellerID, periodStart, periodEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate period refunds: %w", err)
	}

	refundsByOrder := make(map[string][]refund.Refund)
	for _, r := range refunds {
		refundsByOrder[r.OrderID] = append(refundsByOrder[r.OrderID], r)
	}

	settlementID := "STL_" + uuid.New().String()
	currency := s.defaultCurrency
	if len(entries) > 0 {
		currency = entries[0].Currency
	}

	header := &Settlement{
		SettlementID:           settlementID,
		SellerID:               sellerID,
		Year:                   year,
		Month:                  month,
		GrossSales:             decimal.Zero,
		TotalRefunds:           decimal.Zero,
		NetSales:               decimal.Zero,
		TotalCommission:        decimal.Zero,
		PriorPeriodAdjustments: decimal.Zero,
		NetPayable:             decimal.Zero,
		Currency:               currency,
		Status:                 StatusFinalized,
		FinalizedAt:            time.Now(),
		CreatedAt:              time.Now(),
		UpdatedAt:              time.Now(),
	}

	var lineItems []LineItem

	// SALE lines: orders whose hold was created inside the period.
	saleOrders := make(map[string]bool, len(entries))
	for i := range entries {
		entry := &entries[i]
		saleOrders[entry.OrderID] = true

		record, err := s.commission.GetRecordByOrderSeller(entry.OrderID, sellerID)
		if err != nil {
			logger.Error().Err(err).Str("order_id", entry.OrderID).Msg("line item computation failed, aborting settlement")
			return nil, fmt.Errorf("order %s: commission record missing: %w", entry.OrderID, err)
		}

		refundAmount := decimal.Zero
		reversalAmount := decimal.Zero
		for _, r := range refundsByOrder[entry.OrderID] {
			refundAmount = refundAmount.Add(r.Amount)
			reversalAmount = reversalAmount.Add(r.CommissionReversal)
		}

		commissionAmount := record.GrossCommission.Sub(reversalAmount)
		netAmount := entry.Amount.Sub(refundAmount)

		lineItems = append(lineItems, LineItem{
			LineItemID:       "SLI_" + uuid.New().String(),
			SettlementID:     settlementID,
			OrderID:          entry.OrderID,
			Type:             LineTypeSale,
			GrossAmount:      entry.Amount,
			RefundAmount:     refundAmount,
			CommissionAmount: commissionAmount,
			NetAmount:        netAmount,
			AdjustmentAmount: decimal.Zero,
			CreatedAt:        time.Now(),
		})

		header.GrossSales = header.GrossSales.Add(entry.Amount)
		header.TotalRefunds = header.TotalRefunds.Add(refundAmount)
		header.NetSales = header.NetSales.Add(netAmount)
		header.TotalCommission = header.TotalCommission.Add(commissionAmount)
	}

	// REFUND_ADJUSTMENT lines: in-period refunds against orders settled in
	// earlier periods. They never touch net sales; the signed adjustment
	// (refund back out, commission reversal back in) flows through the
	// header's prior-period adjustments.
	for orderID, orderRefunds := range refundsByOrder {
		if saleOrders[orderID] {
			continue
		}
		refundAmount := decimal.Zero
		reversalAmount := decimal.Zero
		for _, r := range orderRefunds {
			refundAmount = refundAmount.Add(r.Amount)
			reversalAmount = reversalAmount.Add(r.CommissionReversal)
		}
		adjustment := reversalAmount.Sub(refundAmount)

		lineItems = append(lineItems, LineItem{
			LineItemID:       "SLI_" + uuid.New().String(),
			SettlementID:     settlementID,
			OrderID:          orderID,
			Type:             LineTypeAdjustment,
			GrossAmount:      decimal.Zero,
			RefundAmount:     refundAmount,
			CommissionAmount: reversalAmount.Neg(),
			NetAmount:        decimal.Zero,
			AdjustmentAmount: adjustment,
			CreatedAt:        time.Now(),
		})

		header.TotalRefunds = header.TotalRefunds.Add(refundAmount)
		header.PriorPeriodAdjustments = header.PriorPeriodAdjustments.Add(adjustment)
	}

	header.NetPayable = header.NetSales.Sub(header.TotalCommission).Add(header.PriorPeriodAdjustments)

	invoice := s.buildInvoice(header, lineItems)

	err = s.db.Conn().Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(header).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: %s %04d-%02d", types.ErrAlreadySettled, sellerID, year, month)
			}
			return err
		}
		for i := range lineItems {
			if err := tx.Create(&lineItems[i]).Error; err != nil {
				return err
			}
		}
		if err := tx.Create(invoice).Error; err != nil {
			return err
		}
		return audit.Append(tx, &audit.Event{
			EntityType:   audit.EntitySettlement,
			EntityID:     settlementID,
			Action:       "finalized",
			BeforeAmount: decimal.Zero,
			AfterAmount:  header.NetPayable,
			Note:         fmt.Sprintf("settled %04d-%02d for seller %s", year, month, sellerID),
		})
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to persist settlement")
		return nil, err
	}

	header.LineItems = lineItems

	logger.Info().
		Str("settlement_id", settlementID).
		Str("gross_sales", header.GrossSales.String()).
		Str("total_refunds", header.TotalRefunds.String()).
		Str("net_sales", header.NetSales.String()).
		Str("total_commission", header.TotalCommission.String()).
		Str("prior_period_adjustments", header.PriorPeriodAdjustments.String()).
		Str("net_payable", header.NetPayable.String()).
		Int("line_items", len(lineItems)).
		Msg("settlement finalized")

	return &SettlementResponse{Settlement: header, Invoice: invoice}, nil
}

func (s *Service) buildInvoice(header *Settlement, lineItems []LineItem) *Invoice {
	invoiceID := "INV_" + uuid.New().String()
	taxAmount := header.TotalCommission.Mul(s.taxRate).Round(2)

	invoice := &Invoice{
		InvoiceID:    invoiceID,
		SettlementID: header.SettlementID,
		SellerID:     header.SellerID,
		Year:         header.Year,
		Month:        header.Month,
		InvoiceType:  InvoiceTypeCommission,
		NetAmount:    header.TotalCommission,
		TaxRate:      s.taxRate,
		TaxAmount:    taxAmount,
		GrossAmount:  header.TotalCommission.Add(taxAmount),
		Currency:     header.Currency,
		IssuedAt:     time.Now(),
		CreatedAt:    time.Now(),
	}

	for _, item := range lineItems {
		if item.CommissionAmount.IsZero() {
			continue
		}
		description := "commission on order " + item.OrderID
		if item.Type == LineTypeAdjustment {
			description = "commission reversal on order " + item.OrderID
		}
		invoice.Lines = append(invoice.Lines, InvoiceLineItem{
			LineID:      "IVL_" + uuid.New().String(),
			InvoiceID:   invoiceID,
			OrderID:     item.OrderID,
			Description: description,
			Amount:      item.CommissionAmount,
			CreatedAt:   time.Now(),
		})
	}

	return invoice
}

// GetSettlement retrieves a settlement with its line items and invoice.
func (s *Service) GetSettlement(settlementID string) (*SettlementResponse, error) {
	settlement, err := s.db.GetBySettlementID(settlementID)
	if err != nil {
		return nil, err
	}
	invoice, err := s.db.GetInvoiceBySettlementID(settlementID)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}
	return &SettlementResponse{Settlement: settlement, Invoice: invoice}, nil
}

// ListSellerSettlements returns all settlements for one seller.
func (s *Service) ListSellerSettlements(sellerID string) ([]Settlement, error) {
	return s.db.ListBySeller(sellerID)
}

// AppendAuditNote appends to a finalized settlement's audit note, the only
// post-finalization edit permitted.
func (s *Service) AppendAuditNote(settlementID, note string) error {
	return s.db.AppendAuditNote(settlementID, note)
}

// GinHandlers contains HTTP handlers for settlement endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// RunSettlementHandler handles POST requests to close a seller period.
// Requires internal authentication.
func (h *GinHandlers) RunSettlementHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var request RunRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		result, err := h.service.Run(request.SellerID, request.Year, request.Month)
		response.Handle(c, result, err)
	}
}

// GetSettlementHandler handles GET requests for settlement detail. Sellers
// may only read their own settlements; admins may read any.
func (h *GinHandlers) GetSettlementHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		settlementID := c.Param("settlement_id")

		result, err := h.service.GetSettlement(settlementID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		if c.GetString("role") != types.RoleAdmin && result.Settlement.SellerID != c.GetString("sellerID") {
			response.Forbidden(c, "settlement belongs to another seller")
			return
		}

		response.Success(c, result)
	}
}

// ListSettlementsHandler handles GET requests for the caller's settlements.
func (h *GinHandlers) ListSettlementsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sellerID := c.GetString("sellerID")
		if c.GetString("role") == types.RoleAdmin {
			if q := c.Query("seller_id"); q != "" {
				sellerID = q
			}
		}
		if sellerID == "" {
			response.BadRequest(c, "seller ID is required")
			return
		}

		settlements, err := h.service.ListSellerSettlements(sellerID)
		response.Handle(c, settlements, err)
	}
}
