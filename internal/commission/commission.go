package commission

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vendora/escrow-api/internal/types"
	"github.com/vendora/escrow-api/pkg/response"
	"gorm.io/gorm"
)

// Service owns commission rules and commission records: rule management,
// rule selection for new orders, and the refunded-total bookkeeping used by
// the refund processor.
type Service struct {
	db *Database
}

// NewService creates a new commission service with the given database connection
func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// CreateRuleInput is the admin-facing shape for provisioning a rule.
type CreateRuleInput struct {
	SellerID   string              `json:"seller_id"`
	CategoryID string              `json:"category_id"`
	Rate       decimal.Decimal     `json:"rate"`
	MinAmount  decimal.NullDecimal `json:"min_amount"`
	MaxAmount  decimal.NullDecimal `json:"max_amount"`
	Priority   int                 `json:"priority"`
}

// CreateRule validates and persists a new active commission rule.
func (s *Service) CreateRule(input CreateRuleInput) (*Rule, error) {
	if input.Rate.Cmp(decimal.Zero) < 0 || input.Rate.Cmp(decimal.NewFromInt(1)) > 0 {
		return nil, fmt.Errorf("%w: rate must be within [0, 1]", types.ErrValidation)
	}
	if input.MinAmount.Valid && input.MinAmount.Decimal.Cmp(decimal.Zero) < 0 {
		return nil, fmt.Errorf("%w: min amount must not be negative", types.ErrValidation)
	}
	if input.MinAmount.Valid && input.MaxAmount.Valid &&
		input.MinAmount.Decimal.Cmp(input.MaxAmount.Decimal) > 0 {
		return nil, fmt.Errorf("%w: min amount exceeds max amount", types.ErrValidation)
	}

	rule := &Rule{
		RuleID:     "RUL_" + uuid.New().String(),
		SellerID:   input.SellerID,
		CategoryID: input.CategoryID,
		Rate:       input.Rate,
		MinAmount:  input.MinAmount,
		MaxAmount:  input.MaxAmount,
		Priority:   input.Priority,
		Active:     true,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}

	if err := s.db.CreateRule(rule); err != nil {
		return nil, fmt.Errorf("failed to create commission rule: %w", err)
	}

	log.Info().
		Str("rule_id", rule.RuleID).
		Str("seller_id", rule.SellerID).
		Str("category_id", rule.CategoryID).
		Str("rate", rule.Rate.String()).
		Int("priority", rule.Priority).
		Str("service", "commission").
		Msg("commission rule created")

	return rule, nil
}

// ListRules returns all rules, active or not.
func (s *Service) ListRules() ([]Rule, error) {
	return s.db.ListRules()
}

// SetRuleActive toggles a rule's active flag.
func (s *Service) SetRuleActive(ruleID string, active bool) error {
	return s.db.SetRuleActive(ruleID, active)
}

// ComputeFor selects the applicable rule for a seller/category pair and
// computes the clamped commission for the order amount.
func (s *Service) ComputeFor(sellerID, categoryID string, amount decimal.Decimal) (*Applied, error) {
	rules, err := s.db.ListActiveRules()
	if err != nil {
		return nil, fmt.Errorf("failed to load commission rules: %w", err)
	}
	return Compute(sellerID, categoryID, amount, rules)
}

// RecordFor builds and persists the commission record for a freshly settled
// order, inside the caller's transaction.
func (s *Service) RecordFor(tx *gorm.DB, orderID, sellerID, currency string, amount decimal.Decimal, applied *Applied) (*Record, error) {
	record := &Record{
		RecordID:            "CMR_" + uuid.New().String(),
		OrderID:             orderID,
		SellerID:            sellerID,
		OrderAmount:         amount,
		AppliedRate:         applied.Rate,
		GrossCommission:     applied.Amount,
		RefundedOrderAmount: decimal.Zero,
		RefundedCommission:  decimal.Zero,
		NetCommission:       applied.Amount,
		RuleDescription:     applied.Description,
		Currency:            currency,
		CreatedAt:           time.Now(),
		UpdatedAt:           time.Now(),
	}
	if err := s.db.CreateRecord(tx, record); err != nil {
		return nil, fmt.Errorf("failed to create commission record: %w", err)
	}
	return record, nil
}

// GetRecord fetches the commission record for one (order, seller) pair.
func (s *Service) GetRecord(orderID, sellerID string) (*Record, error) {
	return s.db.GetRecordByOrderSeller(orderID, sellerID)
}

// GetDB exposes the database wrapper to sibling services that join against
// commission tables.
func (s *Service) GetDB() *Database {
	return s.db
}

// GinHandlers contains HTTP handlers for commission rule endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CreateRuleHandler handles POST requests to provision commission rules
// Requires internal authentication
func (h *GinHandlers) CreateRuleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input CreateRuleInput
		if err := c.ShouldBindJSON(&input); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		rule, err := h.service.CreateRule(input)
		response.Handle(c, rule, err)
	}
}

// ListRulesHandler handles GET requests for the full rule set
func (h *GinHandlers) ListRulesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		rules, err := h.service.ListRules()
		response.Handle(c, rules, err)
	}
}

// SetRuleActiveHandler handles POST requests toggling a rule's active flag
func (h *GinHandlers) SetRuleActiveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ruleID := c.Param("rule_id")

		var request struct {
			Active *bool `json:"active" binding:"required"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		if err := h.service.SetRuleActive(ruleID, *request.Active); err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"rule_id": ruleID, "active": *request.Active})
	}
}
