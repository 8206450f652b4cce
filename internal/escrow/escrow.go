package escrow

import (
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vendora/escrow-api/internal/audit"
	"github.com/vendora/escrow-api/internal/commission"
	"github.com/vendora/escrow-api/internal/types"
	"github.com/vendora/escrow-api/pkg/response"
	"gorm.io/gorm"
)

// Service is the escrow ledger: it owns the hold/release lifecycle of funds
// per (order, seller) pair and is the source of truth for how much of a
// seller's cut is still available.
type Service struct {
	db         *Database
	commission *commission.Service
	validate   *validator.Validate
}

// NewService creates a new escrow ledger service with the given database
// connection and commission service.
func NewService(gormDB *gorm.DB, commissionSvc *commission.Service) *Service {
	return &Service{
		db:         NewDatabase(gormDB),
		commission: commissionSvc,
		validate:   validator.New(),
	}
}

// HoldForOrder creates the escrow hold and the commission record for a
// settled order in one transaction. Commission computation runs first: when
// no rule matches, no hold is created and the order intake is blocked until
// an operator provisions a fallback rule.
func (s *Service) HoldForOrder(event types.OrderSettledEvent, idempotencyKey string) (*HoldResponse, error) {
	logger := log.With().
		Str("order_id", event.OrderID).
		Str("seller_id", event.SellerID).
		Str("service", "escrow").
		Logger()

	if err := s.validate.Struct(event); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrValidation, err)
	}
	if event.Amount.Cmp(decimal.Zero) <= 0 {
		return nil, fmt.Errorf("%w: order amount must be positive", types.ErrValidation)
	}

	// Replay a retried order-settled event.
	if idempotencyKey != "" {
		record, err := s.db.GetIdempotencyRecord(idempotencyKey)
		if err != nil {
			return nil, err
		}
		if record != nil && record.ExpiresAt.After(time.Now()) {
			existing, err := s.db.GetByEntryID(record.ResourceID)
			if err != nil {
				return nil, err
			}
			logger.Debug().Str("entry_id", existing.EntryID).Msg("replaying hold for retried intake event")
			return s.holdResponse(existing, nil)
		}
	}

	if existing, err := s.db.GetByOrderSeller(event.OrderID, event.SellerID); err == nil && existing != nil {
		logger.Warn().Str("entry_id", existing.EntryID).Msg("duplicate hold rejected")
		return nil, fmt.Errorf("%w: order %s seller %s", types.ErrDuplicateHold, event.OrderID, event.SellerID)
	} else if err != nil && !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}

	applied, err := s.commission.ComputeFor(event.SellerID, event.CategoryID, event.Amount)
	if err != nil {
		logger.Error().Err(err).Msg("commission computation failed, hold blocked")
		return nil, err
	}

	logger.Debug().
		Str("rule", applied.Description).
		Str("commission", applied.Amount.String()).
		Msg("commission computed for order")

	entry := &Entry{
		EntryID:              "ESC_" + uuid.New().String(),
		OrderID:              event.OrderID,
		SellerID:             event.SellerID,
		PaymentTransactionID: event.PaymentTransactionID,
		Amount:               event.Amount,
		RefundedAmount:       decimal.Zero,
		Currency:             event.Currency,
		Status:               StatusHeld,
		HeldAt:               time.Now(),
		CreatedAt:            time.Now(),
		UpdatedAt:            time.Now(),
	}

	var record *commission.Record
	err = s.db.Conn().Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(entry).Error; err != nil {
			return err
		}
		record, err = s.commission.RecordFor(tx, event.OrderID, event.SellerID, event.Currency, event.Amount, applied)
		if err != nil {
			return err
		}
		if idempotencyKey != "" {
			if err := s.db.CreateIdempotencyRecord(tx, idempotencyKey, entry.EntryID, "escrow_entry"); err != nil {
				return err
			}
		}
		return audit.Append(tx, &audit.Event{
			EntityType:   audit.EntityEscrowEntry,
			EntityID:     entry.EntryID,
			Action:       "hold_created",
			BeforeAmount: decimal.Zero,
			AfterAmount:  entry.Amount,
			Note:         "hold created on payment capture for order " + event.OrderID,
		})
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to create escrow hold")
		return nil, fmt.Errorf("failed to create escrow hold: %w", err)
	}

	logger.Info().
		Str("entry_id", entry.EntryID).
		Str("amount", entry.Amount.String()).
		Str("currency", entry.Currency).
		Str("commission", record.GrossCommission.String()).
		Msg("escrow hold created")

	return s.holdResponse(entry, record)
}

func (s *Service) holdResponse(entry *Entry, record *commission.Record) (*HoldResponse, error) {
	if record == nil {
		var err error
		record, err = s.commission.GetRecord(entry.OrderID, entry.SellerID)
		if err != nil {
			return nil, err
		}
	}
	return &HoldResponse{
		EntryID:         entry.EntryID,
		OrderID:         entry.OrderID,
		SellerID:        entry.SellerID,
		Amount:          entry.Amount,
		Currency:        entry.Currency,
		Status:          entry.Status,
		CommissionID:    record.RecordID,
		Commission:      record.GrossCommission,
		RuleDescription: record.RuleDescription,
		Timestamp:       time.Now(),
	}, nil
}

// Release transitions a hold to RELEASED once the return window has elapsed
// with no open dispute. A released entry remains refundable until fully
// refunded or disbursed.
func (s *Service) Release(entryID string) (*Entry, error) {
	entry, err := s.db.GetByEntryID(entryID)
	if err != nil {
		return nil, err
	}

	if entry.Status != StatusHeld && entry.Status != StatusPartiallyReleased {
		return nil, fmt.Errorf("%w: entry %s is %s, only held entries can be released",
			types.ErrValidation, entryID, entry.Status)
	}
	if entry.DisputeOpen {
		return nil, fmt.Errorf("%w: entry %s has an open dispute", types.ErrValidation, entryID)
	}

	now := time.Now()
	err = s.db.Conn().Transaction(func(tx *gorm.DB) error {
		if err := s.db.TransitionStatus(tx, entry, StatusReleased, now); err != nil {
			return err
		}
		return audit.Append(tx, &audit.Event{
			EntityType:   audit.EntityEscrowEntry,
			EntityID:     entry.EntryID,
			Action:       "released",
			BeforeAmount: entry.Amount,
			AfterAmount:  entry.Remaining(),
			Note:         "return window elapsed, hold released",
		})
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("entry_id", entry.EntryID).
		Str("remaining", entry.Remaining().String()).
		Str("service", "escrow").
		Msg("escrow hold released")

	return entry, nil
}

// ReleaseDue releases every entry whose return window elapsed before now and
// which carries no open dispute. Returns the number of released entries.
func (s *Service) ReleaseDue(now time.Time, returnWindow time.Duration) (int, error) {
	entries, err := s.db.ListHeldBefore(now.Add(-returnWindow))
	if err != nil {
		return 0, err
	}

	released := 0
	for i := range entries {
		if _, err := s.Release(entries[i].EntryID); err != nil {
			// A racing refund may have closed the entry; skip and continue.
			log.Warn().
				Err(err).
				Str("entry_id", entries[i].EntryID).
				Str("service", "escrow").
				Msg("release sweep skipped entry")
			continue
		}
		released++
	}
	return released, nil
}

// SetDisputeOpen flags or clears an open dispute on an entry, which blocks
// the release sweep.
func (s *Service) SetDisputeOpen(entryID string, open bool) error {
	entry, err := s.db.GetByEntryID(entryID)
	if err != nil {
		return err
	}
	return s.db.Conn().Model(&Entry{}).
		Where("entry_id = ?", entry.EntryID).
		Update("dispute_open", open).Error
}

// GetEntry fetches one entry by id.
func (s *Service) GetEntry(entryID string) (*Entry, error) {
	return s.db.GetByEntryID(entryID)
}

// GetDB exposes the database wrapper to sibling services.
func (s *Service) GetDB() *Database {
	return s.db
}

// GinHandlers contains HTTP handlers for escrow endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// OrderSettledHandler handles the Orders-collaborator intake event.
// Requires internal authentication and an idempotency key.
func (h *GinHandlers) OrderSettledHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		idempotencyKey := c.GetHeader("Idempotency-Key")
		if idempotencyKey == "" {
			response.BadRequest(c, "Idempotency-Key header is required")
			return
		}

		var event types.OrderSettledEvent
		if err := c.ShouldBindJSON(&event); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		hold, err := h.service.HoldForOrder(event, idempotencyKey)
		response.Handle(c, hold, err)
	}
}

// ReleaseHandler releases a single entry by id. Internal/admin surface for
// the dispute-resolution flow.
func (h *GinHandlers) ReleaseHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		entryID := c.Param("entry_id")

		entry, err := h.service.Release(entryID)
		response.Handle(c, entry, err)
	}
}
