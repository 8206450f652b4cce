package refund

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vendora/escrow-api/internal/audit"
	"github.com/vendora/escrow-api/internal/commission"
	"github.com/vendora/escrow-api/internal/escrow"
	"github.com/vendora/escrow-api/internal/gateway"
	"github.com/vendora/escrow-api/internal/types"
	"gorm.io/gorm"
)

// Gateway is the external payment provider capability the processor needs.
type Gateway interface {
	ExecuteRefund(ctx context.Context, req gateway.RefundRequest) (*gateway.Result, error)
}

// Service orchestrates refund requests: eligibility against the escrow
// ledger, proportional commission reversal, the external gateway call, and
// the atomic ledger + commission update.
type Service struct {
	db         *Database
	escrow     *escrow.Service
	commission *commission.Service
	gateway    Gateway
	validate   *validator.Validate

	maxAttempts    int
	conflictRetry  int
	initialBackoff time.Duration
}

// NewService creates a new refund processor.
func NewService(gormDB *gorm.DB, escrowSvc *escrow.Service, commissionSvc *commission.Service, gw Gateway, maxAttempts, conflictRetry int) *Service {
	return &Service{
		db:             NewDatabase(gormDB),
		escrow:         escrowSvc,
		commission:     commissionSvc,
		gateway:        gw,
		validate:       validator.New(),
		maxAttempts:    maxAttempts,
		conflictRetry:  conflictRetry,
		initialBackoff: 100 * time.Millisecond,
	}
}

// CheckEligibility answers whether a refund of the queried amount could
// currently be applied, without mutating anything.
func (s *Service) CheckEligibility(query types.CheckRefundEligibilityQuery) (*types.RefundEligibility, error) {
	if err := s.validate.Struct(query); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrValidation, err)
	}
	if query.Amount.Cmp(decimal.Zero) <= 0 {
		return nil, fmt.Errorf("%w: refund amount must be positive", types.ErrValidation)
	}

	entry, err := s.escrow.GetDB().GetByOrderSeller(query.OrderID, query.SellerID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return &types.RefundEligibility{
				Eligible:      false,
				MaxRefundable: decimal.Zero,
				Reason:        "no escrow entry for this order and seller",
			}, nil
		}
		return nil, err
	}

	if !entry.Refundable() {
		reason := "escrow entry is fully refunded"
		if entry.Status == escrow.StatusDisbursed {
			reason = "funds already disbursed, recovery requires clawback"
		}
		return &types.RefundEligibility{
			Eligible:      false,
			MaxRefundable: decimal.Zero,
			Reason:        reason,
		}, nil
	}

	remaining := entry.Remaining()
	if query.Amount.Cmp(remaining) > 0 {
		return &types.RefundEligibility{
			Eligible:      false,
			MaxRefundable: remaining,
			Reason:        "requested amount exceeds remaining escrow balance",
		}, nil
	}

	return &types.RefundEligibility{
		Eligible:      true,
		MaxRefundable: remaining,
	}, nil
}

// Process executes one refund request end to end. The gateway call and the
// local ledger transaction are separate steps: no lock is held across the
// provider call, and a provider failure leaves escrow and commission
// untouched with the refund marked Failed.
func (s *Service) Process(cmd types.ProcessPartialRefundCommand, idempotencyKey string) (*Refund, error) {
	logger := log.With().
		Str("order_id", cmd.OrderID).
		Str("seller_id", cmd.SellerID).
		Str("amount", cmd.Amount.String()).
		Str("service", "refund").
		Logger()

	if err := s.validate.Struct(cmd); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrValidation, err)
	}
	if cmd.Amount.Cmp(decimal.Zero) <= 0 {
		return nil, fmt.Errorf("%w: refund amount must be positive", types.ErrValidation)
	}

	// Only the seller owning the sub-order, or an admin on an escalated
	// case, may initiate. Buyer requests arrive through the Returns
	// collaborator already carrying one of those roles.
	if cmd.InitiatedByRole != types.RoleAdmin &&
		!(cmd.InitiatedByRole == types.RoleSeller && cmd.InitiatedByUserID == cmd.SellerID) {
		return nil, fmt.Errorf("%w: %s %s cannot refund orders of seller %s",
			types.ErrNotAuthorized, cmd.InitiatedByRole, cmd.InitiatedByUserID, cmd.SellerID)
	}

	// Replay a retried identical request.
	if idempotencyKey != "" {
		record, err := s.db.GetIdempotencyRecord(idempotencyKey)
		if err != nil {
			return nil, err
		}
		if record != nil && record.ExpiresAt.After(time.Now()) {
			existing, err := s.db.GetByRefundID(record.ResourceID)
			if err != nil {
				return nil, err
			}
			logger.Debug().Str("refund_id", existing.RefundID).Msg("replaying refund for retried request")
			return existing, nil
		}
	}

	entry, err := s.escrow.GetDB().GetByOrderSeller(cmd.OrderID, cmd.SellerID)
	if err != nil {
		logger.Error().Err(err).Msg("escrow entry lookup failed")
		return nil, err
	}

	if entry.Status == escrow.StatusDisbursed {
		return nil, fmt.Errorf("%w: entry %s", types.ErrEntryDisbursed, entry.EntryID)
	}

	remaining := entry.Remaining()
	if cmd.Amount.Cmp(remaining) > 0 {
		logger.Warn().
			Str("remaining", remaining.String()).
			Msg("refund exceeds remaining escrow balance")
		return nil, fmt.Errorf("%w: requested %s, remaining %s",
			types.ErrInsufficientEscrowBalance, cmd.Amount.String(), remaining.String())
	}

	record, err := s.commission.GetRecord(cmd.OrderID, cmd.SellerID)
	if err != nil {
		logger.Error().Err(err).Msg("commission record lookup failed")
		return nil, err
	}

	reversal := computeReversal(record, entry, cmd.Amount)

	logger.Debug().
		Str("commission_reversal", reversal.String()).
		Str("gross_commission", record.GrossCommission.String()).
		Msg("computed proportional commission reversal")

	refund := &Refund{
		RefundID:             "RFD_" + uuid.New().String(),
		OrderID:              cmd.OrderID,
		SellerID:             cmd.SellerID,
		EntryID:              entry.EntryID,
		PaymentTransactionID: cmd.PaymentTransactionID,
		Amount:               cmd.Amount,
		EscrowPortion:        cmd.Amount,
		CommissionReversal:   reversal,
		Currency:             entry.Currency,
		Status:               StatusPending,
		InitiatedByUserID:    cmd.InitiatedByUserID,
		InitiatedByRole:      cmd.InitiatedByRole,
		Reason:               cmd.Reason,
		AuditNote:            cmd.AuditNote,
		ExternalReference:    "RFX_" + uuid.New().String(),
		CreatedAt:            time.Now(),
		UpdatedAt:            time.Now(),
	}

	if idempotencyKey != "" {
		err = s.db.CreateRefundWithIdempotency(refund, idempotencyKey)
	} else {
		err = s.db.CreateRefund(refund)
	}
	if err != nil {
		logger.Error().Err(err).Msg("failed to create refund record")
		return nil, fmt.Errorf("failed to create refund record: %w", err)
	}

	if err := s.db.UpdateStatus(s.db.Conn(), refund, StatusProcessing, "", ""); err != nil {
		return nil, err
	}

	result, gwErr := s.callGateway(refund)
	if gwErr != nil {
		logger.Warn().Err(gwErr).Str("refund_id", refund.RefundID).Msg("gateway refund failed, ledger untouched")
		if err := s.db.UpdateStatus(s.db.Conn(), refund, StatusFailed, "", gwErr.Error()); err != nil {
			return nil, err
		}
		return refund, nil
	}

	if err := s.applyLedger(refund, result.ProviderReference); err != nil {
		logger.Error().Err(err).Str("refund_id", refund.RefundID).Msg("ledger application failed after gateway success")
		if updateErr := s.db.UpdateStatus(s.db.Conn(), refund, StatusFailed, result.ProviderReference, err.Error()); updateErr != nil {
			return nil, updateErr
		}
		return nil, err
	}

	logger.Info().
		Str("refund_id", refund.RefundID).
		Str("commission_reversal", refund.CommissionReversal.String()).
		Str("provider_reference", refund.ProviderReference).
		Msg("refund processed successfully")

	return refund, nil
}

// computeReversal derives the proportional commission reversal for a refund
// amount, clamped so cumulative refunded commission never exceeds the gross
// commission. When the refund empties the entry, the rounding remainder is
// absorbed so the reversals sum exactly to the gross commission.
func computeReversal(record *commission.Record, entry *escrow.Entry, amount decimal.Decimal) decimal.Decimal {
	remainingCommission := record.GrossCommission.Sub(record.RefundedCommission)

	// Final partial refund of a fully-refunded order absorbs the remainder.
	if entry.RefundedAmount.Add(amount).Cmp(entry.Amount) == 0 {
		return remainingCommission
	}

	reversal := amount.Div(record.OrderAmount).Mul(record.GrossCommission).Round(2)
	if reversal.Cmp(remainingCommission) > 0 {
		reversal = remainingCommission
	}
	return reversal
}

// callGateway executes the refund at the provider, retrying transient errors
// with bounded exponential backoff. The stable external reference makes the
// retries idempotent on the provider side.
func (s *Service) callGateway(refund *Refund) (*gateway.Result, error) {
	req := gateway.RefundRequest{
		Reference:            refund.ExternalReference,
		PaymentTransactionID: refund.PaymentTransactionID,
		Amount:               refund.Amount,
		Currency:             refund.Currency,
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(s.initialBackoff),
	), uint64(s.maxAttempts-1))

	var result *gateway.Result
	operation := func() error {
		var err error
		result, err = s.gateway.ExecuteRefund(context.Background(), req)
		if err != nil {
			if errors.Is(err, types.ErrProviderTransient) {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return result, nil
}

// applyLedger applies the escrow and commission mutations for a gateway-
// confirmed refund in one transaction, retrying a bounded number of times
// when an optimistic version check loses against a concurrent writer.
func (s *Service) applyLedger(refund *Refund, providerRef string) error {
	var lastErr error
	for attempt := 0; attempt <= s.conflictRetry; attempt++ {
		entry, err := s.escrow.GetDB().GetByEntryID(refund.EntryID)
		if err != nil {
			return err
		}
		if refund.Amount.Cmp(entry.Remaining()) > 0 {
			// A concurrent refund consumed the balance between the gateway
			// call and this transaction. The provider movement stands; the
			// discrepancy is surfaced rather than over-drawing the hold.
			return fmt.Errorf("%w: balance consumed by concurrent refund", types.ErrInsufficientEscrowBalance)
		}
		record, err := s.commission.GetRecord(refund.OrderID, refund.SellerID)
		if err != nil {
			return err
		}

		// Re-derive against the current rows: a concurrent reversal may have
		// shrunk the remaining gross commission since computation, and if
		// this refund is now the one emptying the entry it absorbs the
		// rounding remainder so the reversals sum exactly to the gross.
		reversal := refund.CommissionReversal
		remainingCommission := record.GrossCommission.Sub(record.RefundedCommission)
		if entry.RefundedAmount.Add(refund.Amount).Cmp(entry.Amount) == 0 {
			reversal = remainingCommission
		} else if reversal.Cmp(remainingCommission) > 0 {
			reversal = remainingCommission
		}

		beforeRefunded := entry.RefundedAmount
		beforeCommission := record.NetCommission

		err = s.db.Conn().Transaction(func(tx *gorm.DB) error {
			if err := s.escrow.GetDB().ApplyRefund(tx, entry, refund.Amount); err != nil {
				return err
			}
			if err := s.commission.GetDB().ApplyReversal(tx, record, refund.Amount, reversal); err != nil {
				return err
			}
			if !reversal.Equal(refund.CommissionReversal) {
				if err := tx.Model(&Refund{}).Where("refund_id = ?", refund.RefundID).
					Update("commission_reversal", reversal).Error; err != nil {
					return err
				}
				refund.CommissionReversal = reversal
			}
			if err := s.db.UpdateStatus(tx, refund, StatusSucceeded, providerRef, ""); err != nil {
				return err
			}
			if err := audit.Append(tx, &audit.Event{
				EntityType:   audit.EntityEscrowEntry,
				EntityID:     entry.EntryID,
				Action:       "refund_applied",
				ActorID:      refund.InitiatedByUserID,
				ActorRole:    refund.InitiatedByRole,
				BeforeAmount: beforeRefunded,
				AfterAmount:  entry.RefundedAmount,
				Note:         "refund " + refund.RefundID + ": " + refund.Reason,
			}); err != nil {
				return err
			}
			return audit.Append(tx, &audit.Event{
				EntityType:   audit.EntityCommissionRecord,
				EntityID:     record.RecordID,
				Action:       "commission_reversed",
				ActorID:      refund.InitiatedByUserID,
				ActorRole:    refund.InitiatedByRole,
				BeforeAmount: beforeCommission,
				AfterAmount:  record.NetCommission,
				Note:         "reversal for refund " + refund.RefundID,
			})
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, types.ErrConcurrencyConflict) {
			return err
		}
		lastErr = err
		log.Warn().
			Int("attempt", attempt+1).
			Str("refund_id", refund.RefundID).
			Str("service", "refund").
			Msg("ledger version conflict, retrying")
	}
	return lastErr
}

// GetRefund fetches one refund by id.
func (s *Service) GetRefund(refundID string) (*Refund, error) {
	return s.db.GetByRefundID(refundID)
}

// GetDB exposes the database wrapper to sibling services.
func (s *Service) GetDB() *Database {
	return s.db
}
