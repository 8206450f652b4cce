package payout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vendora/escrow-api/internal/audit"
	"github.com/vendora/escrow-api/internal/escrow"
	"github.com/vendora/escrow-api/internal/gateway"
	"github.com/vendora/escrow-api/internal/types"
	"gorm.io/gorm"
)

// Gateway is the external payment provider capability the scheduler needs.
type Gateway interface {
	ExecuteDisbursement(ctx context.Context, req gateway.DisbursementRequest) (*gateway.Result, error)
}

// Service schedules and executes payouts of released escrow balances. A
// payout is only ever paid once: the processor claims it with a version
// check before calling the provider, and the stable external reference keeps
// provider retries idempotent.
type Service struct {
	db       *Database
	escrowDB *escrow.Database
	gateway  Gateway

	maxAttempts    int
	initialBackoff time.Duration
}

// NewService creates a new payout scheduler.
func NewService(gormDB *gorm.DB, gw Gateway, maxAttempts int) *Service {
	return &Service{
		db:             NewDatabase(gormDB),
		escrowDB:       escrow.NewDatabase(gormDB),
		gateway:        gw,
		maxAttempts:    maxAttempts,
		initialBackoff: 100 * time.Millisecond,
	}
}

// Schedule creates a SCHEDULED payout over a set of released escrow entries.
// Every entry must belong to the seller, be RELEASED, and not already be
// covered by a scheduled, processing or paid payout. The payout amount is
// the sum of the entries' remaining balances.
func (s *Service) Schedule(request ScheduleRequest) (*PayoutResponse, error) {
	logger := log.With().
		Str("seller_id", request.SellerID).
		Int("entry_count", len(request.EntryIDs)).
		Str("service", "payout").
		Logger()

	if len(request.EntryIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one entry is required", types.ErrValidation)
	}

	covered, err := s.coveredEntries(request.SellerID)
	if err != nil {
		return nil, err
	}

	amount := decimal.Zero
	currency := ""
	seen := make(map[string]bool, len(request.EntryIDs))
	for _, entryID := range request.EntryIDs {
		if seen[entryID] {
			return nil, fmt.Errorf("%w: entry %s listed twice", types.ErrValidation, entryID)
		}
		seen[entryID] = true

		entry, err := s.escrowDB.GetByEntryID(entryID)
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", entryID, err)
		}
		if entry.SellerID != request.SellerID {
			return nil, fmt.Errorf("%w: entry %s belongs to another seller", types.ErrNotAuthorized, entryID)
		}
		if entry.Status != escrow.StatusReleased {
			return nil, fmt.Errorf("%w: entry %s is %s, only released entries can be paid out",
				types.ErrValidation, entryID, entry.Status)
		}
		if covered[entryID] {
			return nil, fmt.Errorf("%w: entry %s is already covered by a payout", types.ErrValidation, entryID)
		}
		if currency == "" {
			currency = entry.Currency
		} else if currency != entry.Currency {
			return nil, fmt.Errorf("%w: entries mix currencies %s and %s", types.ErrValidation, currency, entry.Currency)
		}
		amount = amount.Add(entry.Remaining())
	}

	if amount.Cmp(decimal.Zero) <= 0 {
		return nil, fmt.Errorf("%w: payout amount must be positive", types.ErrValidation)
	}

	scheduledFor := time.Now()
	if request.ScheduledFor != nil {
		scheduledFor = *request.ScheduledFor
	}

	payout := &Payout{
		PayoutID:          "PO_" + uuid.New().String(),
		SellerID:          request.SellerID,
		Amount:            amount,
		Currency:          currency,
		Status:            StatusScheduled,
		ScheduledFor:      scheduledFor,
		ExternalReference: "POX_" + uuid.New().String(),
		CreatedAt:         time.Now(),
		UpdatedAt:         time.Now(),
	}
	if err := payout.SetEntries(request.EntryIDs); err != nil {
		return nil, err
	}

	err = s.db.Conn().Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(payout).Error; err != nil {
			return err
		}
		return audit.Append(tx, &audit.Event{
			EntityType:   audit.EntityPayout,
			EntityID:     payout.PayoutID,
			Action:       "scheduled",
			BeforeAmount: decimal.Zero,
			AfterAmount:  amount,
			Note:         fmt.Sprintf("payout over %d entries for seller %s", len(request.EntryIDs), request.SellerID),
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("payout_id", payout.PayoutID).
		Str("amount", amount.String()).
		Time("scheduled_for", scheduledFor).
		Msg("payout scheduled")

	return NewPayoutResponse(payout), nil
}

// coveredEntries lists entry IDs already claimed by a non-failed payout for
// the seller.
func (s *Service) coveredEntries(sellerID string) (map[string]bool, error) {
	payouts, err := s.db.ListActiveBySeller(sellerID)
	if err != nil {
		return nil, err
	}
	covered := make(map[string]bool)
	for i := range payouts {
		for _, entryID := range payouts[i].Entries() {
			covered[entryID] = true
		}
	}
	return covered, nil
}

// ProcessDue executes all scheduled payouts that have come due, as one
// batch. Each payout is claimed, sent to the provider, and finalized
// independently; one failure never blocks the rest of the batch.
func (s *Service) ProcessDue(ctx context.Context, now time.Time) error {
	due, err := s.db.ListDue(now)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}

	batchID := "BATCH_" + uuid.New().String()
	logger := log.With().
		Str("batch_id", batchID).
		Int("due", len(due)).
		Str("service", "payout").
		Logger()
	logger.Info().Msg("processing due payouts")

	paid, failed := 0, 0
	for i := range due {
		payout := &due[i]
		if err := s.executeOne(ctx, payout, batchID); err != nil {
			if errors.Is(err, types.ErrConcurrencyConflict) {
				continue
			}
			failed++
			logger.Warn().Err(err).Str("payout_id", payout.PayoutID).Msg("payout execution failed")
			continue
		}
		paid++
	}

	logger.Info().Int("paid", paid).Int("failed", failed).Msg("payout batch complete")
	return nil
}

// ExecutePayout runs a single payout immediately, outside the batch sweep.
func (s *Service) ExecutePayout(ctx context.Context, payoutID string) (*PayoutResponse, error) {
	payout, err := s.db.GetByPayoutID(payoutID)
	if err != nil {
		return nil, err
	}
	if payout.Status != StatusScheduled {
		return nil, fmt.Errorf("%w: payout %s is %s, only scheduled payouts can be executed",
			types.ErrValidation, payoutID, payout.Status)
	}
	if err := s.executeOne(ctx, payout, ""); err != nil && !errors.Is(err, types.ErrProviderTransient) && !errors.Is(err, types.ErrProviderPermanent) {
		return nil, err
	}
	return NewPayoutResponse(payout), nil
}

// executeOne claims a payout, re-verifies the escrow balances it was
// scheduled over, calls the provider, and finalizes it. Verification, provider
// or ledger failure marks the payout FAILED with the error detail and leaves
// the escrow entries for a later retry payout. On success the payout, its
// entries and the audit trail move together in one transaction; the entries
// are the ones read during verification, so their version checks catch a
// refund that landed after the provider call.
func (s *Service) executeOne(ctx context.Context, payout *Payout, batchID string) error {
	if err := s.db.MarkProcessing(payout, batchID); err != nil {
		return err
	}
	claimedVersion := payout.Version

	entries, err := s.verifyEntries(payout)
	if err != nil {
		if finErr := s.db.Finalize(s.db.Conn(), payout, StatusFailed, "", err.Error()); finErr != nil {
			return finErr
		}
		return err
	}

	result, gwErr := s.callGateway(ctx, payout)
	if gwErr != nil {
		if err := s.db.Finalize(s.db.Conn(), payout, StatusFailed, "", gwErr.Error()); err != nil {
			return err
		}
		return gwErr
	}

	txErr := s.db.Conn().Transaction(func(tx *gorm.DB) error {
		for i := range entries {
			entry := &entries[i]
			remaining := entry.Remaining()
			if err := s.escrowDB.TransitionStatus(tx, entry, escrow.StatusDisbursed, time.Now()); err != nil {
				return fmt.Errorf("entry %s: %w", entry.EntryID, err)
			}
			if err := audit.Append(tx, &audit.Event{
				EntityType:   audit.EntityEscrowEntry,
				EntityID:     entry.EntryID,
				Action:       "disbursed",
				BeforeAmount: remaining,
				AfterAmount:  decimal.Zero,
				Note:         "disbursed via payout " + payout.PayoutID,
			}); err != nil {
				return err
			}
		}
		if err := s.db.Finalize(tx, payout, StatusPaid, result.ProviderReference, ""); err != nil {
			return err
		}
		return audit.Append(tx, &audit.Event{
			EntityType:   audit.EntityPayout,
			EntityID:     payout.PayoutID,
			Action:       "paid",
			BeforeAmount: payout.Amount,
			AfterAmount:  payout.Amount,
			Note:         "provider reference " + result.ProviderReference,
		})
	})
	if txErr == nil {
		return nil
	}

	// The rollback undid any in-transaction finalize, so restore the claimed
	// state and record the failure. The provider reference is kept for
	// reconciliation of the already-executed disbursement.
	payout.Status = StatusProcessing
	payout.Version = claimedVersion
	payout.ProviderReference = ""
	payout.PaidAt = nil
	if finErr := s.db.Finalize(s.db.Conn(), payout, StatusFailed, result.ProviderReference, txErr.Error()); finErr != nil {
		return finErr
	}
	return txErr
}

// verifyEntries re-reads the payout's entries just before execution. A
// refund can land between scheduling and the sweep, so the payout only
// proceeds while every entry is still RELEASED and the remaining balances
// still sum to the scheduled amount. The returned entries carry the versions
// the disbursement transaction will check.
func (s *Service) verifyEntries(payout *Payout) ([]escrow.Entry, error) {
	entryIDs := payout.Entries()
	entries := make([]escrow.Entry, 0, len(entryIDs))
	total := decimal.Zero
	for _, entryID := range entryIDs {
		entry, err := s.escrowDB.GetByEntryID(entryID)
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", entryID, err)
		}
		if entry.Status != escrow.StatusReleased {
			return nil, fmt.Errorf("%w: entry %s is %s, expected released",
				types.ErrValidation, entryID, entry.Status)
		}
		total = total.Add(entry.Remaining())
		entries = append(entries, *entry)
	}
	if !total.Equal(payout.Amount) {
		return nil, fmt.Errorf("%w: remaining escrow balance %s no longer matches scheduled amount %s",
			types.ErrValidation, total.String(), payout.Amount.String())
	}
	return entries, nil
}

// callGateway executes the disbursement at the provider, retrying transient
// errors with bounded exponential backoff.
func (s *Service) callGateway(ctx context.Context, payout *Payout) (*gateway.Result, error) {
	req := gateway.DisbursementRequest{
		Reference: payout.ExternalReference,
		SellerID:  payout.SellerID,
		Amount:    payout.Amount,
		Currency:  payout.Currency,
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(s.initialBackoff),
	), uint64(s.maxAttempts-1))

	var result *gateway.Result
	operation := func() error {
		var err error
		result, err = s.gateway.ExecuteDisbursement(ctx, req)
		if err == nil {
			return nil
		}
		if errors.Is(err, types.ErrProviderTransient) {
			return err
		}
		return backoff.Permanent(err)
	}

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}
	return result, nil
}

// GetPayout retrieves a payout by its ID.
func (s *Service) GetPayout(payoutID string) (*PayoutResponse, error) {
	payout, err := s.db.GetByPayoutID(payoutID)
	if err != nil {
		return nil, err
	}
	return NewPayoutResponse(payout), nil
}

// ListSellerPayouts returns all payouts for one seller, newest first.
func (s *Service) ListSellerPayouts(sellerID string) ([]Payout, error) {
	return s.db.ListBySeller(sellerID)
}

// GetDB exposes the database layer to sibling services.
func (s *Service) GetDB() *Database {
	return s.db
}
