package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vendora/escrow-api/internal/types"
)

// RefundRequest asks the provider to return funds to the buyer for one
// payment transaction. Reference is the stable per-attempt idempotency key.
type RefundRequest struct {
	Reference            string
	PaymentTransactionID string
	Amount               decimal.Decimal
	Currency             string
}

// DisbursementRequest asks the provider to pay out released escrow funds to
// a seller.
type DisbursementRequest struct {
	Reference string
	SellerID  string
	Amount    decimal.Decimal
	Currency  string
}

// Result is the provider's confirmation of an executed fund movement.
type Result struct {
	Reference         string
	ProviderReference string
	Amount            decimal.Decimal
	Currency          string
	CompletedAt       time.Time
}

// Provider simulates an external payment gateway. Executed references are
// remembered, so a retried request with the same reference returns the
// original result instead of moving funds twice.
type Provider struct {
	Name           string
	MinLatency     int     // in milliseconds
	MaxLatency     int
	SuccessRate    float64 // 0-1, probability of successful execution
	TransientShare float64 // 0-1, portion of failures that are retryable

	mu        sync.Mutex
	completed map[string]*Result
}

// NewProvider creates a mock provider with realistic defaults.
func NewProvider(name string) *Provider {
	return &Provider{
		Name:           name,
		MinLatency:     5,
		MaxLatency:     40,
		SuccessRate:    0.95,
		TransientShare: 0.8,
		completed:      make(map[string]*Result),
	}
}

// ExecuteRefund performs a refund through the provider.
func (p *Provider) ExecuteRefund(ctx context.Context, req RefundRequest) (*Result, error) {
	logger := log.With().
		Str("provider", p.Name).
		Str("reference", req.Reference).
		Str("payment_transaction_id", req.PaymentTransactionID).
		Str("amount", req.Amount.String()).
		Logger()

	logger.Info().Msg("executing refund at provider")
	return p.execute(ctx, req.Reference, req.Amount, req.Currency)
}

// ExecuteDisbursement performs a payout disbursement through the provider.
func (p *Provider) ExecuteDisbursement(ctx context.Context, req DisbursementRequest) (*Result, error) {
	logger := log.With().
		Str("provider", p.Name).
		Str("reference", req.Reference).
		Str("seller_id", req.SellerID).
		Str("amount", req.Amount.String()).
		Logger()

	logger.Info().Msg("executing disbursement at provider")
	return p.execute(ctx, req.Reference, req.Amount, req.Currency)
}

func (p *Provider) execute(ctx context.Context, reference string, amount decimal.Decimal, currency string) (*Result, error) {
	// Replay of an already-executed reference returns the original outcome.
	p.mu.Lock()
	if result, ok := p.completed[reference]; ok {
		p.mu.Unlock()
		log.Debug().
			Str("provider", p.Name).
			Str("reference", reference).
			Msg("reference already executed, replaying result")
		return result, nil
	}
	p.mu.Unlock()

	// Simulate network latency
	latency := rand.Intn(p.MaxLatency-p.MinLatency+1) + p.MinLatency
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", types.ErrProviderTransient, ctx.Err())
	case <-time.After(time.Duration(latency) * time.Millisecond):
	}

	if rand.Float64() > p.SuccessRate {
		if rand.Float64() < p.TransientShare {
			log.Warn().
				Str("provider", p.Name).
				Str("reference", reference).
				Msg("provider returned transient error")
			return nil, fmt.Errorf("%w: provider %s timed out", types.ErrProviderTransient, p.Name)
		}
		log.Warn().
			Str("provider", p.Name).
			Str("reference", reference).
			Msg("provider rejected request")
		return nil, fmt.Errorf("%w: provider %s declined", types.ErrProviderPermanent, p.Name)
	}

	result := &Result{
		Reference:         reference,
		ProviderReference: "PRV_" + uuid.New().String(),
		Amount:            amount,
		Currency:          currency,
		CompletedAt:       time.Now(),
	}

	p.mu.Lock()
	p.completed[reference] = result
	p.mu.Unlock()

	log.Info().
		Str("provider", p.Name).
		Str("reference", reference).
		Str("provider_reference", result.ProviderReference).
		Str("amount", amount.String()).
		Msg("provider executed fund movement")

	return result, nil
}
