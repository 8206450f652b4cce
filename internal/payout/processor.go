package payout

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Processor is the background payout executor: it periodically collects
// scheduled payouts that have come due and runs them as a batch.
type Processor struct {
	service  *Service
	interval time.Duration
}

func NewProcessor(service *Service, interval time.Duration) *Processor {
	return &Processor{
		service:  service,
		interval: interval,
	}
}

// Start begins the payout execution loop
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "payout_processor").Logger()
	logger.Info().
		Dur("interval", p.interval).
		Msg("starting payout processor")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down payout processor")
			return
		case <-ticker.C:
			if err := p.service.ProcessDue(ctx, time.Now()); err != nil {
				logger.Error().Err(err).Msg("payout batch failed")
			}
		}
	}
}
