package escrow

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Processor is the background release sweep: it periodically releases holds
// whose return window has elapsed with no open dispute.
type Processor struct {
	service      *Service
	returnWindow time.Duration
	interval     time.Duration
}

func NewProcessor(service *Service, returnWindow, interval time.Duration) *Processor {
	return &Processor{
		service:      service,
		returnWindow: returnWindow,
		interval:     interval,
	}
}

// Start begins the release sweep loop
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "escrow_release_sweep").Logger()
	logger.Info().
		Dur("return_window", p.returnWindow).
		Dur("interval", p.interval).
		Msg("starting escrow release sweep")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down escrow release sweep")
			return
		case <-ticker.C:
			released, err := p.service.ReleaseDue(time.Now(), p.returnWindow)
			if err != nil {
				logger.Error().Err(err).Msg("release sweep failed")
				continue
			}
			if released > 0 {
				logger.Info().Int("released", released).Msg("release sweep completed")
			}
		}
	}
}
