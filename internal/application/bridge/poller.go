package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/custodia/cls/internal/repositories/ledgerrepo"
	"github.com/custodia/cls/pkg/config"
)

// Poller drives in-flight transfers to completion. A single dispatch
// loop lists due attesting transfers from the ledger's poll index and
// hands them to a bounded worker pool; one worker services many
// transfers, never one goroutine per transfer. Because the schedule
// lives in the transaction rows, a process restart resumes exactly
// where the previous one stopped.
type Poller struct {
	svc        IBridgeService
	ledger     ledgerrepo.ILedgerRepository
	config     config.BridgeConfig
	workerPool chan struct{}
	logger     zerolog.Logger
}

func NewPoller(svc IBridgeService, ledger ledgerrepo.ILedgerRepository, cfg config.BridgeConfig, logger zerolog.Logger) *Poller {
	return &Poller{
		svc:        svc,
		ledger:     ledger,
		config:     cfg,
		workerPool: make(chan struct{}, cfg.ConcurrentWorkers),
		logger:     logger,
	}
}

// Run blocks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info().
		Dur("poll_interval", p.config.PollInterval).
		Int("workers", p.config.ConcurrentWorkers).
		Msg("Starting transfer poller")

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("Transfer poller stopped")
			return
		case <-ticker.C:
			p.dispatchDue(ctx)
		}
	}
}

func (p *Poller) dispatchDue(ctx context.Context) {
	due, err := p.ledger.ListDueForPoll(ctx, time.Now(), p.config.DispatchBatchSize)
	if err != nil {
		p.logger.Error().Err(err).Msg("Failed to list due transfers")
		return
	}
	if len(due) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, tx := range due {
		select {
		case p.workerPool <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return
		}

		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer func() { <-p.workerPool }()

			if err := p.svc.PollTransfer(ctx, id); err != nil {
				p.logger.Error().Err(err).Str("transaction_id", id).Msg("Poll tick failed")
			}
		}(tx.ID)
	}
	wg.Wait()
}
