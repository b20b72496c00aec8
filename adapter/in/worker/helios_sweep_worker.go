// Package worker runs the periodic mail sweep in-process.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"helios_server/core/service/ingest"
	"helios_server/pkg/ratelimit"
)

// SweepConfig holds sweep worker configuration.
type SweepConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// DefaultSweepConfig returns default configuration.
func DefaultSweepConfig() *SweepConfig {
	return &SweepConfig{
		Interval: 15 * time.Minute,
		Timeout:  60 * time.Second,
	}
}

// SweepWorker triggers label sweeps on a fixed interval. Triggers are
// debounced through the provider guard so an API-initiated sweep suppresses
// the overlapping tick.
type SweepWorker struct {
	sweeper *ingest.Sweeper
	guard   *ratelimit.ProviderGuard
	config  *SweepConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	started bool
	mu      sync.Mutex

	log zerolog.Logger
}

// NewSweepWorker creates a sweep worker.
func NewSweepWorker(sweeper *ingest.Sweeper, guard *ratelimit.ProviderGuard, config *SweepConfig, log zerolog.Logger) *SweepWorker {
	if config == nil {
		config = DefaultSweepConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SweepWorker{
		sweeper: sweeper,
		guard:   guard,
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
		log:     log.With().Str("component", "sweep_worker").Logger(),
	}
}

// Start launches the sweep loop. The first sweep runs one interval after
// start, not immediately, so deploys don't stampede the provider.
func (w *SweepWorker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.started = true

	w.wg.Add(1)
	go w.run()

	w.log.Info().
		Dur("interval", w.config.Interval).
		Dur("timeout", w.config.Timeout).
		Msg("sweep worker started")
}

// Stop cancels the loop and waits for an in-flight sweep to finish.
func (w *SweepWorker) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.started = false
	w.mu.Unlock()

	w.cancel()
	w.wg.Wait()
	w.log.Info().Msg("sweep worker stopped")
}

func (w *SweepWorker) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.sweepOnce()
		}
	}
}

func (w *SweepWorker) sweepOnce() {
	if w.guard != nil && w.guard.Debounce(w.ctx, "mail-sweep") {
		w.log.Debug().Msg("sweep debounced, another trigger ran recently")
		return
	}

	ctx, cancel := context.WithTimeout(w.ctx, w.config.Timeout)
	defer cancel()

	started := time.Now()
	report, err := w.sweeper.Sweep(ctx)
	if err != nil {
		w.log.Error().Err(err).Dur("elapsed", time.Since(started)).Msg("sweep failed")
		return
	}

	w.log.Info().
		Strs("labels", report.Labels).
		Int("scanned", report.Scanned).
		Int("created", report.Created).
		Int("duplicate", report.Duplicate).
		Int("rejected", report.Rejected).
		Int("failed", report.Failed).
		Str("elapsed", report.Elapsed).
		Msg("sweep finished")
}
