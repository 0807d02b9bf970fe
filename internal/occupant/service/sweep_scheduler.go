package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SweepScheduler runs the Sweeper on a fixed interval so stale sessions get
// closed even when nobody asks for occupancy.  An interval of 0 disables it.
// Start and Stop are safe to call in any order and more than once.
type SweepScheduler struct {
	sweeper  *Sweeper
	interval time.Duration
	logger   zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSweepScheduler creates a scheduler but does not start it.
func NewSweepScheduler(sw *Sweeper, interval time.Duration, logger zerolog.Logger) *SweepScheduler {
	return &SweepScheduler{
		sweeper:  sw,
		interval: interval,
		logger:   logger.With().Str("component", "sweep_scheduler").Logger(),
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Start runs an immediate sweep, then repeats every interval until ctx is
// cancelled or Stop is called.  Only the first call has an effect, and a
// scheduler that was stopped cannot be restarted.
func (p *SweepScheduler) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true

	if p.interval <= 0 {
		p.logger.Info().Msg("sweep scheduler disabled (interval=0)")
		close(p.done)
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	go p.loop(ctx)

	p.logger.Info().Dur("interval", p.interval).Dur("threshold", p.sweeper.Threshold()).Msg("sweep scheduler started")
}

// Stop signals the loop to exit and waits for it.  Without a prior Start it
// returns at once.
func (p *SweepScheduler) Stop() {
	p.mu.Lock()
	p.stopped = true
	started, cancel := p.started, p.cancel
	p.mu.Unlock()

	if !started {
		return
	}
	if cancel != nil {
		cancel()
	}
	<-p.done
}

func (p *SweepScheduler) loop(ctx context.Context) {
	defer close(p.done)

	p.run(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.run(ctx)
		}
	}
}

func (p *SweepScheduler) run(ctx context.Context) {
	if _, err := p.sweeper.Sweep(ctx, p.now().UTC()); err != nil && ctx.Err() == nil {
		p.logger.Error().Err(err).Msg("scheduled sweep failed")
	}
}
