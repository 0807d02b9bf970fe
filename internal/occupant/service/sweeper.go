package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/BrandonDHaskell/Occupant/server/internal/metrics"
	"github.com/BrandonDHaskell/Occupant/server/internal/occupant/store"
)

// DefaultAutoCheckoutThreshold is how long a record may stay open before the
// sweep closes it.
const DefaultAutoCheckoutThreshold = 90 * time.Minute

// SweepResult summarises one pass.
type SweepResult struct {
	Closed    int // records this pass closed
	Conflicts int // records someone else closed first
	Failed    int // records left open because of an error
}

// Sweeper closes records that have been open longer than the threshold.
// The synthetic exit is entry + threshold, so repeated passes over the same
// data always produce the same exit times.
type Sweeper struct {
	ledger    store.AttendanceStore
	threshold time.Duration
	notifier  ChangeNotifier
	logger    zerolog.Logger
	tracer    trace.Tracer
}

func NewSweeper(ledger store.AttendanceStore, threshold time.Duration, logger zerolog.Logger) *Sweeper {
	if threshold <= 0 {
		threshold = DefaultAutoCheckoutThreshold
	}
	return &Sweeper{
		ledger:    ledger,
		threshold: threshold,
		logger:    logger.With().Str("component", "sweeper").Logger(),
		tracer:    otel.Tracer("occupant/service"),
	}
}

// SetNotifier registers who to tell when a pass closes anything.
func (s *Sweeper) SetNotifier(n ChangeNotifier) { s.notifier = n }

func (s *Sweeper) Threshold() time.Duration { return s.threshold }

// Sweep runs one pass at now.  Per-record failures are logged and counted;
// only a failure to list open records is returned.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	ctx, span := s.tracer.Start(ctx, "sweeper.sweep")
	defer span.End()

	stale, err := s.ledger.ListOpen(ctx, now.Add(-s.threshold))
	if err != nil {
		span.RecordError(err)
		return SweepResult{}, fmt.Errorf("sweep list open: %w", err)
	}

	var res SweepResult
	for _, rec := range stale {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		exit := rec.EntryAt.Add(s.threshold)
		_, err := s.ledger.CloseByID(ctx, rec.ID, exit, store.CloseAuto)
		switch {
		case err == nil:
			res.Closed++
		case errors.Is(err, store.ErrAlreadyClosed), errors.Is(err, store.ErrRecordNotFound), errors.Is(err, store.ErrStorageConflict):
			res.Conflicts++
		default:
			res.Failed++
			s.logger.Error().Err(err).Str("record_id", rec.ID).Msg("auto check-out failed")
		}
	}

	span.SetAttributes(
		attribute.Int("sweep.candidates", len(stale)),
		attribute.Int("sweep.closed", res.Closed),
		attribute.Int("sweep.conflicts", res.Conflicts),
	)
	metrics.AddSwept(res.Closed)
	metrics.AddSweepConflicts(res.Conflicts)

	if res.Closed > 0 {
		s.logger.Info().
			Int("closed", res.Closed).
			Int("conflicts", res.Conflicts).
			Dur("threshold", s.threshold).
			Msg("auto check-out sweep")
		if s.notifier != nil {
			s.notifier.Invalidate(ctx)
		}
	}
	return res, nil
}
