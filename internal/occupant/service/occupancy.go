package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/BrandonDHaskell/Occupant/server/internal/metrics"
	"github.com/BrandonDHaskell/Occupant/server/internal/occupant/store"
	"github.com/BrandonDHaskell/Occupant/server/internal/occupant/types"
)

// Band is the coarse occupancy level shown on the dashboard.
type Band string

const (
	BandAvailable Band = "available"
	BandModerate  Band = "moderate"
	BandFull      Band = "full"
	BandExceeded  Band = "exceeded"
)

// DefaultAlertPercentage is the percentage at and above which Alert is set.
const DefaultAlertPercentage = 80

// Classify returns the band for count people in a space for capacity.  The
// exact ratio is compared, so 79.6% is still moderate.
func Classify(count, capacity int) Band {
	if capacity <= 0 {
		return BandExceeded
	}
	switch {
	case count*100 >= capacity*100:
		return BandExceeded
	case count*100 >= capacity*80:
		return BandFull
	case count*100 >= capacity*50:
		return BandModerate
	default:
		return BandAvailable
	}
}

// Percentage is count/capacity as a whole percentage, rounded half away
// from zero.
func Percentage(count, capacity int) int {
	if capacity <= 0 {
		return 0
	}
	return int(math.Round(float64(count) / float64(capacity) * 100))
}

// ComputeDayStats derives same-day aggregates from the records of one day.
func ComputeDayStats(day string, recs []store.AttendanceRecord) types.DayStats {
	stats := types.DayStats{Day: day, VisitCount: len(recs)}

	type event struct {
		at    time.Time
		delta int
	}
	events := make([]event, 0, 2*len(recs))
	var total, closed int
	for _, r := range recs {
		events = append(events, event{at: r.EntryAt, delta: +1})
		if r.ExitAt != nil {
			events = append(events, event{at: *r.ExitAt, delta: -1})
			if r.DurationMinutes != nil {
				total += *r.DurationMinutes
				closed++
			}
		}
	}
	if closed > 0 {
		stats.AverageDurationMinutes = int(math.Round(float64(total) / float64(closed)))
	}

	// Exits sort before entries at the same instant so a hand-over at the
	// door does not count as two people inside.
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].at.Equal(events[j].at) {
			return events[i].at.Before(events[j].at)
		}
		return events[i].delta < events[j].delta
	})

	running := 0
	for _, e := range events {
		running += e.delta
		if running > stats.Peak {
			stats.Peak = running
			stats.PeakAt = e.at.UTC().Format(time.RFC3339)
		}
	}
	return stats
}

// SnapshotCache stores the last computed snapshot for a short time.
// Implementations must treat every error as a miss.
type SnapshotCache interface {
	Get(ctx context.Context) (types.OccupancyResponse, bool)
	Set(ctx context.Context, snap types.OccupancyResponse)
	Delete(ctx context.Context)
}

type OccupancyConfig struct {
	CapacityMax     int
	AlertPercentage int
	Location        *time.Location
}

// OccupancyService answers "how full is it" and "who has not left yet".
// Every query sweeps first so stale sessions never inflate the count.
type OccupancyService struct {
	ledger  store.AttendanceStore
	sweeper *Sweeper
	cache   SnapshotCache
	cfg     OccupancyConfig
	logger  zerolog.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

func NewOccupancyService(ledger store.AttendanceStore, sw *Sweeper, cfg OccupancyConfig, logger zerolog.Logger) *OccupancyService {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.AlertPercentage <= 0 {
		cfg.AlertPercentage = DefaultAlertPercentage
	}
	s := &OccupancyService{
		ledger:  ledger,
		sweeper: sw,
		cfg:     cfg,
		logger:  logger.With().Str("component", "occupancy").Logger(),
		tracer:  otel.Tracer("occupant/service"),
		now:     time.Now,
	}
	if sw != nil {
		sw.SetNotifier(s)
	}
	return s
}

// UseCache enables snapshot caching.
func (s *OccupancyService) UseCache(c SnapshotCache) { s.cache = c }

// SetClock replaces the time source.  Intended for tests.
func (s *OccupancyService) SetClock(now func() time.Time) { s.now = now }

// Invalidate drops the cached snapshot.  It implements ChangeNotifier.
func (s *OccupancyService) Invalidate(ctx context.Context) {
	if s.cache != nil {
		s.cache.Delete(ctx)
	}
}

func (s *OccupancyService) sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	if s.sweeper == nil {
		return SweepResult{}, nil
	}
	return s.sweeper.Sweep(ctx, now)
}

// Snapshot returns current occupancy and today's stats.
func (s *OccupancyService) Snapshot(ctx context.Context) (types.OccupancyResponse, error) {
	ctx, span := s.tracer.Start(ctx, "occupancy.snapshot")
	defer span.End()

	now := s.now().UTC()
	if _, err := s.sweep(ctx, now); err != nil {
		return types.OccupancyResponse{}, err
	}

	day := store.DayOf(now, s.cfg.Location)
	if s.cache != nil {
		if snap, ok := s.cache.Get(ctx); ok && snap.Day.Day == day {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return snap, nil
		}
	}

	recs, err := s.ledger.ListDay(ctx, day)
	if err != nil {
		return types.OccupancyResponse{}, fmt.Errorf("occupancy list day: %w", err)
	}

	count := 0
	for _, r := range recs {
		if r.IsOpen() {
			count++
		}
	}
	pct := Percentage(count, s.cfg.CapacityMax)
	snap := types.OccupancyResponse{
		CurrentCount: count,
		CapacityMax:  s.cfg.CapacityMax,
		Percentage:   pct,
		Band:         string(Classify(count, s.cfg.CapacityMax)),
		Alert:        pct >= s.cfg.AlertPercentage,
		AsOf:         now.Format(time.RFC3339Nano),
		Day:          ComputeDayStats(day, recs),
	}

	metrics.SetOccupancy(count, pct)
	span.SetAttributes(attribute.Int("occupancy.count", count), attribute.String("occupancy.band", snap.Band))
	if s.cache != nil {
		s.cache.Set(ctx, snap)
	}
	return snap, nil
}

// PendingExits sweeps, then lists everyone still inside with how long they
// have been there.
func (s *OccupancyService) PendingExits(ctx context.Context) (types.PendingExitsResponse, error) {
	ctx, span := s.tracer.Start(ctx, "occupancy.pending_exits")
	defer span.End()

	now := s.now().UTC()
	res, err := s.sweep(ctx, now)
	if err != nil {
		return types.PendingExitsResponse{}, err
	}

	open, err := s.ledger.ListOpen(ctx, now)
	if err != nil {
		return types.PendingExitsResponse{}, fmt.Errorf("pending exits: %w", err)
	}

	out := types.PendingExitsResponse{
		Swept:   res.Closed,
		Pending: make([]types.PendingExit, 0, len(open)),
		AsOf:    now.Format(time.RFC3339Nano),
	}
	for _, r := range open {
		out.Pending = append(out.Pending, types.PendingExit{
			RecordID:       r.ID,
			MemberID:       r.MemberID,
			Channel:        string(r.Channel),
			EntryTime:      r.EntryAt.Format(time.RFC3339Nano),
			ElapsedMinutes: store.DurationMinutes(r.EntryAt, now),
		})
	}
	return out, nil
}

// DayRecords returns every record of day (YYYY-MM-DD, facility time).  An
// empty day means today.  It sweeps first, like Snapshot, so stats built
// from the records agree with the live occupancy view.
func (s *OccupancyService) DayRecords(ctx context.Context, day string) (string, []store.AttendanceRecord, error) {
	now := s.now().UTC()
	if day == "" {
		day = store.DayOf(now, s.cfg.Location)
	}
	if _, err := time.Parse(store.DayLayout, day); err != nil {
		return "", nil, fmt.Errorf("%w: %q", ErrInvalidDay, day)
	}
	if _, err := s.sweep(ctx, now); err != nil {
		return "", nil, err
	}
	recs, err := s.ledger.ListDay(ctx, day)
	if err != nil {
		return "", nil, fmt.Errorf("day records: %w", err)
	}
	return day, recs, nil
}
