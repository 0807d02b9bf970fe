package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/BrandonDHaskell/Occupant/server/internal/occupant/debounce"
	"github.com/BrandonDHaskell/Occupant/server/internal/occupant/store"
)

// StationSession is the per-station state handed to the check-in path.
// Nothing in it is shared between stations.
type StationSession struct {
	StationID string
	Guard     *debounce.Guard
	Limiter   *rate.Limiter
}

// Allow reports whether the station may make another request now.  A nil
// limiter allows everything.
func (s *StationSession) Allow() bool {
	if s == nil || s.Limiter == nil {
		return true
	}
	return s.Limiter.Allow()
}

// UnassignedStation names the shared session used by requests that carry
// no station id.
const UnassignedStation = "unassigned"

// DefaultMaxStations bounds the number of live sessions when
// RegistryConfig.MaxStations is unset.
const DefaultMaxStations = 1024

// seenWriteInterval throttles last-seen writes for a busy station.
const seenWriteInterval = 30 * time.Second

type RegistryConfig struct {
	DebounceWindow time.Duration
	// IdleTimeout drops a station's session after this long without a
	// request, so the next request starts with a fresh guard.  0 keeps
	// sessions until MaxStations forces them out.
	IdleTimeout time.Duration
	// RatePerSecond and Burst configure the per-station limiter.  A rate
	// <= 0 disables limiting.
	RatePerSecond float64
	Burst         int
	// MaxStations caps live sessions; the least recently seen is evicted
	// to make room.
	MaxStations int
}

type stationEntry struct {
	session  *StationSession
	lastSeen time.Time
	markedAt time.Time
}

// StationRegistry owns one StationSession per scanning station and records
// stations as seen.
type StationRegistry struct {
	store  store.StationStore
	cfg    RegistryConfig
	logger zerolog.Logger
	now    func() time.Time

	mu         sync.Mutex
	sessions   map[string]*stationEntry
	unassigned *StationSession
	lastPrune  time.Time
}

func NewStationRegistry(st store.StationStore, cfg RegistryConfig, logger zerolog.Logger) *StationRegistry {
	if cfg.MaxStations <= 0 {
		cfg.MaxStations = DefaultMaxStations
	}
	r := &StationRegistry{
		store:    st,
		cfg:      cfg,
		logger:   logger.With().Str("component", "station_registry").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
		sessions: make(map[string]*stationEntry),
	}
	r.unassigned = r.newSession(UnassignedStation)
	return r
}

// Session returns the live session for stationID, creating a new one when
// the station is unknown or has been idle past IdleTimeout.  Requests with
// an empty stationID all share one session, limiter and guard included.
func (r *StationRegistry) Session(ctx context.Context, stationID string) *StationSession {
	stationID = strings.TrimSpace(stationID)
	if stationID == "" {
		return r.unassigned
	}
	now := r.now()

	r.mu.Lock()
	r.pruneLocked(now)
	e, ok := r.sessions[stationID]
	if ok && r.idle(e, now) {
		ok = false
	}
	if !ok {
		if _, exists := r.sessions[stationID]; !exists && len(r.sessions) >= r.cfg.MaxStations {
			r.evictOldestLocked()
		}
		e = &stationEntry{session: r.newSession(stationID)}
		r.sessions[stationID] = e
	}
	e.lastSeen = now
	mark := now.Sub(e.markedAt) >= seenWriteInterval
	if mark {
		e.markedAt = now
	}
	sess := e.session
	r.mu.Unlock()

	if mark && r.store != nil {
		if err := r.store.MarkSeen(ctx, stationID, now); err != nil {
			r.logger.Warn().Err(err).Str("station_id", stationID).Msg("mark station seen failed")
		}
	}
	return sess
}

func (r *StationRegistry) idle(e *stationEntry, now time.Time) bool {
	return r.cfg.IdleTimeout > 0 && now.Sub(e.lastSeen) > r.cfg.IdleTimeout
}

// pruneLocked drops idle sessions at most once per IdleTimeout.
func (r *StationRegistry) pruneLocked(now time.Time) {
	if r.cfg.IdleTimeout <= 0 || now.Sub(r.lastPrune) < r.cfg.IdleTimeout {
		return
	}
	r.lastPrune = now
	for id, e := range r.sessions {
		if r.idle(e, now) {
			delete(r.sessions, id)
		}
	}
}

func (r *StationRegistry) evictOldestLocked() {
	var (
		oldestID string
		oldestAt time.Time
	)
	for id, e := range r.sessions {
		if oldestID == "" || e.lastSeen.Before(oldestAt) {
			oldestID, oldestAt = id, e.lastSeen
		}
	}
	if oldestID != "" {
		delete(r.sessions, oldestID)
		r.logger.Debug().Str("station_id", oldestID).Msg("station session evicted")
	}
}

func (r *StationRegistry) newSession(stationID string) *StationSession {
	sess := &StationSession{
		StationID: stationID,
		Guard:     debounce.NewGuard(r.cfg.DebounceWindow),
	}
	if r.cfg.RatePerSecond > 0 {
		burst := r.cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		sess.Limiter = rate.NewLimiter(rate.Limit(r.cfg.RatePerSecond), burst)
	}
	return sess
}

// Forget drops the session of stationID.
func (r *StationRegistry) Forget(stationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, strings.TrimSpace(stationID))
}

// Len reports the number of live sessions.
func (r *StationRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
