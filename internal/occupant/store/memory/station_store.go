package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Occupant/server/internal/occupant/store"
)

type StationStore struct {
	mu       sync.RWMutex
	stations map[string]store.StationRecord
}

func NewStationStore() *StationStore {
	return &StationStore{stations: make(map[string]store.StationRecord)}
}

func (s *StationStore) MarkSeen(_ context.Context, stationID string, t time.Time) error {
	stationID = strings.TrimSpace(stationID)
	if stationID == "" {
		return nil
	}
	if t.IsZero() {
		t = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.stations[stationID]
	if !ok {
		rec = store.StationRecord{StationID: stationID, FirstSeenAt: t}
	}
	rec.LastSeenAt = t
	s.stations[stationID] = rec
	return nil
}

// Stations returns every station seen so far, sorted by id.
func (s *StationStore) Stations() []store.StationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.StationRecord, 0, len(s.stations))
	for _, rec := range s.stations {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StationID < out[j].StationID })
	return out
}
