package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BrandonDHaskell/Occupant/server/internal/occupant/store"
)

type openKey struct {
	memberID string
	day      string
}

// AttendanceStore is an in-memory ledger for tests and dev.  A single mutex
// makes every operation atomic, which is only sound inside one process.
type AttendanceStore struct {
	mu      sync.Mutex
	records map[string]*store.AttendanceRecord
	open    map[openKey]string
	order   []string
}

func NewAttendanceStore() *AttendanceStore {
	return &AttendanceStore{
		records: make(map[string]*store.AttendanceRecord),
		open:    make(map[openKey]string),
	}
}

func (s *AttendanceStore) OpenOrReject(_ context.Context, memberID, day string, ch store.Channel, now time.Time) (store.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := openKey{memberID: memberID, day: day}
	if id, ok := s.open[k]; ok {
		return store.AttendanceRecord{}, &store.AlreadyCheckedInError{Existing: cloneRecord(s.records[id])}
	}

	rec := &store.AttendanceRecord{
		ID:       uuid.NewString(),
		MemberID: memberID,
		Day:      day,
		Channel:  ch,
		EntryAt:  now.UTC(),
	}
	s.records[rec.ID] = rec
	s.open[k] = rec.ID
	s.order = append(s.order, rec.ID)
	return cloneRecord(rec), nil
}

func (s *AttendanceStore) CloseOpen(_ context.Context, memberID, day string, now time.Time) (store.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.open[openKey{memberID: memberID, day: day}]
	if !ok {
		return store.AttendanceRecord{}, store.ErrNoOpenRecord
	}
	return s.closeLocked(s.records[id], now, store.CloseManual), nil
}

func (s *AttendanceStore) CloseByID(_ context.Context, id string, exitAt time.Time, kind store.CloseKind) (store.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return store.AttendanceRecord{}, store.ErrRecordNotFound
	}
	if !rec.IsOpen() {
		return store.AttendanceRecord{}, store.ErrAlreadyClosed
	}
	return s.closeLocked(rec, exitAt, kind), nil
}

func (s *AttendanceStore) closeLocked(rec *store.AttendanceRecord, exitAt time.Time, kind store.CloseKind) store.AttendanceRecord {
	exit := store.ClampExit(rec.EntryAt, exitAt.UTC())
	dur := store.DurationMinutes(rec.EntryAt, exit)
	rec.ExitAt = &exit
	rec.DurationMinutes = &dur
	rec.AutoClosed = kind == store.CloseAuto
	delete(s.open, openKey{memberID: rec.MemberID, day: rec.Day})
	return cloneRecord(rec)
}

func (s *AttendanceStore) ListOpen(_ context.Context, before time.Time) ([]store.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]store.AttendanceRecord, 0, len(s.open))
	for _, id := range s.open {
		rec := s.records[id]
		if !rec.EntryAt.After(before) {
			out = append(out, cloneRecord(rec))
		}
	}
	sortByEntry(out)
	return out, nil
}

func (s *AttendanceStore) ListDay(_ context.Context, day string) ([]store.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.AttendanceRecord
	for _, id := range s.order {
		if rec := s.records[id]; rec.Day == day {
			out = append(out, cloneRecord(rec))
		}
	}
	sortByEntry(out)
	return out, nil
}

// Records returns a copy of every record.  Test-only helper.
func (s *AttendanceStore) Records() []store.AttendanceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.AttendanceRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, cloneRecord(s.records[id]))
	}
	return out
}

func sortByEntry(recs []store.AttendanceRecord) {
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].EntryAt.Before(recs[j].EntryAt) })
}

func cloneRecord(r *store.AttendanceRecord) store.AttendanceRecord {
	out := *r
	if r.ExitAt != nil {
		t := *r.ExitAt
		out.ExitAt = &t
	}
	if r.DurationMinutes != nil {
		d := *r.DurationMinutes
		out.DurationMinutes = &d
	}
	return out
}

var _ store.AttendanceStore = (*AttendanceStore)(nil)
