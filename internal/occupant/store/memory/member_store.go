package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/BrandonDHaskell/Occupant/server/internal/occupant/store"
)

type MemberStore struct {
	mu      sync.RWMutex
	members map[string]store.MemberRecord
}

func NewMemberStore(members ...store.MemberRecord) *MemberStore {
	m := make(map[string]store.MemberRecord, len(members))
	for _, rec := range members {
		id := strings.TrimSpace(rec.ID)
		if id != "" {
			m[id] = rec
		}
	}
	return &MemberStore{members: m}
}

// Put adds or replaces a member.
func (s *MemberStore) Put(rec store.MemberRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[rec.ID] = rec
}

func (s *MemberStore) GetMember(_ context.Context, id string) (store.MemberRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.members[id]
	if !ok {
		return store.MemberRecord{}, store.ErrMemberNotFound
	}
	return rec, nil
}

func (s *MemberStore) IncrementVisits(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.members[id]
	if !ok {
		return store.ErrMemberNotFound
	}
	rec.VisitCount++
	s.members[id] = rec
	return nil
}

var _ store.MemberStore = (*MemberStore)(nil)
