package store

import (
	"context"
	"time"

	"github.com/BrandonDHaskell/Occupant/server/internal/occupant/membership"
)

// MemberRecord is the subset of the member directory the attendance core
// reads.  PlanEndDate holds a calendar date; only Y/M/D are meaningful.
type MemberRecord struct {
	ID          string
	Name        string
	PlanEndDate *time.Time
	Status      membership.Status
	Modality    string
	VisitCount  int
}

// MemberStore is owned by the member-management side of the system.  The
// attendance core only looks members up and bumps their visit counter.
type MemberStore interface {
	GetMember(ctx context.Context, id string) (MemberRecord, error)
	IncrementVisits(ctx context.Context, id string) error
}
