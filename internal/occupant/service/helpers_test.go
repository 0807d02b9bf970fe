package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Occupant/server/internal/occupant/membership"
	"github.com/BrandonDHaskell/Occupant/server/internal/occupant/service"
	"github.com/BrandonDHaskell/Occupant/server/internal/occupant/store"
	"github.com/BrandonDHaskell/Occupant/server/internal/occupant/store/memory"
	"github.com/BrandonDHaskell/Occupant/server/internal/occupant/types"
)

// fakeClock is a manually advanced time source shared by every component of
// a test fixture.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// countingNotifier counts Invalidate calls.
type countingNotifier struct {
	mu sync.Mutex
	n  int
}

func (c *countingNotifier) Invalidate(context.Context) {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *countingNotifier) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// fixture wires the check-in and occupancy services over in-memory stores.
type fixture struct {
	clock     *fakeClock
	members   *memory.MemberStore
	ledger    *memory.AttendanceStore
	events    *memory.AccessEventStore
	notifier  *countingNotifier
	checkin   *service.CheckInService
	sweeper   *service.Sweeper
	occupancy *service.OccupancyService
}

type fixtureOpts struct {
	capacity int
	reentry  []string
	loc      *time.Location
}

var day0 = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

func planEnd(d time.Time) *time.Time {
	pe := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	return &pe
}

func newFixture(t *testing.T, opts fixtureOpts) *fixture {
	t.Helper()
	if opts.capacity == 0 {
		opts.capacity = 10
	}
	f := &fixture{
		clock:    newFakeClock(day0),
		members:  memory.NewMemberStore(),
		ledger:   memory.NewAttendanceStore(),
		events:   memory.NewAccessEventStore(),
		notifier: &countingNotifier{},
	}
	logger := zerolog.Nop()

	f.sweeper = service.NewSweeper(f.ledger, 90*time.Minute, logger)
	f.occupancy = service.NewOccupancyService(f.ledger, f.sweeper, service.OccupancyConfig{
		CapacityMax:     opts.capacity,
		AlertPercentage: 80,
		Location:        opts.loc,
	}, logger)
	f.occupancy.SetClock(f.clock.Now)

	f.checkin = service.NewCheckInService(service.CheckInDeps{
		Members:  f.members,
		Ledger:   f.ledger,
		Events:   f.events,
		Notifier: f.notifier,
		Logger:   logger,
		Now:      f.clock.Now,
	}, service.CheckInPolicy{
		Location:          opts.loc,
		ReentryModalities: service.ReentrySet(opts.reentry),
	})
	return f
}

// addMember registers an active member whose plan runs for another month.
func (f *fixture) addMember(id, modality string) {
	f.members.Put(store.MemberRecord{
		ID:          id,
		Name:        "Member " + id,
		PlanEndDate: planEnd(day0.AddDate(0, 1, 0)),
		Status:      membership.StatusActive,
		Modality:    modality,
	})
}

func (f *fixture) addMembers(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("m%02d", i+1)
		f.addMember(ids[i], "gym")
	}
	return ids
}

func (f *fixture) checkIn(t *testing.T, memberID string) types.CheckInResponse {
	t.Helper()
	resp, err := f.checkin.CheckIn(context.Background(), nil, types.CheckInRequest{
		MemberID:      memberID,
		SourceChannel: "manual_id",
	})
	if err != nil {
		t.Fatalf("CheckIn(%s): %v", memberID, err)
	}
	return resp
}
