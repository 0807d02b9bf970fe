package service_test

import (
	"context"
	"crypto/sha256"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Occupant/server/internal/occupant/debounce"
	"github.com/BrandonDHaskell/Occupant/server/internal/occupant/membership"
	"github.com/BrandonDHaskell/Occupant/server/internal/occupant/service"
	"github.com/BrandonDHaskell/Occupant/server/internal/occupant/store"
	"github.com/BrandonDHaskell/Occupant/server/internal/occupant/types"
)

// ── Check-in decisions ──────────────────────────────────────────────────────

func TestCheckIn_GrantsValidMember(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.addMember("1001", "gym")

	resp := f.checkIn(t, "1001")
	assert.True(t, resp.Granted)
	assert.Equal(t, service.ReasonGranted, resp.Reason)
	assert.NotEmpty(t, resp.RecordID)
	assert.Equal(t, day0.Format(time.RFC3339Nano), resp.EntryTime)

	m, err := f.members.GetMember(context.Background(), "1001")
	require.NoError(t, err)
	assert.Equal(t, 1, m.VisitCount)
	assert.Equal(t, 1, f.notifier.Count())

	recs := f.ledger.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "2026-03-10", recs[0].Day)
	assert.Equal(t, store.ChannelManualID, recs[0].Channel)
}

func TestCheckIn_Denials(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.members.Put(store.MemberRecord{ID: "expired", PlanEndDate: planEnd(day0.AddDate(0, 0, -1))})
	f.members.Put(store.MemberRecord{ID: "suspended", PlanEndDate: planEnd(day0.AddDate(0, 1, 0)), Status: membership.StatusSuspended})
	f.members.Put(store.MemberRecord{ID: "last-day", PlanEndDate: planEnd(day0)})

	cases := []struct {
		member  string
		granted bool
		reason  string
	}{
		{"nobody", false, service.ReasonUnknownMember},
		{"expired", false, service.ReasonExpired},
		{"suspended", false, service.ReasonSuspended},
		{"last-day", true, service.ReasonGranted},
	}
	for _, tc := range cases {
		t.Run(tc.member, func(t *testing.T) {
			resp := f.checkIn(t, tc.member)
			assert.Equal(t, tc.granted, resp.Granted)
			assert.Equal(t, tc.reason, resp.Reason)
		})
	}

	assert.Len(t, f.ledger.Records(), 1, "only the granted member gets a record")
}

func TestCheckIn_DuplicateToday(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.addMember("1001", "gym")

	first := f.checkIn(t, "1001")
	require.True(t, first.Granted)

	f.clock.Advance(10 * time.Minute)
	second := f.checkIn(t, "1001")
	assert.False(t, second.Granted)
	assert.Equal(t, service.ReasonDuplicateToday, second.Reason)
	assert.Len(t, f.ledger.Records(), 1)
}

func TestCheckIn_ReentryModality(t *testing.T) {
	f := newFixture(t, fixtureOpts{reentry: []string{"Unrestricted"}})
	f.addMember("1001", "unrestricted")

	first := f.checkIn(t, "1001")
	require.True(t, first.Granted)

	f.clock.Advance(30 * time.Minute)
	again := f.checkIn(t, "1001")
	assert.True(t, again.Granted)
	assert.True(t, again.Reentry)
	assert.Equal(t, service.ReasonReentry, again.Reason)
	assert.Equal(t, first.RecordID, again.RecordID)
	assert.Equal(t, first.EntryTime, again.EntryTime)
	assert.Len(t, f.ledger.Records(), 1, "re-entry must not create a record")

	m, _ := f.members.GetMember(context.Background(), "1001")
	assert.Equal(t, 1, m.VisitCount)
}

func TestCheckIn_NewDayOpensNewRecord(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.addMember("1001", "gym")

	require.True(t, f.checkIn(t, "1001").Granted)
	f.clock.Advance(24 * time.Hour)
	require.True(t, f.checkIn(t, "1001").Granted)
	assert.Len(t, f.ledger.Records(), 2)
}

func TestCheckIn_FacilityTimeZoneDecidesDay(t *testing.T) {
	loc, err := time.LoadLocation("America/Argentina/Buenos_Aires")
	require.NoError(t, err)
	f := newFixture(t, fixtureOpts{loc: loc})
	f.addMember("1001", "gym")

	// 01:30 UTC on the 11th is 22:30 on the 10th in Buenos Aires.
	f.clock.Set(time.Date(2026, 3, 11, 1, 30, 0, 0, time.UTC))
	require.True(t, f.checkIn(t, "1001").Granted)
	assert.Equal(t, "2026-03-10", f.ledger.Records()[0].Day)
}

func TestCheckIn_ValidationErrors(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	_, err := f.checkin.CheckIn(ctx, nil, types.CheckInRequest{SourceChannel: "qr"})
	assert.ErrorIs(t, err, service.ErrInvalidMemberID)

	_, err = f.checkin.CheckIn(ctx, nil, types.CheckInRequest{MemberID: "1001", SourceChannel: "telepathy"})
	assert.ErrorIs(t, err, service.ErrInvalidChannel)

	assert.Empty(t, f.events.Events())
}

// ── Debounce ────────────────────────────────────────────────────────────────

func TestCheckIn_DebounceWindow(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.addMember("1001", "gym")
	guard := debounce.NewGuard(5 * time.Second)
	req := types.CheckInRequest{MemberID: "1001", SourceChannel: "qr", RawCode: "QR:1001", StationID: "kiosk-1"}
	ctx := context.Background()

	first, err := f.checkin.CheckIn(ctx, guard, req)
	require.NoError(t, err)
	assert.True(t, first.Granted)

	f.clock.Advance(3 * time.Second)
	echo, err := f.checkin.CheckIn(ctx, guard, req)
	require.NoError(t, err)
	assert.True(t, echo.Ignored)
	assert.Equal(t, service.ReasonDebounced, echo.Reason)

	// 6 s after the accepted scan the read reaches the ledger again.
	f.clock.Advance(3 * time.Second)
	later, err := f.checkin.CheckIn(ctx, guard, req)
	require.NoError(t, err)
	assert.False(t, later.Ignored)
	assert.Equal(t, service.ReasonDuplicateToday, later.Reason)
}

func TestCheckIn_ManualChannelIsNotDebounced(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.addMember("1001", "gym")
	guard := debounce.NewGuard(5 * time.Second)
	req := types.CheckInRequest{MemberID: "1001", SourceChannel: "manual_id", RawCode: "1001"}

	_, err := f.checkin.CheckIn(context.Background(), guard, req)
	require.NoError(t, err)
	resp, err := f.checkin.CheckIn(context.Background(), guard, req)
	require.NoError(t, err)
	assert.False(t, resp.Ignored)
	assert.Equal(t, service.ReasonDuplicateToday, resp.Reason)
}

// ── Concurrency ─────────────────────────────────────────────────────────────

func TestCheckIn_ConcurrentSameMember(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.addMember("1001", "gym")

	const n = 50
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
		dup     int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Each goroutine plays a different station with its own guard.
			resp, err := f.checkin.CheckIn(context.Background(), debounce.NewGuard(5*time.Second), types.CheckInRequest{
				MemberID: "1001", SourceChannel: "qr", RawCode: "QR:1001",
			})
			if err != nil {
				t.Errorf("CheckIn: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if resp.Granted {
				granted++
			} else if resp.Reason == service.ReasonDuplicateToday {
				dup++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, granted)
	assert.Equal(t, n-1, dup)
	assert.Len(t, f.ledger.Records(), 1)
}

// ── Check-out ───────────────────────────────────────────────────────────────

func TestCheckOut_ByMember(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.addMember("1001", "gym")
	in := f.checkIn(t, "1001")

	f.clock.Advance(45 * time.Minute)
	out, err := f.checkin.CheckOut(context.Background(), types.CheckOutRequest{MemberID: "1001"})
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Equal(t, service.ReasonCheckedOut, out.Reason)
	assert.Equal(t, in.RecordID, out.RecordID)
	require.NotNil(t, out.DurationMinutes)
	assert.Equal(t, 45, *out.DurationMinutes)

	again, err := f.checkin.CheckOut(context.Background(), types.CheckOutRequest{MemberID: "1001"})
	require.NoError(t, err)
	assert.False(t, again.OK)
	assert.Equal(t, service.ReasonNoActiveSession, again.Reason)
}

func TestCheckOut_ByRecordIsIdempotent(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.addMember("1001", "gym")
	in := f.checkIn(t, "1001")
	ctx := context.Background()

	f.clock.Advance(20 * time.Minute)
	first, err := f.checkin.CheckOut(ctx, types.CheckOutRequest{RecordID: in.RecordID})
	require.NoError(t, err)
	require.True(t, first.OK)

	f.clock.Advance(20 * time.Minute)
	second, err := f.checkin.CheckOut(ctx, types.CheckOutRequest{RecordID: in.RecordID})
	require.NoError(t, err)
	assert.False(t, second.OK)
	assert.Equal(t, service.ReasonAlreadyClosed, second.Reason)

	rec := f.ledger.Records()[0]
	assert.Equal(t, first.ExitTime, rec.ExitAt.Format(time.RFC3339Nano), "exit time must not move")

	missing, err := f.checkin.CheckOut(ctx, types.CheckOutRequest{RecordID: "nope"})
	require.NoError(t, err)
	assert.Equal(t, service.ReasonRecordNotFound, missing.Reason)
}

func TestCheckOut_SessionAcrossMidnight(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.addMember("1001", "gym")
	f.clock.Set(time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC))
	require.True(t, f.checkIn(t, "1001").Granted)

	f.clock.Set(time.Date(2026, 3, 11, 0, 15, 0, 0, time.UTC))
	out, err := f.checkin.CheckOut(context.Background(), types.CheckOutRequest{MemberID: "1001"})
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Equal(t, 45, *out.DurationMinutes)
}

func TestCheckOut_RequiresIdentifier(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	_, err := f.checkin.CheckOut(context.Background(), types.CheckOutRequest{})
	assert.ErrorIs(t, err, service.ErrInvalidCheckOut)
}

// ── Audit log ───────────────────────────────────────────────────────────────

func TestCheckIn_RecordsHashedAuditEvents(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.addMember("1001", "gym")
	guard := debounce.NewGuard(5 * time.Second)
	req := types.CheckInRequest{MemberID: "1001", SourceChannel: "qr", RawCode: "QR:1001", StationID: "kiosk-1"}

	_, err := f.checkin.CheckIn(context.Background(), guard, req)
	require.NoError(t, err)

	events := f.events.Events()
	require.Len(t, events, 1)

	want := sha256.Sum256([]byte("QR:1001"))
	assert.Equal(t, want[:], events[0].CodeHash)
	assert.Equal(t, "kiosk-1", events[0].StationID)
	assert.True(t, events[0].Granted)
	assert.NotEmpty(t, events[0].RecordID)
}

func TestCheckIn_SuppressedScansAreNotAudited(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.addMember("1001", "gym")
	guard := debounce.NewGuard(5 * time.Second)
	req := types.CheckInRequest{MemberID: "1001", SourceChannel: "qr", RawCode: "QR:1001", StationID: "kiosk-1"}
	ctx := context.Background()

	_, err := f.checkin.CheckIn(ctx, guard, req)
	require.NoError(t, err)
	for n := 0; n < 4; n++ {
		f.clock.Advance(time.Second)
		resp, err := f.checkin.CheckIn(ctx, guard, req)
		require.NoError(t, err)
		require.True(t, resp.Ignored)
	}

	events := f.events.Events()
	require.Len(t, events, 1)
	assert.Equal(t, service.ReasonGranted, events[0].Reason)
}

// ── Failures ────────────────────────────────────────────────────────────────

type failingMembers struct{ store.MemberStore }

func (failingMembers) GetMember(context.Context, string) (store.MemberRecord, error) {
	return store.MemberRecord{}, errors.New("connection reset")
}

func TestCheckIn_StorageFailureIsAnError(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	svc := service.NewCheckInService(service.CheckInDeps{
		Members: failingMembers{},
		Ledger:  f.ledger,
		Events:  f.events,
		Logger:  zerolog.Nop(),
		Now:     f.clock.Now,
	}, service.CheckInPolicy{})

	_, err := svc.CheckIn(context.Background(), nil, types.CheckInRequest{MemberID: "1001", SourceChannel: "qr"})
	require.Error(t, err)
	_, ok := service.ReasonFor(err)
	assert.False(t, ok)
	assert.Empty(t, f.ledger.Records())
	assert.Empty(t, f.events.Events(), "no side effects on failure")
}
