package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Channel identifies how a member presented themselves at the station.
type Channel string

const (
	ChannelQR       Channel = "qr"
	ChannelCard     Channel = "card"
	ChannelManualID Channel = "manual_id"
)

// ParseChannel accepts the wire names plus a couple of legacy spellings.
func ParseChannel(s string) (Channel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "qr", "camera":
		return ChannelQR, nil
	case "card", "rfid":
		return ChannelCard, nil
	case "manual_id", "manualid", "manual", "dni":
		return ChannelManualID, nil
	default:
		return "", fmt.Errorf("unknown source channel %q", s)
	}
}

// CloseKind records who closed a record.
type CloseKind int

const (
	CloseManual CloseKind = iota // explicit check-out
	CloseAuto                    // reconciliation sweep
)

// AttendanceRecord is one visit.  ExitAt and DurationMinutes stay nil while
// the member is inside.
type AttendanceRecord struct {
	ID              string
	MemberID        string
	Day             string // DayLayout, facility time zone
	Channel         Channel
	EntryAt         time.Time
	ExitAt          *time.Time
	DurationMinutes *int
	AutoClosed      bool
}

func (r AttendanceRecord) IsOpen() bool { return r.ExitAt == nil }

// AlreadyCheckedInError is returned by OpenOrReject and carries the record
// that is already open so the caller can apply its re-entry policy.
type AlreadyCheckedInError struct {
	Existing AttendanceRecord
}

func (e *AlreadyCheckedInError) Error() string {
	return fmt.Sprintf("%s (record %s, entry %s)",
		ErrAlreadyCheckedIn, e.Existing.ID, e.Existing.EntryAt.Format(time.RFC3339))
}

func (e *AlreadyCheckedInError) Unwrap() error { return ErrAlreadyCheckedIn }

// AttendanceStore is the attendance ledger.  Every mutating method is a
// single atomic storage operation; implementations must not rely on the
// caller checking state first.
type AttendanceStore interface {
	// OpenOrReject inserts an open record for (memberID, day) unless one is
	// already open, in which case it returns *AlreadyCheckedInError.
	OpenOrReject(ctx context.Context, memberID, day string, ch Channel, now time.Time) (AttendanceRecord, error)

	// CloseOpen closes the open record for (memberID, day) at now.  Returns
	// ErrNoOpenRecord when nothing is open.
	CloseOpen(ctx context.Context, memberID, day string, now time.Time) (AttendanceRecord, error)

	// CloseByID closes one record at exitAt.  Returns ErrAlreadyClosed if it
	// was closed before, ErrRecordNotFound if it does not exist.
	CloseByID(ctx context.Context, id string, exitAt time.Time, kind CloseKind) (AttendanceRecord, error)

	// ListOpen returns open records with EntryAt <= before, oldest first.
	ListOpen(ctx context.Context, before time.Time) ([]AttendanceRecord, error)

	// ListDay returns every record of day ordered by entry time.
	ListDay(ctx context.Context, day string) ([]AttendanceRecord, error)
}
