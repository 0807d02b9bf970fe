package store

import (
	"errors"
	"math"
	"time"
)

var (
	ErrAlreadyCheckedIn = errors.New("member already has an open attendance record for the day")
	ErrNoOpenRecord     = errors.New("no open attendance record")
	ErrAlreadyClosed    = errors.New("attendance record already closed")
	ErrRecordNotFound   = errors.New("attendance record not found")
	ErrMemberNotFound   = errors.New("member not found")

	// ErrStorageConflict means a concurrent writer won a race the atomic guard
	// was protecting.  Callers must not retry blindly: someone else already
	// did the work.
	ErrStorageConflict = errors.New("concurrent attendance write detected")
)

// DayLayout is the format of AttendanceRecord.Day.
const DayLayout = "2006-01-02"

// DayOf returns the calendar day of t in loc.
func DayOf(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DayLayout)
}

// DurationMinutes rounds the elapsed time between entry and exit to whole
// minutes.  It never returns a negative value.
func DurationMinutes(entry, exit time.Time) int {
	if exit.Before(entry) {
		return 0
	}
	return int(math.Round(exit.Sub(entry).Minutes()))
}

// ClampExit returns exit, or entry when exit precedes it.
func ClampExit(entry, exit time.Time) time.Time {
	if exit.Before(entry) {
		return entry
	}
	return exit
}

// ToMillis and FromMillis are the epoch-millisecond encoding used by the
// SQLite tables.
func ToMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func FromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
