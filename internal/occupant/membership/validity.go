// Package membership decides whether a member's plan currently allows entry.
package membership

import (
	"fmt"
	"strings"
	"time"
)

// Status is the administrative state stored on the member record.
type Status string

const (
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusSuspended Status = "suspended"
)

// ParseStatus normalizes a stored status value.  Empty is treated as active.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case "", StatusActive:
		return StatusActive, nil
	case StatusExpired:
		return StatusExpired, nil
	case StatusSuspended:
		return StatusSuspended, nil
	default:
		return "", fmt.Errorf("unknown member status %q", s)
	}
}

// Validity is the outcome of evaluating a plan at a given instant.
type Validity string

const (
	Valid     Validity = "valid"
	Expired   Validity = "expired"
	Suspended Validity = "suspended"
)

// Evaluate returns the validity of a plan at now.
//
// planEnd is a calendar date; only its year, month and day are read.  A member
// stays valid through the whole of that day in loc, so expiry happens at the
// following midnight.  A nil planEnd means open-ended access.
func Evaluate(planEnd *time.Time, status Status, now time.Time, loc *time.Location) Validity {
	if status == StatusSuspended {
		return Suspended
	}
	if planEnd != nil {
		if !now.Before(EndOfDay(*planEnd, loc)) {
			return Expired
		}
		return Valid
	}
	if status == StatusExpired {
		return Expired
	}
	return Valid
}

// EndOfDay returns the first instant after the calendar day of d in loc.
func EndOfDay(d time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, day := d.Date()
	return time.Date(y, m, day+1, 0, 0, 0, 0, loc)
}
