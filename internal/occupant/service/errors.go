package service

import (
	"errors"
	"fmt"

	"github.com/BrandonDHaskell/Occupant/server/internal/occupant/membership"
	"github.com/BrandonDHaskell/Occupant/server/internal/occupant/store"
)

// Validation errors.  These are the caller's fault and map to HTTP 400.
var (
	ErrInvalidMemberID = errors.New("member_id is required")
	ErrInvalidChannel  = errors.New("source_channel is invalid")
	ErrInvalidCheckOut = errors.New("member_id or record_id is required")
	ErrInvalidDay      = errors.New("day must be YYYY-MM-DD")
)

// Decision errors.  These are expected outcomes that end up as a reason code
// on a 200 response, never as a failed request.
var (
	ErrUnknownMember       = errors.New("unknown member")
	ErrDebounced           = errors.New("repeated scan suppressed")
	ErrDuplicateEntryToday = errors.New("member already checked in today")
	ErrNoActiveSession     = errors.New("no active session")
	ErrAlreadyClosed       = store.ErrAlreadyClosed
	ErrRecordNotFound      = store.ErrRecordNotFound
	ErrStorageConflict     = store.ErrStorageConflict
)

// InvalidMembershipError is returned when the member's plan does not allow
// entry right now.
type InvalidMembershipError struct {
	MemberID string
	Validity membership.Validity
}

func (e *InvalidMembershipError) Error() string {
	return fmt.Sprintf("membership of %s is %s", e.MemberID, e.Validity)
}

// Reason codes carried on check-in/check-out responses.
const (
	ReasonGranted         = "granted"
	ReasonReentry         = "reentry"
	ReasonUnknownMember   = "unknown_member"
	ReasonExpired         = "expired"
	ReasonSuspended       = "suspended"
	ReasonDuplicateToday  = "duplicate_today"
	ReasonDebounced       = "debounced"
	ReasonRateLimited     = "rate_limited"
	ReasonCheckedOut      = "checked_out"
	ReasonNoActiveSession = "no_active_session"
	ReasonAlreadyClosed   = "already_closed"
	ReasonRecordNotFound  = "record_not_found"
	ReasonStorageConflict = "storage_conflict"
)

// ReasonFor maps a decision error to its reason code.  ok is false for
// errors that are real failures.
func ReasonFor(err error) (reason string, ok bool) {
	var invalid *InvalidMembershipError
	switch {
	case errors.As(err, &invalid):
		if invalid.Validity == membership.Suspended {
			return ReasonSuspended, true
		}
		return ReasonExpired, true
	case errors.Is(err, ErrUnknownMember):
		return ReasonUnknownMember, true
	case errors.Is(err, ErrDebounced):
		return ReasonDebounced, true
	case errors.Is(err, ErrDuplicateEntryToday):
		return ReasonDuplicateToday, true
	case errors.Is(err, ErrNoActiveSession):
		return ReasonNoActiveSession, true
	case errors.Is(err, ErrAlreadyClosed):
		return ReasonAlreadyClosed, true
	case errors.Is(err, ErrRecordNotFound):
		return ReasonRecordNotFound, true
	case errors.Is(err, ErrStorageConflict):
		return ReasonStorageConflict, true
	default:
		return "", false
	}
}
