package store

import (
	"context"
	"time"
)

// AccessEventRecord captures a single check-in/check-out decision for the
// audit log.  CodeHash is the SHA-256 of the raw scanned payload; the raw
// value is never stored.
type AccessEventRecord struct {
	Action    string // "check_in" | "check_out"
	StationID string
	MemberID  string
	Channel   Channel
	CodeHash  []byte
	RecordID  string
	Granted   bool
	Reason    string
	DecidedAt time.Time
}

// AccessEventStore persists decisions as an append-only audit log.
type AccessEventStore interface {
	RecordEvent(ctx context.Context, rec AccessEventRecord) error
}
