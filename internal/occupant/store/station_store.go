package store

import (
	"context"
	"time"
)

type StationRecord struct {
	StationID   string
	FirstSeenAt time.Time
	LastSeenAt  time.Time
}

// StationStore tracks the scanning stations (kiosks, card readers) that have
// talked to the server.
type StationStore interface {
	MarkSeen(ctx context.Context, stationID string, t time.Time) error
}
