package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/BrandonDHaskell/Occupant/server/internal/db"
)

type StationStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewStationStore(db *sql.DB, writer *dbpkg.Worker) *StationStore {
	return &StationStore{db: db, writer: writer}
}

// MarkSeen upserts the station row, keeping first_seen_at_ms from the
// first call.
func (s *StationStore) MarkSeen(ctx context.Context, stationID string, t time.Time) error {
	stationID = strings.TrimSpace(stationID)
	if stationID == "" {
		return nil
	}
	if t.IsZero() {
		t = time.Now().UTC()
	}
	ms := t.UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO stations(station_id, first_seen_at_ms, last_seen_at_ms)
VALUES (?, ?, ?)
ON CONFLICT(station_id) DO UPDATE SET
  last_seen_at_ms = excluded.last_seen_at_ms;`,
			stationID, ms, ms,
		); err != nil {
			return fmt.Errorf("MarkSeen %s: %w", stationID, err)
		}
		return nil
	})
}
