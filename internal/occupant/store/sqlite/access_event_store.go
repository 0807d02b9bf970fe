package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/Occupant/server/internal/db"
	"github.com/BrandonDHaskell/Occupant/server/internal/occupant/store"
)

type AccessEventStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewAccessEventStore(db *sql.DB, writer *dbpkg.Worker) *AccessEventStore {
	return &AccessEventStore{db: db, writer: writer}
}

func (s *AccessEventStore) RecordEvent(ctx context.Context, rec store.AccessEventRecord) error {
	if rec.DecidedAt.IsZero() {
		rec.DecidedAt = time.Now().UTC()
	}

	// Only a full SHA-256 digest is stored.
	var codeHash any
	if len(rec.CodeHash) == 32 {
		codeHash = rec.CodeHash
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO access_events(
  action, station_id, member_id, channel, code_hash,
  record_id, decision_granted, decision_reason, decided_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);`,
			rec.Action, nullString(rec.StationID), nullString(rec.MemberID), nullString(string(rec.Channel)), codeHash,
			nullString(rec.RecordID), boolToInt(rec.Granted), rec.Reason, store.ToMillis(rec.DecidedAt),
		); err != nil {
			return fmt.Errorf("RecordEvent insert: %w", err)
		}
		return nil
	})
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
