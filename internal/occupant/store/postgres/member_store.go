package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BrandonDHaskell/Occupant/server/internal/occupant/membership"
	"github.com/BrandonDHaskell/Occupant/server/internal/occupant/store"
)

type MemberStore struct {
	db *sql.DB
}

func NewMemberStore(db *sql.DB) *MemberStore {
	return &MemberStore{db: db}
}

func (s *MemberStore) GetMember(ctx context.Context, id string) (store.MemberRecord, error) {
	var (
		rec     store.MemberRecord
		planEnd sql.NullTime
		status  string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT member_id, name, plan_end_date, status, modality, visit_count
FROM members WHERE member_id = $1`, id,
	).Scan(&rec.ID, &rec.Name, &planEnd, &status, &rec.Modality, &rec.VisitCount)
	if errors.Is(err, sql.ErrNoRows) {
		return store.MemberRecord{}, store.ErrMemberNotFound
	}
	if err != nil {
		return store.MemberRecord{}, fmt.Errorf("GetMember: %w", err)
	}
	if planEnd.Valid {
		y, m, d := planEnd.Time.Date()
		pe := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		rec.PlanEndDate = &pe
	}
	if rec.Status, err = membership.ParseStatus(status); err != nil {
		return store.MemberRecord{}, fmt.Errorf("GetMember %s: %w", id, err)
	}
	return rec, nil
}

func (s *MemberStore) IncrementVisits(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE members SET visit_count = visit_count + 1, updated_at = now()
WHERE member_id = $1`, id)
	if err != nil {
		return fmt.Errorf("IncrementVisits: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrMemberNotFound
	}
	return nil
}

// AccessEventStore appends decisions to access_events.
type AccessEventStore struct {
	db *sql.DB
}

func NewAccessEventStore(db *sql.DB) *AccessEventStore {
	return &AccessEventStore{db: db}
}

func (s *AccessEventStore) RecordEvent(ctx context.Context, rec store.AccessEventRecord) error {
	if rec.DecidedAt.IsZero() {
		rec.DecidedAt = time.Now().UTC()
	}
	var codeHash any
	if len(rec.CodeHash) == 32 {
		codeHash = rec.CodeHash
	}
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO access_events(
  action, station_id, member_id, channel, code_hash,
  record_id, decision_granted, decision_reason, decided_at
) VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), $5, NULLIF($6, ''), $7, $8, $9)`,
		rec.Action, rec.StationID, rec.MemberID, string(rec.Channel), codeHash,
		rec.RecordID, rec.Granted, rec.Reason, rec.DecidedAt.UTC(),
	); err != nil {
		return fmt.Errorf("RecordEvent insert: %w", err)
	}
	return nil
}

type StationStore struct {
	db *sql.DB
}

func NewStationStore(db *sql.DB) *StationStore {
	return &StationStore{db: db}
}

func (s *StationStore) MarkSeen(ctx context.Context, stationID string, t time.Time) error {
	stationID = strings.TrimSpace(stationID)
	if stationID == "" {
		return nil
	}
	if t.IsZero() {
		t = time.Now()
	}
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO stations(station_id, first_seen_at, last_seen_at)
VALUES ($1, $2, $2)
ON CONFLICT (station_id) DO UPDATE SET last_seen_at = EXCLUDED.last_seen_at`,
		stationID, t.UTC(),
	); err != nil {
		return fmt.Errorf("MarkSeen %s: %w", stationID, err)
	}
	return nil
}

var (
	_ store.MemberStore      = (*MemberStore)(nil)
	_ store.AccessEventStore = (*AccessEventStore)(nil)
	_ store.StationStore     = (*StationStore)(nil)
)
