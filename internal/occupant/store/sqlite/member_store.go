package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/Occupant/server/internal/db"
	"github.com/BrandonDHaskell/Occupant/server/internal/occupant/membership"
	"github.com/BrandonDHaskell/Occupant/server/internal/occupant/store"
)

type MemberStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewMemberStore(db *sql.DB, writer *dbpkg.Worker) *MemberStore {
	return &MemberStore{db: db, writer: writer}
}

func (s *MemberStore) GetMember(ctx context.Context, id string) (store.MemberRecord, error) {
	var (
		rec     store.MemberRecord
		planEnd sql.NullString
		status  string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT member_id, name, plan_end_date, status, modality, visit_count
FROM members WHERE member_id = ?;`, id,
	).Scan(&rec.ID, &rec.Name, &planEnd, &status, &rec.Modality, &rec.VisitCount)
	if errors.Is(err, sql.ErrNoRows) {
		return store.MemberRecord{}, store.ErrMemberNotFound
	}
	if err != nil {
		return store.MemberRecord{}, fmt.Errorf("GetMember: %w", err)
	}

	if planEnd.Valid && planEnd.String != "" {
		d, err := time.Parse(store.DayLayout, planEnd.String)
		if err != nil {
			return store.MemberRecord{}, fmt.Errorf("GetMember %s: bad plan_end_date %q: %w", id, planEnd.String, err)
		}
		rec.PlanEndDate = &d
	}
	if rec.Status, err = membership.ParseStatus(status); err != nil {
		return store.MemberRecord{}, fmt.Errorf("GetMember %s: %w", id, err)
	}
	return rec, nil
}

func (s *MemberStore) IncrementVisits(ctx context.Context, id string) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE members SET visit_count = visit_count + 1, updated_at_ms = ?
WHERE member_id = ?;`, time.Now().UTC().UnixMilli(), id)
		if err != nil {
			return fmt.Errorf("IncrementVisits: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return store.ErrMemberNotFound
		}
		return nil
	})
}

var _ store.MemberStore = (*MemberStore)(nil)
