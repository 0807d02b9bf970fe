// Package postgres stores the attendance ledger in PostgreSQL for
// deployments where several server processes share one database.  Every
// mutation is a single conditional statement so concurrent processes
// cannot double-open or double-close a record.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/BrandonDHaskell/Occupant/server/internal/occupant/store"
)

type AttendanceStore struct {
	db     *sql.DB
	tracer trace.Tracer
}

func NewAttendanceStore(db *sql.DB) *AttendanceStore {
	return &AttendanceStore{
		db:     db,
		tracer: otel.Tracer("occupant/store/postgres"),
	}
}

const recordColumns = `record_id::text, member_id, to_char(day, 'YYYY-MM-DD'), channel,
  entry_at, exit_at, duration_minutes, auto_closed`

// closeSet clamps the exit to the entry and rounds the duration to whole
// minutes, half away from zero.
const closeSet = `
SET exit_at = GREATEST($1::timestamptz, entry_at),
    duration_minutes = ROUND(EXTRACT(EPOCH FROM (GREATEST($1::timestamptz, entry_at) - entry_at)) / 60)::int,
    auto_closed = $2`

func (s *AttendanceStore) OpenOrReject(ctx context.Context, memberID, day string, ch store.Channel, now time.Time) (store.AttendanceRecord, error) {
	ctx, span := s.tracer.Start(ctx, "attendance.open",
		trace.WithAttributes(
			attribute.String("member.id", memberID),
			attribute.String("attendance.day", day),
		),
	)
	defer span.End()

	id := uuid.New()
	rec, err := scanRecord(s.db.QueryRowContext(ctx, `
INSERT INTO attendance_records(record_id, member_id, day, channel, entry_at, auto_closed)
VALUES ($1, $2, $3::date, $4, $5, FALSE)
ON CONFLICT (member_id, day) WHERE exit_at IS NULL DO NOTHING
RETURNING `+recordColumns,
		id, memberID, day, string(ch), now.UTC(),
	))
	if err == nil {
		return rec, nil
	}
	if isUniqueViolation(err) {
		span.SetAttributes(attribute.Bool("conflict.detected", true))
		return store.AttendanceRecord{}, store.ErrStorageConflict
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return store.AttendanceRecord{}, fmt.Errorf("OpenOrReject insert: %w", err)
	}

	// Nothing inserted: an open record exists.  It may have been closed in
	// between, which is a race we report rather than retry.
	existing, err := scanRecord(s.db.QueryRowContext(ctx, `
SELECT `+recordColumns+` FROM attendance_records
WHERE member_id = $1 AND day = $2::date AND exit_at IS NULL`, memberID, day))
	if errors.Is(err, sql.ErrNoRows) {
		span.SetAttributes(attribute.Bool("conflict.detected", true))
		return store.AttendanceRecord{}, store.ErrStorageConflict
	}
	if err != nil {
		return store.AttendanceRecord{}, fmt.Errorf("OpenOrReject lookup: %w", err)
	}
	return store.AttendanceRecord{}, &store.AlreadyCheckedInError{Existing: existing}
}

func (s *AttendanceStore) CloseOpen(ctx context.Context, memberID, day string, now time.Time) (store.AttendanceRecord, error) {
	ctx, span := s.tracer.Start(ctx, "attendance.close_open",
		trace.WithAttributes(attribute.String("member.id", memberID)),
	)
	defer span.End()

	rec, err := scanRecord(s.db.QueryRowContext(ctx, `
UPDATE attendance_records `+closeSet+`
WHERE member_id = $3 AND day = $4::date AND exit_at IS NULL
RETURNING `+recordColumns,
		now.UTC(), false, memberID, day,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return store.AttendanceRecord{}, store.ErrNoOpenRecord
	}
	if err != nil {
		return store.AttendanceRecord{}, fmt.Errorf("CloseOpen: %w", err)
	}
	return rec, nil
}

func (s *AttendanceStore) CloseByID(ctx context.Context, id string, exitAt time.Time, kind store.CloseKind) (store.AttendanceRecord, error) {
	ctx, span := s.tracer.Start(ctx, "attendance.close_by_id",
		trace.WithAttributes(
			attribute.String("record.id", id),
			attribute.Bool("close.auto", kind == store.CloseAuto),
		),
	)
	defer span.End()

	if _, err := uuid.Parse(id); err != nil {
		return store.AttendanceRecord{}, store.ErrRecordNotFound
	}

	rec, err := scanRecord(s.db.QueryRowContext(ctx, `
UPDATE attendance_records `+closeSet+`
WHERE record_id = $3 AND exit_at IS NULL
RETURNING `+recordColumns,
		exitAt.UTC(), kind == store.CloseAuto, id,
	))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return store.AttendanceRecord{}, fmt.Errorf("CloseByID: %w", err)
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM attendance_records WHERE record_id = $1)`, id,
	).Scan(&exists); err != nil {
		return store.AttendanceRecord{}, fmt.Errorf("CloseByID lookup: %w", err)
	}
	if exists {
		return store.AttendanceRecord{}, store.ErrAlreadyClosed
	}
	return store.AttendanceRecord{}, store.ErrRecordNotFound
}

func (s *AttendanceStore) ListOpen(ctx context.Context, before time.Time) ([]store.AttendanceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+recordColumns+` FROM attendance_records
WHERE exit_at IS NULL AND entry_at <= $1
ORDER BY entry_at ASC`, before.UTC())
	if err != nil {
		return nil, fmt.Errorf("ListOpen: %w", err)
	}
	return collect(rows)
}

func (s *AttendanceStore) ListDay(ctx context.Context, day string) ([]store.AttendanceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+recordColumns+` FROM attendance_records
WHERE day = $1::date
ORDER BY entry_at ASC`, day)
	if err != nil {
		return nil, fmt.Errorf("ListDay: %w", err)
	}
	return collect(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (store.AttendanceRecord, error) {
	var (
		rec      store.AttendanceRecord
		channel  string
		exitAt   sql.NullTime
		duration sql.NullInt64
	)
	if err := row.Scan(&rec.ID, &rec.MemberID, &rec.Day, &channel, &rec.EntryAt, &exitAt, &duration, &rec.AutoClosed); err != nil {
		return store.AttendanceRecord{}, err
	}
	rec.Channel = store.Channel(channel)
	rec.EntryAt = rec.EntryAt.UTC()
	if exitAt.Valid {
		t := exitAt.Time.UTC()
		rec.ExitAt = &t
	}
	if duration.Valid {
		d := int(duration.Int64)
		rec.DurationMinutes = &d
	}
	return rec, nil
}

func collect(rows *sql.Rows) ([]store.AttendanceRecord, error) {
	defer rows.Close()
	var out []store.AttendanceRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attendance record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

var _ store.AttendanceStore = (*AttendanceStore)(nil)
