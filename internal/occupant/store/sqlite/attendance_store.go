package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	dbpkg "github.com/BrandonDHaskell/Occupant/server/internal/db"
	"github.com/BrandonDHaskell/Occupant/server/internal/occupant/store"
)

// AttendanceStore persists the ledger in attendance_records.  The partial
// unique index ux_attendance_open backs the one-open-record-per-day rule;
// the pre-check inside the write transaction only exists so the caller gets
// the existing record back.
type AttendanceStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewAttendanceStore(db *sql.DB, writer *dbpkg.Worker) *AttendanceStore {
	return &AttendanceStore{db: db, writer: writer}
}

const recordColumns = `record_id, member_id, day, channel, entry_at_ms, exit_at_ms, duration_minutes, auto_closed`

func (s *AttendanceStore) OpenOrReject(ctx context.Context, memberID, day string, ch store.Channel, now time.Time) (store.AttendanceRecord, error) {
	rec := store.AttendanceRecord{
		ID:       uuid.NewString(),
		MemberID: memberID,
		Day:      day,
		Channel:  ch,
		EntryAt:  store.FromMillis(store.ToMillis(now)),
	}

	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		existing, err := scanRecord(tx.QueryRowContext(ctx, `
SELECT `+recordColumns+` FROM attendance_records
WHERE member_id = ? AND day = ? AND exit_at_ms IS NULL;`, memberID, day))
		switch {
		case err == nil:
			return &store.AlreadyCheckedInError{Existing: existing}
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("OpenOrReject lookup: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO attendance_records(record_id, member_id, day, channel, entry_at_ms, auto_closed)
VALUES (?, ?, ?, ?, ?, 0);`,
			rec.ID, rec.MemberID, rec.Day, string(rec.Channel), store.ToMillis(rec.EntryAt),
		); err != nil {
			if isUniqueViolation(err) {
				return store.ErrStorageConflict
			}
			return fmt.Errorf("OpenOrReject insert: %w", err)
		}
		return nil
	})
	if err != nil {
		return store.AttendanceRecord{}, err
	}
	return rec, nil
}

func (s *AttendanceStore) CloseOpen(ctx context.Context, memberID, day string, now time.Time) (store.AttendanceRecord, error) {
	var out store.AttendanceRecord
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		rec, err := scanRecord(tx.QueryRowContext(ctx, `
SELECT `+recordColumns+` FROM attendance_records
WHERE member_id = ? AND day = ? AND exit_at_ms IS NULL;`, memberID, day))
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNoOpenRecord
		}
		if err != nil {
			return fmt.Errorf("CloseOpen lookup: %w", err)
		}

		out, err = closeRecord(ctx, tx, rec, now, store.CloseManual)
		if errors.Is(err, store.ErrAlreadyClosed) {
			return store.ErrStorageConflict
		}
		return err
	})
	if err != nil {
		return store.AttendanceRecord{}, err
	}
	return out, nil
}

func (s *AttendanceStore) CloseByID(ctx context.Context, id string, exitAt time.Time, kind store.CloseKind) (store.AttendanceRecord, error) {
	var out store.AttendanceRecord
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		rec, err := scanRecord(tx.QueryRowContext(ctx, `
SELECT `+recordColumns+` FROM attendance_records WHERE record_id = ?;`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrRecordNotFound
		}
		if err != nil {
			return fmt.Errorf("CloseByID lookup: %w", err)
		}
		if !rec.IsOpen() {
			return store.ErrAlreadyClosed
		}

		out, err = closeRecord(ctx, tx, rec, exitAt, kind)
		return err
	})
	if err != nil {
		return store.AttendanceRecord{}, err
	}
	return out, nil
}

// closeRecord applies the guarded update.  Zero affected rows means another
// writer closed the record first.
func closeRecord(ctx context.Context, tx *sql.Tx, rec store.AttendanceRecord, exitAt time.Time, kind store.CloseKind) (store.AttendanceRecord, error) {
	exit := store.FromMillis(store.ToMillis(store.ClampExit(rec.EntryAt, exitAt)))
	dur := store.DurationMinutes(rec.EntryAt, exit)
	auto := kind == store.CloseAuto

	res, err := tx.ExecContext(ctx, `
UPDATE attendance_records
SET exit_at_ms = ?, duration_minutes = ?, auto_closed = ?
WHERE record_id = ? AND exit_at_ms IS NULL;`,
		store.ToMillis(exit), dur, boolToInt(auto), rec.ID,
	)
	if err != nil {
		return store.AttendanceRecord{}, fmt.Errorf("close record %s: %w", rec.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return store.AttendanceRecord{}, fmt.Errorf("close record %s rows: %w", rec.ID, err)
	}
	if n == 0 {
		return store.AttendanceRecord{}, store.ErrAlreadyClosed
	}

	rec.ExitAt = &exit
	rec.DurationMinutes = &dur
	rec.AutoClosed = auto
	return rec, nil
}

func (s *AttendanceStore) ListOpen(ctx context.Context, before time.Time) ([]store.AttendanceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+recordColumns+` FROM attendance_records
WHERE exit_at_ms IS NULL AND entry_at_ms <= ?
ORDER BY entry_at_ms ASC;`, store.ToMillis(before))
	if err != nil {
		return nil, fmt.Errorf("ListOpen: %w", err)
	}
	return collect(rows)
}

func (s *AttendanceStore) ListDay(ctx context.Context, day string) ([]store.AttendanceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+recordColumns+` FROM attendance_records
WHERE day = ?
ORDER BY entry_at_ms ASC;`, day)
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
		entryMs  int64
		exitMs   sql.NullInt64
		duration sql.NullInt64
		auto     int
	)
	if err := row.Scan(&rec.ID, &rec.MemberID, &rec.Day, &channel, &entryMs, &exitMs, &duration, &auto); err != nil {
		return store.AttendanceRecord{}, err
	}
	rec.Channel = store.Channel(channel)
	rec.EntryAt = store.FromMillis(entryMs)
	if exitMs.Valid {
		t := store.FromMillis(exitMs.Int64)
		rec.ExitAt = &t
	}
	if duration.Valid {
		d := int(duration.Int64)
		rec.DurationMinutes = &d
	}
	rec.AutoClosed = auto != 0
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

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ store.AttendanceStore = (*AttendanceStore)(nil)
