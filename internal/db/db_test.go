package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:test_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", t.Name())
	conn, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, Migrate(context.Background(), conn))
	return conn
}

func TestMigrate_Idempotent(t *testing.T) {
	conn := openMemory(t)
	require.NoError(t, Migrate(context.Background(), conn))

	var n int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestMigrate_OpenRecordIndexIsPartial(t *testing.T) {
	conn := openMemory(t)
	ins := `INSERT INTO attendance_records(record_id, member_id, day, channel, entry_at_ms, exit_at_ms)
VALUES (?, 'm1', '2026-03-01', 'qr', 1, ?)`

	_, err := conn.Exec(ins, "r1", 2)
	require.NoError(t, err)
	_, err = conn.Exec(ins, "r2", nil)
	require.NoError(t, err)
	_, err = conn.Exec(ins, "r3", nil)
	assert.Error(t, err, "second open record for the same member/day must be rejected")
}

func TestParseVersion(t *testing.T) {
	v, err := parseVersion("0007_add_things.sql")
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	_, err = parseVersion("init.sql")
	assert.Error(t, err)
}

func TestOpen_CreatesFileAndSeeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "occupant.db")
	conn, err := Open(context.Background(), Config{Path: path})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, SeedDev(context.Background(), conn, SeedDevOptions{}))
	require.NoError(t, SeedDev(context.Background(), conn, SeedDevOptions{}))

	var n int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM members`).Scan(&n))
	assert.Equal(t, 5, n)
}

func TestWorker_SerialisesWrites(t *testing.T) {
	conn := openMemory(t)
	w := NewWorker(conn)
	defer w.Close()

	_, err := conn.Exec(`INSERT INTO members(member_id, created_at_ms, updated_at_ms) VALUES ('m1', 0, 0)`)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := w.Do(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, `UPDATE members SET visit_count = visit_count + 1 WHERE member_id = 'm1'`)
				return err
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	var visits int
	require.NoError(t, conn.QueryRow(`SELECT visit_count FROM members WHERE member_id = 'm1'`).Scan(&visits))
	assert.Equal(t, 20, visits)
}

func TestWorker_RollsBackOnError(t *testing.T) {
	conn := openMemory(t)
	w := NewWorker(conn)
	defer w.Close()

	boom := errors.New("boom")
	err := w.Do(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO members(member_id, created_at_ms, updated_at_ms) VALUES ('m2', 0, 0)`); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM members WHERE member_id = 'm2'`).Scan(&n))
	assert.Zero(t, n)
}

func TestWorker_DoAfterClose(t *testing.T) {
	conn := openMemory(t)
	w := NewWorker(conn)
	w.Close()
	w.Close()

	err := w.Do(context.Background(), func(context.Context, *sql.Tx) error { return nil })
	assert.ErrorIs(t, err, ErrWorkerClosed)
}

// A job can land in the queue after the loop's final drain when Close runs
// between the quit check and the send.  Do must not wait on it forever.
func TestWorker_DoReturnsWhenLoopExitedBeforeJobRan(t *testing.T) {
	w := &Worker{
		jobs: make(chan job, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	close(w.done)

	errc := make(chan error, 1)
	go func() {
		errc <- w.Do(context.Background(), func(context.Context, *sql.Tx) error { return nil })
	}()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrWorkerClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Do blocked after the worker loop exited")
	}
}
