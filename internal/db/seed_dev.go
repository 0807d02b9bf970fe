package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type SeedMember struct {
	ID          string
	Name        string
	PlanEndDate string // YYYY-MM-DD, empty for open-ended
	Status      string
	Modality    string
}

type SeedDevOptions struct {
	// Members overrides the built-in demo roster when non-empty.
	Members []SeedMember
}

// DefaultSeedMembers covers each validity outcome so a fresh dev database
// can exercise every check-in path.
func DefaultSeedMembers(now time.Time) []SeedMember {
	nextMonth := now.AddDate(0, 1, 0).Format("2006-01-02")
	lastWeek := now.AddDate(0, 0, -7).Format("2006-01-02")
	return []SeedMember{
		{ID: "1001", Name: "Ana Gomez", PlanEndDate: nextMonth, Status: "active", Modality: "gym"},
		{ID: "1002", Name: "Bruno Diaz", PlanEndDate: nextMonth, Status: "active", Modality: "pool"},
		{ID: "1003", Name: "Carla Ruiz", PlanEndDate: lastWeek, Status: "active", Modality: "gym"},
		{ID: "1004", Name: "Dario Paz", PlanEndDate: nextMonth, Status: "suspended", Modality: "gym"},
		{ID: "1005", Name: "Elena Sosa", Status: "active", Modality: "classes"},
	}
}

// SeedDev inserts demo members into a SQLite database.  Existing rows are
// left untouched.
func SeedDev(ctx context.Context, db *sql.DB, opt SeedDevOptions) error {
	now := time.Now().UTC()
	nowMs := now.UnixMilli()

	members := opt.Members
	if len(members) == 0 {
		members = DefaultSeedMembers(now)
	}

	for _, m := range members {
		var planEnd any
		if m.PlanEndDate != "" {
			planEnd = m.PlanEndDate
		}
		status := m.Status
		if status == "" {
			status = "active"
		}
		if _, err := db.ExecContext(ctx, `
INSERT OR IGNORE INTO members(
  member_id, name, plan_end_date, status, modality,
  visit_count, created_at_ms, updated_at_ms
) VALUES (?, ?, ?, ?, ?, 0, ?, ?);`,
			m.ID, m.Name, planEnd, status, m.Modality, nowMs, nowMs,
		); err != nil {
			return fmt.Errorf("seed member %s: %w", m.ID, err)
		}
	}

	return nil
}
