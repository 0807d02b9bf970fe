// Package report renders same-day attendance as an xlsx workbook.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/BrandonDHaskell/Occupant/server/internal/occupant/store"
	"github.com/BrandonDHaskell/Occupant/server/internal/occupant/types"
)

const (
	attendanceSheet = "Attendance"
	summarySheet    = "Summary"
)

var attendanceColumns = []string{
	"Record ID", "Member ID", "Channel", "Entry", "Exit", "Duration (min)", "Auto closed",
}

// sheetWriter appends rows to one sheet at a time.
type sheetWriter struct {
	file  *excelize.File
	sheet string
	row   int
}

func newSheetWriter() *sheetWriter {
	return &sheetWriter{file: excelize.NewFile()}
}

func (w *sheetWriter) addSheet(name string) error {
	// Excel caps sheet names at 31 characters.
	if len(name) > 31 {
		name = name[:31]
	}
	if w.sheet == "" {
		if err := w.file.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("rename sheet %s: %w", name, err)
		}
	} else if _, err := w.file.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}
	w.sheet = name
	w.row = 1
	return nil
}

func (w *sheetWriter) writeHeader(columns []string) error {
	if err := w.writeRow(toRow(columns)); err != nil {
		return err
	}
	style, err := w.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		start, _ := excelize.CoordinatesToCellName(1, w.row-1)
		end, _ := excelize.CoordinatesToCellName(len(columns), w.row-1)
		_ = w.file.SetCellStyle(w.sheet, start, end, style)
	}
	return nil
}

func (w *sheetWriter) writeRow(row []any) error {
	if w.sheet == "" {
		return fmt.Errorf("no active sheet")
	}
	cell, err := excelize.CoordinatesToCellName(1, w.row)
	if err != nil {
		return err
	}
	if err := w.file.SetSheetRow(w.sheet, cell, &row); err != nil {
		return err
	}
	w.row++
	return nil
}

func toRow(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// WriteDay writes the day's records and summary stats to out as xlsx.
// Times are rendered in loc.
func WriteDay(out io.Writer, stats types.DayStats, recs []store.AttendanceRecord, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	w := newSheetWriter()
	defer w.file.Close()

	if err := w.addSheet(attendanceSheet); err != nil {
		return err
	}
	if err := w.writeHeader(attendanceColumns); err != nil {
		return err
	}
	for _, r := range recs {
		exit, duration := "", ""
		if r.ExitAt != nil {
			exit = r.ExitAt.In(loc).Format(time.DateTime)
		}
		if r.DurationMinutes != nil {
			duration = fmt.Sprint(*r.DurationMinutes)
		}
		row := []any{
			r.ID,
			r.MemberID,
			string(r.Channel),
			r.EntryAt.In(loc).Format(time.DateTime),
			exit,
			duration,
			r.AutoClosed,
		}
		if err := w.writeRow(row); err != nil {
			return fmt.Errorf("write record %s: %w", r.ID, err)
		}
	}

	if err := w.addSheet(summarySheet); err != nil {
		return err
	}
	summary := [][]any{
		{"Day", stats.Day},
		{"Visits", stats.VisitCount},
		{"Average duration (min)", stats.AverageDurationMinutes},
		{"Peak", stats.Peak},
		{"Peak at", stats.PeakAt},
	}
	for _, row := range summary {
		if err := w.writeRow(row); err != nil {
			return err
		}
	}

	return w.file.Write(out)
}
