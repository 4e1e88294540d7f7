package report

import (
	"fmt"
	"sort"

	"github.com/xuri/excelize/v2"

	"callpipe/internal/api"
)

const (
	callsSheet   = "Calls"
	summarySheet = "Summary"
)

var callColumns = []string{
	"ID", "External ID", "Campaign", "Status", "Attempts", "Duration (s)",
	"Score", "Disposition", "Judge Model", "Skip Reason", "Last Error",
	"Created", "Updated",
}

// Snapshot is the content of one export.
type Snapshot struct {
	Calls  []api.CallItem
	Counts map[string]int
}

// WriteWorkbook writes snap to path as an xlsx workbook with a Calls sheet
// and a per-status Summary sheet.
func WriteWorkbook(path string, snap Snapshot) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", callsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := writeCalls(f, snap.Calls); err != nil {
		return err
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("create summary sheet: %w", err)
	}
	if err := writeSummary(f, snap.Counts); err != nil {
		return err
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

func writeCalls(f *excelize.File, calls []api.CallItem) error {
	if err := setRow(f, callsSheet, 1, toAny(callColumns)); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	last, _ := excelize.ColumnNumberToName(len(callColumns))
	if err := f.SetCellStyle(callsSheet, "A1", last+"1", bold); err != nil {
		return fmt.Errorf("apply header style: %w", err)
	}

	for i, call := range calls {
		campaign := call.CampaignName
		if campaign == "" {
			campaign = call.CampaignID
		}
		var duration any
		if call.DurationSeconds != nil {
			duration = *call.DurationSeconds
		}
		var score any
		var disposition, model string
		if q := call.Quality; q != nil {
			if !q.Skipped {
				score = q.Score
			}
			disposition = q.Disposition
			model = q.Model
		}
		row := []any{
			call.ID, call.ExternalID, campaign, call.Status, call.AttemptCount, duration,
			score, disposition, model, call.SkipReason, call.LastError,
			call.CreatedAt, call.UpdatedAt,
		}
		if err := setRow(f, callsSheet, i+2, row); err != nil {
			return err
		}
	}
	if err := f.SetPanes(callsSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}
	return nil
}

func writeSummary(f *excelize.File, counts map[string]int) error {
	if err := setRow(f, summarySheet, 1, []any{"Status", "Calls"}); err != nil {
		return err
	}
	statuses := make([]string, 0, len(counts))
	for status := range counts {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)
	total := 0
	for i, status := range statuses {
		total += counts[status]
		if err := setRow(f, summarySheet, i+2, []any{status, counts[status]}); err != nil {
			return err
		}
	}
	return setRow(f, summarySheet, len(statuses)+2, []any{"total", total})
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("cell name: %w", err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
