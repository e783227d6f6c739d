package sheet

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/Veraticus/color-pulse/internal/common"
	"github.com/Veraticus/color-pulse/internal/model"
	"github.com/Veraticus/color-pulse/internal/session"
)

// Worksheet names in generated workbooks.
const (
	ColorsSheet  = "Colors"
	SummarySheet = "Summary"
)

// Hierarchy columns added to every output row.
const (
	ColumnIsParent   = "IS_PARENT"
	ColumnParentID   = "PARENT_MESSAGE_ID"
	ColumnChildCount = "CHILDREN_COUNT"
)

var outputColumns = []string{
	ColumnID,
	ColumnSecurityKey,
	ColumnDate,
	ColumnPrice,
	ColumnRank,
	ColumnIsParent,
	ColumnParentID,
	ColumnChildCount,
}

var _ session.OutputSink = (*Writer)(nil)

// Writer is an output sink that writes each committed batch to its own workbook.
type Writer struct {
	dir string
}

// NewWriter creates a writer that stores workbooks under dir.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// Dir returns the output directory.
func (w *Writer) Dir() string {
	return w.dir
}

// WriteColors writes the committed rows and a summary sheet to a new workbook and
// returns its path.
func (w *Writer) WriteColors(ctx context.Context, out session.Output) (string, error) {
	if ctx == nil {
		return "", fmt.Errorf("context cannot be nil")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(out.Rows) == 0 {
		return "", fmt.Errorf("session %s: %w", out.SessionID, common.ErrNothingToSave)
	}
	if strings.TrimSpace(w.dir) == "" {
		return "", fmt.Errorf("%w: output directory is not set", common.ErrMissingConfig)
	}

	if err := os.MkdirAll(w.dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", ColorsSheet); err != nil {
		return "", fmt.Errorf("failed to name sheet: %w", err)
	}
	if err := writeColorRows(f, out.Rows); err != nil {
		return "", err
	}
	if err := writeSummary(f, out); err != nil {
		return "", err
	}

	name := fmt.Sprintf("colors_%s_%s.xlsx",
		out.CommittedAt.UTC().Format("20060102T150405Z"),
		uuid.NewString()[:8])
	path := filepath.Join(w.dir, name)

	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("failed to save workbook: %w", err)
	}

	common.LogInfo("Wrote committed colors", common.Fields{
		"session_id": out.SessionID,
		"path":       path,
		"rows":       len(out.Rows),
	})
	return path, nil
}

func writeColorRows(f *excelize.File, rows []model.RankedColor) error {
	attrs := attributeColumns(rows)
	header := make([]any, 0, len(outputColumns)+len(attrs))
	for _, col := range outputColumns {
		header = append(header, col)
	}
	for _, attr := range attrs {
		header = append(header, strings.ToUpper(attr))
	}
	if err := f.SetSheetRow(ColorsSheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(ColorsSheet, "A1", last, bold); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	for i, r := range rows {
		values := []any{
			r.ID,
			r.SecurityKey,
			r.AsOfDate.Format(model.DateLayout),
			nil,
			r.RankHint,
			strings.ToUpper(strconv.FormatBool(r.IsParent)),
			r.ParentID,
			r.ChildCount,
		}
		if r.Price.Valid {
			values[3] = r.Price.Decimal.InexactFloat64()
		}
		for _, attr := range attrs {
			v, _ := r.Field(attr)
			values = append(values, v)
		}

		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(ColorsSheet, cell, &values); err != nil {
			return fmt.Errorf("failed to write row %s: %w", r.ID, err)
		}
	}
	return nil
}

func writeSummary(f *excelize.File, out session.Output) error {
	if _, err := f.NewSheet(SummarySheet); err != nil {
		return fmt.Errorf("failed to create summary sheet: %w", err)
	}

	ruleIDs := make([]string, len(out.AppliedRuleIDs))
	for i, id := range out.AppliedRuleIDs {
		ruleIDs[i] = strconv.Itoa(id)
	}

	summary := [][]any{
		{"Session", out.SessionID},
		{"Owner", out.OwnerID},
		{"Source", out.Source},
		{"Committed At", out.CommittedAt.UTC().Format("2006-01-02 15:04:05")},
		{"Applied Rules", strings.Join(ruleIDs, ", ")},
		{"Deleted Rows", out.DeletedCount},
		{"Total Colors", out.Stats.Total},
		{"Parents", out.Stats.Parents},
		{"Children", out.Stats.Children},
		{"Unique Securities", out.Stats.UniqueKeys},
	}
	for i, row := range summary {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SummarySheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write summary: %w", err)
		}
	}
	return nil
}

// attributeColumns returns the attribute keys present on any row, sorted.
// Keys that name a core field are skipped.
func attributeColumns(rows []model.RankedColor) []string {
	seen := make(map[string]bool)
	for _, r := range rows {
		for k := range r.Attributes {
			key := strings.ToLower(k)
			if _, core := model.CanonicalField(key); core {
				continue
			}
			switch strings.ToUpper(key) {
			case ColumnIsParent, ColumnParentID, ColumnChildCount:
				continue
			}
			seen[key] = true
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
