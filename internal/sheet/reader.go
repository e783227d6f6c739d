// Package sheet reads color batches from Excel workbooks and writes committed
// colors back out as workbooks.
package sheet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/Veraticus/color-pulse/internal/common"
	"github.com/Veraticus/color-pulse/internal/model"
)

// Header names used in error messages and generated workbooks.
const (
	ColumnID          = "MESSAGE_ID"
	ColumnSecurityKey = "CUSIP"
	ColumnDate        = "DATE"
	ColumnRank        = "RANK"
	ColumnPrice       = "PX"
)

// maxExcelSerial is the serial number of 9999-12-31, the last date Excel can hold.
const maxExcelSerial = 2958466

// dateLayouts are tried in order for text date cells.
var dateLayouts = []string{
	model.DateLayout,
	"2006-01-02 15:04:05",
	time.RFC3339,
	"01/02/2006",
	"1/2/2006",
	"1/2/06",
	"1/2/06 15:04",
	"02-Jan-2006",
	"20060102",
}

// record is one data row as raw cell text, checked before conversion.
type record struct {
	ID          string `col:"MESSAGE_ID" validate:"required,max=128"`
	SecurityKey string `col:"CUSIP" validate:"omitempty,max=64"`
	Date        string `col:"DATE" validate:"required"`
	Rank        string `col:"RANK" validate:"required,numeric"`
	Price       string `col:"PX" validate:"required,numeric"`
}

// RowError describes a data row that could not be imported.
type RowError struct {
	Err error
	Row int // 1-based worksheet row number
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e RowError) Unwrap() error {
	return e.Err
}

// ImportResult is the outcome of reading a workbook.
type ImportResult struct {
	Source    string
	Sheet     string
	Colors    []model.Color
	Errors    []RowError
	TotalRows int
}

// Skipped returns the number of data rows that were rejected.
func (r *ImportResult) Skipped() int {
	return len(r.Errors)
}

// Reader imports colors from the first worksheet of a workbook (or a named one).
// Columns are matched by header, case-insensitively; only MESSAGE_ID is optional
// and every column that is not a core field becomes an attribute.
type Reader struct {
	validate *validator.Validate

	// Sheet selects the worksheet; empty means the first one.
	Sheet string

	// OnRow, when set, is called after each data row with the number of rows
	// processed and the total.
	OnRow func(done, total int)
}

// NewReader creates a reader for the named worksheet.
func NewReader(sheet string) *Reader {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return fld.Tag.Get("col")
	})
	return &Reader{validate: v, Sheet: sheet}
}

// ReadFile imports colors from the workbook at path.
func (r *Reader) ReadFile(ctx context.Context, path string) (*ImportResult, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context cannot be nil")
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	return r.read(ctx, f, path)
}

// Read imports colors from a workbook stream. The source name is only used for
// reporting.
func (r *Reader) Read(ctx context.Context, src io.Reader, source string) (*ImportResult, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context cannot be nil")
	}
	f, err := excelize.OpenReader(src)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", source, err)
	}
	defer func() { _ = f.Close() }()

	return r.read(ctx, f, source)
}

func (r *Reader) read(ctx context.Context, f *excelize.File, source string) (*ImportResult, error) {
	sheet := r.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("workbook %s has no worksheets", source)
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}

	header := -1
	for i, row := range rows {
		if !blank(row) {
			header = i
			break
		}
	}
	if header < 0 {
		return nil, fmt.Errorf("%w: sheet %q is empty", common.ErrNoColors, sheet)
	}

	cols, err := mapColumns(rows[header])
	if err != nil {
		return nil, err
	}

	result := &ImportResult{Source: source, Sheet: sheet}
	data := rows[header+1:]
	seen := make(map[string]int, len(data))

	for i, row := range data {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if r.OnRow != nil {
			r.OnRow(i+1, len(data))
		}
		if blank(row) {
			continue
		}
		result.TotalRows++
		rowNum := header + i + 2

		color, err := r.parseRow(row, cols, result.TotalRows)
		if err == nil {
			if first, dup := seen[color.ID]; dup {
				err = fmt.Errorf("%w: %s %q already used on row %d", common.ErrDuplicateEntry, ColumnID, color.ID, first)
			}
		}
		if err != nil {
			result.Errors = append(result.Errors, RowError{Row: rowNum, Err: err})
			slog.Warn("Skipping unreadable row", "source", source, "row", rowNum, "error", err)
			continue
		}

		seen[color.ID] = rowNum
		result.Colors = append(result.Colors, color)
	}

	slog.Info("Read colors from workbook",
		"source", source,
		"sheet", sheet,
		"rows", result.TotalRows,
		"imported", len(result.Colors),
		"skipped", result.Skipped())

	if len(result.Colors) == 0 {
		errs := []error{fmt.Errorf("%w in %s", common.ErrNoColors, source)}
		for _, rowErr := range result.Errors {
			errs = append(errs, rowErr)
		}
		return nil, errors.Join(errs...)
	}
	return result, nil
}

// columns records where each field lives in a row.
type columns struct {
	core  map[string]int
	attrs map[int]string
}

func mapColumns(header []string) (columns, error) {
	cols := columns{core: make(map[string]int), attrs: make(map[int]string)}
	for i, h := range header {
		name := strings.TrimSpace(h)
		if name == "" {
			continue
		}
		if canonical, ok := model.CanonicalField(name); ok {
			if _, dup := cols.core[canonical]; !dup {
				cols.core[canonical] = i
			}
			continue
		}
		cols.attrs[i] = strings.ToLower(name)
	}

	var missing []string
	if _, ok := cols.core[model.FieldSecurityKey]; !ok {
		missing = append(missing, ColumnSecurityKey)
	}
	if _, ok := cols.core[model.FieldAsOfDate]; !ok {
		missing = append(missing, ColumnDate)
	}
	if _, ok := cols.core[model.FieldRankHint]; !ok {
		missing = append(missing, ColumnRank)
	}
	if _, ok := cols.core[model.FieldPrice]; !ok {
		missing = append(missing, ColumnPrice)
	}
	if len(missing) > 0 {
		return cols, fmt.Errorf("%w: %s", common.ErrMissingColumns, strings.Join(missing, ", "))
	}
	return cols, nil
}

func (c columns) cell(row []string, field string) string {
	idx, ok := c.core[field]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// parseRow converts one data row; position is the 1-based index among non-blank
// data rows and names rows without a MESSAGE_ID.
func (r *Reader) parseRow(row []string, cols columns, position int) (model.Color, error) {
	rec := record{
		ID:          cols.cell(row, model.FieldID),
		SecurityKey: cols.cell(row, model.FieldSecurityKey),
		Date:        cols.cell(row, model.FieldAsOfDate),
		Rank:        cols.cell(row, model.FieldRankHint),
		Price:       cols.cell(row, model.FieldPrice),
	}
	if rec.ID == "" {
		rec.ID = fmt.Sprintf("MANUAL_%d", position)
	}

	if err := r.validate.Struct(rec); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return model.Color{}, describe(fieldErrs[0])
		}
		return model.Color{}, err
	}

	asOf, err := parseDate(rec.Date)
	if err != nil {
		return model.Color{}, err
	}

	rank, err := decimal.NewFromString(rec.Rank)
	if err != nil || !rank.IsInteger() {
		return model.Color{}, fmt.Errorf("%s must be a whole number, got %q", ColumnRank, rec.Rank)
	}
	if rank.LessThan(decimal.NewFromInt(1)) {
		return model.Color{}, fmt.Errorf("%s must be 1 or more, got %s", ColumnRank, rec.Rank)
	}

	px, err := decimal.NewFromString(rec.Price)
	if err != nil {
		return model.Color{}, fmt.Errorf("%s is not a number: %q", ColumnPrice, rec.Price)
	}

	color := model.Color{
		ID:          rec.ID,
		SecurityKey: rec.SecurityKey,
		AsOfDate:    asOf,
		RankHint:    int(rank.IntPart()),
		Price:       decimal.NewNullDecimal(px),
	}

	for idx, name := range cols.attrs {
		if idx >= len(row) {
			continue
		}
		if v := strings.TrimSpace(row[idx]); v != "" {
			if color.Attributes == nil {
				color.Attributes = make(map[string]any)
			}
			color.Attributes[name] = v
		}
	}

	return color, nil
}

func describe(fe validator.FieldError) error {
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", fe.Field())
	case "max":
		return fmt.Errorf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "numeric":
		return fmt.Errorf("%s is not a number: %q", fe.Field(), fe.Value())
	default:
		return fmt.Errorf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}

// parseDate accepts Excel serial dates as well as common text layouts.
func parseDate(s string) (time.Time, error) {
	if serial, err := strconv.ParseFloat(s, 64); err == nil && serial > 0 && serial < maxExcelSerial {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return time.Time{}, fmt.Errorf("%s is not a valid date: %q", ColumnDate, s)
		}
		return t.UTC(), nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%s is not a valid date: %q", ColumnDate, s)
}

func blank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
