package rowstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/xuri/excelize/v2"

	"github.com/coordinadormicrobiologia-prog/Microbiologia-britLab/internal/platform/normalize"
)

// DefaultSheet is the worksheet created for a new workbook.
const DefaultSheet = "Muestras"

// WorkbookColumns is the header written to a new workbook.
var WorkbookColumns = []string{
	normalize.KeyID,
	normalize.KeyDNI,
	normalize.KeyName,
	normalize.KeyAge,
	normalize.KeySex,
	normalize.KeySampleType,
	normalize.KeyUrineMethod,
	normalize.KeyDiagnosis,
	normalize.KeyBackground,
	normalize.KeyObservations,
	normalize.KeyRequestDate,
	normalize.KeyStatus,
	normalize.KeyReceived,
	normalize.KeyArrivalDate,
	normalize.KeyPromisedDate,
	normalize.KeyResultURL,
	normalize.KeyResultUploadDate,
}

// WorkbookAdapter keeps sample requests in a local .xlsx file, one row per
// request under a header row. Header names may differ in casing, spacing or
// language from WorkbookColumns; each header is matched against the sample
// alias table.
type WorkbookAdapter struct {
	path  string
	sheet string
	mu    sync.Mutex
}

// NewWorkbookAdapter opens path, creating the workbook with a header row when
// it does not exist. An empty sheet selects the first worksheet.
func NewWorkbookAdapter(path, sheet string) (*WorkbookAdapter, error) {
	a := &WorkbookAdapter{path: path, sheet: sheet}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := a.create(); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("workbook: %w", err)
	}
	return a, nil
}

func (a *WorkbookAdapter) create() error {
	f := excelize.NewFile()
	defer f.Close()

	name := a.sheet
	if name == "" {
		name = DefaultSheet
	}
	if err := f.SetSheetName("Sheet1", name); err != nil {
		return fmt.Errorf("workbook: rename sheet: %w", err)
	}
	header := make([]any, len(WorkbookColumns))
	for i, col := range WorkbookColumns {
		header[i] = col
	}
	if err := f.SetSheetRow(name, "A1", &header); err != nil {
		return fmt.Errorf("workbook: write header: %w", err)
	}
	if err := f.SetPanes(name, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("workbook: freeze header: %w", err)
	}
	if err := f.SaveAs(a.path); err != nil {
		return fmt.Errorf("workbook: save %s: %w", a.path, err)
	}
	a.sheet = name
	return nil
}

// sheetTable is an opened workbook with its header resolved.
type sheetTable struct {
	f      *excelize.File
	sheet  string
	header []string
	rows   [][]string
	// column index per canonical key
	cols map[string]int
}

func (a *WorkbookAdapter) open() (*sheetTable, error) {
	f, err := excelize.OpenFile(a.path)
	if err != nil {
		return nil, fmt.Errorf("%w: open workbook: %v", ErrTransient, err)
	}
	sheet := a.sheet
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: read sheet %q: %v", ErrMalformed, sheet, err)
	}
	if len(rows) == 0 {
		f.Close()
		return nil, fmt.Errorf("%w: sheet %q has no header row", ErrMalformed, sheet)
	}

	t := &sheetTable{f: f, sheet: sheet, header: rows[0], rows: rows[1:], cols: make(map[string]int)}
	for i, h := range t.header {
		if key, ok := canonicalColumn(h); ok {
			if _, dup := t.cols[key]; !dup {
				t.cols[key] = i
			}
		}
	}
	if _, ok := t.cols[normalize.KeyID]; !ok {
		f.Close()
		return nil, fmt.Errorf("%w: sheet %q has no id column", ErrMalformed, sheet)
	}
	return t, nil
}

// canonicalColumn resolves a header cell to its canonical key.
func canonicalColumn(header string) (string, bool) {
	folded := normalize.FoldKey(header)
	if folded == "" {
		return "", false
	}
	for key, aliases := range normalize.SampleAliases {
		for _, alias := range aliases {
			if normalize.FoldKey(alias) == folded {
				return key, true
			}
		}
	}
	return "", false
}

func (t *sheetTable) record(row []string) normalize.RawRecord {
	rec := make(normalize.RawRecord, len(t.header))
	for i, h := range t.header {
		if h == "" || i >= len(row) {
			continue
		}
		rec[h] = row[i]
	}
	return rec
}

func (t *sheetTable) findRow(id string) int {
	idCol := t.cols[normalize.KeyID]
	for i, row := range t.rows {
		if idCol < len(row) && row[idCol] == id {
			return i + 2 // 1-based, after the header
		}
	}
	return 0
}

func (t *sheetTable) set(row int, key string, value any) error {
	col, ok := t.cols[key]
	if !ok {
		return nil
	}
	cell, err := excelize.CoordinatesToCellName(col+1, row)
	if err != nil {
		return err
	}
	return t.f.SetCellValue(t.sheet, cell, value)
}

func (a *WorkbookAdapter) List(_ context.Context) ([]normalize.RawRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	t, err := a.open()
	if err != nil {
		return nil, err
	}
	defer t.f.Close()

	out := make([]normalize.RawRecord, 0, len(t.rows))
	for _, row := range t.rows {
		if blankRow(row) {
			continue
		}
		out = append(out, t.record(row))
	}
	return out, nil
}

func (a *WorkbookAdapter) Create(_ context.Context, rec normalize.RawRecord) (normalize.RawRecord, error) {
	flat := normalize.Flatten(rec)
	id := normalize.String(flat[normalize.KeyID])
	if id == "" {
		return nil, &APIError{Action: ActionCreate, Message: "id is required"}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	t, err := a.open()
	if err != nil {
		return nil, err
	}
	defer t.f.Close()

	if t.findRow(id) != 0 {
		return nil, &APIError{Action: ActionCreate, Message: "duplicate id " + id}
	}
	row := len(t.rows) + 2
	for key, val := range flat {
		if err := t.set(row, key, val); err != nil {
			return nil, fmt.Errorf("%w: write %s: %v", ErrTransient, key, err)
		}
	}
	if err := t.f.Save(); err != nil {
		return nil, fmt.Errorf("%w: save workbook: %v", ErrTransient, err)
	}
	return flat, nil
}

func (a *WorkbookAdapter) UpdateStatus(_ context.Context, u StatusUpdate) (normalize.RawRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	t, err := a.open()
	if err != nil {
		return nil, err
	}
	defer t.f.Close()

	row := t.findRow(u.ID)
	if row == 0 {
		return nil, &APIError{Action: ActionUpdateStatus, Message: "not found: " + u.ID}
	}
	for key, val := range u.Fields {
		if err := t.set(row, key, val); err != nil {
			return nil, fmt.Errorf("%w: write %s: %v", ErrTransient, key, err)
		}
	}
	if err := t.f.Save(); err != nil {
		return nil, fmt.Errorf("%w: save workbook: %v", ErrTransient, err)
	}

	updated, err := t.f.GetRows(t.sheet)
	if err != nil || row-1 >= len(updated) {
		return nil, nil
	}
	return t.record(updated[row-1]), nil
}

// ReadSheet returns every non-blank row of a worksheet keyed by its header
// cells, without assuming the sample layout. An empty sheet selects the
// first worksheet.
func ReadSheet(path, sheet string) ([]normalize.RawRecord, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("workbook: open %s: %w", path, err)
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("workbook: read sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return []normalize.RawRecord{}, nil
	}

	t := &sheetTable{header: rows[0]}
	out := make([]normalize.RawRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if blankRow(row) {
			continue
		}
		out = append(out, t.record(row))
	}
	return out, nil
}

func blankRow(row []string) bool {
	for _, cell := range row {
		if cell != "" {
			return false
		}
	}
	return true
}
