// Package report renders sample requests as CSV or XLSX spreadsheets for
// download.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/coordinadormicrobiologia-prog/Microbiologia-britLab/internal/domain/referral"
)

// Format is an export encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat accepts "csv" or "xlsx"; empty means CSV.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// FileName is Reporte_BritLab_<date>.<ext>, dated in the lab's zone.
func (f Format) FileName(now time.Time) string {
	return "Reporte_BritLab_" + now.Format("2006-01-02") + "." + string(f)
}

// Columns is the header row shared by both encodings.
var Columns = []string{
	"ID", "Paciente", "DNI", "Edad", "Sexo", "Tipo Muestra",
	"Fecha Solicitud", "Estado", "Promesa", "Subido En",
}

const (
	dateTimeLayout = "02/01/2006 15:04"
	dateLayout     = "02/01/2006"
	missing        = "N/A"
	sheetName      = "Reporte"
)

// Exporter renders rows in a fixed location. A nil location means UTC.
type Exporter struct {
	loc *time.Location
}

func NewExporter(loc *time.Location) *Exporter {
	if loc == nil {
		loc = time.UTC
	}
	return &Exporter{loc: loc}
}

// Row renders sr in column order. Estado carries the legacy received code
// (SI, NO, PENDIENTE).
func (e *Exporter) Row(sr *referral.SampleRequest) []string {
	return []string{
		sr.ID,
		sr.Patient.Name,
		sr.Patient.DNI,
		strconv.Itoa(sr.Patient.Age),
		sr.Patient.Sex.Label(),
		sr.Patient.SampleType,
		e.format(&sr.RequestDate, dateTimeLayout),
		sr.Status.Legacy(),
		e.format(sr.PromisedDate, dateLayout),
		e.format(sr.ResultUploadDate, dateTimeLayout),
	}
}

func (e *Exporter) format(t *time.Time, layout string) string {
	if t == nil || t.IsZero() {
		return missing
	}
	return t.In(e.loc).Format(layout)
}

// Write encodes items in format f.
func (e *Exporter) Write(w io.Writer, f Format, items []*referral.SampleRequest) error {
	if f == FormatXLSX {
		return e.WriteXLSX(w, items)
	}
	return e.WriteCSV(w, items)
}

// WriteCSV writes the header and one record per request. Fields containing
// commas, quotes or newlines are quoted.
func (e *Exporter) WriteCSV(w io.Writer, items []*referral.SampleRequest) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, sr := range items {
		if err := cw.Write(e.Row(sr)); err != nil {
			return fmt.Errorf("write csv row %s: %w", sr.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes a single-sheet workbook with a bold, frozen header row.
func (e *Exporter) WriteXLSX(w io.Writer, items []*referral.SampleRequest) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	header := make([]any, len(Columns))
	for i, c := range Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	last, _ := excelize.CoordinatesToCellName(len(Columns), 1)
	if err := f.SetCellStyle(sheetName, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	for i, sr := range items {
		row := e.Row(sr)
		cells := make([]any, len(row))
		for j, v := range row {
			cells[j] = v
		}
		// Edad stays numeric so spreadsheet formulas work.
		cells[3] = sr.Patient.Age
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheetName, cell, &cells); err != nil {
			return fmt.Errorf("write row %s: %w", sr.ID, err)
		}
	}

	widths := []float64{38, 28, 14, 8, 12, 22, 18, 12, 12, 18}
	for i, width := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(sheetName, col, col, width); err != nil {
			return fmt.Errorf("set column width: %w", err)
		}
	}

	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("encode workbook: %w", err)
	}
	return nil
}
