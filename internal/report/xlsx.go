// Package report renders the derived custody listing as a spreadsheet.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"equipment-custody-backend/internal/custody"
)

// SheetName is the name of the only worksheet in the export.
const SheetName = "Custody"

// ContentType is the MIME type of the XLSX export.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const timeLayout = "2006-01-02 15:04"

var headers = []string{
	"Code", "Brand / Model", "Client", "Reason", "Received By", "Specialist",
	"High Priority", "Process State", "Status", "Custody Days",
	"Intake", "Exit", "Delivered To", "Intake Notes", "Exit Notes", "Deleted",
}

// FileName returns the download name for an export generated at now.
func FileName(now time.Time) string {
	return fmt.Sprintf("custody_%s.xlsx", now.Format("2006-01-02"))
}

func str(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func stamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func rowToSlice(d custody.Derived) []interface{} {
	return []interface{}{
		d.Code, str(d.BrandModel), str(d.Client), string(d.Reason), d.ReceivedBy, str(d.Specialist),
		yesNo(d.HighPriority), d.ProcessState, string(d.Status), d.CustodyDays,
		stamp(d.IntakeAt), stamp(d.ExitAt), str(d.DeliveredTo), str(d.IntakeNotes), str(d.ExitNotes),
		yesNo(d.Deleted),
	}
}

type columnWidth struct {
	from, to string
	width    float64
}

var columnWidths = []columnWidth{
	{"A", "A", 18},
	{"B", "F", 22},
	{"K", "M", 20},
	{"N", "O", 40},
}

// Build lays out one row per record under a bold header row.
func Build(records []custody.Derived) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}
	if err := f.SetSheetRow(SheetName, "A1", &headers); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(len(headers), 1)
	if err != nil {
		return nil, fmt.Errorf("failed to address header: %w", err)
	}
	if err := f.SetCellStyle(SheetName, "A1", last, style); err != nil {
		return nil, fmt.Errorf("failed to style header: %w", err)
	}

	for i, d := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, fmt.Errorf("failed to address row %d: %w", i+2, err)
		}
		row := rowToSlice(d)
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	for _, w := range columnWidths {
		if err := f.SetColWidth(SheetName, w.from, w.to, w.width); err != nil {
			return nil, fmt.Errorf("failed to size columns %s:%s: %w", w.from, w.to, err)
		}
	}
	return f, nil
}

// WriteXLSX streams the workbook for records to w.
func WriteXLSX(w io.Writer, records []custody.Derived) error {
	f, err := Build(records)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}
