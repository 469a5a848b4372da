package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"equipment-custody-backend/internal/custody"
	"equipment-custody-backend/internal/model"
)

func TestWriteXLSX(t *testing.T) {
	intake := time.Date(2025, 1, 2, 8, 30, 0, 0, time.UTC)
	client := "ACME"
	records := []custody.Derived{
		{
			EquipmentRecord: model.EquipmentRecord{
				Code:         "LAP-1",
				Client:       &client,
				Reason:       model.ReasonRental,
				ReceivedBy:   "Inventory",
				HighPriority: true,
				ProcessState: model.ProcessPending,
				IntakeAt:     &intake,
			},
			CustodyDays: 4,
			Status:      custody.StatusUrgent,
		},
		{
			EquipmentRecord: model.EquipmentRecord{
				Code:         "LAP-2",
				Reason:       model.ReasonMaintenance,
				ReceivedBy:   "Repairs",
				ProcessState: model.ProcessPending,
			},
			Status: custody.StatusRegistered,
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, records))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, headers, rows[0])
	assert.Equal(t, "LAP-1", rows[1][0])
	assert.Equal(t, "ACME", rows[1][2])
	assert.Equal(t, "Yes", rows[1][6])
	assert.Equal(t, "Urgent", rows[1][8])
	assert.Equal(t, "4", rows[1][9])
	assert.Equal(t, "2025-01-02 08:30", rows[1][10])

	assert.Equal(t, "LAP-2", rows[2][0])
	assert.Equal(t, "", rows[2][2])
	assert.Equal(t, "Registered", rows[2][8])
}

func TestWriteXLSX_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, nil))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "custody_2025-03-04.xlsx", FileName(time.Date(2025, 3, 4, 23, 0, 0, 0, time.UTC)))
}

func TestBuild_ColumnWidths(t *testing.T) {
	f, err := Build(nil)
	require.NoError(t, err)
	defer f.Close()

	width, err := f.GetColWidth(SheetName, "N")
	require.NoError(t, err)
	assert.Equal(t, 40.0, width)
}

func TestBuild_ColumnWidthError(t *testing.T) {
	saved := columnWidths
	t.Cleanup(func() { columnWidths = saved })
	columnWidths = []columnWidth{{"A", "A", 300}}

	_, err := Build(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to size columns A:A")
}
