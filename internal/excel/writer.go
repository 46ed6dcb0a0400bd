package excel

import (
	"errors"
	"fmt"

	"github.com/mleitner/leadenrich/internal/domain"

	"github.com/xuri/excelize/v2"
)

// outputColumn is one appended result column, in output order.
type outputColumn struct {
	header   string
	provider domain.Provider
	field    domain.Field
}

// The German result headers the downstream sales tooling expects.
var outputColumns = []outputColumn{
	{"apollo_email", domain.ProviderApollo, domain.FieldEmail},
	{"apollo_handynummer", domain.ProviderApollo, domain.FieldMobile},
	{"apollo_festnetz_durchwahl", domain.ProviderApollo, domain.FieldDirectDial},
	{"lusha_email", domain.ProviderLusha, domain.FieldEmail},
	{"lusha_handynummer", domain.ProviderLusha, domain.FieldMobile},
	{"lusha_festnetz_durchwahl", domain.ProviderLusha, domain.FieldDirectDial},
}

// WriteResults opens the original input workbook, appends the result
// columns to the right of the existing data and saves the copy to
// outputPath. The input file is never modified. Cells carry the
// enriched value when complete, an "error" or "timeout" marker when the
// field ended that way, and stay blank for anything unresolved.
func WriteResults(inputPath, outputPath string, records []domain.EnrichedRecord) error {
	f, err := excelize.OpenFile(inputPath)
	if err != nil {
		return fmt.Errorf("failed to open input xlsx %s: %w", inputPath, err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return errors.New("input file has no sheets")
	}
	sheet := sheets[0]

	rows, err := f.GetRows(sheet)
	if err != nil {
		return fmt.Errorf("failed to read rows from input xlsx: %w", err)
	}
	if len(rows) == 0 {
		return errors.New("input file has no rows")
	}
	firstResultCol := len(rows[0])

	for i, col := range outputColumns {
		cell, err := excelize.CoordinatesToCellName(firstResultCol+i+1, 1)
		if err != nil {
			return fmt.Errorf("failed to compute header cell: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, col.header); err != nil {
			return fmt.Errorf("failed to write header %s: %w", col.header, err)
		}
	}

	for _, record := range records {
		excelRow := record.RecordID + 1
		for i, col := range outputColumns {
			value := cellValue(record, col.provider, col.field)
			if value == "" {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(firstResultCol+i+1, excelRow)
			if err != nil {
				return fmt.Errorf("failed to compute result cell: %w", err)
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return fmt.Errorf("failed to write result for record %d: %w", record.RecordID, err)
			}
		}
	}

	if err := f.SaveAs(outputPath); err != nil {
		return fmt.Errorf("failed to save output xlsx %s: %w", outputPath, err)
	}
	return nil
}

func cellValue(record domain.EnrichedRecord, provider domain.Provider, field domain.Field) string {
	switch record.Status(provider, field) {
	case domain.StatusComplete:
		return record.Value(provider, field)
	case domain.StatusError:
		return "error"
	case domain.StatusTimeout:
		return "timeout"
	}
	return ""
}
