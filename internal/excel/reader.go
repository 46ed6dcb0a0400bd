package excel

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/mleitner/leadenrich/internal/columns"
	"github.com/mleitner/leadenrich/internal/domain"

	"github.com/xuri/excelize/v2"
)

// ReadHeadersAndSamples returns the header row of the first sheet and up
// to sampleCount data rows, for column detection.
func ReadHeadersAndSamples(path string, sampleCount int) ([]string, [][]string, error) {
	rows, err := readRows(path)
	if err != nil {
		return nil, nil, err
	}
	if len(rows) == 0 {
		return nil, nil, errors.New("input file has no rows")
	}

	headers := trimRow(rows[0])
	var samples [][]string
	for _, row := range rows[1:] {
		if emptyRow(row) {
			continue
		}
		samples = append(samples, padRow(trimRow(row), len(headers)))
		if len(samples) >= sampleCount {
			break
		}
	}
	return headers, samples, nil
}

// LoadPersons reads the input workbook into Person rows using the
// detected column mapping. Record ids are the 1-based data row index, so
// a person's spreadsheet row is always RecordID+1. Rows missing a name
// are skipped but keep their index, preserving row alignment on export.
func LoadPersons(path string, mapping columns.Mapping) ([]domain.Person, error) {
	rows, err := readRows(path)
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, errors.New("input file has no data rows")
	}

	headers := trimRow(rows[0])
	firstIdx, err := columnIndex(headers, mapping.FirstNameCol)
	if err != nil {
		return nil, err
	}
	lastIdx, err := columnIndex(headers, mapping.LastNameCol)
	if err != nil {
		return nil, err
	}
	companyIdx, err := columnIndex(headers, mapping.CompanyCol)
	if err != nil {
		return nil, err
	}

	var persons []domain.Person
	for i, row := range rows[1:] {
		recordID := i + 1
		padded := padRow(trimRow(row), len(headers))

		person := domain.Person{
			RecordID:  recordID,
			FirstName: padded[firstIdx],
			LastName:  padded[lastIdx],
			Company:   padded[companyIdx],
		}
		if person.FirstName == "" || person.LastName == "" {
			if !emptyRow(row) {
				log.Printf("[EXCEL] row %d is missing a name, skipping", recordID+1)
			}
			continue
		}
		persons = append(persons, person)
	}

	if len(persons) == 0 {
		return nil, errors.New("no usable rows found in input file")
	}
	return persons, nil
}

func readRows(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("excel file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	return rows, nil
}

func columnIndex(headers []string, name string) (int, error) {
	for i, h := range headers {
		if h == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("column %q not found in input headers", name)
}

func trimRow(row []string) []string {
	out := make([]string, len(row))
	for i, cell := range row {
		out[i] = strings.TrimSpace(cell)
	}
	return out
}

func padRow(row []string, width int) []string {
	for len(row) < width {
		row = append(row, "")
	}
	return row
}

func emptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
