package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// excelRows returns the rows of every sheet, in sheet order.
func excelRows(content []byte) ([][][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	var sheets [][][]string
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("get rows for sheet %q: %w", sheet, err)
		}
		sheets = append(sheets, rows)
	}
	return sheets, nil
}

func extractExcel(content []byte) (string, error) {
	sheets, err := excelRows(content)
	if err != nil {
		return "", err
	}
	var buf strings.Builder
	for _, rows := range sheets {
		for _, row := range rows {
			buf.WriteString(strings.Join(row, "\t"))
			buf.WriteByte('\n')
		}
	}
	return strings.TrimSpace(buf.String()), nil
}

// excelRecords treats the first row of each sheet as its header, like csvRecords.
func excelRecords(content []byte) ([]string, error) {
	sheets, err := excelRows(content)
	if err != nil {
		return nil, err
	}
	var records []string
	for _, rows := range sheets {
		if len(rows) < 2 {
			continue
		}
		for _, row := range rows[1:] {
			if rec := formatRecord(rows[0], row); rec != "" {
				records = append(records, rec)
			}
		}
	}
	return records, nil
}
