package sniffer

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// readExcel returns the rows of the most likely transaction sheet.
func readExcel(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open Excel file: %v", ErrUnreadableFile, err)
	}
	defer f.Close()

	sheet := transactionSheet(f.GetSheetList())
	if sheet == "" {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrEmptyFile)
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read sheet %s: %v", ErrUnreadableFile, sheet, err)
	}
	return rows, nil
}

// transactionSheet prefers sheets named like a statement, then the first one.
func transactionSheet(sheets []string) string {
	if len(sheets) == 0 {
		return ""
	}

	preferredNames := []string{
		"transactions", "movimentos", "extrato",
		"statement", "data", "sheet1",
	}
	for _, preferred := range preferredNames {
		for _, sheet := range sheets {
			if strings.EqualFold(sheet, preferred) {
				return sheet
			}
		}
	}
	return sheets[0]
}
