package parser

import (
	"iter"

	"github.com/FACorreiaa/finance-importer/internal/domain/import/repository"
)

// Row is one data record after parsing. Exactly one of Transaction, Err
// or Skipped is set.
type Row struct {
	Number      int // 1-based record position
	Transaction *repository.ParsedTransaction
	Err         *RowError
	Skipped     bool
}

// Stream locates the header and returns a lazy sequence over the data rows.
// Structural problems (header or configured column missing) are returned
// up front. The sequence can be ranged over any number of times.
func (p *Parser) Stream(records [][]string) (iter.Seq[Row], error) {
	header, data, first, err := p.split(records)
	if err != nil {
		return nil, err
	}
	cols, err := p.resolveColumns(header)
	if err != nil {
		return nil, err
	}

	return func(yield func(Row) bool) {
		for i, record := range data {
			rowNum := first + i + 1
			row := Row{Number: rowNum}

			if p.skipped(record) {
				row.Skipped = true
			} else {
				row.Transaction, row.Err = p.parseRecord(record, rowNum, cols)
			}

			if !yield(row) {
				return
			}
		}
	}, nil
}

// Transactions yields only the successfully parsed transactions of seq.
func Transactions(seq iter.Seq[Row]) iter.Seq[repository.ParsedTransaction] {
	return func(yield func(repository.ParsedTransaction) bool) {
		for row := range seq {
			if row.Transaction == nil {
				continue
			}
			if !yield(*row.Transaction) {
				return
			}
		}
	}
}
