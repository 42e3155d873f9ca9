// Package parser turns the records of an export into ParsedTransactions
// according to a finalized ImportConfig. Parsing is deterministic and side
// effect free: the same records and config always yield the same rows and
// the same row errors.
package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/FACorreiaa/finance-importer/internal/domain/import/normalizer"
	"github.com/FACorreiaa/finance-importer/internal/domain/import/repository"
	"github.com/FACorreiaa/finance-importer/internal/domain/import/sniffer"
)

// RowError is a per-row failure. It never aborts the file.
type RowError struct {
	Row     int    `json:"row_index"` // 1-based record position in the file
	Column  string `json:"column,omitempty"`
	Reason  string `json:"reason"`
	RawData string `json:"raw,omitempty"`
}

func (e RowError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
	}
	return fmt.Sprintf("row %d, column %s: %s", e.Row, e.Column, e.Reason)
}

// MissingColumnError means a configured column is not in the header.
type MissingColumnError struct {
	Field  string
	Column string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("%s %q not found in header", e.Field, e.Column)
}

func (e *MissingColumnError) Is(target error) bool {
	return target == repository.ErrInvalidConfig
}

// ParseResult contains the results of parsing a file
type ParseResult struct {
	Transactions []repository.ParsedTransaction
	Errors       []RowError
	TotalRows    int
	ParsedRows   int
	SkippedRows  int
}

// Parser parses records with one ImportConfig.
type Parser struct {
	cfg        repository.ImportConfig
	dateLayout string
	iso        bool
	skip       []*regexp.Regexp
}

// New validates cfg and prepares its date layout and skip patterns.
func New(cfg repository.ImportConfig) (*Parser, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	layout, err := normalizer.Layout(cfg.DateFormat)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrInvalidConfig, err)
	}

	p := &Parser{cfg: cfg, dateLayout: layout, iso: cfg.DateFormat == normalizer.ISODateTime}
	for _, pattern := range cfg.RowHandling.SkipPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: skip pattern %q: %v", repository.ErrInvalidConfig, pattern, err)
		}
		p.skip = append(p.skip, re)
	}
	return p, nil
}

// Config returns the config the parser was built with.
func (p *Parser) Config() repository.ImportConfig {
	return p.cfg
}

// Parse collects every row of Stream.
func (p *Parser) Parse(records [][]string) (*ParseResult, error) {
	rows, err := p.Stream(records)
	if err != nil {
		return nil, err
	}

	result := &ParseResult{
		Transactions: make([]repository.ParsedTransaction, 0, len(records)),
		Errors:       make([]RowError, 0),
	}
	for row := range rows {
		result.TotalRows++
		switch {
		case row.Skipped:
			result.SkippedRows++
		case row.Err != nil:
			result.Errors = append(result.Errors, *row.Err)
		default:
			result.Transactions = append(result.Transactions, *row.Transaction)
			result.ParsedRows++
		}
	}
	return result, nil
}

// columns are the resolved header indices; -1 when not configured.
type columns struct {
	date, amount, description, reference, category int
}

func (p *Parser) resolveColumns(header []string) (columns, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if _, ok := index[key]; !ok {
			index[key] = i
		}
	}

	lookup := func(field, name string, required bool) (int, error) {
		if strings.TrimSpace(name) == "" {
			return -1, nil
		}
		if i, ok := index[strings.ToLower(strings.TrimSpace(name))]; ok {
			return i, nil
		}
		if required {
			return -1, &MissingColumnError{Field: field, Column: name}
		}
		return -1, nil
	}

	var (
		c   columns
		err error
	)
	if c.date, err = lookup(repository.FieldDateColumn, p.cfg.DateColumn, true); err != nil {
		return c, err
	}
	if c.amount, err = lookup(repository.FieldAmountColumn, p.cfg.AmountColumn, true); err != nil {
		return c, err
	}
	if c.description, err = lookup(repository.FieldDescriptionColumn, p.cfg.DescriptionColumn, true); err != nil {
		return c, err
	}
	if c.reference, err = lookup("reference_column", p.cfg.ReferenceColumn, true); err != nil {
		return c, err
	}
	// A missing category column is tolerated, it is informational only
	c.category, _ = lookup("category_column", p.cfg.CategoryColumn, false)
	return c, nil
}

// split returns the header record and the data records after row handling
// offsets, along with the record index of the first data record.
func (p *Parser) split(records [][]string) ([]string, [][]string, int, error) {
	skip := p.cfg.RowHandling.SkipHeaderRows
	if skip >= len(records) {
		return nil, nil, 0, fmt.Errorf("%w: header row %d beyond %d records", sniffer.ErrHeaderNotFound, skip+1, len(records))
	}
	header := records[skip]
	data := records[skip+1:]

	footer := p.cfg.RowHandling.SkipFooterRows
	if footer >= len(data) {
		data = nil
	} else {
		data = data[:len(data)-footer]
	}
	return header, data, skip + 1, nil
}

func (p *Parser) skipped(record []string) bool {
	if p.cfg.RowHandling.SkipEmptyRows && sniffer.IsBlank(record) {
		return true
	}
	if len(p.skip) == 0 {
		return false
	}
	line := strings.Join(record, ",")
	for _, re := range p.skip {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// parseRecord converts one data record. rowNum is the 1-based record position.
func (p *Parser) parseRecord(record []string, rowNum int, c columns) (*repository.ParsedTransaction, *RowError) {
	value := func(idx int) string {
		if idx < 0 || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	dateStr := value(c.date)
	date, err := normalizer.ParseDateLayout(dateStr, p.dateLayout, p.iso)
	if err != nil {
		return nil, &RowError{
			Row:     rowNum,
			Column:  p.cfg.DateColumn,
			Reason:  fmt.Sprintf("invalid date for format %s", p.cfg.DateFormat),
			RawData: dateStr,
		}
	}

	amountStr := value(c.amount)
	amount, err := normalizer.ParseAmount(amountStr, p.cfg.AmountFormat)
	if err != nil {
		reason := "invalid amount"
		if amountStr == "" {
			reason = "missing amount"
		}
		return nil, &RowError{
			Row:     rowNum,
			Column:  p.cfg.AmountColumn,
			Reason:  reason,
			RawData: amountStr,
		}
	}

	desc := value(c.description)
	if desc == "" {
		return nil, &RowError{
			Row:    rowNum,
			Column: p.cfg.DescriptionColumn,
			Reason: "missing description",
		}
	}

	return &repository.ParsedTransaction{
		Row:           rowNum,
		Date:          date,
		Amount:        amount,
		Description:   desc,
		Merchant:      normalizer.DeriveMerchant(desc, p.cfg.MerchantSplitChars, p.cfg.MerchantMaxLength),
		AccountSource: p.cfg.AccountSource,
		ReferenceID:   value(c.reference),
		Category:      value(c.category),
	}, nil
}
