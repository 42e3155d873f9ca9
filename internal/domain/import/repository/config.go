package repository

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/FACorreiaa/finance-importer/internal/domain/import/normalizer"
)

// RowHandling controls which raw rows the parser ignores.
type RowHandling struct {
	SkipHeaderRows int      `json:"skip_header_rows"` // rows before the column header
	SkipFooterRows int      `json:"skip_footer_rows"`
	SkipPatterns   []string `json:"skip_patterns,omitempty"`
	SkipEmptyRows  bool     `json:"skip_empty_rows"`
}

// ImportConfig is the column mapping and formatting needed to parse one export shape.
type ImportConfig struct {
	Name              string `json:"name"`
	AccountSource     string `json:"account_source"`
	DateColumn        string `json:"date_column"`
	AmountColumn      string `json:"amount_column"`
	DescriptionColumn string `json:"description_column"`
	ReferenceColumn   string `json:"reference_column,omitempty"`
	CategoryColumn    string `json:"category_column,omitempty"`
	DateFormat        string `json:"date_format"`

	normalizer.AmountFormat

	RowHandling        RowHandling `json:"row_handling"`
	MerchantSplitChars string      `json:"merchant_split_chars"`
	MerchantMaxLength  int         `json:"merchant_max_length"`
}

// Required mapping fields, in reporting order.
const (
	FieldDateColumn        = "date_column"
	FieldAmountColumn      = "amount_column"
	FieldDescriptionColumn = "description_column"
	FieldAccountSource     = "account_source"
)

var (
	ErrIncompleteMapping = errors.New("incomplete mapping")
	ErrInvalidConfig     = errors.New("invalid import config")
)

// IncompleteMappingError lists the required fields that are still unset.
type IncompleteMappingError struct {
	Missing []string
}

func (e *IncompleteMappingError) Error() string {
	return fmt.Sprintf("incomplete mapping: missing %s", strings.Join(e.Missing, ", "))
}

func (e *IncompleteMappingError) Is(target error) bool {
	return target == ErrIncompleteMapping
}

// DefaultImportConfig returns the formatting defaults used when a field is not detected.
func DefaultImportConfig() ImportConfig {
	return ImportConfig{
		DateFormat: "%m/%d/%Y",
		AmountFormat: normalizer.AmountFormat{
			Convention:         normalizer.SignNegativePrefix,
			ThousandsSeparator: ",",
		},
		RowHandling:        RowHandling{SkipEmptyRows: true},
		MerchantSplitChars: normalizer.DefaultMerchantSplitChars,
		MerchantMaxLength:  normalizer.DefaultMerchantMaxLength,
	}
}

// WithDefaults fills zero-valued formatting fields from DefaultImportConfig.
// Column names and account source are never defaulted.
func (c ImportConfig) WithDefaults() ImportConfig {
	d := DefaultImportConfig()
	if c.DateFormat == "" {
		c.DateFormat = d.DateFormat
	}
	if c.Convention == "" {
		c.Convention = d.Convention
	}
	if c.ThousandsSeparator == "" {
		c.ThousandsSeparator = d.ThousandsSeparator
	}
	if c.MerchantMaxLength == 0 {
		c.MerchantMaxLength = d.MerchantMaxLength
	}
	return c
}

// MissingFields returns the unset required fields.
func (c ImportConfig) MissingFields() []string {
	var missing []string
	if strings.TrimSpace(c.DateColumn) == "" {
		missing = append(missing, FieldDateColumn)
	}
	if strings.TrimSpace(c.AmountColumn) == "" {
		missing = append(missing, FieldAmountColumn)
	}
	if strings.TrimSpace(c.DescriptionColumn) == "" {
		missing = append(missing, FieldDescriptionColumn)
	}
	if strings.TrimSpace(c.AccountSource) == "" {
		missing = append(missing, FieldAccountSource)
	}
	return missing
}

// Validate is the precondition for parsing.
func (c ImportConfig) Validate() error {
	if missing := c.MissingFields(); len(missing) > 0 {
		return &IncompleteMappingError{Missing: missing}
	}
	if !c.Convention.Valid() {
		return fmt.Errorf("%w: unknown amount_sign_convention %q", ErrInvalidConfig, c.Convention)
	}
	if _, err := normalizer.Layout(c.DateFormat); err != nil {
		return fmt.Errorf("%w: date_format: %v", ErrInvalidConfig, err)
	}
	if c.RowHandling.SkipHeaderRows < 0 || c.RowHandling.SkipFooterRows < 0 {
		return fmt.Errorf("%w: negative skip row count", ErrInvalidConfig)
	}
	if c.MerchantMaxLength < 0 {
		return fmt.Errorf("%w: negative merchant_max_length", ErrInvalidConfig)
	}
	for _, p := range c.RowHandling.SkipPatterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("%w: skip pattern %q: %v", ErrInvalidConfig, p, err)
		}
	}
	return nil
}
