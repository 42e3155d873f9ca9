// Package mapping turns profiler hints, a registry match and caller
// overrides into the ImportConfig the parser runs with.
package mapping

import (
	"github.com/FACorreiaa/finance-importer/internal/domain/import/normalizer"
	"github.com/FACorreiaa/finance-importer/internal/domain/import/profiler"
	"github.com/FACorreiaa/finance-importer/internal/domain/import/registry"
	"github.com/FACorreiaa/finance-importer/internal/domain/import/repository"
)

// Source tells where a config value came from.
type Source string

const (
	SourceRegistry Source = "registry"
	SourceProfiler Source = "profiler"
	SourceOverride Source = "override"
)

// Overrides are caller-supplied values. A nil field keeps the suggestion.
type Overrides struct {
	AccountSource            *string                    `json:"account_source,omitempty"`
	DateColumn               *string                    `json:"date_column,omitempty"`
	AmountColumn             *string                    `json:"amount_column,omitempty"`
	DescriptionColumn        *string                    `json:"description_column,omitempty"`
	ReferenceColumn          *string                    `json:"reference_column,omitempty"`
	CategoryColumn           *string                    `json:"category_column,omitempty"`
	DateFormat               *string                    `json:"date_format,omitempty"`
	AmountSignConvention     *normalizer.SignConvention `json:"amount_sign_convention,omitempty"`
	AmountCurrencyPrefix     *string                    `json:"amount_currency_prefix,omitempty"`
	AmountThousandsSeparator *string                    `json:"amount_thousands_separator,omitempty"`
	AmountInvertSign         *bool                      `json:"amount_invert_sign,omitempty"`
	RowHandling              *repository.RowHandling    `json:"row_handling,omitempty"`
	MerchantSplitChars       *string                    `json:"merchant_split_chars,omitempty"`
	MerchantMaxLength        *int                       `json:"merchant_max_length,omitempty"`
}

// Input is everything the builder can draw on.
type Input struct {
	// Base is a complete config from the caller or a saved format. It wins
	// over Match and Profile.
	Base        *repository.ImportConfig
	Profile     *profiler.Profile
	Match       *registry.Match // nil when no known format matched
	HeaderIndex int             // preamble rows before the header, used without a match
	Overrides   Overrides
	// AccountSource is the caller's account. It wins over the registry value
	// and loses to Overrides.AccountSource.
	AccountSource string
}

// SuggestedConfig is a resolved config plus how complete it is.
type SuggestedConfig struct {
	repository.ImportConfig
	Completeness float64           `json:"_completeness"`
	Missing      []string          `json:"missing_fields,omitempty"`
	Source       Source            `json:"source"`
	FieldSources map[string]Source `json:"field_sources"`
}

// Complete reports whether the config can be parsed without more input.
func (s SuggestedConfig) Complete() bool {
	return len(s.Missing) == 0
}

// Require returns an *repository.IncompleteMappingError when fields are missing.
func (s SuggestedConfig) Require() error {
	if s.Complete() {
		return nil
	}
	return &repository.IncompleteMappingError{Missing: s.Missing}
}

// Completeness is the share of required fields that are set.
func Completeness(cfg repository.ImportConfig) float64 {
	missing := len(cfg.MissingFields())
	return float64(requiredFields-missing) / requiredFields
}

const requiredFields = 4

// Build resolves every field with the precedence override > registry > profiler.
func Build(in Input) SuggestedConfig {
	s := SuggestedConfig{FieldSources: make(map[string]Source)}

	switch {
	case in.Base != nil:
		s.ImportConfig = in.Base.WithDefaults()
		s.Source = SourceOverride
		s.mark(SourceOverride)
	case in.Match != nil:
		s.ImportConfig = in.Match.Config
		s.Source = SourceRegistry
		s.mark(SourceRegistry)
	default:
		s.ImportConfig = repository.DefaultImportConfig()
		s.RowHandling.SkipHeaderRows = in.HeaderIndex
		s.Source = SourceProfiler
		if in.Profile != nil {
			s.applyProfile(in.Profile)
		}
	}

	if in.AccountSource != "" {
		s.AccountSource = in.AccountSource
		s.FieldSources[repository.FieldAccountSource] = SourceOverride
	}
	s.applyOverrides(in.Overrides)

	s.Missing = s.MissingFields()
	s.Completeness = Completeness(s.ImportConfig)
	return s
}

func (s *SuggestedConfig) applyProfile(p *profiler.Profile) {
	if h, ok := p.Best(profiler.ColumnDate); ok {
		s.DateColumn = h.ColumnName
		s.DateFormat = h.DetectedFormat
		s.FieldSources[repository.FieldDateColumn] = SourceProfiler
		s.FieldSources["date_format"] = SourceProfiler
	}
	if h, ok := p.Best(profiler.ColumnAmount); ok {
		s.AmountColumn = h.ColumnName
		if h.Amount != nil {
			s.AmountFormat = *h.Amount
			s.FieldSources["amount_sign_convention"] = SourceProfiler
		}
		s.FieldSources[repository.FieldAmountColumn] = SourceProfiler
	}
	if h, ok := p.Best(profiler.ColumnDescription); ok {
		s.DescriptionColumn = h.ColumnName
		s.FieldSources[repository.FieldDescriptionColumn] = SourceProfiler
	}
	if h, ok := p.Best(profiler.ColumnReference); ok {
		s.ReferenceColumn = h.ColumnName
		s.FieldSources["reference_column"] = SourceProfiler
	}
	if h, ok := p.Best(profiler.ColumnCategory); ok {
		s.CategoryColumn = h.ColumnName
		s.FieldSources["category_column"] = SourceProfiler
	}
}

// mark attributes every set registry field to src.
func (s *SuggestedConfig) mark(src Source) {
	set := map[string]string{
		repository.FieldAccountSource:     s.AccountSource,
		repository.FieldDateColumn:        s.DateColumn,
		repository.FieldAmountColumn:      s.AmountColumn,
		repository.FieldDescriptionColumn: s.DescriptionColumn,
		"reference_column":                s.ReferenceColumn,
		"category_column":                 s.CategoryColumn,
		"date_format":                     s.DateFormat,
		"amount_sign_convention":          string(s.Convention),
	}
	for field, v := range set {
		if v != "" {
			s.FieldSources[field] = src
		}
	}
}

func (s *SuggestedConfig) applyOverrides(o Overrides) {
	columnOverridden := false
	str := func(field string, dst *string, v *string, column bool) {
		if v == nil {
			return
		}
		*dst = *v
		s.FieldSources[field] = SourceOverride
		if column {
			columnOverridden = true
		}
	}

	str(repository.FieldAccountSource, &s.AccountSource, o.AccountSource, false)
	str(repository.FieldDateColumn, &s.DateColumn, o.DateColumn, true)
	str(repository.FieldAmountColumn, &s.AmountColumn, o.AmountColumn, true)
	str(repository.FieldDescriptionColumn, &s.DescriptionColumn, o.DescriptionColumn, true)
	str("reference_column", &s.ReferenceColumn, o.ReferenceColumn, false)
	str("category_column", &s.CategoryColumn, o.CategoryColumn, false)
	str("date_format", &s.DateFormat, o.DateFormat, false)
	str("amount_currency_prefix", &s.CurrencyPrefix, o.AmountCurrencyPrefix, false)
	str("amount_thousands_separator", &s.ThousandsSeparator, o.AmountThousandsSeparator, false)
	str("merchant_split_chars", &s.MerchantSplitChars, o.MerchantSplitChars, false)

	if o.AmountSignConvention != nil {
		s.Convention = *o.AmountSignConvention
		s.FieldSources["amount_sign_convention"] = SourceOverride
	}
	if o.AmountInvertSign != nil {
		s.InvertSign = *o.AmountInvertSign
		s.FieldSources["amount_invert_sign"] = SourceOverride
	}
	if o.RowHandling != nil {
		s.RowHandling = *o.RowHandling
		s.FieldSources["row_handling"] = SourceOverride
	}
	if o.MerchantMaxLength != nil {
		s.MerchantMaxLength = *o.MerchantMaxLength
		s.FieldSources["merchant_max_length"] = SourceOverride
	}

	if columnOverridden {
		s.Source = SourceOverride
	}
}
