package profiler

import (
	"fmt"
	"strings"

	"github.com/FACorreiaa/finance-importer/internal/domain/import/normalizer"
)

// ColumnType is the semantic role guessed for a column.
type ColumnType int

const (
	ColumnUnknown ColumnType = iota
	ColumnDate
	ColumnAmount
	ColumnDescription
	ColumnReference
	ColumnCategory
)

var columnTypeNames = map[ColumnType]string{
	ColumnUnknown:     "unknown",
	ColumnDate:        "date",
	ColumnAmount:      "amount",
	ColumnDescription: "description",
	ColumnReference:   "reference",
	ColumnCategory:    "category",
}

func (t ColumnType) String() string {
	if name, ok := columnTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ColumnType(%d)", int(t))
}

// ParseColumnType is the inverse of String.
func ParseColumnType(s string) (ColumnType, error) {
	for t, name := range columnTypeNames {
		if strings.EqualFold(s, name) {
			return t, nil
		}
	}
	return ColumnUnknown, fmt.Errorf("unknown column type %q", s)
}

func (t ColumnType) MarshalText() ([]byte, error) {
	if _, ok := columnTypeNames[t]; !ok {
		return nil, fmt.Errorf("unknown column type %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *ColumnType) UnmarshalText(b []byte) error {
	parsed, err := ParseColumnType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ColumnHint is the profiler's verdict for one column.
type ColumnHint struct {
	ColumnName     string                   `json:"column_name"`
	Index          int                      `json:"index"`
	LikelyType     ColumnType               `json:"likely_type"`
	Confidence     float64                  `json:"confidence"`
	DetectedFormat string                   `json:"detected_format,omitempty"` // date pattern or sign convention
	FormatDisplay  string                   `json:"format_display,omitempty"`
	Amount         *normalizer.AmountFormat `json:"amount_format,omitempty"`

	nameMatch bool
}

// Profile holds one hint per column in header order.
type Profile struct {
	Hints []ColumnHint `json:"column_hints"`
}

// ByName returns the hints keyed by column name. Duplicate names keep the first column.
func (p *Profile) ByName() map[string]ColumnHint {
	out := make(map[string]ColumnHint, len(p.Hints))
	for _, h := range p.Hints {
		if _, ok := out[h.ColumnName]; !ok {
			out[h.ColumnName] = h
		}
	}
	return out
}

// Best returns the strongest column of type t. Equal confidences prefer a
// column whose name suggests the type, then the leftmost column.
func (p *Profile) Best(t ColumnType) (ColumnHint, bool) {
	var (
		best  ColumnHint
		found bool
	)
	for _, h := range p.Hints {
		if h.LikelyType != t {
			continue
		}
		switch {
		case !found:
			best, found = h, true
		case h.Confidence > best.Confidence:
			best = h
		case h.Confidence == best.Confidence && h.nameMatch && !best.nameMatch:
			best = h
		}
	}
	return best, found
}

// OfType returns every column assigned type t, in header order.
func (p *Profile) OfType(t ColumnType) []ColumnHint {
	var out []ColumnHint
	for _, h := range p.Hints {
		if h.LikelyType == t {
			out = append(out, h)
		}
	}
	return out
}
