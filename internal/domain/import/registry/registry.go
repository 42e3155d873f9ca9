// Package registry holds the catalog of known bank exports. A file whose
// header matches a registered signature gets that format's ImportConfig
// directly instead of a profiler guess.
package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cloudflare/ahocorasick"

	"github.com/FACorreiaa/finance-importer/internal/domain/import/normalizer"
	"github.com/FACorreiaa/finance-importer/internal/domain/import/repository"
	"github.com/FACorreiaa/finance-importer/internal/domain/import/sniffer"
)

// MinDateMatch is the share of sample dates that must parse under a format's date pattern.
const MinDateMatch = 0.8

const dateSampleRows = 20

// Signature is the structural shape of a known export.
type Signature struct {
	// RequiredHeaders must each appear in a header cell, case-insensitively.
	// An exact cell match is preferred over a cell that only contains the text.
	RequiredHeaders []string
	MinColumns      int
	MaxColumns      int
	// Preamble allows metadata rows before the header.
	Preamble bool
}

// Format is one institution export the registry recognizes.
type Format struct {
	Name        string
	Institution string
	Description string
	Signature   Signature
	// Config is the full mapping for the format. Column names refer to
	// entries of Signature.RequiredHeaders.
	Config repository.ImportConfig

	matcher  *ahocorasick.Matcher
	required []string // lowercased RequiredHeaders
}

// Match is a successful signature comparison.
type Match struct {
	Format      *Format
	HeaderIndex int
	// Config is Format.Config with column names resolved against the actual
	// header and SkipHeaderRows set to HeaderIndex.
	Config repository.ImportConfig
	// Exact is true when every required header matched a cell exactly.
	Exact     bool
	DateMatch float64
}

// Registry holds the known formats.
type Registry struct {
	formats []*Format
	byName  map[string]*Format
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{byName: make(map[string]*Format)}
}

// Default returns a registry with the built-in formats.
func Default() *Registry {
	r := New()
	for _, f := range builtinFormats() {
		r.Register(f)
	}
	return r
}

// Register adds a format. Panics on a duplicate name or an unusable signature.
func (r *Registry) Register(f Format) {
	key := strings.ToLower(f.Name)
	if _, ok := r.byName[key]; ok {
		panic("duplicate import format: " + key)
	}
	if len(f.Signature.RequiredHeaders) == 0 {
		panic("import format without required headers: " + key)
	}

	f.required = make([]string, len(f.Signature.RequiredHeaders))
	for i, h := range f.Signature.RequiredHeaders {
		f.required[i] = normalizeHeader(h)
	}
	f.matcher = ahocorasick.NewStringMatcher(f.required)
	f.Config.Name = f.Name

	r.formats = append(r.formats, &f)
	r.byName[key] = &f

	// More specific signatures are tried first
	sort.SliceStable(r.formats, func(i, j int) bool {
		return len(r.formats[i].required) > len(r.formats[j].required)
	})
}

// Get returns the format registered under name.
func (r *Registry) Get(name string) (*Format, bool) {
	f, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	return f, ok
}

// Formats lists the registered formats in matching order.
func (r *Registry) Formats() []*Format {
	out := make([]*Format, len(r.formats))
	copy(out, r.formats)
	return out
}

// Match compares records against every format and returns the first one
// whose signature and sample dates fit.
func (r *Registry) Match(records [][]string) (*Match, bool) {
	var fallback *Match
	for _, f := range r.formats {
		m, err := f.MatchRecords(records)
		if err != nil {
			continue
		}
		if m.Exact {
			return m, true
		}
		if fallback == nil {
			fallback = m
		}
	}
	return fallback, fallback != nil
}

// MatchRecords locates the format's header in records and checks the sample dates.
func (f *Format) MatchRecords(records [][]string) (*Match, error) {
	headerIndex, err := f.LocateHeader(records)
	if err != nil {
		return nil, err
	}

	header := records[headerIndex]
	cells, exact := f.resolve(header)
	cfg := f.Config
	cfg.DateColumn = remap(cfg.DateColumn, f, cells)
	cfg.AmountColumn = remap(cfg.AmountColumn, f, cells)
	cfg.DescriptionColumn = remap(cfg.DescriptionColumn, f, cells)
	cfg.ReferenceColumn = remap(cfg.ReferenceColumn, f, cells)
	cfg.CategoryColumn = remap(cfg.CategoryColumn, f, cells)
	cfg.RowHandling.SkipHeaderRows = headerIndex

	rate := f.dateMatch(header, records[headerIndex+1:], cfg)
	if rate < MinDateMatch {
		return nil, fmt.Errorf("format %s: only %.0f%% of sample dates match %s", f.Name, rate*100, cfg.DateFormat)
	}

	return &Match{
		Format:      f,
		HeaderIndex: headerIndex,
		Config:      cfg,
		Exact:       exact,
		DateMatch:   rate,
	}, nil
}

// LocateHeader scans forward for the first record shaped like the format's
// header. Formats without a preamble only consider the first record.
func (f *Format) LocateHeader(records [][]string) (int, error) {
	limit := 1
	if f.Signature.Preamble {
		limit = sniffer.MaxHeaderScan
	}
	scanned := 0
	for i, record := range records {
		if i >= limit {
			break
		}
		scanned++
		if sniffer.IsBlank(record) {
			continue
		}
		if !f.columnsInRange(record) {
			continue
		}
		if cells, _ := f.resolve(record); cells != nil {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %s header not in first %d rows", sniffer.ErrHeaderNotFound, f.Name, scanned)
}

func (f *Format) columnsInRange(record []string) bool {
	n := len(trimTrailingEmpty(record))
	if f.Signature.MinColumns > 0 && n < f.Signature.MinColumns {
		return false
	}
	if f.Signature.MaxColumns > 0 && n > f.Signature.MaxColumns {
		return false
	}
	return true
}

// resolve maps every required header to the header cell that carries it.
// It returns nil when any required header is absent.
func (f *Format) resolve(record []string) ([]string, bool) {
	cells := make([]string, len(f.required))
	exact := make([]bool, len(f.required))

	for _, raw := range record {
		cell := normalizeHeader(raw)
		if cell == "" {
			continue
		}
		for _, idx := range f.matcher.Match([]byte(cell)) {
			isExact := cell == f.required[idx]
			if cells[idx] == "" || (isExact && !exact[idx]) {
				cells[idx] = strings.TrimSpace(raw)
				exact[idx] = isExact
			}
		}
	}

	allExact := true
	for i := range cells {
		if cells[i] == "" {
			return nil, false
		}
		allExact = allExact && exact[i]
	}
	return cells, allExact
}

// dateMatch returns the share of non-empty sample dates that parse. Files
// with no sample dates count as a full match.
func (f *Format) dateMatch(header []string, rows [][]string, cfg repository.ImportConfig) float64 {
	col := -1
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), cfg.DateColumn) {
			col = i
			break
		}
	}
	if col < 0 {
		return 0
	}

	parsed, total := 0, 0
	for _, row := range rows {
		if total >= dateSampleRows {
			break
		}
		if col >= len(row) || strings.TrimSpace(row[col]) == "" {
			continue
		}
		total++
		if _, err := normalizer.ParseDate(row[col], cfg.DateFormat); err == nil {
			parsed++
		}
	}
	if total == 0 {
		return 1
	}
	return float64(parsed) / float64(total)
}

// remap replaces a configured column name with the header cell that matched it.
func remap(column string, f *Format, cells []string) string {
	if column == "" {
		return ""
	}
	key := normalizeHeader(column)
	for i, req := range f.required {
		if req == key {
			return cells[i]
		}
	}
	return column
}

func normalizeHeader(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func trimTrailingEmpty(record []string) []string {
	end := len(record)
	for end > 0 && strings.TrimSpace(record[end-1]) == "" {
		end--
	}
	return record[:end]
}
