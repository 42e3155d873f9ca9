package profiler

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/FACorreiaa/finance-importer/internal/domain/import/normalizer"
)

const (
	// MinPatternMatch is the share of samples a date pattern or amount convention must parse.
	MinPatternMatch = 0.8
	// MinTextConfidence is the floor for description, reference and category.
	MinTextConfidence = 0.5

	maxIntegerAmountDigits = 7
)

type datePattern struct {
	pattern       string
	layout        string
	fourDigitYear bool
}

// DatePatterns is the ordered list tried by the date detector.
var DatePatterns = []string{
	"%m/%d/%Y",
	"%d/%m/%Y",
	"%Y-%m-%d",
	"%m-%d-%Y",
	"%m/%d/%y",
	normalizer.ISODateTime,
	"%d-%m-%Y",
	"%d.%m.%Y",
}

var datePatterns = compileDatePatterns(DatePatterns)

func compileDatePatterns(patterns []string) []datePattern {
	out := make([]datePattern, 0, len(patterns))
	for _, p := range patterns {
		layout, err := normalizer.Layout(p)
		if err != nil {
			panic(fmt.Sprintf("profiler: bad built-in date pattern %q: %v", p, err))
		}
		out = append(out, datePattern{pattern: p, layout: layout, fourDigitYear: strings.Contains(p, "%Y")})
	}
	return out
}

type candidate struct {
	typ        ColumnType
	confidence float64
	format     string
	display    string
	amount     *normalizer.AmountFormat
	nameMatch  bool
}

func detectDate(name string, values []string) candidate {
	c := candidate{typ: ColumnDate, nameMatch: dateNames.score(name) == 1}
	if len(values) == 0 {
		return c
	}

	var best *datePattern
	bestScore := 0.0
	for i := range datePatterns {
		p := &datePatterns[i]
		matched := 0
		for _, v := range values {
			if _, err := normalizer.ParseDateLayout(v, p.layout, p.pattern == normalizer.ISODateTime); err == nil {
				matched++
			}
		}
		score := float64(matched) / float64(len(values))
		if score > bestScore || (score == bestScore && best != nil && score > 0 && p.fourDigitYear && !best.fourDigitYear) {
			best, bestScore = p, score
		}
	}
	if best == nil {
		return c
	}
	c.confidence = bestScore
	c.format = best.pattern
	c.display = normalizer.DateDisplay(best.pattern)
	return c
}

func detectAmount(name string, values []string) candidate {
	c := candidate{typ: ColumnAmount, nameMatch: amountNames.score(name) == 1}
	if len(values) == 0 {
		return c
	}

	refNamed := referenceNames.score(name) == 1
	prefix := normalizer.DetectCurrencyPrefix(values)
	thousands := normalizer.DetectThousandsSeparator(values)

	var (
		bestFormat normalizer.AmountFormat
		bestCount  = -1
	)
	for _, convention := range normalizer.SignConventions {
		f := normalizer.AmountFormat{Convention: convention, CurrencyPrefix: prefix, ThousandsSeparator: thousands}
		count := 0
		for _, v := range values {
			if !amountShaped(v, prefix, refNamed) {
				continue
			}
			if _, err := normalizer.ParseAmount(v, f); err == nil {
				count++
			}
		}
		// Strictly greater keeps negative_prefix on ties
		if count > bestCount {
			bestFormat, bestCount = f, count
		}
	}

	c.confidence = float64(bestCount) / float64(len(values))
	if c.confidence == 0 {
		return c
	}
	bestFormat.InvertSign = needsInversion(name, values, bestFormat)
	c.format = string(bestFormat.Convention)
	c.display = amountDisplay(bestFormat)
	c.amount = &bestFormat
	return c
}

// amountShaped rejects long bare integers, which are far more often ids than amounts.
func amountShaped(raw, prefix string, refNamed bool) bool {
	s := strings.TrimSpace(raw)
	if strings.ContainsAny(s, "-+()") || (prefix != "" && strings.Contains(s, prefix)) {
		return true
	}
	if strings.ContainsAny(s, ".,") {
		return true
	}
	if refNamed {
		return false
	}
	digits := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			digits++
		}
	}
	return digits <= maxIntegerAmountDigits
}

// needsInversion flags columns whose positive values are spending: a column named
// only "credit", or an expense-named column whose values are mostly positive.
func needsInversion(name string, values []string, f normalizer.AmountFormat) bool {
	lower := strings.ToLower(name)
	if strings.Contains(lower, "credit") && !strings.Contains(lower, "debit") {
		return true
	}

	expenseNamed := false
	for _, kw := range []string{"debit", "charge", "withdrawal", "spend", "purchase"} {
		if strings.Contains(lower, kw) {
			expenseNamed = true
			break
		}
	}
	if !expenseNamed {
		return false
	}

	positive, nonZero := 0, 0
	for _, v := range values {
		d, err := normalizer.ParseAmount(v, f)
		if err != nil || d.IsZero() {
			continue
		}
		nonZero++
		if d.IsPositive() {
			positive++
		}
	}
	return nonZero > 0 && positive*2 > nonZero
}

func amountDisplay(f normalizer.AmountFormat) string {
	parts := []string{f.Convention.Display()}
	if f.CurrencyPrefix != "" {
		parts = append(parts, "currency "+f.CurrencyPrefix)
	}
	if f.DecimalSeparator() == "," {
		parts = append(parts, "decimal comma")
	}
	if f.InvertSign {
		parts = append(parts, "sign inverted")
	}
	return strings.Join(parts, ", ")
}

func detectDescription(name string, values []string) candidate {
	nameScore := descriptionNames.score(name)
	c := candidate{typ: ColumnDescription, nameMatch: nameScore == 1}
	if len(values) == 0 {
		return c
	}

	totalLen := 0
	for _, v := range values {
		totalLen += utf8.RuneCountInString(v)
	}
	avgLen := float64(totalLen) / float64(len(values))
	lengthScore := min(1, avgLen/15)
	shape := lengthScore * (1 - numericRate(values))

	c.confidence = 0.4*nameScore + 0.6*shape
	return c
}

func detectReference(name string, values []string) candidate {
	nameScore := referenceNames.score(name)
	c := candidate{typ: ColumnReference, nameMatch: nameScore == 1}
	if len(values) == 0 {
		return c
	}

	idLike := 0
	for _, v := range values {
		if looksLikeID(v) {
			idLike++
		}
	}
	shape := float64(idLike) / float64(len(values)) * distinctRatio(values)

	c.confidence = 0.4*nameScore + 0.6*shape
	return c
}

func detectCategory(name string, values []string) candidate {
	nameScore := categoryNames.score(name)
	c := candidate{typ: ColumnCategory, nameMatch: nameScore == 1}
	if len(values) == 0 {
		return c
	}

	shape := 0.0
	if len(values) >= 4 && numericRate(values) == 0 {
		shape = 1 - distinctRatio(values)
	}

	c.confidence = 0.6*nameScore + 0.4*shape
	return c
}

func looksLikeID(v string) bool {
	n := utf8.RuneCountInString(v)
	if n < 3 || n > 40 {
		return false
	}
	hasDigit := false
	for _, r := range v {
		switch {
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsLetter(r), strings.ContainsRune("-_/.#", r):
		default:
			return false
		}
	}
	return hasDigit
}

func numericRate(values []string) float64 {
	numeric := 0
	f := normalizer.AmountFormat{Convention: normalizer.SignNegativePrefix, ThousandsSeparator: normalizer.DetectThousandsSeparator(values)}
	f.CurrencyPrefix = normalizer.DetectCurrencyPrefix(values)
	for _, v := range values {
		if _, err := normalizer.ParseAmount(v, f); err == nil {
			numeric++
		}
	}
	return float64(numeric) / float64(len(values))
}

func distinctRatio(values []string) float64 {
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		seen[strings.ToLower(v)] = struct{}{}
	}
	return float64(len(seen)) / float64(len(values))
}
