// Package profiler guesses the semantic role of each column of an export
// (date, amount, description, reference, category) from its header and a
// handful of sample rows, together with the formatting details needed to
// parse it.
//
// Each column gets exactly one type: the detector with the highest
// confidence wins and the runner-up is dropped, never retried on another
// column. Two plausible date columns therefore both stay "date" and the
// config builder keeps only one of them.
package profiler

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/FACorreiaa/finance-importer/internal/domain/import/sniffer"
)

// Analyze profiles every column of headers against samples.
func Analyze(headers []string, samples [][]string) (*Profile, error) {
	if !readable(headers) {
		return nil, fmt.Errorf("%w: header row has no readable column names", sniffer.ErrUnreadableFile)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no sample rows to profile", sniffer.ErrEmptyFile)
	}

	profile := &Profile{Hints: make([]ColumnHint, 0, len(headers))}
	for i, name := range headers {
		profile.Hints = append(profile.Hints, profileColumn(i, name, columnValues(samples, i)))
	}
	return profile, nil
}

func profileColumn(index int, name string, values []string) ColumnHint {
	candidates := []candidate{
		detectDate(name, values),
		detectAmount(name, values),
		detectDescription(name, values),
		detectReference(name, values),
		detectCategory(name, values),
	}

	hint := ColumnHint{ColumnName: name, Index: index, LikelyType: ColumnUnknown}
	for _, c := range candidates {
		if c.confidence < threshold(c.typ) {
			continue
		}
		if c.confidence > hint.Confidence {
			hint.LikelyType = c.typ
			hint.Confidence = c.confidence
			hint.DetectedFormat = c.format
			hint.FormatDisplay = c.display
			hint.Amount = c.amount
			hint.nameMatch = c.nameMatch
		}
	}
	return hint
}

func threshold(t ColumnType) float64 {
	switch t {
	case ColumnDate, ColumnAmount:
		return MinPatternMatch
	}
	return MinTextConfidence
}

// columnValues returns the trimmed non-empty values of column i.
func columnValues(rows [][]string, i int) []string {
	values := make([]string, 0, len(rows))
	for _, row := range rows {
		if i >= len(row) {
			continue
		}
		if v := strings.TrimSpace(row[i]); v != "" {
			values = append(values, v)
		}
	}
	return values
}

func readable(headers []string) bool {
	for _, h := range headers {
		for _, r := range h {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return true
			}
		}
	}
	return false
}
