package profiler

import (
	"strings"
	"unicode"

	"github.com/cloudflare/ahocorasick"
	"github.com/lithammer/fuzzysearch/fuzzy"
)

// keywordSet matches column names against type keywords. Keywords padded with
// spaces only match whole words of the normalized name.
type keywordSet struct {
	matcher   *ahocorasick.Matcher
	canonical []string // long forms used for abbreviation matching
}

func newKeywordSet(keywords []string, canonical ...string) *keywordSet {
	return &keywordSet{
		matcher:   ahocorasick.NewStringMatcher(keywords),
		canonical: canonical,
	}
}

var (
	dateNames = newKeywordSet([]string{
		"date", " dt ", "posted", "data", "fecha", "day",
	}, "date", "transactiondate")
	amountNames = newKeywordSet([]string{
		"amount", " amt ", "montante", "valor", "importe", " value ", "debit", "credit", "charge",
	}, "amount")
	descriptionNames = newKeywordSet([]string{
		"desc", "memo", "narrative", "details", "payee", "merchant", "particulars", " name ", "descri", "concepto",
	}, "description", "memo")
	referenceNames = newKeywordSet([]string{
		"ref", " id ", "check", "cheque", "confirmation", " no ", "number", "trace", "documento",
	}, "reference")
	categoryNames = newKeywordSet([]string{
		"categ", " type ", "class", "group", "tipo",
	}, "category")
)

// normalizeName lowercases, turns punctuation into spaces and pads with spaces.
func normalizeName(name string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, name)
	return " " + strings.Join(strings.Fields(mapped), " ") + " "
}

// score is 1 for a keyword hit, 0.5 when the name is an abbreviation of a
// canonical form ("Amt" in "amount"), otherwise 0.
func (k *keywordSet) score(name string) float64 {
	normalized := normalizeName(name)
	if len(k.matcher.Match([]byte(normalized))) > 0 {
		return 1
	}
	compact := strings.ReplaceAll(strings.TrimSpace(normalized), " ", "")
	if len(compact) < 2 {
		return 0
	}
	for _, c := range k.canonical {
		if len(compact) < len(c) && fuzzy.Match(compact, c) {
			return 0.5
		}
	}
	return 0
}
