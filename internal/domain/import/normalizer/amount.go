package normalizer

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// SignConvention describes how a negative amount is written in an export.
type SignConvention string

const (
	SignNegativePrefix SignConvention = "negative_prefix" // -50.00
	SignParentheses    SignConvention = "parentheses"     // (50.00)
	SignPlusMinus      SignConvention = "plus_minus"      // +50.00 / -50.00
)

// SignConventions lists the conventions in tie-break order.
var SignConventions = []SignConvention{SignNegativePrefix, SignParentheses, SignPlusMinus}

// Valid reports whether c is a known convention.
func (c SignConvention) Valid() bool {
	switch c {
	case SignNegativePrefix, SignParentheses, SignPlusMinus:
		return true
	}
	return false
}

// Display returns a human label for the convention.
func (c SignConvention) Display() string {
	switch c {
	case SignNegativePrefix:
		return "Negative prefix (-1,234.56)"
	case SignParentheses:
		return "Parentheses ((1,234.56))"
	case SignPlusMinus:
		return "Explicit sign (+1,234.56 / -1,234.56)"
	}
	return string(c)
}

// AmountFormat holds everything needed to turn a raw cell into a signed decimal.
type AmountFormat struct {
	Convention         SignConvention `json:"amount_sign_convention"`
	CurrencyPrefix     string         `json:"amount_currency_prefix,omitempty"`
	ThousandsSeparator string         `json:"amount_thousands_separator"`
	InvertSign         bool           `json:"amount_invert_sign"`
}

// DecimalSeparator is implied by the thousands separator.
func (f AmountFormat) DecimalSeparator() string {
	switch f.ThousandsSeparator {
	case ".", " ":
		return ","
	}
	return "."
}

var (
	ErrEmptyAmount   = errors.New("empty amount")
	ErrInvalidAmount = errors.New("invalid amount")
)

var plainNumber = regexp.MustCompile(`^(\d+(\.\d+)?|\.\d+)$`)

// maxAmount is the largest magnitude whose minor units fit in an int64.
var maxAmount = decimal.New(math.MaxInt64, -2)

// ParseAmount parses raw under f. The inversion flag is applied last.
func ParseAmount(raw string, f AmountFormat) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, ErrEmptyAmount
	}

	negative := false
	s = stripCurrency(s, f.CurrencyPrefix)

	switch f.Convention {
	case SignParentheses:
		if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
			negative = true
			s = strings.TrimSpace(s[1 : len(s)-1])
		}
	case SignPlusMinus:
		if strings.HasPrefix(s, "+") {
			s = s[1:]
		} else if strings.HasPrefix(s, "-") {
			negative = true
			s = s[1:]
		}
	case SignNegativePrefix, "":
		if strings.HasPrefix(s, "-") {
			negative = true
			s = s[1:]
		}
	default:
		return decimal.Zero, fmt.Errorf("%w: unknown sign convention %q", ErrInvalidAmount, f.Convention)
	}

	s = stripCurrency(strings.TrimSpace(s), f.CurrencyPrefix)
	s = normalizeSeparators(s, f)

	if !plainNumber.MatchString(s) {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	if d.Round(2).GreaterThan(maxAmount) {
		return decimal.Zero, fmt.Errorf("%w: %q out of range", ErrInvalidAmount, raw)
	}
	if negative {
		d = d.Neg()
	}
	if f.InvertSign {
		d = d.Neg()
	}
	return d, nil
}

func stripCurrency(s, prefix string) string {
	if prefix != "" {
		s = strings.TrimPrefix(s, prefix)
	}
	return strings.TrimSpace(s)
}

func normalizeSeparators(s string, f AmountFormat) string {
	if f.ThousandsSeparator != "" {
		s = strings.ReplaceAll(s, f.ThousandsSeparator, "")
	}
	s = strings.ReplaceAll(s, " ", "")
	if f.DecimalSeparator() == "," {
		s = strings.Replace(s, ",", ".", 1)
	}
	return s
}

// Common currency prefixes, longest first so "R$" wins over "$".
var currencyPrefixes = []string{"US$", "R$", "CA$", "A$", "USD", "EUR", "GBP", "BRL", "$", "€", "£", "¥", "₹"}

// DetectCurrencyPrefix returns the prefix shared by a majority of the samples.
func DetectCurrencyPrefix(samples []string) string {
	counts := make(map[string]int)
	total := 0
	for _, raw := range samples {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		total++
		s = strings.TrimLeft(s, "-+( ")
		for _, p := range currencyPrefixes {
			if strings.HasPrefix(s, p) {
				counts[p]++
				break
			}
		}
	}
	for _, p := range currencyPrefixes {
		if counts[p]*2 > total {
			return p
		}
	}
	return ""
}

// DetectThousandsSeparator votes between US (1,234.56) and European (1.234,56) shapes.
func DetectThousandsSeparator(samples []string) string {
	european, us := 0, 0
	for _, raw := range samples {
		cleaned := strings.TrimPrefix(cleanAmountSample(raw), "-")
		if cleaned == "" {
			continue
		}
		hasComma := strings.Contains(cleaned, ",")
		hasDot := strings.Contains(cleaned, ".")

		switch {
		case hasComma && hasDot:
			if strings.LastIndex(cleaned, ",") > strings.LastIndex(cleaned, ".") {
				european++
			} else {
				us++
			}
		case hasComma:
			if hasDecimalSuffix(cleaned, ',') {
				european++
			}
		case hasDot:
			if hasDecimalSuffix(cleaned, '.') {
				us++
			}
		}
	}
	if european > us {
		return "."
	}
	return ","
}

func cleanAmountSample(raw string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) || r == ',' || r == '.' || r == '-' {
			return r
		}
		return -1
	}, raw)
}

func hasDecimalSuffix(value string, sep rune) bool {
	idx := strings.LastIndex(value, string(sep))
	if idx == -1 || idx == len(value)-1 {
		return false
	}
	digits := 0
	for _, r := range value[idx+1:] {
		if !unicode.IsDigit(r) {
			return false
		}
		digits++
		if digits > 2 {
			return false
		}
	}
	return digits > 0
}
