package grants

import (
	"regexp"
	"strconv"
	"strings"
)

var amountNumberRe = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?\s*(?:million|billion|bn|k|m)?\b`)

// parseAmountRange extracts a min/max award and currency from free text such as
// "£10,000 to £500,000" or "Up to £2 million". Absent bounds are nil.
func parseAmountRange(text, defaultCurrency string) (minAmount, maxAmount *float64, currency string) {
	lower := strings.ToLower(text)

	currency = defaultCurrency
	switch {
	case strings.Contains(lower, "£") || strings.Contains(lower, "gbp") || strings.Contains(lower, "pound"):
		currency = "GBP"
	case strings.Contains(lower, "€") || strings.Contains(lower, "eur"):
		currency = "EUR"
	case strings.Contains(lower, "$") || strings.Contains(lower, "usd") || strings.Contains(lower, "dollar"):
		currency = "USD"
	}

	var amounts []float64
	for _, m := range amountNumberRe.FindAllString(lower, -1) {
		if v, ok := parseAmountToken(m); ok && v > 0 {
			amounts = append(amounts, v)
		}
	}

	switch len(amounts) {
	case 0:
		return nil, nil, currency
	case 1:
		v := amounts[0]
		if strings.Contains(lower, "minimum") || strings.Contains(lower, "at least") || strings.Contains(lower, "from") {
			return &v, nil, currency
		}
		return nil, &v, currency
	}

	lo, hi := amounts[0], amounts[0]
	for _, a := range amounts[1:] {
		if a < lo {
			lo = a
		}
		if a > hi {
			hi = a
		}
	}
	return &lo, &hi, currency
}

func parseAmountToken(tok string) (float64, bool) {
	tok = strings.TrimSpace(tok)
	mult := 1.0
	for _, suf := range []struct {
		s string
		m float64
	}{
		{"billion", 1e9}, {"million", 1e6}, {"bn", 1e9}, {"m", 1e6}, {"k", 1e3},
	} {
		if strings.HasSuffix(tok, suf.s) {
			mult = suf.m
			tok = strings.TrimSpace(strings.TrimSuffix(tok, suf.s))
			break
		}
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(tok, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return v * mult, true
}
