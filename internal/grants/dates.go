package grants

import (
	"regexp"
	"strings"
	"time"
)

var ordinalSuffixRe = regexp.MustCompile(`(\d+)(st|nd|rd|th)\b`)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2 January 2006, 3:04pm",
	"2 January 2006 3:04pm",
	"2 January 2006",
	"02 January 2006",
	"2 Jan 2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"02/01/2006",
}

// parseDate parses the date formats seen across UK government sources.
// Date-only values are taken as UTC midnight.
func parseDate(text string) (*time.Time, bool) {
	text = normalizeSpace(text)
	if text == "" {
		return nil, false
	}
	text = ordinalSuffixRe.ReplaceAllString(text, "$1")
	text = strings.ReplaceAll(text, " at ", " ")
	text = strings.NewReplacer("AM", "am", "PM", "pm", "a.m.", "am", "p.m.", "pm").Replace(text)

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			t = t.UTC()
			return &t, true
		}
	}
	return nil, false
}
