package grants

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

var (
	markdown     = goldmark.New()
	htmlSanitize = bluemonday.UGCPolicy()
)

// normalizeSpace collapses runs of whitespace into one space and trims the string.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// HTMLToText sanitizes upstream HTML and returns its visible text.
func HTMLToText(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	safe := htmlSanitize.Sanitize(html)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(safe))
	if err != nil {
		return normalizeSpace(safe)
	}
	// Keep block boundaries as spaces.
	doc.Find("p, li, br, h1, h2, h3, h4, h5, h6, div, tr").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml(" ")
	})
	return normalizeSpace(doc.Text())
}

// MarkdownToText renders Markdown (as used in catalogue notes) and returns its text.
func MarkdownToText(md string) string {
	if strings.TrimSpace(md) == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return normalizeSpace(md)
	}
	return HTMLToText(buf.String())
}

// appendUnique appends v if no case-insensitive match is already present.
func appendUnique(list []string, v string) []string {
	v = normalizeSpace(v)
	if v == "" {
		return list
	}
	for _, existing := range list {
		if strings.EqualFold(existing, v) {
			return list
		}
	}
	return append(list, v)
}

// joinQuery joins non-empty query fragments with single spaces.
func joinQuery(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p = normalizeSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

func floatPtr(v float64) *float64 { return &v }
