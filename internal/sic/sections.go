// Package sic holds the UK SIC 2007 section taxonomy used to steer upstream
// queries and to score grants against a company's industry codes.
package sic

import (
	"sort"
	"strconv"
	"strings"
)

// SectionNames maps section letters to their SIC 2007 titles.
var SectionNames = map[string]string{
	"A": "Agriculture, forestry and fishing",
	"B": "Mining and quarrying",
	"C": "Manufacturing",
	"D": "Electricity, gas, steam and air conditioning supply",
	"E": "Water supply, sewerage, waste management and remediation activities",
	"F": "Construction",
	"G": "Wholesale and retail trade; repair of motor vehicles and motorcycles",
	"H": "Transportation and storage",
	"I": "Accommodation and food service activities",
	"J": "Information and communication",
	"K": "Financial and insurance activities",
	"L": "Real estate activities",
	"M": "Professional, scientific and technical activities",
	"N": "Administrative and support service activities",
	"O": "Public administration and defence; compulsory social security",
	"P": "Education",
	"Q": "Human health and social work activities",
	"R": "Arts, entertainment and recreation",
	"S": "Other service activities",
	"T": "Activities of households as employers",
	"U": "Activities of extraterritorial organisations and bodies",
}

// SectionKeywords are lowercase terms that signal a grant targets a section.
// Order matters: the first entries are the ones sent upstream.
var SectionKeywords = map[string][]string{
	"A": {"agriculture", "farming", "agri-tech", "forestry", "fishing", "food production"},
	"B": {"mining", "quarrying", "extraction", "minerals"},
	"C": {"manufacturing", "production", "engineering", "industrial", "advanced materials"},
	"D": {"energy", "renewable", "electricity", "net zero", "low carbon"},
	"E": {"waste", "water", "recycling", "circular economy", "environment"},
	"F": {"construction", "building", "infrastructure", "housing", "retrofit"},
	"G": {"retail", "wholesale", "trade", "e-commerce", "high street"},
	"H": {"transport", "logistics", "freight", "mobility", "aviation"},
	"I": {"hospitality", "tourism", "food service", "accommodation"},
	"J": {"technology", "digital", "software", "telecommunications", "data"},
	"K": {"finance", "fintech", "insurance", "banking"},
	"L": {"property", "real estate"},
	"M": {"research", "innovation", "scientific", "consultancy", "r&d"},
	"N": {"business support", "administration", "employment", "recruitment"},
	"O": {"public sector", "defence", "government"},
	"P": {"education", "training", "skills", "learning"},
	"Q": {"health", "healthcare", "medical", "social care", "life sciences"},
	"R": {"arts", "culture", "creative", "sport", "heritage"},
	"S": {"community", "charity", "voluntary", "membership"},
	"T": {"household"},
	"U": {"international"},
}

// SectionSearchTerms are the catalogue search phrases used for open-data queries.
var SectionSearchTerms = map[string]string{
	"A": "agriculture",
	"B": "mining",
	"C": "manufacturing",
	"D": "energy",
	"E": "environment water",
	"F": "construction",
	"G": "retail wholesale",
	"H": "transport",
	"I": "hospitality",
	"J": "technology digital",
	"K": "finance",
	"L": "real estate",
	"M": "scientific research",
	"N": "administration",
	"O": "public administration",
	"P": "education",
	"Q": "health",
	"R": "arts entertainment",
	"S": "community services",
}

// divisionRanges maps inclusive SIC 2007 division ranges to sections.
var divisionRanges = []struct {
	from, to int
	section  string
}{
	{1, 3, "A"}, {5, 9, "B"}, {10, 33, "C"}, {35, 35, "D"}, {36, 39, "E"},
	{41, 43, "F"}, {45, 47, "G"}, {49, 53, "H"}, {55, 56, "I"}, {58, 63, "J"},
	{64, 66, "K"}, {68, 68, "L"}, {69, 75, "M"}, {77, 82, "N"}, {84, 84, "O"},
	{85, 85, "P"}, {86, 88, "Q"}, {90, 93, "R"}, {94, 96, "S"}, {97, 98, "T"},
	{99, 99, "U"},
}

// Division returns the two-digit division prefix of a SIC code, or "".
func Division(code string) string {
	code = strings.TrimSpace(code)
	if len(code) == 4 {
		code = "0" + code
	}
	if len(code) < 2 {
		return ""
	}
	if _, err := strconv.Atoi(code[:2]); err != nil {
		return ""
	}
	return code[:2]
}

// SectionForCode derives the section letter from a SIC code's division.
func SectionForCode(code string) string {
	div := Division(code)
	if div == "" {
		return ""
	}
	n, _ := strconv.Atoi(div)
	for _, r := range divisionRanges {
		if n >= r.from && n <= r.to {
			return r.section
		}
	}
	return ""
}

// KeywordsForSections flattens the keyword lists of the given sections, in
// input order, and truncates to limit (0 means no limit).
func KeywordsForSections(sections []string, limit int) []string {
	var out []string
	for _, s := range sections {
		for _, kw := range SectionKeywords[strings.ToUpper(s)] {
			out = append(out, kw)
			if limit > 0 && len(out) == limit {
				return out
			}
		}
	}
	return out
}

// SearchTermsForSections returns the catalogue search phrases for the given sections.
func SearchTermsForSections(sections []string) []string {
	var out []string
	for _, s := range sections {
		if term, ok := SectionSearchTerms[strings.ToUpper(s)]; ok {
			out = append(out, term)
		}
	}
	return out
}

// Letters returns every known section letter, sorted.
func Letters() []string {
	out := make([]string, 0, len(SectionNames))
	for k := range SectionNames {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
