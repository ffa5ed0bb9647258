package sic

import (
	"context"
	"embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/david/grantmatch/internal/models"
)

//go:embed data/reference.yaml
var referenceYAML embed.FS

type referenceFile struct {
	Codes []models.IndustryCodeDescription `yaml:"codes"`
}

// Reference is an in-memory SIC code lookup table.
type Reference struct {
	byCode map[string]models.IndustryCodeDescription
	codes  []string
}

// LoadReference reads the embedded reference list. When path is non-empty the
// file at that path is used instead.
func LoadReference(path string) (*Reference, error) {
	var (
		data []byte
		err  error
	)
	if path != "" {
		data, err = os.ReadFile(path)
	} else {
		data, err = referenceYAML.ReadFile("data/reference.yaml")
	}
	if err != nil {
		return nil, fmt.Errorf("reading sic reference: %w", err)
	}

	var f referenceFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing sic reference: %w", err)
	}
	return NewReference(f.Codes), nil
}

// NewReference indexes rows by code, filling section data derived from the code.
func NewReference(rows []models.IndustryCodeDescription) *Reference {
	r := &Reference{byCode: make(map[string]models.IndustryCodeDescription, len(rows))}
	for _, row := range rows {
		row = Complete(row)
		if row.Code == "" {
			continue
		}
		if _, dup := r.byCode[row.Code]; !dup {
			r.codes = append(r.codes, row.Code)
		}
		r.byCode[row.Code] = row
	}
	return r
}

// Complete fills the section, section name and division from the code when absent.
func Complete(row models.IndustryCodeDescription) models.IndustryCodeDescription {
	row.Code = strings.TrimSpace(row.Code)
	if row.Division == "" {
		row.Division = Division(row.Code)
	}
	if row.Section == "" {
		row.Section = SectionForCode(row.Code)
	}
	if row.SectionName == "" {
		row.SectionName = SectionNames[row.Section]
	}
	return row
}

// All returns every row in load order.
func (r *Reference) All() []models.IndustryCodeDescription {
	out := make([]models.IndustryCodeDescription, 0, len(r.codes))
	for _, c := range r.codes {
		out = append(out, r.byCode[c])
	}
	return out
}

// LookupDescriptions returns the known rows for codes, in input order. Unknown
// codes are skipped.
func (r *Reference) LookupDescriptions(_ context.Context, codes []string) ([]models.IndustryCodeDescription, error) {
	var out []models.IndustryCodeDescription
	for _, c := range codes {
		if row, ok := r.byCode[strings.TrimSpace(c)]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}
