// Package matching tailors grant searches to a user's linked company and
// scores results against the company's industry profile.
package matching

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/david/grantmatch/internal/models"
	"github.com/david/grantmatch/internal/sic"
)

// MaxKeywords caps the terms appended to a company-matched query.
const MaxKeywords = 5

// CompanyStore finds the company linked to a user. No linked company is (nil, nil).
type CompanyStore interface {
	FindLinkedCompany(ctx context.Context, userID uuid.UUID) (*models.CompanyContext, error)
}

// IndustryCodeReference resolves SIC codes to their reference descriptions.
type IndustryCodeReference interface {
	LookupDescriptions(ctx context.Context, codes []string) ([]models.IndustryCodeDescription, error)
}

type Enhancer struct {
	companies CompanyStore
	reference IndustryCodeReference
}

func NewEnhancer(companies CompanyStore, reference IndustryCodeReference) *Enhancer {
	return &Enhancer{companies: companies, reference: reference}
}

// MatchResult is the rewritten search plus the company it was derived from.
// Company is nil when the user has no usable linked company.
type MatchResult struct {
	Params  models.GrantSearchParams
	Company *models.CompanyContext
}

// BuildCompanyMatchParams returns params enriched with the user's company
// sectors, SIC codes and description keywords.
func (e *Enhancer) BuildCompanyMatchParams(ctx context.Context, userID uuid.UUID, params models.GrantSearchParams) (models.GrantSearchParams, error) {
	res, err := e.Match(ctx, userID, params)
	if err != nil {
		return params, err
	}
	return res.Params, nil
}

// Match looks up the user's company and derives search terms from it. Terms
// are only ever added: the caller's query, sectors and codes come first and
// are kept as given. The input params are not modified.
func (e *Enhancer) Match(ctx context.Context, userID uuid.UUID, params models.GrantSearchParams) (MatchResult, error) {
	company, err := e.companies.FindLinkedCompany(ctx, userID)
	if err != nil {
		return MatchResult{Params: params}, fmt.Errorf("finding linked company: %w", err)
	}
	if company == nil || len(company.IndustryCodes) == 0 {
		return MatchResult{Params: params}, nil
	}

	var codes, sectors []string
	for _, ic := range company.IndustryCodes {
		codes = appendDistinct(codes, ic.Code)
		sectors = appendDistinct(sectors, sectionOf(ic))
	}

	out := params
	out.SICCodes = union(params.SICCodes, codes)
	out.Sectors = union(params.Sectors, sectors)

	keywords := e.keywords(ctx, codes, params.Query)
	if len(keywords) > 0 {
		extra := strings.Join(keywords, " ")
		if strings.TrimSpace(params.Query) == "" {
			out.Query = extra
		} else {
			out.Query = params.Query + " " + extra
		}
	}

	return MatchResult{Params: out, Company: company}, nil
}

// keywords draws up to MaxKeywords lowercase terms from the reference
// descriptions of codes, skipping terms the query already contains.
// A failed reference lookup yields no keywords.
func (e *Enhancer) keywords(ctx context.Context, codes []string, query string) []string {
	if e.reference == nil {
		return nil
	}
	rows, err := e.reference.LookupDescriptions(ctx, codes)
	if err != nil {
		log.Printf("[Matching] SIC reference lookup failed: %v", err)
		return nil
	}

	lowerQuery := strings.ToLower(query)
	var out []string
	for _, row := range rows {
		for _, term := range []string{row.Description, row.DivisionName} {
			term = strings.ToLower(strings.Join(strings.Fields(term), " "))
			if term == "" || strings.Contains(lowerQuery, term) {
				continue
			}
			out = appendDistinct(out, term)
			if len(out) == MaxKeywords {
				return out
			}
		}
	}
	return out
}

func sectionOf(ic models.IndustryCode) string {
	if ic.Section != "" {
		return strings.ToUpper(ic.Section)
	}
	return sic.SectionForCode(ic.Code)
}

func appendDistinct(list []string, v string) []string {
	if v == "" {
		return list
	}
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

// union returns a new slice holding base followed by the extra values it lacks.
func union(base, extra []string) []string {
	out := make([]string, 0, len(base)+len(extra))
	out = append(out, base...)
	for _, v := range extra {
		out = appendDistinct(out, v)
	}
	return out
}
