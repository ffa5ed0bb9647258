package grants

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/david/grantmatch/internal/models"
	"github.com/david/grantmatch/internal/sic"
	"github.com/david/grantmatch/internal/sourceclient"
)

const (
	gtrDefaultQuery  = "grant funding"
	gtrMaxPageSize   = 100
	gtrSectorTerms   = 5
	gtrDefaultFunder = "UKRI"
	gtrProjectURL    = "https://gtr.ukri.org/projects?ref="
)

// GtRProvider searches UKRI Gateway to Research projects.
type GtRProvider struct {
	client      *sourceclient.Client
	name        string
	enabled     bool
	maxPageSize int
	detailTTL   time.Duration
	now         func() time.Time
}

type GtROptions struct {
	DisplayName string
	Enabled     bool
	MaxPageSize int
	DetailTTL   time.Duration
}

func NewGtRProvider(client *sourceclient.Client, opts GtROptions) *GtRProvider {
	if opts.DisplayName == "" {
		opts.DisplayName = "UKRI Gateway to Research"
	}
	if opts.MaxPageSize <= 0 || opts.MaxPageSize > gtrMaxPageSize {
		opts.MaxPageSize = gtrMaxPageSize
	}
	return &GtRProvider{
		client:      client,
		name:        opts.DisplayName,
		enabled:     opts.Enabled,
		maxPageSize: opts.MaxPageSize,
		detailTTL:   opts.DetailTTL,
		now:         time.Now,
	}
}

func (p *GtRProvider) Source() models.Source { return models.SourceGtR }
func (p *GtRProvider) DisplayName() string   { return p.name }
func (p *GtRProvider) Enabled() bool         { return p.enabled }

type gtrProjectsResponse struct {
	Project    []gtrProject `json:"project"`
	Page       int          `json:"page"`
	Size       int          `json:"size"`
	TotalPages int          `json:"totalPages"`
	TotalSize  int          `json:"totalSize"`
}

type gtrProject struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	Status           string `json:"status"`
	AbstractText     string `json:"abstractText"`
	TechAbstractText string `json:"techAbstractText"`
	Fund             *struct {
		ValuePounds *struct {
			Amount       *float64 `json:"amount"`
			CurrencyCode string   `json:"currencyCode"`
		} `json:"valuePounds"`
		Start  gtrTime `json:"start"`
		End    gtrTime `json:"end"`
		Type   string  `json:"type"`
		Funder *struct {
			Name string `json:"name"`
		} `json:"funder"`
	} `json:"fund"`
	GrantCategory              string `json:"grantCategory"`
	LeadOrganisationDepartment string `json:"leadOrganisationDepartment"`
	Identifiers                *struct {
		Identifier []struct {
			Value string `json:"value"`
			Type  string `json:"type"`
		} `json:"identifier"`
	} `json:"identifiers"`
}

// gtrTime accepts both epoch milliseconds and ISO-8601 strings.
type gtrTime struct {
	t *time.Time
}

func (g *gtrTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if t, ok := parseDate(s); ok {
			g.t = t
		}
		return nil
	}
	ms, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("gtr time %s: %w", b, err)
	}
	t := time.UnixMilli(ms).UTC()
	g.t = &t
	return nil
}

func (p *GtRProvider) buildQuery(params models.GrantSearchParams) string {
	var sectorTerms string
	if len(params.Sectors) > 0 {
		sectorTerms = strings.Join(sic.KeywordsForSections(params.Sectors, gtrSectorTerms), " ")
	}
	q := joinQuery(params.Query, sectorTerms)
	if q == "" {
		return gtrDefaultQuery
	}
	return q
}

func (p *GtRProvider) Search(ctx context.Context, params models.GrantSearchParams) (*models.SearchResult, error) {
	params = params.WithDefaults()
	size := params.PageSize
	if size > p.maxPageSize {
		size = p.maxPageSize
	}

	q := url.Values{}
	q.Set("q", p.buildQuery(params))
	q.Set("p", strconv.Itoa(params.Page))
	q.Set("s", strconv.Itoa(size))

	log.Printf("[GtR] Fetching page=%d size=%d q=%q", params.Page, size, q.Get("q"))

	var resp gtrProjectsResponse
	if err := p.client.GetJSON(ctx, "/projects?"+q.Encode(), &resp); err != nil {
		return nil, err
	}

	now := p.now()
	grants := make([]models.NormalizedGrant, 0, len(resp.Project))
	for _, proj := range resp.Project {
		grants = append(grants, p.normalize(proj, now))
	}

	out := &models.SearchResult{
		Grants:       grants,
		TotalResults: resp.TotalSize,
		Page:         resp.Page,
		PageSize:     resp.Size,
		TotalPages:   resp.TotalPages,
		Source:       models.SourceGtR,
	}
	if out.Page == 0 {
		out.Page = params.Page
	}
	if out.PageSize == 0 {
		out.PageSize = size
	}
	return out, nil
}

func (p *GtRProvider) GetByID(ctx context.Context, externalID string) (*models.GrantDetail, error) {
	body, err := p.client.Get(ctx, "/projects/"+url.PathEscape(externalID), sourceclient.WithCacheTTL(p.detailTTL))
	if err != nil {
		if sourceclient.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var proj gtrProject
	if err := json.Unmarshal(body, &proj); err != nil {
		return nil, fmt.Errorf("decoding gtr project: %w", err)
	}
	if proj.ID == "" {
		return nil, nil
	}

	return &models.GrantDetail{
		NormalizedGrant:     p.normalize(proj, p.now()),
		EligibilityCriteria: normalizeSpace(proj.TechAbstractText),
		RawData:             json.RawMessage(body),
	}, nil
}

func (p *GtRProvider) normalize(proj gtrProject, now time.Time) models.NormalizedGrant {
	g := models.NormalizedGrant{
		ID:          CompositeID(models.SourceGtR, proj.ID),
		Source:      models.SourceGtR,
		ExternalID:  proj.ID,
		Title:       normalizeSpace(proj.Title),
		Description: normalizeSpace(proj.AbstractText),
		FundingBody: gtrDefaultFunder,
		Currency:    models.DefaultCurrency,
		Categories:  []string{},
	}

	if f := proj.Fund; f != nil {
		g.OpenDate = f.Start.t
		g.CloseDate = f.End.t
		if f.Funder != nil && f.Funder.Name != "" {
			g.FundingBody = f.Funder.Name
		}
		if v := f.ValuePounds; v != nil {
			if v.Amount != nil {
				g.AmountMin = floatPtr(*v.Amount)
				g.AmountMax = floatPtr(*v.Amount)
			}
			if v.CurrencyCode != "" {
				g.Currency = v.CurrencyCode
			}
		}
	}
	g.Status = DeriveStatus(g.OpenDate, g.CloseDate, now)
	g.Categories = appendUnique(g.Categories, proj.GrantCategory)

	meta := map[string]any{}
	if proj.LeadOrganisationDepartment != "" {
		meta["department"] = proj.LeadOrganisationDepartment
	}
	if proj.Identifiers != nil {
		for _, id := range proj.Identifiers.Identifier {
			if id.Type == "RCUK" {
				meta["projectReference"] = id.Value
				g.ApplicationURL = gtrProjectURL + url.QueryEscape(id.Value)
				break
			}
		}
	}
	if len(meta) > 0 {
		g.Metadata = meta
	}
	return g
}
