package grants

import (
	"context"
	"encoding/json"
	"errors"
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
	datagovBaseQuery     = "grant"
	datagovDefaultFunder = "UK Government"
	datagovMaxRows       = 100
)

// DataGovProvider searches the data.gov.uk CKAN catalogue for grant datasets.
type DataGovProvider struct {
	client    *sourceclient.Client
	name      string
	enabled   bool
	maxRows   int
	detailTTL time.Duration
	now       func() time.Time
}

type DataGovOptions struct {
	DisplayName string
	Enabled     bool
	MaxPageSize int
	DetailTTL   time.Duration
}

func NewDataGovProvider(client *sourceclient.Client, opts DataGovOptions) *DataGovProvider {
	if opts.DisplayName == "" {
		opts.DisplayName = "Data.gov.uk Government Grants"
	}
	if opts.MaxPageSize <= 0 || opts.MaxPageSize > datagovMaxRows {
		opts.MaxPageSize = datagovMaxRows
	}
	return &DataGovProvider{
		client:    client,
		name:      opts.DisplayName,
		enabled:   opts.Enabled,
		maxRows:   opts.MaxPageSize,
		detailTTL: opts.DetailTTL,
		now:       time.Now,
	}
}

func (p *DataGovProvider) Source() models.Source { return models.SourceDataGov }
func (p *DataGovProvider) DisplayName() string   { return p.name }
func (p *DataGovProvider) Enabled() bool         { return p.enabled }

var errCKANUnsuccessful = errors.New("data.gov.uk API returned success=false")

type ckanSearchResponse struct {
	Success bool `json:"success"`
	Result  struct {
		Count   int           `json:"count"`
		Results []ckanPackage `json:"results"`
	} `json:"result"`
}

type ckanShowResponse struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
}

type ckanPackage struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Title            string `json:"title"`
	Notes            string `json:"notes"`
	MetadataCreated  string `json:"metadata_created"`
	MetadataModified string `json:"metadata_modified"`
	MaintainerEmail  string `json:"maintainer_email"`
	AuthorEmail      string `json:"author_email"`
	Organization     *struct {
		Title string `json:"title"`
		Name  string `json:"name"`
	} `json:"organization"`
	Resources []struct {
		ID          string `json:"id"`
		URL         string `json:"url"`
		Format      string `json:"format"`
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"resources"`
	Tags []struct {
		Name string `json:"name"`
	} `json:"tags"`
	Extras []struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	} `json:"extras"`
}

func (pkg ckanPackage) extra(keys ...string) string {
	for _, k := range keys {
		for _, e := range pkg.Extras {
			if strings.EqualFold(e.Key, k) && strings.TrimSpace(e.Value) != "" {
				return strings.TrimSpace(e.Value)
			}
		}
	}
	return ""
}

func (p *DataGovProvider) buildQuery(params models.GrantSearchParams) string {
	return joinQuery(append([]string{datagovBaseQuery, params.Query}, sic.SearchTermsForSections(params.Sectors)...)...)
}

func (p *DataGovProvider) Search(ctx context.Context, params models.GrantSearchParams) (*models.SearchResult, error) {
	params = params.WithDefaults()
	rows := params.PageSize
	if rows > p.maxRows {
		rows = p.maxRows
	}
	start := (params.Page - 1) * rows

	q := url.Values{}
	q.Set("q", p.buildQuery(params))
	q.Set("rows", strconv.Itoa(rows))
	q.Set("start", strconv.Itoa(start))

	log.Printf("[DataGov] Fetching start=%d rows=%d q=%q", start, rows, q.Get("q"))

	var resp ckanSearchResponse
	if err := p.client.GetJSON(ctx, "/package_search?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, errCKANUnsuccessful
	}

	now := p.now()
	grants := make([]models.NormalizedGrant, 0, len(resp.Result.Results))
	for _, pkg := range resp.Result.Results {
		grants = append(grants, p.normalize(pkg, now))
	}

	return &models.SearchResult{
		Grants:       grants,
		TotalResults: resp.Result.Count,
		Page:         params.Page,
		PageSize:     rows,
		TotalPages:   models.TotalPages(resp.Result.Count, rows),
		Source:       models.SourceDataGov,
	}, nil
}

func (p *DataGovProvider) GetByID(ctx context.Context, externalID string) (*models.GrantDetail, error) {
	var resp ckanShowResponse
	err := p.client.GetJSON(ctx, "/package_show?id="+url.QueryEscape(externalID), &resp, sourceclient.WithCacheTTL(p.detailTTL))
	if err != nil {
		if sourceclient.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if !resp.Success || len(resp.Result) == 0 || string(resp.Result) == "null" {
		return nil, nil
	}

	var pkg ckanPackage
	if err := json.Unmarshal(resp.Result, &pkg); err != nil {
		return nil, fmt.Errorf("decoding ckan package: %w", err)
	}

	d := &models.GrantDetail{
		NormalizedGrant: p.normalize(pkg, p.now()),
		Region:          pkg.extra("spatial", "geographic_coverage", "geographical_coverage"),
		ContactEmail:    firstNonEmpty(pkg.extra("contact-email", "contact_email"), pkg.MaintainerEmail, pkg.AuthorEmail),
		RawData:         resp.Result,
	}
	for _, r := range pkg.Resources {
		if r.Description != "" && d.ApplicationProcess == "" && r.URL == d.ApplicationURL {
			d.ApplicationProcess = MarkdownToText(r.Description)
		}
	}
	return d, nil
}

func (p *DataGovProvider) normalize(pkg ckanPackage, now time.Time) models.NormalizedGrant {
	g := models.NormalizedGrant{
		ID:          CompositeID(models.SourceDataGov, pkg.ID),
		Source:      models.SourceDataGov,
		ExternalID:  pkg.ID,
		Title:       normalizeSpace(pkg.Title),
		Description: MarkdownToText(pkg.Notes),
		FundingBody: datagovDefaultFunder,
		Currency:    models.DefaultCurrency,
		Categories:  []string{},
	}
	if pkg.Organization != nil && pkg.Organization.Title != "" {
		g.FundingBody = pkg.Organization.Title
	}
	for _, t := range pkg.Tags {
		g.Categories = appendUnique(g.Categories, t.Name)
	}
	if len(pkg.Resources) > 0 {
		g.ApplicationURL = pkg.Resources[0].URL
	}

	// Coverage extras are the only dates that describe the grant itself.
	from, _ := parseDate(pkg.extra("temporal_coverage-from", "temporal_coverage_from"))
	to, _ := parseDate(pkg.extra("temporal_coverage-to", "temporal_coverage_to"))
	if from != nil || to != nil {
		g.Status = DeriveStatus(from, to, now)
	} else {
		g.Status = models.StatusUnknown
	}
	g.OpenDate = from
	if g.OpenDate == nil {
		g.OpenDate, _ = parseDate(pkg.MetadataCreated)
	}
	g.CloseDate = to

	meta := map[string]any{}
	if pkg.Name != "" {
		meta["datasetName"] = pkg.Name
	}
	if pkg.Organization != nil && pkg.Organization.Name != "" {
		meta["organization"] = pkg.Organization.Name
	}
	if pkg.MetadataModified != "" {
		meta["modified"] = pkg.MetadataModified
	}
	if len(pkg.Resources) > 0 {
		meta["resourceCount"] = len(pkg.Resources)
	}
	if len(meta) > 0 {
		g.Metadata = meta
	}
	return g
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
