package grants

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/david/grantmatch/internal/config"
	"github.com/david/grantmatch/internal/models"
	"github.com/david/grantmatch/internal/sic"
	"github.com/david/grantmatch/internal/sourceclient"
)

const (
	findAGrantSearchPath = "/grants"
	findAGrantDetailPath = "/grants/{id}"
	scraperUserAgent     = "Mozilla/5.0 (compatible; grantmatch/1.0; +https://github.com/david/grantmatch)"
)

var totalCountRe = regexp.MustCompile(`\d[\d,]*`)

// FindAGrantProvider scrapes an HTML grant listing described by CSS selectors.
// Requests go through the source client's transport and share its rate limit.
type FindAGrantProvider struct {
	client     *sourceclient.Client
	source     models.Source
	name       string
	enabled    bool
	searchPath string
	detailPath string
	selectors  config.SelectorConfig
	detail     config.DetailSelectorConfig
	timeout    time.Duration
	now        func() time.Time
}

type FindAGrantOptions struct {
	Source      models.Source
	DisplayName string
	Enabled     bool
	SearchPath  string
	DetailPath  string
	Selectors   config.SelectorConfig
	Detail      config.DetailSelectorConfig
	Timeout     time.Duration
}

func NewFindAGrantProvider(client *sourceclient.Client, opts FindAGrantOptions) *FindAGrantProvider {
	if opts.Source == "" {
		opts.Source = models.SourceFindAGrant
	}
	if opts.DisplayName == "" {
		opts.DisplayName = "Find a Grant"
	}
	if opts.SearchPath == "" {
		opts.SearchPath = findAGrantSearchPath
	}
	if opts.DetailPath == "" {
		opts.DetailPath = findAGrantDetailPath
	}
	if opts.Selectors.LinkAttr == "" {
		opts.Selectors.LinkAttr = "href"
	}
	if opts.Timeout == 0 {
		opts.Timeout = sourceclient.DefaultTimeout
	}
	return &FindAGrantProvider{
		client:     client,
		source:     opts.Source,
		name:       opts.DisplayName,
		enabled:    opts.Enabled,
		searchPath: opts.SearchPath,
		detailPath: opts.DetailPath,
		selectors:  opts.Selectors,
		detail:     opts.Detail,
		timeout:    opts.Timeout,
		now:        time.Now,
	}
}

func (p *FindAGrantProvider) Source() models.Source { return p.source }
func (p *FindAGrantProvider) DisplayName() string   { return p.name }
func (p *FindAGrantProvider) Enabled() bool         { return p.enabled }

// newCollector builds a single-use collector bound to ctx and the client's transport.
func (p *FindAGrantProvider) newCollector(ctx context.Context) *colly.Collector {
	c := colly.NewCollector(
		colly.UserAgent(scraperUserAgent),
		colly.AllowURLRevisit(),
		colly.DetectCharset(),
		colly.StdlibContext(ctx),
	)
	c.WithTransport(p.client.Transport())
	c.SetRequestTimeout(p.timeout)
	return c
}

type listingItem struct {
	link      string
	title     string
	summary   string
	funder    string
	amount    string
	openDate  string
	closeDate string
}

func (p *FindAGrantProvider) Search(ctx context.Context, params models.GrantSearchParams) (*models.SearchResult, error) {
	params = params.WithDefaults()

	q := url.Values{}
	if term := joinQuery(append([]string{params.Query}, sic.SearchTermsForSections(params.Sectors)...)...); term != "" {
		q.Set("searchTerm", term)
	}
	q.Set("page", strconv.Itoa(params.Page))
	target := p.client.URL(p.searchPath) + "?" + q.Encode()

	log.Printf("[FindAGrant] Fetching %s", target)

	var (
		items    []listingItem
		total    = -1
		scrapErr error
	)
	c := p.newCollector(ctx)
	sel := p.selectors
	c.OnHTML(sel.Container, func(e *colly.HTMLElement) {
		item := listingItem{
			title:     e.ChildText(sel.Title),
			summary:   e.ChildText(sel.Summary),
			funder:    e.ChildText(sel.Funder),
			amount:    e.ChildText(sel.Amount),
			openDate:  e.ChildText(sel.OpenDate),
			closeDate: e.ChildText(sel.CloseDate),
		}
		if href := e.ChildAttr(sel.Link, sel.LinkAttr); href != "" {
			item.link = e.Request.AbsoluteURL(href)
		}
		if item.title == "" {
			item.title = e.ChildText(sel.Link)
		}
		items = append(items, item)
	})
	if sel.Total != "" {
		c.OnHTML(sel.Total, func(e *colly.HTMLElement) {
			if total >= 0 {
				return
			}
			if m := totalCountRe.FindString(e.Text); m != "" {
				if n, err := strconv.Atoi(strings.ReplaceAll(m, ",", "")); err == nil {
					total = n
				}
			}
		})
	}
	c.OnError(func(r *colly.Response, err error) {
		scrapErr = scrapeError(p.client.Name(), r, err)
	})

	if err := c.Visit(target); err != nil && scrapErr == nil {
		scrapErr = err
	}
	if scrapErr != nil {
		return nil, scrapErr
	}

	now := p.now()
	grants := make([]models.NormalizedGrant, 0, len(items))
	for _, it := range items {
		if g, ok := p.normalize(it, now); ok {
			grants = append(grants, g)
		}
	}
	if total < 0 {
		total = len(grants)
	}

	pageSize := len(grants)
	if pageSize == 0 {
		pageSize = params.PageSize
	}
	return &models.SearchResult{
		Grants:       grants,
		TotalResults: total,
		Page:         params.Page,
		PageSize:     pageSize,
		TotalPages:   models.TotalPages(total, pageSize),
		Source:       p.source,
	}, nil
}

func (p *FindAGrantProvider) GetByID(ctx context.Context, externalID string) (*models.GrantDetail, error) {
	target := p.client.URL(strings.ReplaceAll(p.detailPath, "{id}", url.PathEscape(externalID)))

	var (
		detail   *models.GrantDetail
		scrapErr error
	)
	c := p.newCollector(ctx)
	d := p.detail
	container := d.Container
	if container == "" {
		container = "body"
	}
	c.OnHTML(container, func(e *colly.HTMLElement) {
		if detail != nil {
			return
		}
		it := listingItem{
			link:      e.Request.URL.String(),
			title:     e.ChildText(d.Title),
			funder:    e.ChildText(d.Funder),
			amount:    e.ChildText(d.Amount),
			openDate:  e.ChildText(d.OpenDate),
			closeDate: e.ChildText(d.CloseDate),
		}
		var descHTML string
		if d.Description != "" {
			descHTML, _ = e.DOM.Find(d.Description).First().Html()
		}
		g, ok := p.normalize(it, p.now())
		if !ok {
			return
		}
		g.ExternalID = externalID
		g.ID = CompositeID(p.source, externalID)
		g.Description = HTMLToText(descHTML)

		detail = &models.GrantDetail{NormalizedGrant: g}
		if d.Eligibility != "" {
			html, _ := e.DOM.Find(d.Eligibility).First().Html()
			detail.EligibilityCriteria = HTMLToText(html)
		}
		if d.HowToApply != "" {
			html, _ := e.DOM.Find(d.HowToApply).First().Html()
			detail.ApplicationProcess = HTMLToText(html)
		}
		if d.ContactEmail != "" {
			if href := e.ChildAttr(d.ContactEmail, "href"); href != "" {
				detail.ContactEmail = strings.TrimPrefix(href, "mailto:")
			}
		}
	})
	c.OnError(func(r *colly.Response, err error) {
		scrapErr = scrapeError(p.client.Name(), r, err)
	})

	if err := c.Visit(target); err != nil && scrapErr == nil {
		scrapErr = err
	}
	if scrapErr != nil {
		if sourceclient.IsNotFound(scrapErr) {
			return nil, nil
		}
		return nil, scrapErr
	}
	return detail, nil
}

func (p *FindAGrantProvider) normalize(it listingItem, now time.Time) (models.NormalizedGrant, bool) {
	title := normalizeSpace(it.title)
	if title == "" {
		return models.NormalizedGrant{}, false
	}
	externalID := slugFromURL(it.link)
	if externalID == "" {
		return models.NormalizedGrant{}, false
	}

	g := models.NormalizedGrant{
		ID:             CompositeID(p.source, externalID),
		Source:         p.source,
		ExternalID:     externalID,
		Title:          title,
		Description:    normalizeSpace(it.summary),
		FundingBody:    normalizeSpace(it.funder),
		Currency:       models.DefaultCurrency,
		ApplicationURL: it.link,
		Categories:     []string{},
	}
	if it.amount != "" {
		g.AmountMin, g.AmountMax, g.Currency = parseAmountRange(it.amount, models.DefaultCurrency)
	}
	g.OpenDate, _ = parseDate(it.openDate)
	g.CloseDate, _ = parseDate(it.closeDate)
	g.Status = DeriveStatus(g.OpenDate, g.CloseDate, now)
	return g, true
}

func slugFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	slug := path.Base(strings.TrimRight(u.Path, "/"))
	if slug == "." || slug == "/" {
		return ""
	}
	return slug
}

// scrapeError turns a colly failure into an UpstreamError when a response exists.
func scrapeError(client string, r *colly.Response, err error) error {
	if r != nil && r.StatusCode >= http.StatusBadRequest {
		return &sourceclient.UpstreamError{
			Client:     client,
			StatusCode: r.StatusCode,
			Body:       string(r.Body),
			URL:        r.Request.URL.String(),
		}
	}
	if err == nil {
		err = errors.New("scrape failed")
	}
	return fmt.Errorf("%s scrape: %w", client, err)
}
