// Package companieshouse reads company records from the Companies House public data API.
package companieshouse

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/david/grantmatch/internal/sourceclient"
)

const dateLayout = "2006-01-02"

type Address struct {
	AddressLine1 string `json:"address_line_1,omitempty"`
	AddressLine2 string `json:"address_line_2,omitempty"`
	Locality     string `json:"locality,omitempty"`
	Region       string `json:"region,omitempty"`
	PostalCode   string `json:"postal_code,omitempty"`
	Country      string `json:"country,omitempty"`
}

// String joins the non-empty address parts with ", ".
func (a Address) String() string {
	var parts []string
	for _, p := range []string{a.AddressLine1, a.AddressLine2, a.Locality, a.Region, a.PostalCode, a.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

type SearchItem struct {
	CompanyNumber  string   `json:"company_number"`
	Title          string   `json:"title"`
	CompanyStatus  string   `json:"company_status"`
	CompanyType    string   `json:"company_type"`
	DateOfCreation string   `json:"date_of_creation,omitempty"`
	AddressSnippet string   `json:"address_snippet,omitempty"`
	Address        Address  `json:"address"`
	SICCodes       []string `json:"sic_codes,omitempty"`
}

type SearchResponse struct {
	Items        []SearchItem `json:"items"`
	ItemsPerPage int          `json:"items_per_page"`
	PageNumber   int          `json:"page_number"`
	StartIndex   int          `json:"start_index"`
	TotalResults int          `json:"total_results"`
}

type Profile struct {
	CompanyName             string   `json:"company_name"`
	CompanyNumber           string   `json:"company_number"`
	CompanyStatus           string   `json:"company_status"`
	Type                    string   `json:"type"`
	DateOfCreation          string   `json:"date_of_creation,omitempty"`
	DateOfCessation         string   `json:"date_of_cessation,omitempty"`
	SICCodes                []string `json:"sic_codes"`
	RegisteredOfficeAddress Address  `json:"registered_office_address"`
	Jurisdiction            string   `json:"jurisdiction,omitempty"`
	HasCharges              bool     `json:"has_charges"`
}

// CreatedOn parses DateOfCreation. It returns nil when the date is absent or malformed.
func (p *Profile) CreatedOn() *time.Time {
	if p.DateOfCreation == "" {
		return nil
	}
	t, err := time.Parse(dateLayout, p.DateOfCreation)
	if err != nil {
		return nil
	}
	return &t
}

// Client is a Companies House API client. It shares one rate limit window
// across all callers.
type Client struct {
	http *sourceclient.Client
}

// New wraps a source client configured for Companies House.
func New(c *sourceclient.Client) *Client {
	return &Client{http: c}
}

// NewFromConfig builds the underlying source client. It fails with
// sourceclient.ErrMissingCredentials when no API key is configured.
func NewFromConfig(cfg sourceclient.Config) (*Client, error) {
	c, err := sourceclient.New(cfg)
	if err != nil {
		return nil, err
	}
	return New(c), nil
}

// SearchCompanies runs a free-text company search.
func (c *Client) SearchCompanies(ctx context.Context, query string, itemsPerPage, startIndex int) (*SearchResponse, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return &SearchResponse{Items: []SearchItem{}}, nil
	}
	if itemsPerPage <= 0 {
		itemsPerPage = 20
	}
	if startIndex < 0 {
		startIndex = 0
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("items_per_page", strconv.Itoa(itemsPerPage))
	q.Set("start_index", strconv.Itoa(startIndex))

	var out SearchResponse
	if err := c.http.GetJSON(ctx, "/search/companies?"+q.Encode(), &out); err != nil {
		return nil, fmt.Errorf("searching companies: %w", err)
	}
	if out.Items == nil {
		out.Items = []SearchItem{}
	}
	return &out, nil
}

// GetCompanyProfile fetches one company. A company unknown to Companies House
// returns (nil, nil).
func (c *Client) GetCompanyProfile(ctx context.Context, companyNumber string) (*Profile, error) {
	companyNumber = NormalizeNumber(companyNumber)
	if companyNumber == "" {
		return nil, nil
	}

	var out Profile
	if err := c.http.GetJSON(ctx, "/company/"+url.PathEscape(companyNumber), &out); err != nil {
		if sourceclient.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching company %s: %w", companyNumber, err)
	}
	return &out, nil
}

// NormalizeNumber upper-cases a company number and left-pads purely numeric
// numbers to eight digits.
func NormalizeNumber(n string) string {
	n = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(n), " ", ""))
	if n == "" || len(n) >= 8 {
		return n
	}
	if _, err := strconv.Atoi(n); err == nil {
		return strings.Repeat("0", 8-len(n)) + n
	}
	return n
}
