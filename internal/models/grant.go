package models

import (
	"encoding/json"
	"time"
)

// Source identifies an upstream grant provider. The set is open: providers
// registered at runtime bring their own identifier.
type Source string

const (
	SourceGtR        Source = "gtr"
	SourceDataGov    Source = "datagov"
	SourceFindAGrant Source = "findagrant"
)

type GrantStatus string

const (
	StatusOpen     GrantStatus = "open"
	StatusClosed   GrantStatus = "closed"
	StatusUpcoming GrantStatus = "upcoming"
	StatusUnknown  GrantStatus = "unknown"
)

// StatusFilter is the caller-facing status selector; "all" (or empty) disables filtering.
type StatusFilter string

const (
	FilterAll      StatusFilter = "all"
	FilterOpen     StatusFilter = "open"
	FilterClosed   StatusFilter = "closed"
	FilterUpcoming StatusFilter = "upcoming"
)

func (f StatusFilter) Valid() bool {
	switch f {
	case "", FilterAll, FilterOpen, FilterClosed, FilterUpcoming:
		return true
	}
	return false
}

// NormalizedGrant is the source-agnostic shape every provider converts into.
// Amounts and dates are nil when the upstream does not state them.
type NormalizedGrant struct {
	ID             string         `json:"id"`
	Source         Source         `json:"source"`
	ExternalID     string         `json:"externalId"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	FundingBody    string         `json:"fundingBody"`
	AmountMin      *float64       `json:"amountMin,omitempty"`
	AmountMax      *float64       `json:"amountMax,omitempty"`
	Currency       string         `json:"currency"`
	Status         GrantStatus    `json:"status"`
	OpenDate       *time.Time     `json:"openDate,omitempty"`
	CloseDate      *time.Time     `json:"closeDate,omitempty"`
	ApplicationURL string         `json:"applicationUrl,omitempty"`
	Categories     []string       `json:"categories"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	RelevanceScore *int           `json:"relevanceScore,omitempty"`
}

type RelatedGrant struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// GrantDetail is only produced by by-ID lookups.
type GrantDetail struct {
	NormalizedGrant
	EligibilityCriteria string          `json:"eligibilityCriteria,omitempty"`
	ApplicationProcess  string          `json:"applicationProcess,omitempty"`
	ContactEmail        string          `json:"contactEmail,omitempty"`
	ContactPhone        string          `json:"contactPhone,omitempty"`
	Region              string          `json:"region,omitempty"`
	RelatedGrants       []RelatedGrant  `json:"relatedGrants,omitempty"`
	RawData             json.RawMessage `json:"rawData,omitempty"`
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	DefaultCurrency = "GBP"
)

type GrantSearchParams struct {
	Query        string       `json:"query,omitempty"`
	SICCodes     []string     `json:"sicCodes,omitempty"`
	Sectors      []string     `json:"sectors,omitempty"`
	MinAmount    *float64     `json:"minAmount,omitempty"`
	MaxAmount    *float64     `json:"maxAmount,omitempty"`
	Status       StatusFilter `json:"status,omitempty"`
	MatchCompany bool         `json:"matchCompany,omitempty"`
	Page         int          `json:"page"`
	PageSize     int          `json:"pageSize"`
}

// WithDefaults fills zero paging values.
func (p GrantSearchParams) WithDefaults() GrantSearchParams {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

// SearchResult is one provider's answer for a single page.
type SearchResult struct {
	Grants       []NormalizedGrant `json:"grants"`
	TotalResults int               `json:"totalResults"`
	Page         int               `json:"page"`
	PageSize     int               `json:"pageSize"`
	TotalPages   int               `json:"totalPages"`
	Source       Source            `json:"source"`
}

// AggregatedResult is the merged, filtered and paginated view over every provider.
// TotalResults counts the merged pool, not the upstream totals.
type AggregatedResult struct {
	Grants          []NormalizedGrant `json:"grants"`
	TotalResults    int               `json:"totalResults"`
	Page            int               `json:"page"`
	PageSize        int               `json:"pageSize"`
	TotalPages      int               `json:"totalPages"`
	SourceBreakdown map[Source]int    `json:"sourceBreakdown"`
	FailedSources   []Source          `json:"failedSources"`
}

// TotalPages returns ceil(total/pageSize).
func TotalPages(total, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}
