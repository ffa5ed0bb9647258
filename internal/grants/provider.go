// Package grants aggregates funding opportunities from independent upstream
// sources into one normalized, deterministically ordered result set.
package grants

import (
	"context"

	"github.com/david/grantmatch/internal/models"
)

// Provider adapts one upstream source to the normalized grant shape.
//
// GetByID returns (nil, nil) when the upstream reports the record does not
// exist; any other failure is an error.
type Provider interface {
	Source() models.Source
	DisplayName() string
	Enabled() bool
	Search(ctx context.Context, params models.GrantSearchParams) (*models.SearchResult, error)
	GetByID(ctx context.Context, externalID string) (*models.GrantDetail, error)
}

// ProviderInfo describes a registered provider for listings.
type ProviderInfo struct {
	Source      models.Source `json:"source"`
	DisplayName string        `json:"displayName"`
	Enabled     bool          `json:"enabled"`
}
