package grants

import (
	"sort"
	"strings"

	"github.com/david/grantmatch/internal/models"
)

// CompositeID joins a source and its upstream identifier.
func CompositeID(source models.Source, externalID string) string {
	return string(source) + ":" + externalID
}

// SplitCompositeID splits at the first ':'; the tail keeps any further colons.
func SplitCompositeID(id string) (models.Source, string, bool) {
	source, externalID, ok := strings.Cut(id, ":")
	if !ok || source == "" || externalID == "" {
		return "", "", false
	}
	return models.Source(source), externalID, true
}

// filterGrants applies the caller's status and amount filters to the pool.
// A grant with no stated amount is kept; a stated range must overlap the request.
func filterGrants(pool []models.NormalizedGrant, params models.GrantSearchParams) []models.NormalizedGrant {
	wantStatus := params.Status != "" && params.Status != models.FilterAll
	if !wantStatus && params.MinAmount == nil && params.MaxAmount == nil {
		return pool
	}

	out := pool[:0:0]
	for _, g := range pool {
		if wantStatus && string(g.Status) != string(params.Status) {
			continue
		}
		if params.MinAmount != nil {
			if hi := upperAmount(g); hi != nil && *hi < *params.MinAmount {
				continue
			}
		}
		if params.MaxAmount != nil {
			if lo := lowerAmount(g); lo != nil && *lo > *params.MaxAmount {
				continue
			}
		}
		out = append(out, g)
	}
	return out
}

func upperAmount(g models.NormalizedGrant) *float64 {
	if g.AmountMax != nil {
		return g.AmountMax
	}
	return g.AmountMin
}

func lowerAmount(g models.NormalizedGrant) *float64 {
	if g.AmountMin != nil {
		return g.AmountMin
	}
	return g.AmountMax
}

// sortGrants orders by status rank, then earliest close date when both grants
// have one. Ties keep their pool order.
func sortGrants(pool []models.NormalizedGrant) {
	sort.SliceStable(pool, func(i, j int) bool {
		a, b := pool[i], pool[j]
		ra, rb := statusRank(a.Status), statusRank(b.Status)
		if ra != rb {
			return ra < rb
		}
		if a.CloseDate != nil && b.CloseDate != nil {
			return a.CloseDate.Before(*b.CloseDate)
		}
		return false
	})
}

// paginate returns the 1-based page of the pool. Out-of-range pages are empty.
func paginate(pool []models.NormalizedGrant, page, pageSize int) []models.NormalizedGrant {
	start := (page - 1) * pageSize
	if start >= len(pool) {
		return []models.NormalizedGrant{}
	}
	end := start + pageSize
	if end > len(pool) {
		end = len(pool)
	}
	return pool[start:end]
}
