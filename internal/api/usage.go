package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/david/grantmatch/internal/auth"
	"github.com/david/grantmatch/internal/db"
)

type usageResponse struct {
	PeriodStart       time.Time `json:"periodStart"`
	SearchesUsed      int       `json:"searchesUsed"`
	SearchLimit       *int      `json:"searchLimit"`
	SearchesRemaining *int      `json:"searchesRemaining"`
	SavedGrants       int       `json:"savedGrants"`
	SavedGrantsLimit  *int      `json:"savedGrantsLimit"`
}

// handleUsage reports this month's searches and the saved-grant count. A nil
// limit means unlimited.
func (s *Server) handleUsage(c echo.Context) error {
	ctx := c.Request().Context()
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return unauthorized(c)
	}

	start := db.MonthStart(s.now())
	searches, err := s.Store.CountSearchesSince(ctx, userID, start)
	if err != nil {
		c.Logger().Errorf("Failed to count searches: %v", err)
		return errorJSON(c, http.StatusInternalServerError, "Failed to get usage stats")
	}
	saved, err := s.Store.CountSavedGrants(ctx, userID)
	if err != nil {
		c.Logger().Errorf("Failed to count saved grants: %v", err)
		return errorJSON(c, http.StatusInternalServerError, "Failed to get usage stats")
	}

	resp := usageResponse{PeriodStart: start, SearchesUsed: searches, SavedGrants: saved}
	if limit := s.Search.MonthlyQuota; limit > 0 {
		remaining := max(0, limit-searches)
		resp.SearchLimit = &limit
		resp.SearchesRemaining = &remaining
	}
	if limit := s.Search.SavedGrantsLimit; limit > 0 {
		resp.SavedGrantsLimit = &limit
	}
	return c.JSON(http.StatusOK, resp)
}
