package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/david/grantmatch/internal/auth"
	"github.com/david/grantmatch/internal/db"
	"github.com/david/grantmatch/internal/matching"
	"github.com/david/grantmatch/internal/models"
	"github.com/david/grantmatch/internal/sic"
)

type quotaExceededResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
}

func (s *Server) handleSearchGrants(c echo.Context) error {
	ctx := c.Request().Context()
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return unauthorized(c)
	}

	if limit := s.Search.MonthlyQuota; limit > 0 {
		used, err := s.Store.CountSearchesSince(ctx, userID, db.MonthStart(s.now()))
		if err != nil {
			c.Logger().Errorf("Failed to check search quota: %v", err)
			return errorJSON(c, http.StatusInternalServerError, "Failed to search grants")
		}
		if used >= limit {
			return c.JSON(http.StatusForbidden, quotaExceededResponse{
				Error:     "Search limit reached",
				Message:   fmt.Sprintf("You've used all %d searches for this month.", limit),
				Limit:     limit,
				Remaining: 0,
			})
		}
	}

	params, err := s.parseSearchParams(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid parameters", "details": err.Error()})
	}

	searchParams := params
	var company *models.CompanyContext
	if params.MatchCompany {
		res, err := s.Enhancer.Match(ctx, userID, params)
		if err != nil {
			log.Printf("[API] Company match failed for %s, searching without it: %v", userID, err)
		} else {
			searchParams = res.Params
			company = res.Company
		}
	}

	result := s.Registry.SearchAll(ctx, searchParams)
	if company != nil {
		matching.ApplyScores(result.Grants, company, s.now())
	}

	s.recordSearch(ctx, userID, params, result.TotalResults)
	return c.JSON(http.StatusOK, result)
}

// recordSearch writes search history in the background. Failures are logged
// and never reach the caller.
func (s *Server) recordSearch(ctx context.Context, userID uuid.UUID, params models.GrantSearchParams, resultCount int) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.Search.HistoryTimeout())
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		defer cancel()
		if err := s.Store.RecordSearch(ctx, userID, params.Query, params, resultCount); err != nil {
			log.Printf("[API] Failed to record search history: %v", err)
		}
	}()
}

// parseSearchParams reads and validates the search query string.
func (s *Server) parseSearchParams(c echo.Context) (models.GrantSearchParams, error) {
	p := models.GrantSearchParams{
		Query:    strings.TrimSpace(c.QueryParam("q")),
		Page:     1,
		PageSize: s.Search.DefaultPageSize,
	}
	if p.PageSize <= 0 {
		p.PageSize = models.DefaultPageSize
	}
	maxPageSize := s.Search.MaxPageSize
	if maxPageSize <= 0 || maxPageSize > models.MaxPageSize {
		maxPageSize = models.MaxPageSize
	}

	for _, v := range c.QueryParams()["sic"] {
		p.SICCodes = append(p.SICCodes, splitCSV(v)...)
	}
	for _, v := range c.QueryParams()["sector"] {
		for _, sec := range splitCSV(v) {
			sec = strings.ToUpper(sec)
			if _, ok := sic.SectionNames[sec]; !ok {
				return p, fmt.Errorf("sector must be one of %s", strings.Join(sic.Letters(), ", "))
			}
			p.Sectors = append(p.Sectors, sec)
		}
	}

	var err error
	if p.MinAmount, err = parseAmount(c.QueryParam("minAmount")); err != nil {
		return p, fmt.Errorf("minAmount: %w", err)
	}
	if p.MaxAmount, err = parseAmount(c.QueryParam("maxAmount")); err != nil {
		return p, fmt.Errorf("maxAmount: %w", err)
	}
	if p.MinAmount != nil && p.MaxAmount != nil && *p.MinAmount > *p.MaxAmount {
		return p, fmt.Errorf("minAmount must not exceed maxAmount")
	}

	if v := c.QueryParam("status"); v != "" {
		p.Status = models.StatusFilter(strings.ToLower(v))
		if !p.Status.Valid() {
			return p, fmt.Errorf("status must be one of open, closed, upcoming, all")
		}
	}

	if v := c.QueryParam("matchCompany"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return p, fmt.Errorf("matchCompany must be a boolean")
		}
		p.MatchCompany = b
	}

	if v := c.QueryParam("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return p, fmt.Errorf("page must be an integer >= 1")
		}
		p.Page = n
	}
	if v := c.QueryParam("pageSize"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPageSize {
			return p, fmt.Errorf("pageSize must be between 1 and %d", maxPageSize)
		}
		p.PageSize = n
	}

	return p, nil
}

func parseAmount(v string) (*float64, error) {
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return nil, fmt.Errorf("must be a non-negative number")
	}
	return &f, nil
}

func (s *Server) handleGetGrant(c echo.Context) error {
	id := c.Param("id")
	if unescaped, err := url.PathUnescape(id); err == nil {
		id = unescaped
	}
	if source := strings.TrimSpace(c.QueryParam("source")); source != "" {
		id = source + ":" + id
	}

	detail, err := s.Registry.GetByID(c.Request().Context(), id)
	if err != nil {
		c.Logger().Errorf("Grant detail %s failed: %v", id, err)
		return errorJSON(c, http.StatusInternalServerError, "Failed to fetch grant details")
	}
	if detail == nil {
		return errorJSON(c, http.StatusNotFound, "Grant not found")
	}
	return c.JSON(http.StatusOK, detail)
}

// Saved grants

func (s *Server) handleListSavedGrants(c echo.Context) error {
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return unauthorized(c)
	}

	saved, err := s.Store.ListSavedGrants(c.Request().Context(), userID)
	if err != nil {
		c.Logger().Errorf("Failed to list saved grants: %v", err)
		return errorJSON(c, http.StatusInternalServerError, "Failed to fetch saved grants")
	}
	if saved == nil {
		saved = []models.SavedGrant{}
	}
	return c.JSON(http.StatusOK, saved)
}

func (s *Server) handleSaveGrant(c echo.Context) error {
	ctx := c.Request().Context()
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return unauthorized(c)
	}

	var req models.SavedGrant
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid request")
	}
	req.ExternalID = strings.TrimSpace(req.ExternalID)
	req.Title = strings.TrimSpace(req.Title)
	if req.Source == "" || req.ExternalID == "" || req.Title == "" {
		return errorJSON(c, http.StatusBadRequest, "grantSource, externalId, and title are required")
	}
	if req.Currency == "" {
		req.Currency = models.DefaultCurrency
	}

	if limit := s.Search.SavedGrantsLimit; limit > 0 {
		already, err := s.Store.IsGrantSaved(ctx, userID, req.Source, req.ExternalID)
		if err != nil {
			c.Logger().Errorf("Failed to check saved grant: %v", err)
			return errorJSON(c, http.StatusInternalServerError, "Failed to save grant")
		}
		if !already {
			count, err := s.Store.CountSavedGrants(ctx, userID)
			if err != nil {
				c.Logger().Errorf("Failed to count saved grants: %v", err)
				return errorJSON(c, http.StatusInternalServerError, "Failed to save grant")
			}
			if count >= limit {
				return c.JSON(http.StatusForbidden, map[string]any{
					"error": "Saved grant limit reached",
					"limit": limit,
				})
			}
		}
	}

	saved, err := s.Store.SaveGrant(ctx, userID, req)
	if err != nil {
		c.Logger().Errorf("Failed to save grant: %v", err)
		return errorJSON(c, http.StatusInternalServerError, "Failed to save grant")
	}
	return c.JSON(http.StatusCreated, saved)
}

func (s *Server) handleDeleteSavedGrant(c echo.Context) error {
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return unauthorized(c)
	}

	source := models.Source(strings.TrimSpace(c.QueryParam("source")))
	externalID := strings.TrimSpace(c.QueryParam("externalId"))
	if source == "" || externalID == "" {
		return errorJSON(c, http.StatusBadRequest, "source and externalId are required")
	}

	deleted, err := s.Store.DeleteSavedGrant(c.Request().Context(), userID, source, externalID)
	if err != nil {
		c.Logger().Errorf("Failed to delete saved grant: %v", err)
		return errorJSON(c, http.StatusInternalServerError, "Failed to remove grant")
	}
	if !deleted {
		return errorJSON(c, http.StatusNotFound, "Grant not found or already removed")
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

// splitCSV splits a comma-separated query parameter into trimmed non-empty strings.
func splitCSV(s string) []string {
	var result []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
