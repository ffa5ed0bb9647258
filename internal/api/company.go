package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/david/grantmatch/internal/auth"
	"github.com/david/grantmatch/internal/companieshouse"
	"github.com/david/grantmatch/internal/db"
	"github.com/david/grantmatch/internal/models"
	"github.com/david/grantmatch/internal/sic"
)

const maxCompanyResults = 100

func (s *Server) companiesUnavailable(c echo.Context) error {
	return errorJSON(c, http.StatusServiceUnavailable, "Companies House integration is not configured")
}

func (s *Server) handleSearchCompanies(c echo.Context) error {
	if s.Companies == nil {
		return s.companiesUnavailable(c)
	}

	q := strings.TrimSpace(c.QueryParam("q"))
	if len(q) < 2 {
		return errorJSON(c, http.StatusBadRequest, "Query must be at least 2 characters")
	}
	itemsPerPage := 20
	if n, err := strconv.Atoi(c.QueryParam("itemsPerPage")); err == nil && n > 0 && n <= maxCompanyResults {
		itemsPerPage = n
	}
	startIndex := 0
	if n, err := strconv.Atoi(c.QueryParam("startIndex")); err == nil && n >= 0 {
		startIndex = n
	}

	res, err := s.Companies.SearchCompanies(c.Request().Context(), q, itemsPerPage, startIndex)
	if err != nil {
		c.Logger().Errorf("Companies House search failed: %v", err)
		return errorJSON(c, http.StatusBadGateway, "Failed to search Companies House")
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleGetCompanyProfile(c echo.Context) error {
	if s.Companies == nil {
		return s.companiesUnavailable(c)
	}

	profile, err := s.Companies.GetCompanyProfile(c.Request().Context(), c.Param("number"))
	if err != nil {
		c.Logger().Errorf("Companies House profile failed: %v", err)
		return errorJSON(c, http.StatusBadGateway, "Failed to fetch company profile")
	}
	if profile == nil {
		return errorJSON(c, http.StatusNotFound, "Company not found")
	}
	return c.JSON(http.StatusOK, profile)
}

func (s *Server) handleGetLinkedCompany(c echo.Context) error {
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return unauthorized(c)
	}

	company, err := s.Store.GetLinkedCompany(c.Request().Context(), userID)
	if errors.Is(err, db.ErrNotFound) {
		return errorJSON(c, http.StatusNotFound, "No company linked")
	}
	if err != nil {
		c.Logger().Errorf("Failed to load linked company: %v", err)
		return errorJSON(c, http.StatusInternalServerError, "Failed to load company")
	}
	return c.JSON(http.StatusOK, company)
}

type linkCompanyRequest struct {
	CompanyNumber string `json:"companyNumber"`
}

func (s *Server) handleLinkCompany(c echo.Context) error {
	ctx := c.Request().Context()
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return unauthorized(c)
	}
	if s.Companies == nil {
		return s.companiesUnavailable(c)
	}

	var req linkCompanyRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.CompanyNumber) == "" {
		return errorJSON(c, http.StatusBadRequest, "companyNumber is required")
	}

	profile, err := s.Companies.GetCompanyProfile(ctx, req.CompanyNumber)
	if err != nil {
		c.Logger().Errorf("Companies House profile failed: %v", err)
		return errorJSON(c, http.StatusBadGateway, "Failed to fetch company profile")
	}
	if profile == nil {
		return errorJSON(c, http.StatusNotFound, "Company not found")
	}

	refs, err := s.Store.LookupDescriptions(ctx, profile.SICCodes)
	if err != nil {
		c.Logger().Errorf("SIC reference lookup failed: %v", err)
		return errorJSON(c, http.StatusInternalServerError, "Failed to link company")
	}

	linked, err := s.Store.UpsertLinkedCompany(ctx, linkedCompanyFromProfile(userID, profile, refs))
	if err != nil {
		c.Logger().Errorf("Failed to link company: %v", err)
		return errorJSON(c, http.StatusInternalServerError, "Failed to link company")
	}
	return c.JSON(http.StatusOK, linked)
}

func (s *Server) handleUnlinkCompany(c echo.Context) error {
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return unauthorized(c)
	}

	removed, err := s.Store.UnlinkCompany(c.Request().Context(), userID)
	if err != nil {
		c.Logger().Errorf("Failed to unlink company: %v", err)
		return errorJSON(c, http.StatusInternalServerError, "Failed to unlink company")
	}
	if !removed {
		return errorJSON(c, http.StatusNotFound, "No company linked")
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

// linkedCompanyFromProfile resolves each SIC code against the reference rows,
// deriving section and division from the code when no row exists.
func linkedCompanyFromProfile(userID uuid.UUID, p *companieshouse.Profile, refs []models.IndustryCodeDescription) *models.LinkedCompany {
	byCode := make(map[string]models.IndustryCodeDescription, len(refs))
	for _, r := range refs {
		byCode[r.Code] = r
	}

	lc := &models.LinkedCompany{
		UserID:            userID,
		CompanyNumber:     p.CompanyNumber,
		CompanyName:       p.CompanyName,
		CompanyStatus:     p.CompanyStatus,
		CompanyType:       p.Type,
		DateOfCreation:    p.CreatedOn(),
		RegisteredAddress: p.RegisteredOfficeAddress.String(),
		SICCodes:          []models.LinkedSICCode{},
	}
	if raw, err := json.Marshal(p); err == nil {
		lc.RawProfile = raw
	}

	for _, code := range p.SICCodes {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		row := sic.Complete(byCode[code])
		if row.Code == "" {
			row = sic.Complete(models.IndustryCodeDescription{Code: code})
		}
		lc.SICCodes = append(lc.SICCodes, models.LinkedSICCode{
			Code:        code,
			Description: row.Description,
			Section:     row.Section,
			Division:    row.Division,
		})
	}
	return lc
}
