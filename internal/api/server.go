package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/david/grantmatch/internal/auth"
	"github.com/david/grantmatch/internal/companieshouse"
	"github.com/david/grantmatch/internal/config"
	"github.com/david/grantmatch/internal/grants"
	"github.com/david/grantmatch/internal/matching"
	"github.com/david/grantmatch/internal/models"
)

// Store is the persistence the handlers need. *db.Store implements it.
type Store interface {
	// search history
	RecordSearch(ctx context.Context, userID uuid.UUID, query string, filters models.GrantSearchParams, resultCount int) error
	CountSearchesSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error)

	// saved grants
	SaveGrant(ctx context.Context, userID uuid.UUID, g models.SavedGrant) (*models.SavedGrant, error)
	ListSavedGrants(ctx context.Context, userID uuid.UUID) ([]models.SavedGrant, error)
	IsGrantSaved(ctx context.Context, userID uuid.UUID, source models.Source, externalID string) (bool, error)
	CountSavedGrants(ctx context.Context, userID uuid.UUID) (int, error)
	DeleteSavedGrant(ctx context.Context, userID uuid.UUID, source models.Source, externalID string) (bool, error)

	// linked companies and the SIC reference
	GetLinkedCompany(ctx context.Context, userID uuid.UUID) (*models.LinkedCompany, error)
	FindLinkedCompany(ctx context.Context, userID uuid.UUID) (*models.CompanyContext, error)
	UpsertLinkedCompany(ctx context.Context, c *models.LinkedCompany) (*models.LinkedCompany, error)
	UnlinkCompany(ctx context.Context, userID uuid.UUID) (bool, error)
	LookupDescriptions(ctx context.Context, codes []string) ([]models.IndustryCodeDescription, error)
}

type Authenticator interface {
	Signup(ctx context.Context, req auth.SignupRequest) (*auth.AuthResponse, error)
	Login(ctx context.Context, req auth.LoginRequest) (*auth.AuthResponse, error)
}

// CompanyDirectory is the Companies House lookup. *companieshouse.Client implements it.
type CompanyDirectory interface {
	SearchCompanies(ctx context.Context, query string, itemsPerPage, startIndex int) (*companieshouse.SearchResponse, error)
	GetCompanyProfile(ctx context.Context, companyNumber string) (*companieshouse.Profile, error)
}

type Deps struct {
	Registry *grants.Registry
	Store    Store
	Auth     Authenticator
	// Companies is nil when Companies House is not configured.
	Companies   CompanyDirectory
	Search      config.SearchConfig
	CORSOrigins []string
}

type Server struct {
	Echo      *echo.Echo
	Registry  *grants.Registry
	Store     Store
	Auth      Authenticator
	Companies CompanyDirectory
	Enhancer  *matching.Enhancer
	Search    config.SearchConfig

	now        func() time.Time
	background sync.WaitGroup
}

func NewServer(d Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	allowedOrigins := d.CORSOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:4200"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	s := &Server{
		Echo:      e,
		Registry:  d.Registry,
		Store:     d.Store,
		Auth:      d.Auth,
		Companies: d.Companies,
		Enhancer:  matching.NewEnhancer(d.Store, d.Store),
		Search:    d.Search,
		now:       time.Now,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Echo.GET("/health", s.handleHealth)
	api := s.Echo.Group("/api/v1")
	api.GET("/providers", s.handleListProviders)

	api.POST("/auth/signup", s.handleSignup)
	api.POST("/auth/login", s.handleLogin)

	protected := api.Group("")
	protected.Use(auth.Middleware)

	protected.GET("/grants/search", s.handleSearchGrants)
	protected.GET("/grants/saved", s.handleListSavedGrants)
	protected.POST("/grants/saved", s.handleSaveGrant)
	protected.DELETE("/grants/saved", s.handleDeleteSavedGrant)
	protected.GET("/grants/:id", s.handleGetGrant)

	protected.GET("/company", s.handleGetLinkedCompany)
	protected.GET("/company/search", s.handleSearchCompanies)
	protected.GET("/company/profile/:number", s.handleGetCompanyProfile)
	protected.POST("/company/link", s.handleLinkCompany)
	protected.DELETE("/company/link", s.handleUnlinkCompany)

	protected.GET("/user/usage", s.handleUsage)
}

func (s *Server) Start(port string) error {
	return s.Echo.Start(":" + port)
}

// Shutdown stops the HTTP server and waits for pending history writes.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.Echo.Shutdown(ctx)
	s.background.Wait()
	return err
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (s *Server) handleListProviders(c echo.Context) error {
	return c.JSON(http.StatusOK, s.Registry.Info())
}

func (s *Server) handleSignup(c echo.Context) error {
	var req auth.SignupRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	resp, err := s.Auth.Signup(c.Request().Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUserExists):
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		case errors.Is(err, auth.ErrInvalidEmail), errors.Is(err, auth.ErrPasswordTooWeak):
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		c.Logger().Errorf("Signup failed: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	}

	return c.JSON(http.StatusCreated, resp)
}

func (s *Server) handleLogin(c echo.Context) error {
	var req auth.LoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	resp, err := s.Auth.Login(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCreds) {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid credentials"})
		}
		c.Logger().Errorf("Login failed: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	}

	return c.JSON(http.StatusOK, resp)
}

func errorJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}

func unauthorized(c echo.Context) error {
	return errorJSON(c, http.StatusUnauthorized, "Unauthorized")
}
