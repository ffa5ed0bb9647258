// Package config loads service settings: embedded defaults, then an optional
// YAML file named by GRANTMATCH_CONFIG, then environment overrides.
package config

import (
	"embed"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/david/grantmatch/internal/sourceclient"
)

//go:embed grantmatch.yaml
var defaultsYAML embed.FS

const (
	configPathEnv       = "GRANTMATCH_CONFIG"
	portEnv             = "PORT"
	databaseURLEnv      = "DATABASE_URL"
	corsOriginsEnv      = "CORS_ORIGINS"
	companiesHouseEnv   = "COMPANIES_HOUSE_API_KEY"
	searchQuotaEnv      = "SEARCH_MONTHLY_QUOTA"
	enableProvidersEnv  = "GRANTMATCH_ENABLE_PROVIDERS"
	disableProvidersEnv = "GRANTMATCH_DISABLE_PROVIDERS"
)

type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Database       DatabaseConfig       `yaml:"database"`
	Search         SearchConfig         `yaml:"search"`
	Providers      []ProviderConfig     `yaml:"providers"`
	CompaniesHouse CompaniesHouseConfig `yaml:"companies_house"`
}

type ServerConfig struct {
	Port        string   `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// SearchConfig holds request-level limits. A zero quota or limit means unlimited.
type SearchConfig struct {
	DefaultPageSize        int `yaml:"default_page_size"`
	MaxPageSize            int `yaml:"max_page_size"`
	ProviderTimeoutSeconds int `yaml:"provider_timeout_seconds"`
	MonthlyQuota           int `yaml:"monthly_quota"`
	SavedGrantsLimit       int `yaml:"saved_grants_limit"`
	HistoryTimeoutSeconds  int `yaml:"history_timeout_seconds"`
}

func (s SearchConfig) ProviderTimeout() time.Duration {
	return time.Duration(s.ProviderTimeoutSeconds) * time.Second
}

func (s SearchConfig) HistoryTimeout() time.Duration {
	if s.HistoryTimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(s.HistoryTimeoutSeconds) * time.Second
}

type RateLimitConfig struct {
	MaxRequests       int     `yaml:"max_requests,omitempty"`
	WindowSeconds     int     `yaml:"window_seconds,omitempty"`
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"`
}

// ProviderConfig defines one upstream grant source.
type ProviderConfig struct {
	ID                    string            `yaml:"id"`
	Name                  string            `yaml:"name"`
	Kind                  string            `yaml:"kind"` // "gtr", "ckan", "html_listing"
	Enabled               bool              `yaml:"enabled"`
	BaseURL               string            `yaml:"base_url"`
	APIKey                string            `yaml:"api_key,omitempty"`
	RequireAPIKey         bool              `yaml:"require_api_key,omitempty"`
	Auth                  string            `yaml:"auth,omitempty"` // "", "basic", "header"
	AuthHeader            string            `yaml:"auth_header,omitempty"`
	Headers               map[string]string `yaml:"headers,omitempty"`
	RateLimit             RateLimitConfig   `yaml:"rate_limit,omitempty"`
	TimeoutSeconds        int               `yaml:"timeout_seconds,omitempty"`
	CacheTTLSeconds       int               `yaml:"cache_ttl_seconds,omitempty"`
	DetailCacheTTLSeconds int               `yaml:"detail_cache_ttl_seconds,omitempty"`
	MaxPageSize           int               `yaml:"max_page_size,omitempty"`

	// HTML listing providers only.
	SearchPath string               `yaml:"search_path,omitempty"`
	DetailPath string               `yaml:"detail_path,omitempty"`
	Selectors  SelectorConfig       `yaml:"selectors,omitempty"`
	Detail     DetailSelectorConfig `yaml:"detail,omitempty"`
}

type SelectorConfig struct {
	Container string `yaml:"container,omitempty"` // CSS selector for the list item wrapper
	Link      string `yaml:"link,omitempty"`
	LinkAttr  string `yaml:"link_attr,omitempty"` // default: href
	Title     string `yaml:"title,omitempty"`
	Summary   string `yaml:"summary,omitempty"`
	Funder    string `yaml:"funder,omitempty"`
	Amount    string `yaml:"amount,omitempty"`
	OpenDate  string `yaml:"open_date,omitempty"`
	CloseDate string `yaml:"close_date,omitempty"`
	Total     string `yaml:"total,omitempty"`
}

type DetailSelectorConfig struct {
	Container    string `yaml:"container,omitempty"`
	Title        string `yaml:"title,omitempty"`
	Description  string `yaml:"description,omitempty"`
	Eligibility  string `yaml:"eligibility,omitempty"`
	HowToApply   string `yaml:"how_to_apply,omitempty"`
	ContactEmail string `yaml:"contact_email,omitempty"`
	Funder       string `yaml:"funder,omitempty"`
	Amount       string `yaml:"amount,omitempty"`
	OpenDate     string `yaml:"open_date,omitempty"`
	CloseDate    string `yaml:"close_date,omitempty"`
}

// ClientConfig builds the shared source client settings for this provider.
func (p ProviderConfig) ClientConfig() sourceclient.Config {
	return sourceclient.Config{
		Name:              p.ID,
		BaseURL:           p.BaseURL,
		APIKey:            p.APIKey,
		RequireAPIKey:     p.RequireAPIKey,
		Auth:              sourceclient.AuthScheme(p.Auth),
		AuthHeaderName:    p.AuthHeader,
		Headers:           p.Headers,
		MaxRequests:       p.RateLimit.MaxRequests,
		Window:            time.Duration(p.RateLimit.WindowSeconds) * time.Second,
		RequestsPerSecond: p.RateLimit.RequestsPerSecond,
		Timeout:           time.Duration(p.TimeoutSeconds) * time.Second,
		CacheTTL:          time.Duration(p.CacheTTLSeconds) * time.Second,
	}
}

func (p ProviderConfig) DetailCacheTTL() time.Duration {
	return time.Duration(p.DetailCacheTTLSeconds) * time.Second
}

type CompaniesHouseConfig struct {
	Enabled         bool            `yaml:"enabled"`
	BaseURL         string          `yaml:"base_url"`
	APIKey          string          `yaml:"api_key"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	TimeoutSeconds  int             `yaml:"timeout_seconds"`
	CacheTTLSeconds int             `yaml:"cache_ttl_seconds"`
}

func (c CompaniesHouseConfig) ClientConfig() sourceclient.Config {
	return sourceclient.Config{
		Name:          "CompaniesHouse",
		BaseURL:       c.BaseURL,
		APIKey:        c.APIKey,
		RequireAPIKey: true,
		Auth:          sourceclient.AuthBasic,
		MaxRequests:   c.RateLimit.MaxRequests,
		Window:        time.Duration(c.RateLimit.WindowSeconds) * time.Second,
		Timeout:       time.Duration(c.TimeoutSeconds) * time.Second,
		CacheTTL:      time.Duration(c.CacheTTLSeconds) * time.Second,
	}
}

// Load returns the effective configuration.
func Load() (*Config, error) {
	cfg, err := parse(defaultsYAML.ReadFile, "grantmatch.yaml")
	if err != nil {
		return nil, fmt.Errorf("embedded defaults: %w", err)
	}

	if path := os.Getenv(configPathEnv); path != "" {
		fileCfg, err := parse(os.ReadFile, path)
		if err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		cfg.merge(fileCfg)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	return cfg, nil
}

func parse(read func(string) ([]byte, error), path string) (*Config, error) {
	data, err := read(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables within the YAML content (e.g. ${API_KEY})
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// merge overlays non-zero values from other. A provider list in other replaces
// entries with the same id and appends new ones.
func (c *Config) merge(other *Config) {
	if other.Server.Port != "" {
		c.Server.Port = other.Server.Port
	}
	if len(other.Server.CORSOrigins) > 0 {
		c.Server.CORSOrigins = other.Server.CORSOrigins
	}
	if other.Database.URL != "" {
		c.Database.URL = other.Database.URL
	}

	s := other.Search
	if s.DefaultPageSize > 0 {
		c.Search.DefaultPageSize = s.DefaultPageSize
	}
	if s.MaxPageSize > 0 {
		c.Search.MaxPageSize = s.MaxPageSize
	}
	if s.ProviderTimeoutSeconds > 0 {
		c.Search.ProviderTimeoutSeconds = s.ProviderTimeoutSeconds
	}
	if s.MonthlyQuota != 0 {
		c.Search.MonthlyQuota = s.MonthlyQuota
	}
	if s.SavedGrantsLimit != 0 {
		c.Search.SavedGrantsLimit = s.SavedGrantsLimit
	}
	if s.HistoryTimeoutSeconds > 0 {
		c.Search.HistoryTimeoutSeconds = s.HistoryTimeoutSeconds
	}

	for _, p := range other.Providers {
		replaced := false
		for i := range c.Providers {
			if c.Providers[i].ID == p.ID {
				c.Providers[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			c.Providers = append(c.Providers, p)
		}
	}

	if other.CompaniesHouse.BaseURL != "" {
		c.CompaniesHouse = other.CompaniesHouse
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(portEnv); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv(databaseURLEnv); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv(corsOriginsEnv); v != "" {
		c.Server.CORSOrigins = appendCSV(c.Server.CORSOrigins, v)
	}
	if v := os.Getenv(companiesHouseEnv); v != "" {
		c.CompaniesHouse.APIKey = v
	}
	if v := os.Getenv(searchQuotaEnv); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n >= 0 {
			c.Search.MonthlyQuota = n
		}
	}
	for _, id := range appendCSV(nil, os.Getenv(enableProvidersEnv)) {
		c.setProviderEnabled(id, true)
	}
	for _, id := range appendCSV(nil, os.Getenv(disableProvidersEnv)) {
		c.setProviderEnabled(id, false)
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8081"
	}
	if c.Search.DefaultPageSize <= 0 {
		c.Search.DefaultPageSize = 20
	}
	if c.Search.MaxPageSize <= 0 {
		c.Search.MaxPageSize = 100
	}
	if c.Search.ProviderTimeoutSeconds <= 0 {
		c.Search.ProviderTimeoutSeconds = 15
	}
}

func (c *Config) setProviderEnabled(id string, enabled bool) {
	for i := range c.Providers {
		if c.Providers[i].ID == id {
			c.Providers[i].Enabled = enabled
		}
	}
}

// Provider returns the provider config with the given id.
func (c *Config) Provider(id string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.ID == id {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// appendCSV splits a comma-separated value into trimmed non-empty strings.
func appendCSV(list []string, s string) []string {
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			list = append(list, part)
		}
	}
	return list
}
