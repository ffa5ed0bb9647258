package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/david/grantmatch/internal/auth"
	"github.com/david/grantmatch/internal/companieshouse"
	"github.com/david/grantmatch/internal/config"
	"github.com/david/grantmatch/internal/db"
	"github.com/david/grantmatch/internal/grants"
	"github.com/david/grantmatch/internal/models"
	"github.com/david/grantmatch/internal/sic"
)

var fixedNow = time.Date(2026, 2, 12, 12, 0, 0, 0, time.UTC)

func TestMain(m *testing.M) {
	os.Setenv("JWT_SECRET", "api-test-secret")
	os.Exit(m.Run())
}

// fakeStore is an in-memory Store.
type fakeStore struct {
	mu          sync.Mutex
	priorSearch int
	recorded    []models.GrantSearchParams
	saved       map[string]models.SavedGrant
	company     *models.LinkedCompany
	reference   *sic.Reference
	companyErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		saved: make(map[string]models.SavedGrant),
		reference: sic.NewReference([]models.IndustryCodeDescription{
			{Code: "62012", Description: "Business and domestic software development"},
		}),
	}
}

func (f *fakeStore) RecordSearch(_ context.Context, _ uuid.UUID, _ string, filters models.GrantSearchParams, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, filters)
	return nil
}

func (f *fakeStore) CountSearchesSince(context.Context, uuid.UUID, time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.priorSearch + len(f.recorded), nil
}

func savedKey(source models.Source, externalID string) string {
	return string(source) + ":" + externalID
}

func (f *fakeStore) SaveGrant(_ context.Context, userID uuid.UUID, g models.SavedGrant) (*models.SavedGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g.ID = uuid.New()
	g.UserID = userID
	f.saved[savedKey(g.Source, g.ExternalID)] = g
	return &g, nil
}

func (f *fakeStore) ListSavedGrants(context.Context, uuid.UUID) ([]models.SavedGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.SavedGrant
	for _, g := range f.saved {
		out = append(out, g)
	}
	return out, nil
}

func (f *fakeStore) IsGrantSaved(_ context.Context, _ uuid.UUID, source models.Source, externalID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.saved[savedKey(source, externalID)]
	return ok, nil
}

func (f *fakeStore) CountSavedGrants(context.Context, uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved), nil
}

func (f *fakeStore) DeleteSavedGrant(_ context.Context, _ uuid.UUID, source models.Source, externalID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := savedKey(source, externalID)
	_, ok := f.saved[key]
	delete(f.saved, key)
	return ok, nil
}

func (f *fakeStore) GetLinkedCompany(context.Context, uuid.UUID) (*models.LinkedCompany, error) {
	if f.company == nil {
		return nil, db.ErrNotFound
	}
	return f.company, nil
}

func (f *fakeStore) FindLinkedCompany(context.Context, uuid.UUID) (*models.CompanyContext, error) {
	if f.companyErr != nil {
		return nil, f.companyErr
	}
	if f.company == nil {
		return nil, nil
	}
	return f.company.Context(), nil
}

func (f *fakeStore) UpsertLinkedCompany(_ context.Context, c *models.LinkedCompany) (*models.LinkedCompany, error) {
	out := *c
	out.ID = uuid.New()
	f.company = &out
	return &out, nil
}

func (f *fakeStore) UnlinkCompany(context.Context, uuid.UUID) (bool, error) {
	existed := f.company != nil
	f.company = nil
	return existed, nil
}

func (f *fakeStore) LookupDescriptions(ctx context.Context, codes []string) ([]models.IndustryCodeDescription, error) {
	return f.reference.LookupDescriptions(ctx, codes)
}

type stubProvider struct {
	source  models.Source
	grants  []models.NormalizedGrant
	err     error
	details map[string]*models.GrantDetail

	mu     sync.Mutex
	calls  int
	params models.GrantSearchParams
}

func (p *stubProvider) Source() models.Source { return p.source }
func (p *stubProvider) DisplayName() string   { return "Stub " + string(p.source) }
func (p *stubProvider) Enabled() bool         { return true }

func (p *stubProvider) Search(_ context.Context, params models.GrantSearchParams) (*models.SearchResult, error) {
	p.mu.Lock()
	p.calls++
	p.params = params
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return &models.SearchResult{Grants: p.grants, TotalResults: len(p.grants), Source: p.source}, nil
}

func (p *stubProvider) GetByID(_ context.Context, externalID string) (*models.GrantDetail, error) {
	if d, ok := p.details[externalID]; ok {
		return d, nil
	}
	return nil, nil
}

type fakeDirectory struct {
	profiles map[string]*companieshouse.Profile
}

func (d *fakeDirectory) SearchCompanies(_ context.Context, q string, _, _ int) (*companieshouse.SearchResponse, error) {
	return &companieshouse.SearchResponse{Items: []companieshouse.SearchItem{{CompanyNumber: "00012345", Title: strings.ToUpper(q)}}, TotalResults: 1}, nil
}

func (d *fakeDirectory) GetCompanyProfile(_ context.Context, n string) (*companieshouse.Profile, error) {
	return d.profiles[companieshouse.NormalizeNumber(n)], nil
}

func newTestServer(t *testing.T, store *fakeStore, providers ...grants.Provider) *Server {
	t.Helper()
	reg := grants.NewRegistry(grants.WithProviderTimeout(time.Second))
	for _, p := range providers {
		reg.Register(p)
	}
	s := NewServer(Deps{
		Registry: reg,
		Store:    store,
		Search: config.SearchConfig{
			DefaultPageSize:       20,
			MaxPageSize:           100,
			MonthlyQuota:          5,
			SavedGrantsLimit:      2,
			HistoryTimeoutSeconds: 1,
		},
	})
	s.now = func() time.Time { return fixedNow }
	return s
}

func testToken(t *testing.T) string {
	t.Helper()
	token, err := auth.IssueToken(uuid.New())
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func doRequest(s *Server, method, target, body, token string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return out
}

func dated(id string, source models.Source, status models.GrantStatus) models.NormalizedGrant {
	return models.NormalizedGrant{
		ID:         grants.CompositeID(source, id),
		Source:     source,
		ExternalID: id,
		Title:      "Grant " + id,
		Status:     status,
		Currency:   "GBP",
		Categories: []string{},
	}
}

func TestSearch_RequiresAuth(t *testing.T) {
	s := newTestServer(t, newFakeStore())
	rec := doRequest(s, http.MethodGet, "/api/v1/grants/search?q=x", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestSearch_MergesAndRecordsHistory(t *testing.T) {
	store := newFakeStore()
	gtr := &stubProvider{source: models.SourceGtR, grants: []models.NormalizedGrant{
		dated("closed", models.SourceGtR, models.StatusClosed),
		dated("open", models.SourceGtR, models.StatusOpen),
	}}
	broken := &stubProvider{source: models.SourceDataGov, err: errors.New("upstream 500")}
	s := newTestServer(t, store, gtr, broken)

	rec := doRequest(s, http.MethodGet, "/api/v1/grants/search?q=battery&sector=c", "", testToken(t))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	res := decode[models.AggregatedResult](t, rec)
	if res.TotalResults != 2 || res.Grants[0].ID != "gtr:open" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.FailedSources) != 1 || res.FailedSources[0] != models.SourceDataGov {
		t.Fatalf("expected datagov failure to be reported, got %v", res.FailedSources)
	}
	if got := gtr.params.Sectors; len(got) != 1 || got[0] != "C" {
		t.Fatalf("expected upper-cased sector, got %v", got)
	}
	if res.Grants[0].RelevanceScore != nil {
		t.Fatal("relevance is only scored for company-matched searches")
	}

	s.background.Wait()
	if len(store.recorded) != 1 || store.recorded[0].Query != "battery" {
		t.Fatalf("expected one history entry, got %+v", store.recorded)
	}
}

func TestSearch_Validation(t *testing.T) {
	s := newTestServer(t, newFakeStore(), &stubProvider{source: models.SourceGtR})
	token := testToken(t)

	for _, q := range []string{
		"pageSize=500",
		"pageSize=0",
		"page=0",
		"status=pending",
		"minAmount=abc",
		"minAmount=500&maxAmount=100",
		"matchCompany=maybe",
		"sector=Z",
	} {
		rec := doRequest(s, http.MethodGet, "/api/v1/grants/search?"+q, "", token)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, rec.Code)
		}
	}
}

func TestSearch_QuotaExceeded(t *testing.T) {
	store := newFakeStore()
	store.priorSearch = 5
	p := &stubProvider{source: models.SourceGtR}
	s := newTestServer(t, store, p)

	rec := doRequest(s, http.MethodGet, "/api/v1/grants/search?q=x", "", testToken(t))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	body := decode[quotaExceededResponse](t, rec)
	if body.Limit != 5 || body.Remaining != 0 {
		t.Fatalf("unexpected quota body %+v", body)
	}
	if p.calls != 0 {
		t.Fatal("providers must not be queried once the quota is used up")
	}
}

func TestSearch_MatchCompanyScores(t *testing.T) {
	store := newFakeStore()
	store.company = &models.LinkedCompany{
		CompanyType: "ltd",
		SICCodes:    []models.LinkedSICCode{{Code: "62012", Section: "J", Division: "62"}},
	}
	g := dated("x1", models.SourceGtR, models.StatusOpen)
	g.Title = "Software for SMEs"
	p := &stubProvider{source: models.SourceGtR, grants: []models.NormalizedGrant{g}}
	s := newTestServer(t, store, p)

	rec := doRequest(s, http.MethodGet, "/api/v1/grants/search?q=ai&matchCompany=true", "", testToken(t))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if p.params.Query != "ai business and domestic software development" {
		t.Fatalf("unexpected enhanced query %q", p.params.Query)
	}
	if len(p.params.SICCodes) != 1 || len(p.params.Sectors) != 1 || p.params.Sectors[0] != "J" {
		t.Fatalf("unexpected enhanced filters %+v", p.params)
	}

	res := decode[models.AggregatedResult](t, rec)
	if res.Grants[0].RelevanceScore == nil || *res.Grants[0].RelevanceScore != 25 {
		t.Fatalf("expected score 25, got %v", res.Grants[0].RelevanceScore)
	}

	s.background.Wait()
	if store.recorded[0].Query != "ai" {
		t.Fatalf("history should keep the caller's query, got %q", store.recorded[0].Query)
	}
}

func TestSearch_MatchCompanyFailureFallsBack(t *testing.T) {
	store := newFakeStore()
	store.companyErr = errors.New("db down")
	p := &stubProvider{source: models.SourceGtR}
	s := newTestServer(t, store, p)

	rec := doRequest(s, http.MethodGet, "/api/v1/grants/search?q=ai&matchCompany=1", "", testToken(t))
	if rec.Code != http.StatusOK || p.params.Query != "ai" {
		t.Fatalf("expected plain search, got %d %q", rec.Code, p.params.Query)
	}
	s.background.Wait()
}

func TestGetGrant(t *testing.T) {
	detail := &models.GrantDetail{NormalizedGrant: dated("ABC", models.SourceGtR, models.StatusOpen)}
	p := &stubProvider{source: models.SourceGtR, details: map[string]*models.GrantDetail{"ABC": detail}}
	s := newTestServer(t, newFakeStore(), p)
	token := testToken(t)

	for _, target := range []string{
		"/api/v1/grants/gtr:ABC",
		"/api/v1/grants/gtr%3AABC",
		"/api/v1/grants/ABC?source=gtr",
	} {
		rec := doRequest(s, http.MethodGet, target, "", token)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", target, rec.Code)
		}
	}

	for _, target := range []string{
		"/api/v1/grants/gtr:missing",
		"/api/v1/grants/unknown:ABC",
		"/api/v1/grants/no-separator",
	} {
		rec := doRequest(s, http.MethodGet, target, "", token)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", target, rec.Code)
		}
		if body := decode[map[string]string](t, rec); body["error"] != "Grant not found" {
			t.Fatalf("unexpected body %v", body)
		}
	}
}

func TestSavedGrants(t *testing.T) {
	store := newFakeStore()
	s := newTestServer(t, store)
	token := testToken(t)

	rec := doRequest(s, http.MethodPost, "/api/v1/grants/saved", `{"grantSource": "gtr", "title": "No id"}`, token)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing externalId, got %d", rec.Code)
	}

	for _, id := range []string{"A", "B"} {
		rec := doRequest(s, http.MethodPost, "/api/v1/grants/saved", `{"grantSource": "gtr", "externalId": "`+id+`", "title": "Grant"}`, token)
		if rec.Code != http.StatusCreated {
			t.Fatalf("save %s: expected 201, got %d", id, rec.Code)
		}
	}

	rec = doRequest(s, http.MethodPost, "/api/v1/grants/saved", `{"grantSource": "gtr", "externalId": "C", "title": "Grant"}`, token)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 at the saved-grant limit, got %d", rec.Code)
	}
	rec = doRequest(s, http.MethodPost, "/api/v1/grants/saved", `{"grantSource": "gtr", "externalId": "A", "title": "Grant renamed"}`, token)
	if rec.Code != http.StatusCreated {
		t.Fatalf("re-saving an existing grant should bypass the limit, got %d", rec.Code)
	}

	rec = doRequest(s, http.MethodGet, "/api/v1/grants/saved", "", token)
	if list := decode[[]models.SavedGrant](t, rec); len(list) != 2 {
		t.Fatalf("expected 2 saved grants, got %d", len(list))
	}

	if rec := doRequest(s, http.MethodDelete, "/api/v1/grants/saved?source=gtr", "", token); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if rec := doRequest(s, http.MethodDelete, "/api/v1/grants/saved?source=gtr&externalId=A", "", token); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec := doRequest(s, http.MethodDelete, "/api/v1/grants/saved?source=gtr&externalId=A", "", token); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", rec.Code)
	}
}

func TestCompany_NotConfigured(t *testing.T) {
	s := newTestServer(t, newFakeStore())
	rec := doRequest(s, http.MethodGet, "/api/v1/company/search?q=acme", "", testToken(t))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestCompany_LinkAndUnlink(t *testing.T) {
	store := newFakeStore()
	s := newTestServer(t, store)
	s.Companies = &fakeDirectory{profiles: map[string]*companieshouse.Profile{
		"00012345": {
			CompanyName:    "TINY ROBOTS LTD",
			CompanyNumber:  "00012345",
			CompanyStatus:  "active",
			Type:           "ltd",
			DateOfCreation: "2025-03-14",
			SICCodes:       []string{"62012", "26110"},
		},
	}}
	token := testToken(t)

	if rec := doRequest(s, http.MethodGet, "/api/v1/company/search?q=a", "", token); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for short query, got %d", rec.Code)
	}
	if rec := doRequest(s, http.MethodGet, "/api/v1/company", "", token); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before linking, got %d", rec.Code)
	}
	if rec := doRequest(s, http.MethodPost, "/api/v1/company/link", `{"companyNumber": "99999999"}`, token); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown company, got %d", rec.Code)
	}

	rec := doRequest(s, http.MethodPost, "/api/v1/company/link", `{"companyNumber": "12345"}`, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	linked := decode[models.LinkedCompany](t, rec)
	if len(linked.SICCodes) != 2 {
		t.Fatalf("unexpected sic codes %+v", linked.SICCodes)
	}
	if sc := linked.SICCodes[0]; sc.Description != "Business and domestic software development" || sc.Section != "J" {
		t.Fatalf("expected reference description and section, got %+v", sc)
	}
	if sc := linked.SICCodes[1]; sc.Section != "C" || sc.Division != "26" {
		t.Fatalf("expected section derived from the code, got %+v", sc)
	}

	if rec := doRequest(s, http.MethodDelete, "/api/v1/company/link", "", token); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec := doRequest(s, http.MethodDelete, "/api/v1/company/link", "", token); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestUsage(t *testing.T) {
	store := newFakeStore()
	store.priorSearch = 3
	s := newTestServer(t, store)

	rec := doRequest(s, http.MethodGet, "/api/v1/user/usage", "", testToken(t))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	u := decode[usageResponse](t, rec)
	if u.SearchesUsed != 3 || u.SearchesRemaining == nil || *u.SearchesRemaining != 2 {
		t.Fatalf("unexpected usage %+v", u)
	}
	if !u.PeriodStart.Equal(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected period start %v", u.PeriodStart)
	}
}

func TestListProviders(t *testing.T) {
	s := newTestServer(t, newFakeStore(), &stubProvider{source: models.SourceGtR}, &stubProvider{source: models.SourceDataGov})
	rec := doRequest(s, http.MethodGet, "/api/v1/providers", "", "")
	infos := decode[[]grants.ProviderInfo](t, rec)
	if len(infos) != 2 || infos[0].Source != models.SourceGtR || !infos[1].Enabled {
		t.Fatalf("unexpected providers %+v", infos)
	}
}
