package grants

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/david/grantmatch/internal/models"
	"github.com/david/grantmatch/internal/sourceclient"
)

const ckanSearchFixture = `{
  "success": true,
  "result": {
    "count": 120,
    "results": [
      {
        "id": "pkg-1",
        "name": "local-growth-fund",
        "title": "Local Growth Fund allocations",
        "notes": "**Capital grants** for local growth.\n\n- Round one\n- Round two\n\n<script>alert(1)</script>",
        "metadata_created": "2019-04-01T10:00:00.000000",
        "organization": {"title": "Department for Levelling Up", "name": "dluhc"},
        "resources": [{"id": "r1", "url": "https://example.gov.uk/lgf.csv", "format": "CSV", "name": "Allocations"}],
        "tags": [{"name": "grants"}, {"name": "Grants"}, {"name": "local growth"}],
        "extras": [
          {"key": "temporal_coverage-from", "value": "2026-01-01"},
          {"key": "temporal_coverage-to", "value": "2026-12-31"}
        ]
      },
      {
        "id": "pkg-2",
        "title": "Undated dataset",
        "notes": ""
      }
    ]
  }
}`

func newTestDataGov(t *testing.T, h http.HandlerFunc) *DataGovProvider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := sourceclient.New(sourceclient.Config{Name: "datagov", BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	p := NewDataGovProvider(c, DataGovOptions{Enabled: true})
	p.now = func() time.Time { return time.Date(2026, 2, 12, 12, 0, 0, 0, time.UTC) }
	return p
}

func TestDataGov_SearchNormalizes(t *testing.T) {
	var gotQ, gotRows, gotStart string
	p := newTestDataGov(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/package_search" {
			http.NotFound(w, r)
			return
		}
		gotQ = r.URL.Query().Get("q")
		gotRows = r.URL.Query().Get("rows")
		gotStart = r.URL.Query().Get("start")
		w.Write([]byte(ckanSearchFixture))
	})

	res, err := p.Search(context.Background(), models.GrantSearchParams{
		Query:    "capital",
		Sectors:  []string{"E", "J"},
		Page:     3,
		PageSize: 10,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if gotQ != "grant capital environment water technology digital" {
		t.Fatalf("unexpected query %q", gotQ)
	}
	if gotRows != "10" || gotStart != "20" {
		t.Fatalf("unexpected paging rows=%s start=%s", gotRows, gotStart)
	}
	if res.TotalResults != 120 || res.TotalPages != 12 || res.Page != 3 {
		t.Fatalf("unexpected envelope %+v", res)
	}

	g := res.Grants[0]
	if g.ID != "datagov:pkg-1" || g.FundingBody != "Department for Levelling Up" {
		t.Fatalf("unexpected identity/funder: %+v", g)
	}
	if strings.Contains(g.Description, "**") || strings.Contains(g.Description, "alert") {
		t.Fatalf("markdown or script leaked into description: %q", g.Description)
	}
	if !strings.Contains(g.Description, "Capital grants for local growth.") {
		t.Fatalf("unexpected description %q", g.Description)
	}
	if g.Status != models.StatusOpen || g.CloseDate == nil {
		t.Fatalf("expected status from temporal coverage, got %s", g.Status)
	}
	if len(g.Categories) != 2 {
		t.Fatalf("expected case-insensitive tag dedupe, got %v", g.Categories)
	}
	if g.ApplicationURL != "https://example.gov.uk/lgf.csv" {
		t.Fatalf("unexpected application url %q", g.ApplicationURL)
	}
	if g.AmountMin != nil || g.AmountMax != nil {
		t.Fatal("catalogue entries carry no amounts")
	}

	bare := res.Grants[1]
	if bare.Status != models.StatusUnknown || bare.FundingBody != "UK Government" || bare.Description != "" {
		t.Fatalf("unexpected defaults %+v", bare)
	}
}

func TestDataGov_UnsuccessfulIsError(t *testing.T) {
	p := newTestDataGov(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": false, "error": {"message": "Search error"}}`))
	})
	if _, err := p.Search(context.Background(), models.GrantSearchParams{}); err == nil {
		t.Fatal("expected success=false to be an error")
	}
}

func TestDataGov_GetByID(t *testing.T) {
	p := newTestDataGov(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("id") {
		case "pkg-1":
			w.Write([]byte(`{"success": true, "result": {
				"id": "pkg-1", "title": "Fund", "notes": "Text",
				"maintainer_email": "grants@example.gov.uk",
				"extras": [{"key": "spatial", "value": "England"}]
			}}`))
		case "gone":
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"success": false, "error": {"__type": "Not Found Error"}}`))
		default:
			w.Write([]byte(`{"success": false}`))
		}
	})

	d, err := p.GetByID(context.Background(), "pkg-1")
	if err != nil || d == nil {
		t.Fatalf("GetByID: %v %v", d, err)
	}
	if d.Region != "England" || d.ContactEmail != "grants@example.gov.uk" || len(d.RawData) == 0 {
		t.Fatalf("unexpected detail %+v", d)
	}

	for _, id := range []string{"gone", "other"} {
		d, err := p.GetByID(context.Background(), id)
		if err != nil || d != nil {
			t.Fatalf("%s: expected (nil, nil), got %v %v", id, d, err)
		}
	}
}
