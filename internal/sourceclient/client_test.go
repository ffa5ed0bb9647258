package sourceclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(Config{Name: "CompaniesHouse", RequireAPIKey: true})
	if !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}

	if _, err := New(Config{Name: "GtR"}); err != nil {
		t.Fatalf("unauthenticated client without requirement should build: %v", err)
	}
}

func TestClient_InjectsBasicAuthAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "secret-key" || pass != "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Header.Get("Accept") != "application/vnd.rcuk.gtr.json-v7" {
			w.WriteHeader(http.StatusNotAcceptable)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c, err := New(Config{
		Name:          "test",
		BaseURL:       srv.URL,
		APIKey:        "secret-key",
		RequireAPIKey: true,
		Auth:          AuthBasic,
		Headers:       map[string]string{"Accept": "application/vnd.rcuk.gtr.json-v7"},
	})
	if err != nil {
		t.Fatal(err)
	}

	var out struct {
		OK bool `json:"ok"`
	}
	if err := c.GetJSON(context.Background(), "/thing", &out); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if !out.OK {
		t.Fatal("expected ok=true")
	}
}

func TestClient_UpstreamErrorCarriesStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("maintenance"))
	}))
	defer srv.Close()

	c, _ := New(Config{Name: "test", BaseURL: srv.URL})
	_, err := c.Get(context.Background(), "/x")

	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *UpstreamError, got %T %v", err, err)
	}
	if ue.StatusCode != http.StatusServiceUnavailable || ue.Body != "maintenance" {
		t.Fatalf("unexpected error contents: %+v", ue)
	}
	if IsNotFound(err) {
		t.Fatal("503 is not a not-found")
	}
}

func TestClient_NoRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, _ := New(Config{Name: "test", BaseURL: srv.URL})
	c.Get(context.Background(), "/x")
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("expected exactly one upstream call, got %d", n)
	}
}

func TestClient_CacheSkipsUpstreamAndLimiter(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte("body"))
	}))
	defer srv.Close()

	c, _ := New(Config{Name: "test", BaseURL: srv.URL, MaxRequests: 1, Window: time.Hour, CacheTTL: time.Minute})
	for i := 0; i < 3; i++ {
		body, err := c.Get(context.Background(), "/cached")
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if string(body) != "body" {
			t.Fatalf("unexpected body %q", body)
		}
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("expected a single upstream call, got %d", n)
	}
	if c.cache.size() != 1 {
		t.Fatalf("expected one cache entry, got %d", c.cache.size())
	}
}

func TestClient_ErrorsAreNotCached(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c, _ := New(Config{Name: "test", BaseURL: srv.URL, CacheTTL: time.Minute})
	for i := 0; i < 2; i++ {
		if _, err := c.Get(context.Background(), "/missing"); !IsNotFound(err) {
			t.Fatalf("expected not found, got %v", err)
		}
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("expected 2 upstream calls, got %d", n)
	}
}

func TestClient_TransportSharesLimiter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c, _ := New(Config{Name: "test", BaseURL: srv.URL, MaxRequests: 5, Window: time.Hour})
	hc := &http.Client{Transport: c.Transport()}
	resp, err := hc.Get(srv.URL + "/page")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if got := c.Limiter().Remaining(); got != 4 {
		t.Fatalf("expected transport request to consume quota, remaining=%d", got)
	}
}

func TestClient_URL(t *testing.T) {
	c, _ := New(Config{Name: "test", BaseURL: "https://gtr.ukri.org/gtr/api/"})
	cases := map[string]string{
		"/projects?q=x":            "https://gtr.ukri.org/gtr/api/projects?q=x",
		"projects":                 "https://gtr.ukri.org/gtr/api/projects",
		"https://other.example/a":  "https://other.example/a",
	}
	for in, want := range cases {
		if got := c.URL(in); got != want {
			t.Errorf("URL(%q) = %q, want %q", in, got, want)
		}
	}
}
