package sourceclient

import (
	"fmt"
	"testing"
	"time"
)

func TestResponseCache_Expires(t *testing.T) {
	c := newResponseCache()
	c.set("k", []byte("v"), 20*time.Millisecond)
	if body, ok := c.get("k", 20*time.Millisecond); !ok || string(body) != "v" {
		t.Fatalf("expected fresh hit, got %q %v", body, ok)
	}
	time.Sleep(60 * time.Millisecond)
	if _, ok := c.get("k", 20*time.Millisecond); ok {
		t.Fatal("expected entry to expire")
	}
}

func TestResponseCache_BoundedPerClass(t *testing.T) {
	c := newResponseCache()
	for i := 0; i <= maxCacheEntries; i++ {
		c.set(fmt.Sprintf("/search?page=%d", i), []byte("x"), time.Minute)
	}
	c.set("/detail/1", []byte("d"), time.Hour)

	if n := c.size(); n != maxCacheEntries+1 {
		t.Fatalf("expected %d entries, got %d", maxCacheEntries+1, n)
	}
	if _, ok := c.get("/search?page=0", time.Minute); ok {
		t.Fatal("expected least recently used search entry to be evicted")
	}
	if _, ok := c.get("/detail/1", time.Hour); !ok {
		t.Fatal("detail entries live in their own class")
	}
}

func TestResponseCache_ZeroTTLDisables(t *testing.T) {
	c := newResponseCache()
	c.set("k", []byte("v"), 0)
	if _, ok := c.get("k", 0); ok || c.size() != 0 {
		t.Fatal("zero TTL must not cache")
	}
}
