package search

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const resultsPage = `<html><body>
<div class="result results_links">
  <a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2Fdoc%2F&amp;rut=abc">The Go <b>Programming</b> Language</a>
  <a class="result__snippet" href="#">Documentation for   the Go language.</a>
</div>
<div class="result results_links">
  <a class="result__a" href="https://pkg.go.dev/">Go Packages</a>
  <div class="result__snippet">Discover packages.</div>
</div>
<div class="result results_links">
  <a class="result__a" href="">Broken result</a>
</div>
<div class="result results_links">
  <a class="result__a" href="https://go.dev/blog/">The Go Blog</a>
</div>
</body></html>`

func TestSearch(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		w.Write([]byte(resultsPage))
	}))
	defer srv.Close()

	results, err := NewClient(srv.URL+"/html/").Search(context.Background(), "golang docs", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if gotQuery != "golang docs" {
		t.Errorf("q = %q, want %q", gotQuery, "golang docs")
	}
	if len(results) != 3 {
		t.Fatalf("len = %d, want 3: %+v", len(results), results)
	}
	if results[0].URL != "https://go.dev/doc/" {
		t.Errorf("redirect URL not unwrapped: %q", results[0].URL)
	}
	if results[0].Title != "The Go Programming Language" {
		t.Errorf("Title = %q", results[0].Title)
	}
	if results[0].Snippet != "Documentation for the Go language." {
		t.Errorf("Snippet = %q", results[0].Snippet)
	}
	if results[1].Snippet != "Discover packages." {
		t.Errorf("div snippet = %q", results[1].Snippet)
	}
	if results[2].Snippet != "" {
		t.Errorf("result without snippet got %q", results[2].Snippet)
	}
}

func TestSearch_Limit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(resultsPage))
	}))
	defer srv.Close()

	results, err := NewClient(srv.URL).Search(context.Background(), "go", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("len = %d, want 1", len(results))
	}
}

func TestSearch_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Search(context.Background(), "go", 3)
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("err = %v, want ErrRateLimited", err)
	}
}

func TestSearch_EmptyQuery(t *testing.T) {
	if _, err := NewClient("http://unused").Search(context.Background(), "  ", 3); err == nil {
		t.Error("expected error for empty query")
	}
}

func TestFormat(t *testing.T) {
	if got := Format("x", nil); !strings.Contains(got, "No web results") {
		t.Errorf("Format(nil) = %q", got)
	}
	got := Format("go", []Result{{Title: "Go", URL: "https://go.dev", Snippet: "Build simple software."}})
	want := "Web results for \"go\":\n1. Go (https://go.dev)\n   Build simple software."
	if got != want {
		t.Errorf("Format = %q, want %q", got, want)
	}
}
