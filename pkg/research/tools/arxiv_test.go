package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

const arxivFixture = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <title>Attention Is All You Need</title>
    <summary>  We propose a new simple network architecture, the Transformer.  </summary>
    <link rel="alternate" type="text/html" href="http://arxiv.org/abs/1706.03762"/>
    <link title="pdf" type="application/pdf" href="http://arxiv.org/pdf/1706.03762"/>
  </entry>
  <entry>
    <title>Some HTML-only Paper</title>
    <summary>No PDF for this one.</summary>
    <link rel="alternate" type="text/html" href="http://arxiv.org/abs/9999.00001"/>
  </entry>
</feed>`

func TestArxivSearch(t *testing.T) {
	var gotQuery, gotMax string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("search_query")
		gotMax = r.URL.Query().Get("max_results")
		w.Header().Set("Content-Type", "application/atom+xml")
		w.Write([]byte(arxivFixture))
	}))
	defer ts.Close()

	client := NewArxivClient()
	client.BaseURL = ts.URL

	docs, err := client.Search(context.Background(), "transformers", 2)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	if gotQuery != "transformers" {
		t.Errorf("search_query = %q, want %q", gotQuery, "transformers")
	}
	if gotMax != "2" {
		t.Errorf("max_results = %q, want %q", gotMax, "2")
	}

	if len(docs) != 2 {
		t.Fatalf("len(docs) = %d, want 2", len(docs))
	}
	if docs[0].Title != "Attention Is All You Need" {
		t.Errorf("title = %q", docs[0].Title)
	}
	if docs[0].URL != "http://arxiv.org/pdf/1706.03762" {
		t.Errorf("locator = %q, want the PDF link", docs[0].URL)
	}
	if docs[0].Content != "We propose a new simple network architecture, the Transformer." {
		t.Errorf("content = %q, want trimmed abstract", docs[0].Content)
	}
	// Entries without a PDF link fall back to the abstract page.
	if docs[1].URL != "http://arxiv.org/abs/9999.00001" {
		t.Errorf("fallback locator = %q", docs[1].URL)
	}
}

func TestArxivSearchServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	client := NewArxivClient()
	client.BaseURL = ts.URL

	if _, err := client.Search(context.Background(), "anything", 1); err == nil {
		t.Fatal("Search() error = nil, want provider failure")
	}
}

func TestArxivSearchMalformedFeed(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("this is not xml"))
	}))
	defer ts.Close()

	client := NewArxivClient()
	client.BaseURL = ts.URL

	if _, err := client.Search(context.Background(), "anything", 1); err == nil {
		t.Fatal("Search() error = nil, want parse failure")
	}
}
