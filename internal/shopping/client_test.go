package shopping

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSearchMapsFirstResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("engine"); got != "google_shopping" {
			t.Errorf("engine = %q", got)
		}
		if got := r.URL.Query().Get("q"); got != "cerave cleanser" {
			t.Errorf("q = %q", got)
		}
		w.Write([]byte(`{
			"shopping_results": [
				{
					"title": "CeraVe Hydrating Facial Cleanser",
					"price": "$12.99",
					"extracted_price": 12.99,
					"thumbnail": "https://img.example/1.jpg",
					"rating": 4.7,
					"reviews": 1845,
					"source": "Watsons",
					"product_link": "https://shop.example/p/1",
					"position": 1,
					"product_id": "123",
					"serpapi_product_api": "https://serpapi.com/search.json?engine=google_product&product_id=123"
				},
				{"title": "second result ignored"}
			]
		}`))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "k", BaseURL: srv.URL})
	res, err := c.Search(context.Background(), "cerave cleanser")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Title != "CeraVe Hydrating Facial Cleanser" {
		t.Errorf("Title = %q", res.Title)
	}
	if res.ExtractedPrice != 12.99 {
		t.Errorf("ExtractedPrice = %v", res.ExtractedPrice)
	}
	if res.Store != "Watsons" {
		t.Errorf("Store = %q", res.Store)
	}
	if res.DetailRef == "" {
		t.Error("DetailRef empty, want follow-up URL")
	}
}

func TestSearchEmptyResultsIsErrNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"shopping_results": []}`))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "k", BaseURL: srv.URL})
	_, err := c.Search(context.Background(), "nonexistent product xyz")
	if !errors.Is(err, ErrNoResults) {
		t.Errorf("err = %v, want ErrNoResults", err)
	}
}

func TestSearchAPIErrorIsFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": "Invalid API key"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "bad", BaseURL: srv.URL})
	_, err := c.Search(context.Background(), "anything")
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want *FetchError", err)
	}
	if fe.Op != "search" {
		t.Errorf("Op = %q, want search", fe.Op)
	}
}

func TestSearchTimeoutIsFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"shopping_results": []}`))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "k", BaseURL: srv.URL, Timeout: 20 * time.Millisecond})
	_, err := c.Search(context.Background(), "slow")
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want *FetchError", err)
	}
}

func TestFetchDetailFallbackDescription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("product_id"); got != "123" {
			t.Errorf("product_id = %q, want 123 (ref params preserved)", got)
		}
		if got := r.URL.Query().Get("api_key"); got != "k" {
			t.Errorf("api_key = %q, want re-attached key", got)
		}
		w.Write([]byte(`{
			"product_results": {
				"about_this_item": "Gentle daily cleanser with ceramides.",
				"highlights": ["Fragrance free", "Non-comedogenic"],
				"ingredients": "Aqua, Glycerin"
			}
		}`))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "k", BaseURL: srv.URL})
	d, err := c.FetchDetail(context.Background(), "https://serpapi.com/search.json?engine=google_product&product_id=123")
	if err != nil {
		t.Fatalf("FetchDetail: %v", err)
	}
	if d.Description != "Gentle daily cleanser with ceramides." {
		t.Errorf("Description = %q (about_this_item fallback)", d.Description)
	}
	if len(d.Highlights) != 2 {
		t.Errorf("Highlights = %v", d.Highlights)
	}
}
