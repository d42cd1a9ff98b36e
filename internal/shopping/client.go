package shopping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://serpapi.com"
	defaultTimeout = 15 * time.Second
)

// ErrNoResults means the search completed but matched nothing. It is a
// legitimate empty result, not a failure, and is never cached upstream.
var ErrNoResults = errors.New("no shopping results")

// FetchError reports a failed or timed-out call to the shopping search API.
type FetchError struct {
	Op    string // "search" or "detail"
	Query string
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("shopping %s %q: %v", e.Op, e.Query, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Result is the first shopping hit for a query.
type Result struct {
	Title          string  `json:"title"`
	Price          string  `json:"price"`
	ExtractedPrice float64 `json:"extracted_price,omitempty"`
	Thumbnail      string  `json:"thumbnail,omitempty"`
	Rating         float64 `json:"rating,omitempty"`
	Reviews        int     `json:"reviews,omitempty"`
	Store          string  `json:"store,omitempty"`
	Link           string  `json:"link,omitempty"`
	Snippet        string  `json:"snippet,omitempty"`
	Position       int     `json:"position,omitempty"`
	ProductID      string  `json:"product_id,omitempty"`
	Delivery       string  `json:"delivery,omitempty"`

	// DetailRef is an opaque follow-up URL for FetchDetail; empty when the
	// engine offers no product detail page.
	DetailRef string `json:"detail_ref,omitempty"`
}

// Detail carries the extended fields from the product detail API.
type Detail struct {
	Description string           `json:"description,omitempty"`
	Highlights  []string         `json:"highlights,omitempty"`
	Ingredients string           `json:"ingredients,omitempty"`
	Directions  string           `json:"directions,omitempty"`
	Warnings    string           `json:"warnings,omitempty"`
	Variants    []map[string]any `json:"variants,omitempty"`
	Sellers     []map[string]any `json:"sellers,omitempty"`
}

// Config controls Client construction. Zero values get sensible defaults.
type Config struct {
	APIKey   string
	BaseURL  string
	Language string // hl parameter
	Country  string // gl parameter
	Timeout  time.Duration
}

// Client communicates with a SerpAPI-compatible shopping search endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	language   string
	country    string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient creates a shopping search client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.Country == "" {
		cfg.Country = "us"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		apiKey:   cfg.APIKey,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		language: cfg.Language,
		country:  cfg.Country,
		timeout:  cfg.Timeout,
		httpClient: &http.Client{
			Timeout: 0,
		},
	}
}

// searchResponse mirrors the subset of the SerpAPI search payload we consume.
type searchResponse struct {
	Error           string `json:"error,omitempty"`
	ShoppingResults []struct {
		Title             string          `json:"title"`
		Price             string          `json:"price"`
		ExtractedPrice    float64         `json:"extracted_price"`
		Thumbnail         string          `json:"thumbnail"`
		Rating            float64         `json:"rating"`
		Reviews           int             `json:"reviews"`
		Source            string          `json:"source"`
		Merchant          json.RawMessage `json:"merchant"`
		ProductLink       string          `json:"product_link"`
		Link              string          `json:"link"`
		Snippet           string          `json:"snippet"`
		Position          int             `json:"position"`
		ProductID         string          `json:"product_id"`
		Delivery          string          `json:"delivery"`
		SerpapiProductAPI string          `json:"serpapi_product_api"`
	} `json:"shopping_results"`
}

// Search runs a google_shopping query and returns the first hit.
// ErrNoResults (wrapped) is returned when the result list is empty.
func (c *Client) Search(ctx context.Context, query string) (*Result, error) {
	params := url.Values{
		"engine":  {"google_shopping"},
		"q":       {query},
		"api_key": {c.apiKey},
		"hl":      {c.language},
		"gl":      {c.country},
	}

	var parsed searchResponse
	if err := c.getJSON(ctx, c.baseURL+"/search.json?"+params.Encode(), &parsed); err != nil {
		return nil, &FetchError{Op: "search", Query: query, Err: err}
	}
	if parsed.Error != "" {
		return nil, &FetchError{Op: "search", Query: query, Err: errors.New(parsed.Error)}
	}
	if len(parsed.ShoppingResults) == 0 {
		return nil, fmt.Errorf("searching %q: %w", query, ErrNoResults)
	}

	first := parsed.ShoppingResults[0]
	link := first.ProductLink
	if link == "" {
		link = first.Link
	}
	return &Result{
		Title:          first.Title,
		Price:          first.Price,
		ExtractedPrice: first.ExtractedPrice,
		Thumbnail:      first.Thumbnail,
		Rating:         first.Rating,
		Reviews:        first.Reviews,
		Store:          first.Source,
		Link:           link,
		Snippet:        first.Snippet,
		Position:       first.Position,
		ProductID:      first.ProductID,
		Delivery:       first.Delivery,
		DetailRef:      first.SerpapiProductAPI,
	}, nil
}

// detailResponse mirrors the product detail API payload.
type detailResponse struct {
	Error          string `json:"error,omitempty"`
	ProductResults struct {
		Description        string           `json:"description"`
		AboutThisItem      string           `json:"about_this_item"`
		ProductDescription string           `json:"product_description"`
		Highlights         []string         `json:"highlights"`
		Ingredients        string           `json:"ingredients"`
		Directions         string           `json:"directions"`
		Warnings           string           `json:"warnings"`
		Variants           []map[string]any `json:"variants"`
		Sellers            []map[string]any `json:"sellers"`
	} `json:"product_results"`
}

// FetchDetail issues the follow-up product API call using the DetailRef
// returned by Search. The ref is a full URL; the API key is re-attached.
func (c *Client) FetchDetail(ctx context.Context, detailRef string) (*Detail, error) {
	u, err := url.Parse(detailRef)
	if err != nil {
		return nil, &FetchError{Op: "detail", Query: detailRef, Err: err}
	}
	q := u.Query()
	q.Set("api_key", c.apiKey)

	// Detail refs point at the upstream host; tests swap it for a local one.
	target := c.baseURL + u.Path + "?" + q.Encode()

	var parsed detailResponse
	if err := c.getJSON(ctx, target, &parsed); err != nil {
		return nil, &FetchError{Op: "detail", Query: detailRef, Err: err}
	}
	if parsed.Error != "" {
		return nil, &FetchError{Op: "detail", Query: detailRef, Err: errors.New(parsed.Error)}
	}

	pr := parsed.ProductResults
	description := pr.Description
	if description == "" {
		description = pr.AboutThisItem
	}
	if description == "" {
		description = pr.ProductDescription
	}

	return &Detail{
		Description: description,
		Highlights:  pr.Highlights,
		Ingredients: pr.Ingredients,
		Directions:  pr.Directions,
		Warnings:    pr.Warnings,
		Variants:    pr.Variants,
		Sellers:     pr.Sellers,
	}, nil
}

func (c *Client) getJSON(ctx context.Context, target string, dest any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		// SerpAPI reports errors with a JSON body even on non-200; surface it.
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("status %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
