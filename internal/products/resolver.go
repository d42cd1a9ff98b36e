package products

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/seraface/seraface/internal/shopping"
	"github.com/seraface/seraface/internal/storage"
)

const (
	cacheCollection      = "products_cache"
	provenanceCollection = "user_recommended_products"
	leaseCollection      = "resolve_leases"

	provenanceTTL = 365 * 24 * time.Hour

	defaultConcurrency = 4
	defaultLeaseTTL    = 10 * time.Second
	defaultLeasePoll   = 100 * time.Millisecond
)

// Searcher is the shopping-search collaborator consulted on cache miss.
type Searcher interface {
	Search(ctx context.Context, query string) (*shopping.Result, error)
	FetchDetail(ctx context.Context, detailRef string) (*shopping.Detail, error)
}

// Service resolves free-text product names to enriched product records with
// a cache-aside strategy: the shared products_cache collection is consulted
// first and the external search API only on miss. Every resolution on behalf
// of a session also records a provenance row, whatever the fetch outcome.
type Service struct {
	store       *storage.Store
	search      Searcher
	concurrency int
	leaseTTL    time.Duration
	leasePoll   time.Duration
}

// NewService creates a Service. concurrency bounds the fan-out of
// ResolveMany; values <= 0 default to 4.
func NewService(store *storage.Store, search Searcher, concurrency int) *Service {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Service{
		store:       store,
		search:      search,
		concurrency: concurrency,
		leaseTTL:    defaultLeaseTTL,
		leasePoll:   defaultLeasePoll,
	}
}

var (
	parenthetical = regexp.MustCompile(`\s*\([^)]*\)`)
	whitespaceRun = regexp.MustCompile(`\s+`)
)

// Instructional phrases the generator appends to product names; they confuse
// marketplace search and must not fragment the cache key space.
var instructionDenylist = []string{
	"patch test only",
	"use sparingly",
	"for sensitive skin",
	"apply at night",
	"morning use only",
	"evening use only",
}

// Normalize turns a free-text product name into the canonical cache key:
// parentheticals and instructional phrases removed, whitespace collapsed,
// case-folded and trimmed. It is a pure text transform.
func Normalize(query string) string {
	s := parenthetical.ReplaceAllString(query, "")
	s = strings.ToLower(s)
	for _, phrase := range instructionDenylist {
		s = strings.ReplaceAll(s, phrase, " ")
	}
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Resolve returns the enriched product record for query, fetching from the
// external search API only when the shared cache has no entry. When
// sessionID is non-empty a provenance row is recorded regardless of whether
// the product could be fetched — provenance captures intent-to-recommend,
// not fetch success.
func (s *Service) Resolve(ctx context.Context, query, sessionID string, rec RecommendationContext) (*Product, error) {
	key := Normalize(query)
	if key == "" {
		return nil, fmt.Errorf("resolve: empty product query")
	}

	product, err := s.lookup(key)
	if err != nil {
		return nil, err
	}

	var fetchErr error
	if product == nil {
		product, fetchErr = s.fetchWithLease(ctx, key)
	}

	if sessionID != "" {
		prov := Provenance{
			SessionID:  sessionID,
			Query:      key,
			RawQuery:   query,
			Context:    rec,
			Resolved:   product != nil,
			RecordedAt: time.Now().UTC(),
		}
		if err := s.store.Put(provenanceCollection, sessionID+"/"+key, prov, provenanceTTL); err != nil {
			return nil, fmt.Errorf("recording provenance for %q: %w", key, err)
		}
	}

	if fetchErr != nil {
		return nil, fetchErr
	}
	return product, nil
}

// lookup reads the cache; (nil, nil) on a clean miss.
func (s *Service) lookup(key string) (*Product, error) {
	var p Product
	err := s.store.Get(cacheCollection, key, &p)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// lease marks an in-flight fetch for a cache key so concurrent misses wait
// for the winner instead of duplicating the external call. Best-effort only:
// acquisition is not atomic, so duplicate calls remain possible under races.
type lease struct {
	Owner     string    `json:"owner"`
	StartedAt time.Time `json:"started_at"`
}

func (s *Service) fetchWithLease(ctx context.Context, key string) (*Product, error) {
	for attempt := 0; attempt < 3; attempt++ {
		var l lease
		err := s.store.Get(leaseCollection, key, &l)
		if errors.Is(err, storage.ErrNotFound) {
			l = lease{Owner: uuid.NewString(), StartedAt: time.Now().UTC()}
			if err := s.store.Put(leaseCollection, key, l, s.leaseTTL); err != nil {
				return nil, err
			}
			product, ferr := s.fetch(ctx, key)
			if _, derr := s.store.Delete(leaseCollection, key); derr != nil {
				slog.Warn("releasing resolve lease failed", "query", key, "error", derr)
			}
			return product, ferr
		}
		if err != nil {
			return nil, err
		}

		product, settled, err := s.awaitWinner(ctx, key)
		if err != nil {
			return nil, err
		}
		if settled {
			return product, nil
		}
		// Lease lapsed without a cache write: the winner failed. Take a turn.
	}
	return s.fetch(ctx, key)
}

// awaitWinner polls until the holder of the lease either writes the cache
// entry (settled=true) or its lease lapses without one (settled=false).
func (s *Service) awaitWinner(ctx context.Context, key string) (*Product, bool, error) {
	deadline := time.Now().Add(s.leaseTTL)
	ticker := time.NewTicker(s.leasePoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, false, &shopping.FetchError{Op: "search", Query: key, Err: ctx.Err()}
		case <-ticker.C:
		}

		product, err := s.lookup(key)
		if err != nil {
			return nil, false, err
		}
		if product != nil {
			return product, true, nil
		}

		var l lease
		err = s.store.Get(leaseCollection, key, &l)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		if time.Now().After(deadline) {
			return nil, false, nil
		}
	}
}

// fetch performs the external search plus optional detail call and writes
// the merged record through to the cache. Empty search results are returned
// as ErrNoResults and never cached.
func (s *Service) fetch(ctx context.Context, key string) (*Product, error) {
	res, err := s.search.Search(ctx, key)
	if err != nil {
		return nil, err
	}

	product := &Product{
		Query:          key,
		Title:          res.Title,
		Price:          res.Price,
		ExtractedPrice: res.ExtractedPrice,
		Thumbnail:      res.Thumbnail,
		Rating:         res.Rating,
		Reviews:        res.Reviews,
		Store:          res.Store,
		Link:           res.Link,
		Description:    res.Snippet,
	}

	if res.DetailRef != "" {
		detail, derr := s.search.FetchDetail(ctx, res.DetailRef)
		if derr != nil {
			// Detail enrichment is optional; the search hit alone is cacheable.
			slog.Warn("product detail fetch failed", "query", key, "error", derr)
		} else {
			mergeDetail(product, detail)
		}
	}

	product.FetchedAt = time.Now().UTC()
	if err := s.store.Put(cacheCollection, key, product, 0); err != nil {
		return nil, fmt.Errorf("caching product %q: %w", key, err)
	}

	slog.Debug("product fetched from search API", "query", key, "title", product.Title)
	return product, nil
}

// mergeDetail folds detail-API fields into product. A truthy field is never
// overwritten by an empty or absent one.
func mergeDetail(p *Product, d *shopping.Detail) {
	if d.Description != "" {
		p.Description = d.Description
	}
	if p.Details == nil {
		p.Details = make(map[string]any)
	}
	if len(d.Highlights) > 0 {
		p.Details["highlights"] = d.Highlights
	}
	if d.Ingredients != "" {
		p.Details["ingredients"] = d.Ingredients
	}
	if d.Directions != "" {
		p.Details["directions"] = d.Directions
	}
	if d.Warnings != "" {
		p.Details["warnings"] = d.Warnings
	}
	if len(d.Variants) > 0 {
		p.Details["variants"] = d.Variants
	}
	if len(d.Sellers) > 0 {
		p.Details["sellers"] = d.Sellers
	}
	if len(p.Details) == 0 {
		p.Details = nil
	}
}

// ResolveMany resolves a batch concurrently, bounded by the configured
// concurrency limit. Items are independent: one item's failure lands in its
// Outcome and never cancels siblings. The returned slice is parallel to reqs.
// Duplicate queries within a batch are not de-duplicated here; normalization
// plus the resolve lease keep the duplicate work to at most one external call.
func (s *Service) ResolveMany(ctx context.Context, reqs []Request, sessionID string) []Outcome {
	outcomes := make([]Outcome, len(reqs))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			p, err := s.Resolve(ctx, req.Query, sessionID, req.Context)
			outcomes[i] = Outcome{Query: req.Query, Product: p, Err: err}
			return nil
		})
	}
	g.Wait()

	return outcomes
}

// ListRecommended returns every provenance row recorded for sessionID,
// newest first.
func (s *Service) ListRecommended(sessionID string) ([]Provenance, error) {
	prefix := sessionID + "/"
	keys, err := s.store.ScanKeys(provenanceCollection, func(k string) bool {
		return strings.HasPrefix(k, prefix)
	})
	if err != nil {
		return nil, fmt.Errorf("listing recommendations for session %s: %w", sessionID, err)
	}

	var rows []Provenance
	for _, k := range keys {
		var p Provenance
		err := s.store.Get(provenanceCollection, k, &p)
		if errors.Is(err, storage.ErrNotFound) {
			continue // expired between scan and read
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, p)
	}

	sort.Slice(rows, func(i, j int) bool {
		return rows[i].RecordedAt.After(rows[j].RecordedAt)
	})
	return rows, nil
}

// CachedProduct returns the shared cache entry for a normalized query.
func (s *Service) CachedProduct(normalized string) (*Product, error) {
	var p Product
	if err := s.store.Get(cacheCollection, normalized, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SweepExpired deletes provenance rows past their retention window along
// with any stale resolve leases, and reports how many provenance rows were
// removed.
func (s *Service) SweepExpired() (int, error) {
	keys, err := s.store.DeleteExpired(provenanceCollection)
	if err != nil {
		return 0, fmt.Errorf("sweeping recommendations: %w", err)
	}
	if _, err := s.store.DeleteExpired(leaseCollection); err != nil {
		slog.Warn("sweeping resolve leases failed", "error", err)
	}
	return len(keys), nil
}

// CacheStats reports totals and one-week activity for the shared cache and
// the provenance collection.
func (s *Service) CacheStats() (Stats, error) {
	weekAgo := time.Now().Add(-7 * 24 * time.Hour)

	var stats Stats
	var err error
	if stats.CachedProducts, err = s.store.Count(cacheCollection); err != nil {
		return Stats{}, err
	}
	if stats.RecentCached, err = s.store.CountCreatedSince(cacheCollection, weekAgo); err != nil {
		return Stats{}, err
	}
	if stats.Recommendations, err = s.store.Count(provenanceCollection); err != nil {
		return Stats{}, err
	}
	if stats.RecentRecommendations, err = s.store.CountCreatedSince(provenanceCollection, weekAgo); err != nil {
		return Stats{}, err
	}
	return stats, nil
}
