package address

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/l0p7/addrnorm/internal/cache"
	"github.com/l0p7/addrnorm/internal/dadata"
	"github.com/l0p7/addrnorm/internal/metrics"
)

const (
	// DefaultCount is the number of suggestions requested when the caller
	// does not specify one.
	DefaultCount = 5
	// DefaultRegionFiasID scopes unfiltered queries to Krasnodar krai.
	DefaultRegionFiasID = "d00e1013-16bd-4c09-b3d5-3cb09fc54bd8"

	minQueryLength = 2
)

// Operation labels used in logs and metrics.
const (
	OperationSuggest   = "suggest"
	OperationCities    = "cities"
	OperationStreets   = "streets"
	OperationDistricts = "districts"
	OperationEnrich    = "enrich"
)

// SuggestOptions narrows a lookup. Zero values fall back to the defaults.
type SuggestOptions struct {
	Count     int
	Locations []dadata.Location
	From      dadata.Bound
	To        dadata.Bound
}

// Options wires the client's collaborators. A nil Upstream leaves the client
// permanently disabled; a nil Cache disables caching.
type Options struct {
	Upstream            Upstream
	Cache               cache.Store[[]Suggestion]
	Metrics             *metrics.Recorder
	DefaultRegionFiasID string
	SkipSegments        []string
}

// Client normalizes free-form addresses through the suggestion provider and
// caches the parsed candidates.
type Client struct {
	logger       *slog.Logger
	upstream     Upstream
	cache        cache.Store[[]Suggestion]
	metrics      *metrics.Recorder
	regionFiasID string
	skip         []string
	now          func() time.Time
}

// NewClient constructs the client. Missing credentials are reported once here
// and never again: every later call short-circuits to an empty result.
func NewClient(logger *slog.Logger, opts Options) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		logger:       logger.With(slog.String("agent", "address_client")),
		upstream:     opts.Upstream,
		cache:        opts.Cache,
		metrics:      opts.Metrics,
		regionFiasID: strings.TrimSpace(opts.DefaultRegionFiasID),
		skip:         opts.SkipSegments,
		now:          time.Now,
	}
	if c.regionFiasID == "" {
		c.regionFiasID = DefaultRegionFiasID
	}
	if c.skip == nil {
		c.skip = DefaultSkipSegments()
	}
	if c.upstream == nil {
		c.logger.Warn("suggestions api credentials not configured, address normalization disabled")
	}
	return c
}

// IsAvailable reports whether the client can reach the provider at all.
func (c *Client) IsAvailable() bool {
	return c != nil && c.upstream != nil
}

// Suggest returns normalized candidates for query. Failures of any kind
// degrade to an empty slice.
func (c *Client) Suggest(ctx context.Context, query string, opts SuggestOptions) []Suggestion {
	return c.lookup(ctx, OperationSuggest, query, opts).Suggestions
}

// Lookup is Suggest with the outcome exposed.
func (c *Client) Lookup(ctx context.Context, query string, opts SuggestOptions) Result {
	return c.lookup(ctx, OperationSuggest, query, opts)
}

// SuggestCities restricts candidates to cities and settlements.
func (c *Client) SuggestCities(ctx context.Context, query string, count int) []Suggestion {
	return c.lookup(ctx, OperationCities, query, SuggestOptions{
		Count: count,
		From:  dadata.BoundCity,
		To:    dadata.BoundSettlement,
	}).Suggestions
}

// SuggestStreets restricts candidates to streets, optionally within city.
func (c *Client) SuggestStreets(ctx context.Context, query, city string, count int) []Suggestion {
	opts := SuggestOptions{
		Count: count,
		From:  dadata.BoundStreet,
		To:    dadata.BoundStreet,
	}
	if city = strings.TrimSpace(city); city != "" {
		opts.Locations = []dadata.Location{{City: city}}
	}
	return c.lookup(ctx, OperationStreets, query, opts).Suggestions
}

// SuggestDistricts restricts candidates to municipal districts.
func (c *Client) SuggestDistricts(ctx context.Context, query string, count int) []Suggestion {
	return c.lookup(ctx, OperationDistricts, query, SuggestOptions{
		Count: count,
		From:  dadata.BoundArea,
		To:    dadata.BoundArea,
	}).Suggestions
}

// ClearCache drops every cached suggestion list.
func (c *Client) ClearCache(ctx context.Context) error {
	if c.cache == nil {
		return nil
	}
	if err := c.cache.Clear(ctx); err != nil {
		c.metrics.ObserveCache(metrics.CacheOperationClear, metrics.CacheResultError)
		return fmt.Errorf("address: clear cache: %w", err)
	}
	c.metrics.ObserveCache(metrics.CacheOperationClear, metrics.CacheResultOK)
	c.logger.Info("suggestion cache cleared")
	return nil
}

// CacheLen reports the number of cached entries, or zero without a cache.
func (c *Client) CacheLen(ctx context.Context) (int64, error) {
	if c.cache == nil {
		return 0, nil
	}
	n, err := c.cache.Len(ctx)
	if err != nil {
		return 0, fmt.Errorf("address: cache len: %w", err)
	}
	return n, nil
}

// NormalizeAddressForSearch tokenizes text with the client's skip list.
func (c *Client) NormalizeAddressForSearch(text string) []string {
	return tokenize(text, c.skip)
}

func (c *Client) lookup(ctx context.Context, operation, query string, opts SuggestOptions) (result Result) {
	start := c.now()
	defer func() {
		c.metrics.ObserveSuggest(operation, string(result.Outcome), result.FromCache, c.now().Sub(start))
	}()

	if !c.IsAvailable() {
		return Result{Suggestions: []Suggestion{}, Outcome: OutcomeDisabled}
	}
	if utf8.RuneCountInString(query) < minQueryLength {
		return Result{Suggestions: []Suggestion{}, Outcome: OutcomeRejected}
	}

	count := opts.Count
	if count <= 0 {
		count = DefaultCount
	}
	key := cacheKey(query, count)
	log := c.logger.With(slog.String("operation", operation), slog.String("query", query))

	if cached, ok := c.cachedLookup(ctx, key, log); ok {
		return Result{Suggestions: cached, Outcome: outcomeFor(cached), FromCache: true}
	}

	locations := opts.Locations
	if len(locations) == 0 {
		locations = []dadata.Location{{RegionFiasID: c.regionFiasID}}
	}
	req := dadata.SuggestRequest{
		Query:     query,
		Count:     count,
		Locations: locations,
		FromBound: opts.From,
		ToBound:   opts.To,
	}

	callStart := c.now()
	raw, err := c.upstream.Suggest(ctx, req)
	if err != nil {
		c.metrics.ObserveUpstream(metrics.UpstreamResultError, 0, 0, c.now().Sub(callStart))
		log.Error("address suggestion request failed", slog.Any("error", err))
		return Result{Suggestions: []Suggestion{}, Outcome: OutcomeFailed}
	}

	suggestions := make([]Suggestion, 0, len(raw))
	skipped := 0
	for i, item := range raw {
		parsed, err := parseSuggestion(item)
		if err != nil {
			skipped++
			log.Warn("skipping unparsable suggestion", slog.Int("index", i), slog.String("value", item.Value), slog.Any("error", err))
			continue
		}
		suggestions = append(suggestions, parsed)
	}
	c.metrics.ObserveUpstream(metrics.UpstreamResultOK, len(suggestions), skipped, c.now().Sub(callStart))

	c.storeLookup(ctx, key, suggestions, log)
	return Result{Suggestions: suggestions, Outcome: outcomeFor(suggestions)}
}

func (c *Client) cachedLookup(ctx context.Context, key string, log *slog.Logger) ([]Suggestion, bool) {
	if c.cache == nil {
		return nil, false
	}
	cached, ok, err := c.cache.Lookup(ctx, key)
	if err != nil {
		c.metrics.ObserveCache(metrics.CacheOperationLookup, metrics.CacheResultError)
		log.Warn("suggestion cache lookup failed", slog.Any("error", err))
		return nil, false
	}
	if !ok {
		c.metrics.ObserveCache(metrics.CacheOperationLookup, metrics.CacheResultMiss)
		return nil, false
	}
	c.metrics.ObserveCache(metrics.CacheOperationLookup, metrics.CacheResultHit)
	if cached == nil {
		return []Suggestion{}, true
	}
	return cloneSuggestions(cached), true
}

func (c *Client) storeLookup(ctx context.Context, key string, suggestions []Suggestion, log *slog.Logger) {
	if c.cache == nil {
		return
	}
	category := categoryFor(suggestions)
	if err := c.cache.Store(ctx, key, cloneSuggestions(suggestions), category); err != nil {
		c.metrics.ObserveCache(metrics.CacheOperationStore, metrics.CacheResultError)
		log.Warn("suggestion cache store failed", slog.Any("error", err))
		return
	}
	c.metrics.ObserveCache(metrics.CacheOperationStore, metrics.CacheResultStored)
	c.metrics.ObserveCacheStore(string(category))
}

// cacheKey ignores locations and bounds, so filtered and unfiltered lookups of
// the same text share an entry.
func cacheKey(query string, count int) string {
	return fmt.Sprintf("address:%s:%d", strings.ToLower(query), count)
}

func categoryFor(suggestions []Suggestion) cache.Category {
	if len(suggestions) == 0 {
		return cache.CategoryDefault
	}
	return cache.ParseCategory(string(suggestions[0].Type))
}

func outcomeFor(suggestions []Suggestion) Outcome {
	if len(suggestions) == 0 {
		return OutcomeEmpty
	}
	return OutcomeFound
}
