package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/l0p7/addrnorm/internal/address"
	"github.com/l0p7/addrnorm/internal/dadata"
	"github.com/l0p7/addrnorm/internal/expr"
	"github.com/l0p7/addrnorm/internal/templates"
)

// Service is the address client surface the HTTP facade calls.
type Service interface {
	Lookup(ctx context.Context, query string, opts address.SuggestOptions) address.Result
	SuggestCities(ctx context.Context, query string, count int) []address.Suggestion
	SuggestStreets(ctx context.Context, query, city string, count int) []address.Suggestion
	SuggestDistricts(ctx context.Context, query string, count int) []address.Suggestion
	EnrichPropertyAddress(ctx context.Context, text string) (address.Enrichment, bool)
	NormalizeAddressForSearch(text string) []string
	IsAvailable() bool
	ClearCache(ctx context.Context) error
	CacheLen(ctx context.Context) (int64, error)
}

// Options shapes the responses.
type Options struct {
	// MaxCount caps the count query parameter. Zero leaves it uncapped.
	MaxCount int
	// SuggestionFilter is a CEL boolean over suggestion and request; false
	// drops the suggestion from the response.
	SuggestionFilter string
	// EnrichLabel is a Go template or CEL expression over enrichment and
	// request rendered into the enrich response's label field.
	EnrichLabel string
	// CorrelationHeader names the request header copied into error logs.
	CorrelationHeader string
}

// Handlers serves the address facade routes.
type Handlers struct {
	logger            *slog.Logger
	svc               Service
	maxCount          int
	filter            *expr.Program
	label             *expr.Hybrid
	correlationHeader string
	now               func() time.Time
}

// New compiles the configured expressions and returns the handler set.
// Expression errors are reported here so a bad config fails at startup.
func New(logger *slog.Logger, svc Service, opts Options) (*Handlers, error) {
	if svc == nil {
		return nil, fmt.Errorf("api: service required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		logger:            logger.With(slog.String("agent", "http_api")),
		svc:               svc,
		maxCount:          opts.MaxCount,
		correlationHeader: opts.CorrelationHeader,
		now:               time.Now,
	}

	evaluator, err := expr.NewHybridEvaluator(templates.NewRenderer())
	if err != nil {
		return nil, fmt.Errorf("api: %w", err)
	}
	if strings.TrimSpace(opts.SuggestionFilter) != "" {
		program, err := evaluator.Environment().Compile(opts.SuggestionFilter)
		if err != nil {
			return nil, fmt.Errorf("api: suggestion filter: %w", err)
		}
		h.filter = &program
	}
	label, err := evaluator.Compile("enrich_label", opts.EnrichLabel)
	if err != nil {
		return nil, fmt.Errorf("api: enrich label: %w", err)
	}
	h.label = label
	return h, nil
}

type suggestResponse struct {
	Suggestions []address.Suggestion `json:"suggestions"`
	Outcome     address.Outcome      `json:"outcome,omitempty"`
	FromCache   bool                 `json:"fromCache"`
}

// ServeSuggest answers GET /suggest?q=&count=&from=&to=&region=&city=.
func (h *Handlers) ServeSuggest(w http.ResponseWriter, r *http.Request) {
	query, count, ok := h.queryAndCount(w, r, "q")
	if !ok {
		return
	}
	params := r.URL.Query()
	from, err := parseBound(params.Get("from"))
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseBound(params.Get("to"))
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts := address.SuggestOptions{Count: count, From: from, To: to}
	loc := dadata.Location{
		RegionFiasID: strings.TrimSpace(params.Get("region")),
		City:         strings.TrimSpace(params.Get("city")),
	}
	if loc != (dadata.Location{}) {
		opts.Locations = []dadata.Location{loc}
	}

	result := h.svc.Lookup(r.Context(), query, opts)
	h.writeJSON(w, http.StatusOK, suggestResponse{
		Suggestions: h.applyFilter(r, result.Suggestions),
		Outcome:     result.Outcome,
		FromCache:   result.FromCache,
	})
}

// ServeCities answers GET /suggest/cities?q=&count=.
func (h *Handlers) ServeCities(w http.ResponseWriter, r *http.Request) {
	query, count, ok := h.queryAndCount(w, r, "q")
	if !ok {
		return
	}
	h.writeSuggestions(w, r, h.svc.SuggestCities(r.Context(), query, count))
}

// ServeStreets answers GET /suggest/streets?q=&city=&count=.
func (h *Handlers) ServeStreets(w http.ResponseWriter, r *http.Request) {
	query, count, ok := h.queryAndCount(w, r, "q")
	if !ok {
		return
	}
	city := r.URL.Query().Get("city")
	h.writeSuggestions(w, r, h.svc.SuggestStreets(r.Context(), query, city, count))
}

// ServeDistricts answers GET /suggest/districts?q=&count=.
func (h *Handlers) ServeDistricts(w http.ResponseWriter, r *http.Request) {
	query, count, ok := h.queryAndCount(w, r, "q")
	if !ok {
		return
	}
	h.writeSuggestions(w, r, h.svc.SuggestDistricts(r.Context(), query, count))
}

type enrichResponse struct {
	Found      bool                `json:"found"`
	Enrichment *address.Enrichment `json:"enrichment,omitempty"`
	Label      string              `json:"label,omitempty"`
}

// ServeEnrich answers GET /enrich?address=. A miss is a 200 with found=false.
func (h *Handlers) ServeEnrich(w http.ResponseWriter, r *http.Request) {
	text, ok := h.requiredParam(w, r, "address")
	if !ok {
		return
	}
	enrichment, found := h.svc.EnrichPropertyAddress(r.Context(), text)
	if !found {
		h.writeJSON(w, http.StatusOK, enrichResponse{Found: false})
		return
	}
	h.writeJSON(w, http.StatusOK, enrichResponse{
		Found:      true,
		Enrichment: &enrichment,
		Label:      h.renderLabel(r, enrichment),
	})
}

// ServeNormalize answers GET /normalize?address=.
func (h *Handlers) ServeNormalize(w http.ResponseWriter, r *http.Request) {
	text, ok := h.requiredParam(w, r, "address")
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"tokens": h.svc.NormalizeAddressForSearch(text),
	})
}

// ServeHealth reports whether suggestions are enabled and how large the cache
// is. A disabled client is reported as degraded rather than failing.
func (h *Handlers) ServeHealth(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.CacheLen(r.Context())
	if err != nil {
		h.logger.Error("cache size query failed", slog.Any("error", err))
		entries = 0
	}
	available := h.svc.IsAvailable()
	status := "ok"
	if !available {
		status = "degraded"
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":       status,
		"available":    available,
		"cacheEntries": entries,
		"observedAt":   h.now().UTC(),
	})
}

// ServeClearCache empties the suggestion cache.
func (h *Handlers) ServeClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ClearCache(r.Context()); err != nil {
		h.logger.Error("cache clear failed", slog.Any("error", err), h.correlation(r))
		h.WriteError(w, http.StatusInternalServerError, "cache clear failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"cleared": true})
}

// WriteError renders a JSON error body.
func (h *Handlers) WriteError(w http.ResponseWriter, status int, message string) {
	if status <= 0 {
		status = http.StatusInternalServerError
	}
	h.writeJSON(w, status, map[string]any{"error": message})
}

func (h *Handlers) writeSuggestions(w http.ResponseWriter, r *http.Request, suggestions []address.Suggestion) {
	h.writeJSON(w, http.StatusOK, suggestResponse{Suggestions: h.applyFilter(r, suggestions)})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("response encode failed", slog.Any("error", err))
	}
}

func (h *Handlers) requiredParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	value := strings.TrimSpace(r.URL.Query().Get(name))
	if value == "" {
		h.WriteError(w, http.StatusBadRequest, fmt.Sprintf("query parameter %s required", name))
		return "", false
	}
	return value, true
}

func (h *Handlers) queryAndCount(w http.ResponseWriter, r *http.Request, name string) (string, int, bool) {
	query, ok := h.requiredParam(w, r, name)
	if !ok {
		return "", 0, false
	}
	count := address.DefaultCount
	if raw := strings.TrimSpace(r.URL.Query().Get("count")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.WriteError(w, http.StatusBadRequest, "count must be a positive integer")
			return "", 0, false
		}
		count = n
	}
	if h.maxCount > 0 && count > h.maxCount {
		count = h.maxCount
	}
	return query, count, true
}

func (h *Handlers) applyFilter(r *http.Request, suggestions []address.Suggestion) []address.Suggestion {
	if suggestions == nil {
		return []address.Suggestion{}
	}
	if h.filter == nil {
		return suggestions
	}
	request := expr.RequestContext(r)
	kept := make([]address.Suggestion, 0, len(suggestions))
	for _, s := range suggestions {
		activation := map[string]any{
			"suggestion": toMap(s),
			"request":    request,
		}
		keep, err := h.filter.EvalBool(activation)
		if err != nil {
			h.logger.Warn("suggestion filter failed, keeping suggestion",
				slog.String("text", s.Text), slog.Any("error", err), h.correlation(r))
			keep = true
		}
		if keep {
			kept = append(kept, s)
		}
	}
	return kept
}

func (h *Handlers) renderLabel(r *http.Request, enrichment address.Enrichment) string {
	if h.label == nil {
		return ""
	}
	value, err := h.label.Evaluate(map[string]any{
		"enrichment": toMap(enrichment),
		"request":    expr.RequestContext(r),
	})
	if err != nil {
		h.logger.Warn("enrich label failed", slog.Any("error", err), h.correlation(r))
		return ""
	}
	if value == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

func (h *Handlers) correlation(r *http.Request) slog.Attr {
	if h.correlationHeader == "" {
		return slog.Attr{}
	}
	return slog.String("correlation_id", r.Header.Get(h.correlationHeader))
}

// toMap exposes a value to CEL and templates under its JSON field names.
func toMap(v any) map[string]any {
	encoded, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	out := map[string]any{}
	if err := json.Unmarshal(encoded, &out); err != nil {
		return map[string]any{}
	}
	return out
}

func parseBound(raw string) (dadata.Bound, error) {
	value := dadata.Bound(strings.ToLower(strings.TrimSpace(raw)))
	switch value {
	case "", dadata.BoundCountry, dadata.BoundRegion, dadata.BoundArea, dadata.BoundCity,
		dadata.BoundSettlement, dadata.BoundStreet, dadata.BoundHouse:
		return value, nil
	default:
		return "", fmt.Errorf("unsupported bound %q", raw)
	}
}
