package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AddressHTTP is the surface the router needs from the API handlers.
type AddressHTTP interface {
	ServeSuggest(http.ResponseWriter, *http.Request)
	ServeCities(http.ResponseWriter, *http.Request)
	ServeStreets(http.ResponseWriter, *http.Request)
	ServeDistricts(http.ResponseWriter, *http.Request)
	ServeEnrich(http.ResponseWriter, *http.Request)
	ServeNormalize(http.ResponseWriter, *http.Request)
	ServeHealth(http.ResponseWriter, *http.Request)
	ServeClearCache(http.ResponseWriter, *http.Request)
	WriteError(http.ResponseWriter, int, string)
}

// RouterOptions carries the optional pieces of the routing table.
type RouterOptions struct {
	// Metrics is mounted at /metrics when non-nil.
	Metrics http.Handler
	// AdminToken enables /admin/* behind a bearer token. Empty disables the
	// admin routes entirely.
	AdminToken string
}

type route string

const (
	routeSuggest    route = "suggest"
	routeCities     route = "cities"
	routeStreets    route = "streets"
	routeDistricts  route = "districts"
	routeEnrich     route = "enrich"
	routeNormalize  route = "normalize"
	routeHealth     route = "healthz"
	routeMetrics    route = "metrics"
	routeClearCache route = "clear-cache"
)

// NewHandler wires URL dispatch in front of the API handlers.
func NewHandler(h AddressHTTP, opts RouterOptions) http.Handler {
	if h == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "address api unavailable", http.StatusServiceUnavailable)
		})
	}
	adminToken := strings.TrimSpace(opts.AdminToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rt, ok := parseRoute(r.URL.Path)
		if !ok {
			http.NotFound(w, r)
			return
		}

		switch rt {
		case routeMetrics:
			if opts.Metrics == nil {
				http.NotFound(w, r)
				return
			}
			opts.Metrics.ServeHTTP(w, r)
			return
		case routeClearCache:
			if adminToken == "" {
				http.NotFound(w, r)
				return
			}
			if r.Method != http.MethodPost {
				w.Header().Set("Allow", http.MethodPost)
				h.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			if !bearerMatches(r, adminToken) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="addrnorm-admin"`)
				h.WriteError(w, http.StatusUnauthorized, "admin token required")
				return
			}
			h.ServeClearCache(w, r)
			return
		}

		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			h.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		switch rt {
		case routeSuggest:
			h.ServeSuggest(w, r)
		case routeCities:
			h.ServeCities(w, r)
		case routeStreets:
			h.ServeStreets(w, r)
		case routeDistricts:
			h.ServeDistricts(w, r)
		case routeEnrich:
			h.ServeEnrich(w, r)
		case routeNormalize:
			h.ServeNormalize(w, r)
		case routeHealth:
			h.ServeHealth(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

func parseRoute(path string) (route, bool) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "", false
	}
	parts := strings.Split(trimmed, "/")
	switch len(parts) {
	case 1:
		switch strings.ToLower(parts[0]) {
		case "suggest":
			return routeSuggest, true
		case "enrich":
			return routeEnrich, true
		case "normalize":
			return routeNormalize, true
		case "health", "healthz":
			return routeHealth, true
		case "metrics":
			return routeMetrics, true
		}
	case 2:
		first, second := strings.ToLower(parts[0]), strings.ToLower(parts[1])
		switch first {
		case "suggest":
			switch second {
			case "cities":
				return routeCities, true
			case "streets":
				return routeStreets, true
			case "districts":
				return routeDistricts, true
			}
		}
	case 3:
		if strings.EqualFold(parts[0], "admin") && strings.EqualFold(parts[1], "cache") && strings.EqualFold(parts[2], "clear") {
			return routeClearCache, true
		}
	}
	return "", false
}

func bearerMatches(r *http.Request, token string) bool {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return false
	}
	presented := strings.TrimSpace(header[len(prefix):])
	return subtle.ConstantTimeCompare([]byte(presented), []byte(token)) == 1
}
