package httpapi

import (
	"net/http"
	"slices"
	"strings"
)

// Wildcard allows any origin, method or header
const Wildcard = "*"

// DefaultCORS allows any origin, method and header with credentials
var DefaultCORS = CORS{
	AllowedOrigins:   []string{Wildcard},
	AllowedMethods:   []string{Wildcard},
	AllowedHeaders:   []string{Wildcard},
	AllowCredentials: true,
}

// CORS is the cross origin policy
type CORS struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	// AllowCredentials permits cookies and authorization headers.
	// A wildcard origin is answered with the request origin,
	// browsers reject "*" on credentialed requests.
	AllowCredentials bool
}

func (c *CORS) allowOrigin(origin string) string {
	if slices.Contains(c.AllowedOrigins, Wildcard) {
		if c.AllowCredentials {
			return origin
		}
		return Wildcard
	}
	if slices.Contains(c.AllowedOrigins, origin) {
		return origin
	}
	return ""
}

// allowList returns the configured list, or the requested value for a wildcard
func allowList(allowed []string, requested string) string {
	if slices.Contains(allowed, Wildcard) {
		return requested
	}
	return strings.Join(allowed, ", ")
}

// handler adds the CORS headers and answers preflight requests
func (c *CORS) handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Add("Vary", "Origin")
		allowed := c.allowOrigin(origin)
		if allowed != "" {
			h.Set("Access-Control-Allow-Origin", allowed)
			if c.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
		}

		method := r.Header.Get("Access-Control-Request-Method")
		if r.Method == http.MethodOptions && method != "" {
			if allowed != "" {
				h.Set("Access-Control-Allow-Methods", allowList(c.AllowedMethods, method))
				if headers := allowList(c.AllowedHeaders, r.Header.Get("Access-Control-Request-Headers")); headers != "" {
					h.Set("Access-Control-Allow-Headers", headers)
				}
				h.Set("Access-Control-Max-Age", "600")
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
