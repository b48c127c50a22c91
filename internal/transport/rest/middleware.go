package rest

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ticketrush/onsale-service/internal/domain"

	"github.com/go-chi/chi/v5"
)

const userIDHeader = "X-User-Id"

// Identity resolves the opaque caller identity from X-User-Id. Authentication
// lives upstream; by the time a request reaches this service the gateway has
// verified whoever set the header.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := strings.TrimSpace(r.Header.Get(userIDHeader))
		if uid == "" {
			fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "X-User-Id header is required", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), uid)))
	})
}

// JoinRateLimit caps queue joins per IP per event. The limiter fails open:
// cache trouble must not take down the front door.
func JoinRateLimit(cache domain.WaitingRoomCache, limit int) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "join:" + chi.URLParam(r, "eventID") + ":" + clientIP(r)
			allowed, err := cache.AllowRequest(r.Context(), key, limit, time.Minute)
			if err == nil && !allowed {
				w.Header().Set("Retry-After", "60")
				fail(w, r, http.StatusTooManyRequests, "rate_limited", "too many join attempts", map[string]any{
					"retry_after_seconds": 60,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP keeps it simple: RemoteAddr host part.
// If you are behind a trusted reverse proxy, you may choose to trust X-Forwarded-For,
// but doing so blindly is a spoofing risk.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CSP for API: restrictive policy suitable for JSON-only endpoints
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'; form-action 'none'")

		// HSTS: Enforce HTTPS for 1 year, include subdomains
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")

		// Prevent MIME type sniffing
		w.Header().Set("X-Content-Type-Options", "nosniff")

		// Prevent clickjacking (redundant with CSP frame-ancestors, but belt-and-suspenders)
		w.Header().Set("X-Frame-Options", "DENY")

		// Don't leak referrer to external sites
		w.Header().Set("Referrer-Policy", "no-referrer")

		// Prevent cross-origin resource embedding
		w.Header().Set("Cross-Origin-Resource-Policy", "same-site")

		next.ServeHTTP(w, r)
	})
}
