package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/rhuss/codegate/pkg/api"
	"github.com/rhuss/codegate/pkg/observability"
)

// DefaultBypassEndpoints lists endpoints that skip authentication.
var DefaultBypassEndpoints = []string{"/healthz", "/readyz", "/metrics"}

func writeError(w http.ResponseWriter, status int, apiErr *api.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: apiErr})
}

// Middleware authenticates every request not in bypassEndpoints, applies
// the rate limiter when one is given and stores the identity in the
// request context. Only a Yes vote gets through; Abstain is treated like No.
func Middleware(authn Authenticator, limiter RateLimiter, bypassEndpoints []string) func(http.Handler) http.Handler {
	bypass := make(map[string]bool, len(bypassEndpoints))
	for _, ep := range bypassEndpoints {
		bypass[ep] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bypass[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			result := authn.Authenticate(r.Context(), r)
			if result.Decision != Yes || result.Identity == nil {
				slog.Warn("authentication failed", "path", r.URL.Path, "remote_addr", r.RemoteAddr, "error", result.Err)
				writeError(w, http.StatusUnauthorized, &api.APIError{
					Type:    api.ErrorTypeInvalidRequest,
					Code:    "unauthenticated",
					Message: ErrUnauthenticated.Error(),
				})
				return
			}
			id := result.Identity
			if id.Subject == "" {
				slog.Error("authenticator returned identity with empty subject", "path", r.URL.Path)
				writeError(w, http.StatusInternalServerError, api.NewServerError("internal authentication error"))
				return
			}

			if limiter != nil {
				if err := limiter.Allow(r.Context(), id); err != nil {
					var limitErr *LimitError
					if errors.As(err, &limitErr) {
						secs := int(math.Ceil(limitErr.RetryAfter.Seconds()))
						w.Header().Set("Retry-After", strconv.Itoa(secs))
					}
					slog.Warn("rate limit exceeded", "subject", id.Subject, "tier", id.ServiceTier)
					observability.RateLimitRejectedTotal.WithLabelValues(id.ServiceTier).Inc()
					writeError(w, http.StatusTooManyRequests, &api.APIError{
						Type:    api.ErrorTypeInvalidRequest,
						Code:    "rate_limited",
						Message: ErrTooManyRequests.Error(),
					})
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireScope answers 403 when the request's identity lacks scope. A
// request without an identity passes: that only happens when
// authentication is disabled, and the anonymous caller holds every scope.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := IdentityFromContext(r.Context()); id != nil && !id.HasScope(scope) {
				slog.Warn("missing scope", "subject", id.Subject, "scope", scope, "path", r.URL.Path)
				writeError(w, http.StatusForbidden, api.NewForbiddenError("missing scope "+scope))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
