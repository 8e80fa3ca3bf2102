package core

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"membergate/internal/types"
)

// Fallbacks when the config leaves the session limit unset.
const (
	defaultRateLimitWindow = time.Minute
	defaultRateLimitMax    = 10
)

// RateLimit bounds how often one user may start hosted sessions. Only
// authenticated POSTs are counted; reads and the signed webhook pass
// straight through.
//
// If no RateLimitStore is configured the middleware passes through. On a
// store error it fails open so a Redis outage does not block billing.
//
// Every counted response carries X-RateLimit-Limit, X-RateLimit-Remaining
// and X-RateLimit-Reset. Rejections add Retry-After.
func (s *Server) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.RateLimitStore == nil || r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}

		actor, ok := types.GetActor(r.Context())
		if !ok || actor.UserID == "" {
			next.ServeHTTP(w, r)
			return
		}

		limit, window := s.rateLimit()
		result, err := s.RateLimitStore.IncrementAndCheck(r.Context(), "sessions:"+actor.UserID, limit, window)
		if err != nil {
			s.Logger.Error("rate limit store error",
				slog.String("user_id", actor.UserID),
				slog.String("error", err.Error()),
			)
			next.ServeHTTP(w, r)
			return
		}

		setRateLimitHeaders(w, limit, result)

		if !result.Allowed {
			s.Logger.Warn("rate limit exceeded",
				slog.String("user_id", actor.UserID),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)

			retryAfter := int(time.Until(result.ResetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

			JSON(w, r, http.StatusTooManyRequests, APIErrorResponse{
				Error: ErrorDetail{
					Code:      string(types.ErrCodeRateLimit),
					Message:   "Rate limit exceeded. Please retry after the reset time.",
					RequestID: types.GetRequestID(r.Context()),
				},
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimit() (int, time.Duration) {
	limit, window := defaultRateLimitMax, defaultRateLimitWindow
	if s.Config != nil {
		if s.Config.RateLimit.SessionsPerWindow > 0 {
			limit = s.Config.RateLimit.SessionsPerWindow
		}
		if s.Config.RateLimit.Window > 0 {
			window = s.Config.RateLimit.Window
		}
	}
	return limit, window
}

// setRateLimitHeaders writes the standard X-RateLimit-* headers.
func setRateLimitHeaders(w http.ResponseWriter, limit int, result RateLimitResult) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}
