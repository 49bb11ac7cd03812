package server

import (
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tjfontaine/campaign-gateway/internal/ratelimit"
)

// RateLimitInfo contains normalized rate limit information for the
// x-ratelimit-* response headers.
type RateLimitInfo struct {
	RequestsLimit     int
	RequestsRemaining int
	RequestsReset     time.Duration
}

func writeRateLimitHeaders(h http.Header, rl RateLimitInfo) {
	// Standard format: x-ratelimit-{limit|remaining|reset}-requests
	if rl.RequestsLimit <= 0 {
		return
	}
	h.Set("x-ratelimit-limit-requests", strconv.Itoa(rl.RequestsLimit))
	h.Set("x-ratelimit-remaining-requests", strconv.Itoa(rl.RequestsRemaining))
	h.Set("x-ratelimit-reset-requests", formatReset(rl.RequestsReset))
}

// formatReset renders a duration the way OpenAI-style reset headers do, in
// whole seconds with an "s" suffix.
func formatReset(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 0 {
		secs = 0
	}
	return strconv.Itoa(secs) + "s"
}

// RateLimitOptions configures RateLimitMiddleware.
type RateLimitOptions struct {
	// TrustForwarded keys clients by the first X-Forwarded-For entry instead
	// of the connection address. Only enable behind a trusted proxy.
	TrustForwarded bool
	Logger         *slog.Logger
	// Now is used to compute reset headers. Defaults to time.Now.
	Now func() time.Time
}

// RateLimitMiddleware rejects clients that exceed limiter with a 429 and
// writes x-ratelimit-* headers on every response it lets through.
func RateLimitMiddleware(limiter ratelimit.Limiter, opts RateLimitOptions) func(http.Handler) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ClientIP(r, opts.TrustForwarded)
			d := limiter.Allow(key)

			reset := d.Reset.Sub(now())
			writeRateLimitHeaders(w.Header(), RateLimitInfo{
				RequestsLimit:     d.Limit,
				RequestsRemaining: d.Remaining,
				RequestsReset:     reset,
			})

			if !d.Allowed {
				AddLogField(r.Context(), "rate_limited", key)
				logger.WarnContext(r.Context(), "rate limit exceeded",
					slog.String("client", key),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				w.Header().Set("Retry-After", strings.TrimSuffix(formatReset(reset), "s"))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"status":  "error",
					"message": "Rate limit exceeded",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP identifies the client for rate limiting.
func ClientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
