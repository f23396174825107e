// Package middleware provides the HTTP middleware chain: panic recovery,
// request logging, token bucket rate limiting and API key auth.
package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/radiusdt/vector-adserver/internal/config"
	"github.com/radiusdt/vector-adserver/internal/metrics"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
)

// NewLogger creates a zap logger from the log configuration.
func NewLogger(level, format string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	if format == "console" {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	return cfg.Build()
}

// RecoveryMiddleware recovers from handler panics and returns 500.
type RecoveryMiddleware struct {
	logger *zap.Logger
}

func NewRecoveryMiddleware(logger *zap.Logger) *RecoveryMiddleware {
	return &RecoveryMiddleware{logger: logger}
}

func (m *RecoveryMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				m.logger.Error("panic in request handler",
					zap.Any("error", err),
					zap.String("path", r.URL.Path),
					zap.String("method", r.Method),
				)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter captures the status code for logging.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// LoggingMiddleware logs each request with latency and status.
type LoggingMiddleware struct {
	logger *zap.Logger
}

func NewLoggingMiddleware(logger *zap.Logger) *LoggingMiddleware {
	return &LoggingMiddleware{logger: logger}
}

func (m *LoggingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		m.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rw.status),
			zap.Duration("latency", time.Since(start)),
		)
	})
}

// RateLimitMiddleware applies separate token buckets to the tracking
// endpoints and everything else. Tracking traffic is high volume and gets
// the larger budget.
type RateLimitMiddleware struct {
	track   *rate.Limiter
	mgmt    *rate.Limiter
	enabled bool
	metrics *metrics.Metrics
}

func NewRateLimitMiddleware(cfg config.RateLimitConfig, m *metrics.Metrics) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		track:   rate.NewLimiter(rate.Limit(cfg.TrackRPS), cfg.TrackBurst),
		mgmt:    rate.NewLimiter(rate.Limit(cfg.MgmtRPS), cfg.MgmtBurst),
		enabled: cfg.Enabled,
		metrics: m,
	}
}

func isTrackEndpoint(path string) bool {
	return strings.HasPrefix(path, "/track/")
}

func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	if !m.enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limiter, endpoint := m.mgmt, "mgmt"
		if isTrackEndpoint(r.URL.Path) {
			limiter, endpoint = m.track, "track"
		}

		if !limiter.Allow() {
			if m.metrics != nil {
				m.metrics.RecordRateLimitHit(endpoint)
			}
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Principal is the authenticated caller attached to the request context.
type Principal struct {
	IsStaff bool
	Token   string
}

type contextKey int

const principalKey contextKey = iota

// PrincipalFromContext returns the request principal, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// AuthMiddleware resolves the caller's API key into a Principal. The key
// comes from the X-API-Key header or the api_key query parameter; a match
// against the staff key grants staff. Requests without a key pass through
// anonymous, so per-route handlers decide what requires auth.
type AuthMiddleware struct {
	staffKey string
	enabled  bool
}

func NewAuthMiddleware(cfg config.AuthConfig) *AuthMiddleware {
	return &AuthMiddleware{
		staffKey: cfg.StaffKey,
		enabled:  cfg.Enabled,
	}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	if !m.enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.URL.Query().Get("api_key")
		}
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		p := Principal{Token: key}
		if m.staffKey != "" && subtle.ConstantTimeCompare([]byte(key), []byte(m.staffKey)) == 1 {
			p.IsStaff = true
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, p)))
	})
}
