// Package httpserver wires the services together and exposes the HTTP API:
// tracking pixels and redirects, the ad decision endpoint, report APIs and
// the Do Not Track endpoints.
package httpserver

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/radiusdt/vector-adserver/internal/adserver"
	"github.com/radiusdt/vector-adserver/internal/analytics"
	"github.com/radiusdt/vector-adserver/internal/config"
	"github.com/radiusdt/vector-adserver/internal/database"
	"github.com/radiusdt/vector-adserver/internal/fraud"
	"github.com/radiusdt/vector-adserver/internal/metrics"
	"github.com/radiusdt/vector-adserver/internal/nonce"
	"github.com/radiusdt/vector-adserver/internal/storage"
	"github.com/radiusdt/vector-adserver/internal/targeting"
	"go.uber.org/zap"
)

// Dependencies holds the external resources the server needs. DB and
// Redis may be nil, in which case in-memory stores are used. Geo and
// Analytics may be nil when not configured.
type Dependencies struct {
	DB        *database.PostgresDB
	Redis     *database.RedisDB
	Geo       *targeting.GeoResolver
	Analytics *analytics.Dispatcher
	Config    *config.Config
	Logger    *zap.Logger
	Metrics   *metrics.Metrics

	// Explicit storage overrides. When set they take precedence over DB
	// and Redis derived stores.
	AdRepo         storage.AdRepo
	ImpressionRepo storage.ImpressionRepo
	Nonces         nonce.Store
}

// Server is the HTTP API server.
type Server struct {
	cfg       *config.Config
	logger    *zap.Logger
	metrics   *metrics.Metrics
	deps      Dependencies
	tracker   *adserver.Tracker
	reporting *adserver.Reporting
	decision  *adserver.Decision
	ads       storage.AdRepo
	mux       *http.ServeMux
}

// NewServer wires the services and routes.
func NewServer(deps Dependencies) (*Server, error) {
	cfg := deps.Config
	logger := deps.Logger

	adRepo, impressionRepo := deps.AdRepo, deps.ImpressionRepo
	if adRepo == nil {
		if deps.DB != nil {
			adRepo = storage.NewPostgresAdRepo(deps.DB.Pool, logger)
			impressionRepo = storage.NewPostgresImpressionRepo(deps.DB.Pool, logger)
		} else {
			logger.Warn("no database configured, using in-memory storage")
			memAds := storage.NewInMemoryAdRepo()
			adRepo = memAds
			impressionRepo = storage.NewInMemoryImpressionRepo(memAds)
		}
	}

	limits, err := fraud.ParseLimits(cfg.Fraud.ClickRatelimits)
	if err != nil {
		return nil, err
	}

	nonces := deps.Nonces
	var limiter fraud.RateLimiter
	if deps.Redis != nil {
		if nonces == nil {
			nonces = nonce.NewRedisStore(deps.Redis.Client, cfg.Nonce.TTL, logger)
		}
		limiter = fraud.NewRedisRateLimiter(deps.Redis.Client, limits, logger)
	} else {
		if nonces == nil {
			logger.Warn("no Redis configured, using in-memory nonce store and rate limiter")
			nonces = nonce.NewMemoryStore(cfg.Nonce.TTL, cfg.Nonce.MaxEntries)
		}
		limiter = fraud.NewMemoryRateLimiter(limits)
	}

	blacklist := targeting.NewUABlacklist(cfg.Fraud.BlacklistedUserAgents, logger)
	chain := fraud.NewChain(nonces, limiter, cfg.Fraud.InternalIPs, blacklist, logger, deps.Metrics)

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		metrics: deps.Metrics,
		deps:    deps,
		ads:     adRepo,
		tracker: adserver.NewTracker(
			adRepo, impressionRepo, nonces, limiter, chain,
			deps.Geo, targeting.NewParser(), deps.Analytics,
			logger, deps.Metrics,
		),
		reporting: adserver.NewReporting(adRepo, impressionRepo, logger, deps.Metrics),
		decision:  adserver.NewDecision(adRepo, nonces, cfg.Server.BaseURL, logger, deps.Metrics),
		mux:       http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("/track/view/", s.handleTrackView)
	s.mux.HandleFunc("/track/click/", s.handleTrackClick)
	s.mux.HandleFunc("/api/v1/decision", s.handleDecision)
	s.mux.HandleFunc("/api/v1/advertisers/", s.handleAdvertiserReport)
	s.mux.HandleFunc("/api/v1/publishers/", s.handlePublisherReport)
	s.mux.HandleFunc("/api/v1/reports/advertisers", s.handleAllAdvertisersReport)
	s.mux.HandleFunc("/api/v1/reports/publishers", s.handleAllPublishersReport)
	s.mux.HandleFunc("/dnt/status", s.handleDNTStatus)
	s.mux.HandleFunc("/dnt/policy", s.handleDNTPolicy)
	s.mux.HandleFunc("/health", s.handleHealth)

	if s.cfg.Metrics.Enabled {
		s.mux.Handle(s.cfg.Metrics.Path, metrics.Handler())
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}

	if s.deps.DB != nil {
		if err := s.deps.DB.Health(r.Context()); err != nil {
			status["status"] = "degraded"
			status["database"] = err.Error()
		}
	}
	if s.deps.Redis != nil {
		if err := s.deps.Redis.Health(r.Context()); err != nil {
			status["status"] = "degraded"
			status["redis"] = err.Error()
		}
	}

	code := http.StatusOK
	if status["status"] != "ok" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, status)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

// getClientIP extracts the client IP, preferring proxy headers.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.Index(xff, ","); i >= 0 {
			xff = xff[:i]
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
