// Package fraud implements the ordered filter chain that decides whether a
// tracked impression is billable, plus the per-client click rate limiter.
package fraud

import (
	"context"
	"net"

	"github.com/radiusdt/vector-adserver/internal/metrics"
	"github.com/radiusdt/vector-adserver/internal/models"
	"github.com/radiusdt/vector-adserver/internal/nonce"
	"github.com/radiusdt/vector-adserver/internal/targeting"
	"go.uber.org/zap"
)

// Rejection reasons. These strings are stable: they flow into analytics
// events, debug headers and metrics labels.
const (
	ReasonInvalidNonce     = "Old/Nonexistent nonce"
	ReasonBot              = "Bot impression"
	ReasonInternalIP       = "Internal IP"
	ReasonUnrecognizedUA   = "Unrecognized user agent"
	ReasonStaff            = "Staff impression"
	ReasonBlacklisted      = "Blacklisted impression"
	ReasonUnknownPublisher = "Unknown publisher"
	ReasonInvalidTargeting = "Invalid targeting impression"
	ReasonRatelimited      = "Ratelimited impression"
)

// Context carries everything the filters inspect about one impression.
type Context struct {
	Advertisement  *models.Advertisement
	Publisher      *models.Publisher
	Nonce          string
	ImpressionType models.ImpressionType
	ClientIP       string
	UserAgent      string
	UA             targeting.UserAgentInfo
	CountryCode    string
	IsStaff        bool
}

// Filter is a single validation rule. Check returns the rejection reason,
// or "" when the impression passes.
type Filter interface {
	Name() string
	Check(ctx context.Context, imp *Context) string
}

// Chain evaluates filters in order and stops at the first rejection. The
// order is deliberate: cheap and high-signal rules run before rules that
// touch storage.
type Chain struct {
	filters []Filter
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewChain builds the standard filter chain.
func NewChain(
	nonces nonce.Store,
	limiter RateLimiter,
	internalIPs []string,
	blacklist *targeting.UABlacklist,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Chain {
	return &Chain{
		filters: []Filter{
			&nonceFilter{store: nonces},
			&botFilter{},
			newInternalIPFilter(internalIPs, logger),
			&unrecognizedUAFilter{},
			&staffFilter{},
			&blacklistFilter{blacklist: blacklist},
			&publisherFilter{},
			&targetingFilter{},
			&ratelimitFilter{limiter: limiter, metrics: m},
		},
		logger:  logger,
		metrics: m,
	}
}

// Evaluate runs the chain and returns the first rejection reason, or ""
// when the impression is billable.
func (c *Chain) Evaluate(ctx context.Context, imp *Context) string {
	for _, f := range c.filters {
		if reason := f.Check(ctx, imp); reason != "" {
			c.logger.Debug("impression rejected",
				zap.String("filter", f.Name()),
				zap.String("reason", reason),
				zap.String("advertisement_id", imp.Advertisement.ID),
				zap.String("client_ip", imp.ClientIP),
			)
			if c.metrics != nil {
				c.metrics.RecordRejection(reason)
			}
			return reason
		}
	}
	return ""
}

// nonceFilter rejects impressions whose token is missing, expired or
// already consumed. It only validates; the consume transition happens
// after the whole chain passes.
type nonceFilter struct {
	store nonce.Store
}

func (f *nonceFilter) Name() string { return "nonce" }

func (f *nonceFilter) Check(ctx context.Context, imp *Context) string {
	if !f.store.IsValid(ctx, imp.Advertisement.ID, imp.ImpressionType, imp.Nonce) {
		return ReasonInvalidNonce
	}
	return ""
}

type botFilter struct{}

func (f *botFilter) Name() string { return "bot" }

func (f *botFilter) Check(_ context.Context, imp *Context) string {
	if imp.UA.Bot {
		return ReasonBot
	}
	return ""
}

// internalIPFilter rejects traffic from the configured internal addresses
// and networks (office ranges, health checkers). Only configured entries
// match; an empty set rejects nothing.
type internalIPFilter struct {
	networks []*net.IPNet
	ips      []net.IP
}

func newInternalIPFilter(entries []string, logger *zap.Logger) *internalIPFilter {
	f := &internalIPFilter{}
	for _, entry := range entries {
		if _, ipnet, err := net.ParseCIDR(entry); err == nil {
			f.networks = append(f.networks, ipnet)
			continue
		}
		if ip := net.ParseIP(entry); ip != nil {
			f.ips = append(f.ips, ip)
			continue
		}
		logger.Warn("skipping invalid internal IP entry", zap.String("entry", entry))
	}
	return f
}

func (f *internalIPFilter) Name() string { return "internal_ip" }

func (f *internalIPFilter) Check(_ context.Context, imp *Context) string {
	ip := net.ParseIP(imp.ClientIP)
	if ip == nil {
		return ""
	}
	for _, known := range f.ips {
		if known.Equal(ip) {
			return ReasonInternalIP
		}
	}
	for _, network := range f.networks {
		if network.Contains(ip) {
			return ReasonInternalIP
		}
	}
	return ""
}

type unrecognizedUAFilter struct{}

func (f *unrecognizedUAFilter) Name() string { return "unrecognized_ua" }

func (f *unrecognizedUAFilter) Check(_ context.Context, imp *Context) string {
	if imp.UA.Unrecognized() {
		return ReasonUnrecognizedUA
	}
	return ""
}

// staffFilter keeps staff test traffic out of billing.
type staffFilter struct{}

func (f *staffFilter) Name() string { return "staff" }

func (f *staffFilter) Check(_ context.Context, imp *Context) string {
	if imp.IsStaff {
		return ReasonStaff
	}
	return ""
}

type blacklistFilter struct {
	blacklist *targeting.UABlacklist
}

func (f *blacklistFilter) Name() string { return "blacklist" }

func (f *blacklistFilter) Check(_ context.Context, imp *Context) string {
	if f.blacklist != nil && f.blacklist.IsBlacklisted(imp.UserAgent) {
		return ReasonBlacklisted
	}
	return ""
}

type publisherFilter struct{}

func (f *publisherFilter) Name() string { return "publisher" }

func (f *publisherFilter) Check(_ context.Context, imp *Context) string {
	if imp.Publisher == nil {
		return ReasonUnknownPublisher
	}
	return ""
}

// targetingFilter enforces the flight's geo targeting against the resolved
// country code. An empty code means the location could not be resolved;
// the flight decides whether that passes.
type targetingFilter struct{}

func (f *targetingFilter) Name() string { return "targeting" }

func (f *targetingFilter) Check(_ context.Context, imp *Context) string {
	flight := imp.Advertisement.Flight
	if flight == nil {
		return ""
	}
	if !flight.AllowsGeo(imp.CountryCode) {
		return ReasonInvalidTargeting
	}
	return ""
}

// ratelimitFilter rejects clicks from clients over any configured window
// limit. Views are not rate limited.
type ratelimitFilter struct {
	limiter RateLimiter
	metrics *metrics.Metrics
}

func (f *ratelimitFilter) Name() string { return "ratelimit" }

func (f *ratelimitFilter) Check(ctx context.Context, imp *Context) string {
	if imp.ImpressionType != models.ImpressionClick || f.limiter == nil {
		return ""
	}
	if f.limiter.IsLimited(ctx, imp.ClientIP) {
		if f.metrics != nil {
			f.metrics.ClickRatelimited.Inc()
		}
		return ReasonRatelimited
	}
	return ""
}
