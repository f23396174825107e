// Package adserver holds the tracking, reporting and ad decision services.
package adserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/radiusdt/vector-adserver/internal/analytics"
	"github.com/radiusdt/vector-adserver/internal/fraud"
	"github.com/radiusdt/vector-adserver/internal/metrics"
	"github.com/radiusdt/vector-adserver/internal/models"
	"github.com/radiusdt/vector-adserver/internal/nonce"
	"github.com/radiusdt/vector-adserver/internal/storage"
	"github.com/radiusdt/vector-adserver/internal/targeting"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var decimalHundred = decimal.NewFromInt(100)

// ErrAdNotFound is returned when the tracked advertisement does not exist.
// Nothing is recorded or dispatched in that case.
var ErrAdNotFound = errors.New("advertisement not found")

// Billing messages recorded on accepted impressions.
const (
	MessageBilledView  = "Billed view"
	MessageBilledClick = "Billed click"
)

// TrackRequest is one incoming impression event.
type TrackRequest struct {
	AdvertisementID string
	Nonce           string
	Type            models.ImpressionType
	ClientIP        string
	UserAgent       string
	Referrer        string
	IsStaff         bool
}

// TrackResult is the tracking decision. Reason is empty when the
// impression was accepted; Message is the reason or the billing message.
type TrackResult struct {
	Advertisement *models.Advertisement
	Billed        bool
	Reason        string
	Message       string
}

// Tracker validates impressions through the fraud chain and bills the
// accepted ones.
type Tracker struct {
	ads         storage.AdRepo
	impressions storage.ImpressionRepo
	nonces      nonce.Store
	limiter     fraud.RateLimiter
	chain       *fraud.Chain
	geo         *targeting.GeoResolver
	uaParser    targeting.UAParser
	analytics   *analytics.Dispatcher
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// NewTracker wires the tracking service. The analytics dispatcher may be
// nil when no sink is configured.
func NewTracker(
	ads storage.AdRepo,
	impressions storage.ImpressionRepo,
	nonces nonce.Store,
	limiter fraud.RateLimiter,
	chain *fraud.Chain,
	geo *targeting.GeoResolver,
	uaParser targeting.UAParser,
	dispatcher *analytics.Dispatcher,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Tracker {
	return &Tracker{
		ads:         ads,
		impressions: impressions,
		nonces:      nonces,
		limiter:     limiter,
		chain:       chain,
		geo:         geo,
		uaParser:    uaParser,
		analytics:   dispatcher,
		logger:      logger,
		metrics:     m,
	}
}

// Track runs one impression through validation and billing. The returned
// error is ErrAdNotFound or a storage error on the advertisement lookup;
// every other outcome is expressed in the result.
func (t *Tracker) Track(ctx context.Context, req TrackRequest) (*TrackResult, error) {
	start := time.Now()

	ad, err := t.ads.GetAdvertisement(ctx, req.AdvertisementID)
	if err != nil {
		return nil, fmt.Errorf("failed to load advertisement: %w", err)
	}
	if ad == nil {
		return nil, ErrAdNotFound
	}

	var countryCode string
	if t.geo != nil {
		countryCode = t.geo.CountryCode(req.ClientIP)
	}

	var publisher *models.Publisher
	if publisherID, ok := t.nonces.Publisher(ctx, req.AdvertisementID, req.Type, req.Nonce); ok {
		if publisher, err = t.ads.GetPublisher(ctx, publisherID); err != nil {
			t.logger.Error("failed to load publisher",
				zap.String("publisher_id", publisherID),
				zap.Error(err),
			)
			publisher = nil
		}
	}

	imp := &fraud.Context{
		Advertisement:  ad,
		Publisher:      publisher,
		Nonce:          req.Nonce,
		ImpressionType: req.Type,
		ClientIP:       req.ClientIP,
		UserAgent:      req.UserAgent,
		UA:             t.uaParser.Parse(req.UserAgent),
		CountryCode:    countryCode,
		IsStaff:        req.IsStaff,
	}

	result := &TrackResult{Advertisement: ad}

	if reason := t.chain.Evaluate(ctx, imp); reason != "" {
		result.Reason = reason
		result.Message = reason
		t.finish(ctx, req, ad, result, start)
		return result, nil
	}

	// Consume after the whole chain passes. Losing the consume race means
	// a concurrent request already billed this nonce.
	consumed := t.nonces.Consume(ctx, req.AdvertisementID, req.Type, req.Nonce)
	if t.metrics != nil {
		t.metrics.RecordNonceConsume(consumed)
	}
	if !consumed {
		result.Reason = fraud.ReasonInvalidNonce
		result.Message = fraud.ReasonInvalidNonce
		t.finish(ctx, req, ad, result, start)
		return result, nil
	}

	cost := ad.Flight.CostFor(req.Type)
	if err := t.impressions.IncrementCounter(ctx, ad.ID, publisher.ID, time.Now().UTC(), req.Type, cost); err != nil {
		t.logger.Error("failed to record billed impression",
			zap.String("advertisement_id", ad.ID),
			zap.String("publisher_id", publisher.ID),
			zap.String("type", string(req.Type)),
			zap.Error(err),
		)
		if t.metrics != nil {
			t.metrics.RecordFailures.Inc()
		}
		t.finish(ctx, req, ad, result, start)
		return result, nil
	}

	result.Billed = true
	if req.Type == models.ImpressionClick {
		result.Message = MessageBilledClick
		if t.limiter != nil {
			t.limiter.Record(ctx, req.ClientIP)
		}
	} else {
		result.Message = MessageBilledView
	}

	t.logger.Info("billed impression",
		zap.String("advertisement_id", ad.ID),
		zap.String("publisher_id", publisher.ID),
		zap.String("type", string(req.Type)),
		zap.String("cost", cost.String()),
	)

	t.finish(ctx, req, ad, result, start)
	return result, nil
}

// finish records metrics and dispatches the analytics event. Clicks are
// reported whether they billed or not so fraud patterns stay visible.
func (t *Tracker) finish(ctx context.Context, req TrackRequest, ad *models.Advertisement, result *TrackResult, start time.Time) {
	if t.metrics != nil {
		t.metrics.RecordImpression(string(req.Type), result.Billed, time.Since(start))
	}

	if t.analytics == nil || req.Type != models.ImpressionClick || result.Message == "" {
		return
	}

	// Every click event carries the flight's CPC in cents, rejected or not,
	// so spend lost to filtering can be read off the same dimension.
	cents := ad.Flight.CostFor(req.Type).Mul(decimalHundred).IntPart()

	t.analytics.Dispatch(analytics.Event{
		ID:        uuid.NewString(),
		Category:  "Advertisement",
		Action:    result.Message,
		Label:     ad.Slug,
		Value:     cents,
		ClientIP:  req.ClientIP,
		UserAgent: req.UserAgent,
		Referrer:  req.Referrer,
		Timestamp: time.Now().UTC(),
	})
}
