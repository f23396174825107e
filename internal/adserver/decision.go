package adserver

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"github.com/google/uuid"
	"github.com/radiusdt/vector-adserver/internal/metrics"
	"github.com/radiusdt/vector-adserver/internal/models"
	"github.com/radiusdt/vector-adserver/internal/nonce"
	"github.com/radiusdt/vector-adserver/internal/storage"
	"go.uber.org/zap"
)

// ErrPublisherNotFound is returned when the requesting publisher slug is
// unknown.
var ErrPublisherNotFound = fmt.Errorf("publisher not found")

// Offer is one served advertisement with its pre-minted tracking URLs.
// The nonces embedded in the URLs are single use and expire.
type Offer struct {
	ID       string `json:"id"`
	Slug     string `json:"slug"`
	Name     string `json:"name"`
	Text     string `json:"text,omitempty"`
	Link     string `json:"link"`
	ViewURL  string `json:"view_url"`
	ClickURL string `json:"click_url"`
}

// Decision picks advertisements for publishers and mints their tracking
// nonces.
type Decision struct {
	ads     storage.AdRepo
	nonces  nonce.Store
	baseURL string
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewDecision creates the ad decision service.
func NewDecision(ads storage.AdRepo, nonces nonce.Store, baseURL string, logger *zap.Logger, m *metrics.Metrics) *Decision {
	return &Decision{
		ads:     ads,
		nonces:  nonces,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
		metrics: m,
	}
}

// Offer picks a live advertisement for the publisher and mints one view
// nonce and one click nonce for it. forceAd, when non-empty, pins the
// choice to a specific advertisement slug for testing. Returns (nil, nil)
// when no live advertisement is available.
func (d *Decision) Offer(ctx context.Context, publisherSlug, forceAd string) (*Offer, error) {
	publisher, err := d.ads.GetPublisherBySlug(ctx, publisherSlug)
	if err != nil {
		return nil, fmt.Errorf("failed to load publisher: %w", err)
	}
	if publisher == nil {
		return nil, ErrPublisherNotFound
	}

	ads, err := d.ads.ListLiveAdvertisements(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list advertisements: %w", err)
	}
	if len(ads) == 0 {
		return nil, nil
	}

	ad := d.choose(ads, forceAd)
	if ad == nil {
		return nil, nil
	}

	viewNonce, err := d.nonces.Issue(ctx, ad.ID, models.ImpressionView, publisher.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue view nonce: %w", err)
	}
	clickNonce, err := d.nonces.Issue(ctx, ad.ID, models.ImpressionClick, publisher.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue click nonce: %w", err)
	}
	if d.metrics != nil {
		d.metrics.RecordNonceIssued()
		d.metrics.RecordNonceIssued()
	}

	d.logger.Debug("offered advertisement",
		zap.String("advertisement_id", ad.ID),
		zap.String("publisher_id", publisher.ID),
	)

	return &Offer{
		ID:       uuid.NewString(),
		Slug:     ad.Slug,
		Name:     ad.Name,
		Text:     ad.Text,
		Link:     ad.Link,
		ViewURL:  fmt.Sprintf("%s/track/view/%s/%s", d.baseURL, ad.ID, viewNonce),
		ClickURL: fmt.Sprintf("%s/track/click/%s/%s", d.baseURL, ad.ID, clickNonce),
	}, nil
}

func (d *Decision) choose(ads []*models.Advertisement, forceAd string) *models.Advertisement {
	if forceAd != "" {
		for _, ad := range ads {
			if ad.Slug == forceAd {
				return ad
			}
		}
		return nil
	}
	return ads[rand.Intn(len(ads))]
}
