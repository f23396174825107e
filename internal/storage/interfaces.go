// Package storage defines the repositories behind the tracking and
// reporting services, with PostgreSQL and in-memory implementations.
package storage

import (
	"context"
	"time"

	"github.com/radiusdt/vector-adserver/internal/models"
	"github.com/shopspring/decimal"
)

// AdRepo reads the advertisement catalog. Lookups return (nil, nil) when
// the row does not exist.
type AdRepo interface {
	// GetAdvertisement returns the advertisement with its flight, campaign
	// and advertiser populated.
	GetAdvertisement(ctx context.Context, id string) (*models.Advertisement, error)
	ListLiveAdvertisements(ctx context.Context) ([]*models.Advertisement, error)
	ListAdvertisementsByAdvertiser(ctx context.Context, advertiserID string) ([]*models.Advertisement, error)
	GetPublisher(ctx context.Context, id string) (*models.Publisher, error)
	GetPublisherBySlug(ctx context.Context, slug string) (*models.Publisher, error)
	GetAdvertiserBySlug(ctx context.Context, slug string) (*models.Advertiser, error)
	ListAdvertisers(ctx context.Context) ([]*models.Advertiser, error)
	ListPublishers(ctx context.Context) ([]*models.Publisher, error)
}

// DailyQuery selects daily counter rows for reporting. A zero Start or End
// leaves that side of the range unbounded. EntityIDs narrows to specific
// entities; empty means all. CampaignType filters by the owning campaign's
// tag and applies to advertisement and publisher groupings.
type DailyQuery struct {
	Entity       models.EntityKind
	EntityIDs    []string
	Start        time.Time
	End          time.Time
	CampaignType string
}

// ImpressionRepo persists billed impression counters.
type ImpressionRepo interface {
	// IncrementCounter adds one impression of the given type and its cost
	// to the (advertisement, publisher, day) row, creating it if needed.
	// The increment is atomic under concurrent writers.
	IncrementCounter(ctx context.Context, adID, publisherID string, day time.Time, t models.ImpressionType, cost decimal.Decimal) error

	// QueryDaily returns one row per (entity, day) with non-zero counters,
	// ordered by date then entity.
	QueryDaily(ctx context.Context, q DailyQuery) ([]models.EntityDay, error)
}
