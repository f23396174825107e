package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/radiusdt/vector-adserver/internal/models"
	"github.com/shopspring/decimal"
)

// InMemoryAdRepo is an in-memory AdRepo for development and testing.
type InMemoryAdRepo struct {
	mu          sync.RWMutex
	ads         map[string]*models.Advertisement
	publishers  map[string]*models.Publisher
	advertisers map[string]*models.Advertiser
}

// NewInMemoryAdRepo creates an empty in-memory advertisement repository.
func NewInMemoryAdRepo() *InMemoryAdRepo {
	return &InMemoryAdRepo{
		ads:         make(map[string]*models.Advertisement),
		publishers:  make(map[string]*models.Publisher),
		advertisers: make(map[string]*models.Advertiser),
	}
}

// AddAdvertisement stores an advertisement. The flight chain should be
// populated the way the Postgres repository would populate it.
func (r *InMemoryAdRepo) AddAdvertisement(ad *models.Advertisement) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ads[ad.ID] = ad
	if ad.Flight != nil && ad.Flight.Campaign != nil && ad.Flight.Campaign.Advertiser != nil {
		adv := ad.Flight.Campaign.Advertiser
		r.advertisers[adv.ID] = adv
	}
}

// AddPublisher stores a publisher.
func (r *InMemoryAdRepo) AddPublisher(p *models.Publisher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publishers[p.ID] = p
}

// AddAdvertiser stores an advertiser.
func (r *InMemoryAdRepo) AddAdvertiser(a *models.Advertiser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advertisers[a.ID] = a
}

func (r *InMemoryAdRepo) GetAdvertisement(ctx context.Context, id string) (*models.Advertisement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ads[id], nil
}

func (r *InMemoryAdRepo) ListLiveAdvertisements(ctx context.Context) ([]*models.Advertisement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ads []*models.Advertisement
	for _, ad := range r.ads {
		if ad.Live {
			ads = append(ads, ad)
		}
	}
	sort.Slice(ads, func(i, j int) bool { return ads[i].ID < ads[j].ID })
	return ads, nil
}

func (r *InMemoryAdRepo) ListAdvertisementsByAdvertiser(ctx context.Context, advertiserID string) ([]*models.Advertisement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ads []*models.Advertisement
	for _, ad := range r.ads {
		if ad.AdvertiserID() == advertiserID {
			ads = append(ads, ad)
		}
	}
	sort.Slice(ads, func(i, j int) bool { return ads[i].ID < ads[j].ID })
	return ads, nil
}

func (r *InMemoryAdRepo) GetPublisher(ctx context.Context, id string) (*models.Publisher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.publishers[id], nil
}

func (r *InMemoryAdRepo) GetPublisherBySlug(ctx context.Context, slug string) (*models.Publisher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.publishers {
		if p.Slug == slug {
			return p, nil
		}
	}
	return nil, nil
}

func (r *InMemoryAdRepo) GetAdvertiserBySlug(ctx context.Context, slug string) (*models.Advertiser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.advertisers {
		if a.Slug == slug {
			return a, nil
		}
	}
	return nil, nil
}

func (r *InMemoryAdRepo) ListAdvertisers(ctx context.Context) ([]*models.Advertiser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	advertisers := make([]*models.Advertiser, 0, len(r.advertisers))
	for _, a := range r.advertisers {
		advertisers = append(advertisers, a)
	}
	sort.Slice(advertisers, func(i, j int) bool { return advertisers[i].Name < advertisers[j].Name })
	return advertisers, nil
}

func (r *InMemoryAdRepo) ListPublishers(ctx context.Context) ([]*models.Publisher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	publishers := make([]*models.Publisher, 0, len(r.publishers))
	for _, p := range r.publishers {
		publishers = append(publishers, p)
	}
	sort.Slice(publishers, func(i, j int) bool { return publishers[i].Name < publishers[j].Name })
	return publishers, nil
}

type counterKey struct {
	adID        string
	publisherID string
	day         time.Time
}

type counter struct {
	views  uint64
	clicks uint64
	cost   decimal.Decimal
}

// InMemoryImpressionRepo is an in-memory ImpressionRepo. It resolves
// entity names and campaign types through the ad repository the same way
// the Postgres joins do.
type InMemoryImpressionRepo struct {
	mu       sync.RWMutex
	counters map[counterKey]*counter
	ads      *InMemoryAdRepo
}

// NewInMemoryImpressionRepo creates an in-memory impression repository
// backed by the given ad repository.
func NewInMemoryImpressionRepo(ads *InMemoryAdRepo) *InMemoryImpressionRepo {
	return &InMemoryImpressionRepo{
		counters: make(map[counterKey]*counter),
		ads:      ads,
	}
}

func (r *InMemoryImpressionRepo) IncrementCounter(ctx context.Context, adID, publisherID string, day time.Time, t models.ImpressionType, cost decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := counterKey{adID: adID, publisherID: publisherID, day: day.UTC().Truncate(24 * time.Hour)}
	c, ok := r.counters[key]
	if !ok {
		c = &counter{}
		r.counters[key] = c
	}

	if t == models.ImpressionClick {
		c.clicks++
	} else {
		c.views++
	}
	c.cost = c.cost.Add(cost)
	return nil
}

func (r *InMemoryImpressionRepo) QueryDaily(ctx context.Context, q DailyQuery) ([]models.EntityDay, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Catalog maps are read directly below; hold the ad repo's lock too so
	// concurrent catalog writes stay safe. Its methods never take r.mu, so
	// the ordering cannot deadlock.
	r.ads.mu.RLock()
	defer r.ads.mu.RUnlock()

	wanted := make(map[string]bool, len(q.EntityIDs))
	for _, id := range q.EntityIDs {
		wanted[id] = true
	}

	type groupKey struct {
		entityID string
		day      time.Time
	}
	groups := make(map[groupKey]*models.EntityDay)

	for key, c := range r.counters {
		ad := r.ads.ads[key.adID]
		if ad == nil {
			continue
		}
		if q.CampaignType != "" && ad.CampaignType() != q.CampaignType {
			continue
		}
		if !q.Start.IsZero() && key.day.Before(q.Start.UTC().Truncate(24*time.Hour)) {
			continue
		}
		if !q.End.IsZero() && key.day.After(q.End.UTC().Truncate(24*time.Hour)) {
			continue
		}

		var entityID, entityName string
		switch q.Entity {
		case models.EntityAdvertisement:
			entityID, entityName = ad.ID, ad.Name
		case models.EntityPublisher:
			p := r.ads.publishers[key.publisherID]
			if p == nil {
				continue
			}
			entityID, entityName = p.ID, p.Name
		case models.EntityAdvertiser:
			adv := r.ads.advertisers[ad.AdvertiserID()]
			if adv == nil {
				continue
			}
			entityID, entityName = adv.ID, adv.Name
		default:
			return nil, fmt.Errorf("unknown entity kind %q", q.Entity)
		}

		if len(wanted) > 0 && !wanted[entityID] {
			continue
		}

		gk := groupKey{entityID: entityID, day: key.day}
		g, ok := groups[gk]
		if !ok {
			g = &models.EntityDay{EntityID: entityID, EntityName: entityName, Date: key.day}
			groups[gk] = g
		}
		g.Views += c.views
		g.Clicks += c.clicks
		g.Cost = g.Cost.Add(c.cost)
	}

	days := make([]models.EntityDay, 0, len(groups))
	for _, g := range groups {
		days = append(days, *g)
	}
	sort.Slice(days, func(i, j int) bool {
		if !days[i].Date.Equal(days[j].Date) {
			return days[i].Date.Before(days[j].Date)
		}
		return days[i].EntityID < days[j].EntityID
	})
	return days, nil
}
