package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/radiusdt/vector-adserver/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PostgresAdRepo implements AdRepo on PostgreSQL.
type PostgresAdRepo struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresAdRepo creates a PostgreSQL advertisement repository.
func NewPostgresAdRepo(pool *pgxpool.Pool, logger *zap.Logger) *PostgresAdRepo {
	return &PostgresAdRepo{pool: pool, logger: logger}
}

const advertisementQuery = `
	SELECT a.id, a.slug, a.name, a.link, COALESCE(a.text, ''), a.live, a.flight_id, a.created_at,
	       f.id, f.name, f.campaign_id,
	       f.cpc::text, f.cpm::text,
	       COALESCE(f.include_countries, '{}'), COALESCE(f.exclude_countries, '{}'),
	       f.restrict_unknown_geo,
	       c.id, c.slug, c.name, c.campaign_type, c.advertiser_id,
	       adv.id, adv.slug, adv.name, adv.report_token
	FROM advertisements a
	JOIN flights f ON f.id = a.flight_id
	JOIN campaigns c ON c.id = f.campaign_id
	JOIN advertisers adv ON adv.id = c.advertiser_id`

func scanAdvertisement(row pgx.Row) (*models.Advertisement, error) {
	var (
		ad         models.Advertisement
		flight     models.Flight
		campaign   models.Campaign
		advertiser models.Advertiser
		cpc, cpm   string
	)

	err := row.Scan(
		&ad.ID, &ad.Slug, &ad.Name, &ad.Link, &ad.Text, &ad.Live, &ad.FlightID, &ad.Created,
		&flight.ID, &flight.Name, &flight.CampaignID,
		&cpc, &cpm,
		&flight.IncludeCountries, &flight.ExcludeCountries,
		&flight.RestrictUnknownGeo,
		&campaign.ID, &campaign.Slug, &campaign.Name, &campaign.CampaignType, &campaign.AdvertiserID,
		&advertiser.ID, &advertiser.Slug, &advertiser.Name, &advertiser.ReportToken,
	)
	if err != nil {
		return nil, err
	}

	if flight.CPC, err = decimal.NewFromString(cpc); err != nil {
		return nil, fmt.Errorf("invalid cpc for flight %s: %w", flight.ID, err)
	}
	if flight.CPM, err = decimal.NewFromString(cpm); err != nil {
		return nil, fmt.Errorf("invalid cpm for flight %s: %w", flight.ID, err)
	}

	campaign.Advertiser = &advertiser
	flight.Campaign = &campaign
	ad.Flight = &flight
	return &ad, nil
}

func (r *PostgresAdRepo) GetAdvertisement(ctx context.Context, id string) (*models.Advertisement, error) {
	row := r.pool.QueryRow(ctx, advertisementQuery+" WHERE a.id = $1", id)
	ad, err := scanAdvertisement(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get advertisement: %w", err)
	}
	return ad, nil
}

func (r *PostgresAdRepo) ListLiveAdvertisements(ctx context.Context) ([]*models.Advertisement, error) {
	return r.listAdvertisements(ctx, advertisementQuery+" WHERE a.live ORDER BY a.created_at")
}

func (r *PostgresAdRepo) ListAdvertisementsByAdvertiser(ctx context.Context, advertiserID string) ([]*models.Advertisement, error) {
	return r.listAdvertisements(ctx, advertisementQuery+" WHERE adv.id = $1 ORDER BY a.created_at", advertiserID)
}

func (r *PostgresAdRepo) listAdvertisements(ctx context.Context, query string, args ...any) ([]*models.Advertisement, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list advertisements: %w", err)
	}
	defer rows.Close()

	var ads []*models.Advertisement
	for rows.Next() {
		ad, err := scanAdvertisement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan advertisement: %w", err)
		}
		ads = append(ads, ad)
	}
	return ads, rows.Err()
}

func (r *PostgresAdRepo) GetPublisher(ctx context.Context, id string) (*models.Publisher, error) {
	return r.getPublisher(ctx, "SELECT id, slug, name, report_token FROM publishers WHERE id = $1", id)
}

func (r *PostgresAdRepo) GetPublisherBySlug(ctx context.Context, slug string) (*models.Publisher, error) {
	return r.getPublisher(ctx, "SELECT id, slug, name, report_token FROM publishers WHERE slug = $1", slug)
}

func (r *PostgresAdRepo) getPublisher(ctx context.Context, query, arg string) (*models.Publisher, error) {
	var p models.Publisher
	err := r.pool.QueryRow(ctx, query, arg).Scan(&p.ID, &p.Slug, &p.Name, &p.ReportToken)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get publisher: %w", err)
	}
	return &p, nil
}

func (r *PostgresAdRepo) GetAdvertiserBySlug(ctx context.Context, slug string) (*models.Advertiser, error) {
	var a models.Advertiser
	err := r.pool.QueryRow(ctx,
		"SELECT id, slug, name, report_token FROM advertisers WHERE slug = $1", slug,
	).Scan(&a.ID, &a.Slug, &a.Name, &a.ReportToken)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get advertiser: %w", err)
	}
	return &a, nil
}

func (r *PostgresAdRepo) ListAdvertisers(ctx context.Context) ([]*models.Advertiser, error) {
	rows, err := r.pool.Query(ctx, "SELECT id, slug, name, report_token FROM advertisers ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list advertisers: %w", err)
	}
	defer rows.Close()

	var advertisers []*models.Advertiser
	for rows.Next() {
		var a models.Advertiser
		if err := rows.Scan(&a.ID, &a.Slug, &a.Name, &a.ReportToken); err != nil {
			return nil, fmt.Errorf("failed to scan advertiser: %w", err)
		}
		advertisers = append(advertisers, &a)
	}
	return advertisers, rows.Err()
}

func (r *PostgresAdRepo) ListPublishers(ctx context.Context) ([]*models.Publisher, error) {
	rows, err := r.pool.Query(ctx, "SELECT id, slug, name, report_token FROM publishers ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list publishers: %w", err)
	}
	defer rows.Close()

	var publishers []*models.Publisher
	for rows.Next() {
		var p models.Publisher
		if err := rows.Scan(&p.ID, &p.Slug, &p.Name, &p.ReportToken); err != nil {
			return nil, fmt.Errorf("failed to scan publisher: %w", err)
		}
		publishers = append(publishers, &p)
	}
	return publishers, rows.Err()
}

// PostgresImpressionRepo implements ImpressionRepo on PostgreSQL. The
// counters live in ad_impressions keyed by (advertisement_id,
// publisher_id, date); increments are a single ON CONFLICT upsert so
// concurrent writers never lose updates.
type PostgresImpressionRepo struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresImpressionRepo creates a PostgreSQL impression repository.
func NewPostgresImpressionRepo(pool *pgxpool.Pool, logger *zap.Logger) *PostgresImpressionRepo {
	return &PostgresImpressionRepo{pool: pool, logger: logger}
}

func (r *PostgresImpressionRepo) IncrementCounter(ctx context.Context, adID, publisherID string, day time.Time, t models.ImpressionType, cost decimal.Decimal) error {
	views, clicks := 0, 0
	if t == models.ImpressionClick {
		clicks = 1
	} else {
		views = 1
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO ad_impressions (advertisement_id, publisher_id, date, views, clicks, cost)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (advertisement_id, publisher_id, date) DO UPDATE SET
			views = ad_impressions.views + EXCLUDED.views,
			clicks = ad_impressions.clicks + EXCLUDED.clicks,
			cost = ad_impressions.cost + EXCLUDED.cost`,
		adID, publisherID, day.UTC().Truncate(24*time.Hour),
		views, clicks, cost.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to increment impression counter: %w", err)
	}
	return nil
}

func (r *PostgresImpressionRepo) QueryDaily(ctx context.Context, q DailyQuery) ([]models.EntityDay, error) {
	var entityID, entityName string
	switch q.Entity {
	case models.EntityAdvertisement:
		entityID, entityName = "a.id", "a.name"
	case models.EntityPublisher:
		entityID, entityName = "p.id", "p.name"
	case models.EntityAdvertiser:
		entityID, entityName = "adv.id", "adv.name"
	default:
		return nil, fmt.Errorf("unknown entity kind %q", q.Entity)
	}

	query := fmt.Sprintf(`
		SELECT %s, %s, i.date,
		       SUM(i.views)::bigint, SUM(i.clicks)::bigint, SUM(i.cost)::text
		FROM ad_impressions i
		JOIN advertisements a ON a.id = i.advertisement_id
		JOIN publishers p ON p.id = i.publisher_id
		JOIN flights f ON f.id = a.flight_id
		JOIN campaigns c ON c.id = f.campaign_id
		JOIN advertisers adv ON adv.id = c.advertiser_id
		WHERE 1=1`, entityID, entityName)

	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(q.EntityIDs) > 0 {
		query += fmt.Sprintf(" AND %s = ANY(%s)", entityID, arg(q.EntityIDs))
	}
	if !q.Start.IsZero() {
		query += " AND i.date >= " + arg(q.Start.UTC().Truncate(24*time.Hour))
	}
	if !q.End.IsZero() {
		query += " AND i.date <= " + arg(q.End.UTC().Truncate(24*time.Hour))
	}
	if q.CampaignType != "" {
		query += " AND c.campaign_type = " + arg(q.CampaignType)
	}

	query += fmt.Sprintf(" GROUP BY %s, %s, i.date ORDER BY i.date, %s", entityID, entityName, entityID)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily impressions: %w", err)
	}
	defer rows.Close()

	var days []models.EntityDay
	for rows.Next() {
		var (
			d    models.EntityDay
			cost string
		)
		if err := rows.Scan(&d.EntityID, &d.EntityName, &d.Date, &d.Views, &d.Clicks, &cost); err != nil {
			return nil, fmt.Errorf("failed to scan daily row: %w", err)
		}
		if d.Cost, err = decimal.NewFromString(cost); err != nil {
			return nil, fmt.Errorf("invalid cost for entity %s: %w", d.EntityID, err)
		}
		days = append(days, d)
	}
	return days, rows.Err()
}
