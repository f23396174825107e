package adserver

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/radiusdt/vector-adserver/internal/metrics"
	"github.com/radiusdt/vector-adserver/internal/models"
	"github.com/radiusdt/vector-adserver/internal/storage"
	"go.uber.org/zap"
)

const (
	reportDateFormat    = "2006-01-02"
	defaultReportWindow = 30 * 24 * time.Hour
)

// ReportOptions narrows a report query.
type ReportOptions struct {
	Start        time.Time
	End          time.Time
	CampaignType string
}

// ParseReportOptions reads start_date, end_date and campaign_type from
// query parameters. Malformed values fall back to defaults: the window
// starts 30 days before now, an end date before the start is discarded,
// and unknown campaign types are ignored.
func ParseReportOptions(q url.Values, now time.Time) ReportOptions {
	opts := ReportOptions{
		Start: now.UTC().Add(-defaultReportWindow).Truncate(24 * time.Hour),
	}

	if v := q.Get("start_date"); v != "" {
		if t, err := time.Parse(reportDateFormat, v); err == nil {
			opts.Start = t
		}
	}
	if v := q.Get("end_date"); v != "" {
		if t, err := time.Parse(reportDateFormat, v); err == nil && !t.Before(opts.Start) {
			opts.End = t
		}
	}
	if v := q.Get("campaign_type"); models.IsValidCampaignType(v) {
		opts.CampaignType = v
	}

	return opts
}

// Reporting aggregates billed impression counters into reports.
type Reporting struct {
	ads         storage.AdRepo
	impressions storage.ImpressionRepo
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// NewReporting creates the reporting service.
func NewReporting(ads storage.AdRepo, impressions storage.ImpressionRepo, logger *zap.Logger, m *metrics.Metrics) *Reporting {
	return &Reporting{
		ads:         ads,
		impressions: impressions,
		logger:      logger,
		metrics:     m,
	}
}

// AdvertiserReport reports one advertiser's spend, broken down by
// advertisement.
func (r *Reporting) AdvertiserReport(ctx context.Context, advertiserID string, opts ReportOptions) (*models.AggregatedReport, error) {
	ads, err := r.ads.ListAdvertisementsByAdvertiser(ctx, advertiserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list advertisements: %w", err)
	}
	if len(ads) == 0 {
		return emptyAggregatedReport(), nil
	}

	ids := make([]string, len(ads))
	for i, ad := range ads {
		ids[i] = ad.ID
	}

	return r.query(ctx, models.EntityAdvertisement, ids, opts)
}

// PublisherReport reports one publisher's revenue.
func (r *Reporting) PublisherReport(ctx context.Context, publisherID string, opts ReportOptions) (*models.AggregatedReport, error) {
	return r.query(ctx, models.EntityPublisher, []string{publisherID}, opts)
}

// AllAdvertisersReport reports spend across every advertiser.
func (r *Reporting) AllAdvertisersReport(ctx context.Context, opts ReportOptions) (*models.AggregatedReport, error) {
	return r.query(ctx, models.EntityAdvertiser, nil, opts)
}

// AllPublishersReport reports revenue across every publisher.
func (r *Reporting) AllPublishersReport(ctx context.Context, opts ReportOptions) (*models.AggregatedReport, error) {
	return r.query(ctx, models.EntityPublisher, nil, opts)
}

func (r *Reporting) query(ctx context.Context, kind models.EntityKind, ids []string, opts ReportOptions) (*models.AggregatedReport, error) {
	if r.metrics != nil {
		r.metrics.RecordReportRequest(string(kind))
	}

	rows, err := r.impressions.QueryDaily(ctx, storage.DailyQuery{
		Entity:       kind,
		EntityIDs:    ids,
		Start:        opts.Start,
		End:          opts.End,
		CampaignType: opts.CampaignType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query impressions: %w", err)
	}

	return Aggregate(kind, rows), nil
}

// Aggregate merges per-entity daily rows into one report. Entities with
// zero views over the whole range are dropped from the entity list and
// breakdown, but their counters still flow into the date totals for dates
// another entity had views. Rates are recomputed from the summed counters,
// never averaged.
func Aggregate(kind models.EntityKind, rows []models.EntityDay) *models.AggregatedReport {
	viewsByEntity := make(map[string]uint64)
	names := make(map[string]string)
	listedDates := make(map[string]bool)
	for _, row := range rows {
		viewsByEntity[row.EntityID] += row.Views
		names[row.EntityID] = row.EntityName
	}
	for _, row := range rows {
		if viewsByEntity[row.EntityID] > 0 {
			listedDates[row.Date.Format(reportDateFormat)] = true
		}
	}

	report := emptyAggregatedReport()

	dayIndex := make(map[string]int)
	for _, row := range rows {
		date := row.Date.Format(reportDateFormat)
		if !listedDates[date] {
			continue
		}

		i, ok := dayIndex[date]
		if !ok {
			i = len(report.Days)
			dayIndex[date] = i
			report.Days = append(report.Days, models.AggregatedDay{
				DailyRow:       models.DailyRow{Date: date},
				ViewsByEntity:  make(map[string]uint64),
				ClicksByEntity: make(map[string]uint64),
			})
		}

		day := &report.Days[i]
		day.Views += row.Views
		day.Clicks += row.Clicks
		day.Cost = day.Cost.Add(row.Cost)
		if viewsByEntity[row.EntityID] > 0 {
			day.ViewsByEntity[row.EntityName] += row.Views
			day.ClicksByEntity[row.EntityName] += row.Clicks
		}

		report.Total.Views += row.Views
		report.Total.Clicks += row.Clicks
		report.Total.Cost = report.Total.Cost.Add(row.Cost)
	}

	sort.Slice(report.Days, func(i, j int) bool {
		return report.Days[i].Date < report.Days[j].Date
	})
	for i := range report.Days {
		report.Days[i].Derive()
	}
	report.Total.Derive()

	for id, views := range viewsByEntity {
		if views == 0 {
			continue
		}
		report.Entities = append(report.Entities, models.Entity{
			Kind: kind,
			ID:   id,
			Name: names[id],
		})
	}
	sort.Slice(report.Entities, func(i, j int) bool {
		return report.Entities[i].Name < report.Entities[j].Name
	})

	return report
}

func emptyAggregatedReport() *models.AggregatedReport {
	return &models.AggregatedReport{
		Entities: []models.Entity{},
		Days:     []models.AggregatedDay{},
	}
}
