package adserver

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/radiusdt/vector-adserver/internal/models"
	"github.com/radiusdt/vector-adserver/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestParseReportOptionsDefaults(t *testing.T) {
	now := day("2026-08-28")
	opts := ParseReportOptions(url.Values{}, now)

	assert.Equal(t, day("2026-07-29"), opts.Start)
	assert.True(t, opts.End.IsZero(), "end defaults to unbounded")
	assert.Empty(t, opts.CampaignType)
}

func TestParseReportOptionsExplicit(t *testing.T) {
	now := day("2026-08-28")
	opts := ParseReportOptions(url.Values{
		"start_date":    {"2026-08-01"},
		"end_date":      {"2026-08-15"},
		"campaign_type": {"paid"},
	}, now)

	assert.Equal(t, day("2026-08-01"), opts.Start)
	assert.Equal(t, day("2026-08-15"), opts.End)
	assert.Equal(t, "paid", opts.CampaignType)
}

func TestParseReportOptionsMalformed(t *testing.T) {
	now := day("2026-08-28")
	opts := ParseReportOptions(url.Values{
		"start_date":    {"not-a-date"},
		"end_date":      {"08/15/2026"},
		"campaign_type": {"premium"},
	}, now)

	assert.Equal(t, day("2026-07-29"), opts.Start, "malformed start falls back to default")
	assert.True(t, opts.End.IsZero(), "malformed end is ignored")
	assert.Empty(t, opts.CampaignType, "unknown campaign type is ignored")
}

func TestParseReportOptionsEndBeforeStart(t *testing.T) {
	now := day("2026-08-28")
	opts := ParseReportOptions(url.Values{
		"start_date": {"2026-08-20"},
		"end_date":   {"2026-08-01"},
	}, now)

	assert.Equal(t, day("2026-08-20"), opts.Start)
	assert.True(t, opts.End.IsZero(), "end before start is discarded")
}

func TestAggregateMergesEntities(t *testing.T) {
	rows := []models.EntityDay{
		{EntityID: "pub-1", EntityName: "Site A", Date: day("2026-08-01"), Views: 12, Clicks: 1, Cost: decimal.NewFromFloat(1.20)},
		{EntityID: "pub-2", EntityName: "Site B", Date: day("2026-08-01"), Views: 8, Clicks: 1, Cost: decimal.NewFromFloat(0.80)},
	}

	report := Aggregate(models.EntityPublisher, rows)

	require.Len(t, report.Entities, 2)
	require.Len(t, report.Days, 1)

	merged := report.Days[0]
	assert.Equal(t, "2026-08-01", merged.Date)
	assert.Equal(t, uint64(20), merged.Views)
	assert.Equal(t, uint64(2), merged.Clicks)
	assert.True(t, merged.Cost.Equal(decimal.NewFromFloat(2.00)), "cost %s", merged.Cost)
	assert.Equal(t, 10.0, merged.CTR)

	assert.Equal(t, uint64(12), merged.ViewsByEntity["Site A"])
	assert.Equal(t, uint64(8), merged.ViewsByEntity["Site B"])
	assert.Equal(t, uint64(1), merged.ClicksByEntity["Site A"])

	assert.Equal(t, uint64(20), report.Total.Views)
	assert.Equal(t, uint64(2), report.Total.Clicks)
	assert.Equal(t, 10.0, report.Total.CTR)
}

func TestAggregateRecomputesRatesFromSums(t *testing.T) {
	// Per-entity CTRs of 50% and 0% must not average to 25%; the merged
	// rate comes from the summed counters.
	rows := []models.EntityDay{
		{EntityID: "a", EntityName: "A", Date: day("2026-08-01"), Views: 2, Clicks: 1},
		{EntityID: "b", EntityName: "B", Date: day("2026-08-01"), Views: 98, Clicks: 0},
	}

	report := Aggregate(models.EntityAdvertisement, rows)
	assert.Equal(t, 1.0, report.Total.CTR)
}

func TestAggregateDropsZeroViewEntities(t *testing.T) {
	rows := []models.EntityDay{
		{EntityID: "pub-1", EntityName: "Site A", Date: day("2026-08-01"), Views: 10, Clicks: 1, Cost: decimal.NewFromFloat(1.00)},
		{EntityID: "pub-2", EntityName: "Ghost", Date: day("2026-08-01"), Views: 0, Clicks: 3},
		{EntityID: "pub-2", EntityName: "Ghost", Date: day("2026-08-02"), Views: 0, Clicks: 2},
	}

	report := Aggregate(models.EntityPublisher, rows)

	// Zero-view entities leave the entity list and the per-entity
	// breakdown.
	require.Len(t, report.Entities, 1)
	assert.Equal(t, "Site A", report.Entities[0].Name)

	// Their counters still roll into date totals on dates a listed entity
	// had views; dates only they touched drop out.
	require.Len(t, report.Days, 1)
	assert.Equal(t, "2026-08-01", report.Days[0].Date)
	assert.Equal(t, uint64(10), report.Days[0].Views)
	assert.Equal(t, uint64(4), report.Days[0].Clicks)
	assert.NotContains(t, report.Days[0].ClicksByEntity, "Ghost")

	assert.Equal(t, uint64(10), report.Total.Views)
	assert.Equal(t, uint64(4), report.Total.Clicks)
}

func TestAggregateIdempotent(t *testing.T) {
	rows := []models.EntityDay{
		{EntityID: "pub-1", EntityName: "Site A", Date: day("2026-08-01"), Views: 10, Clicks: 1, Cost: decimal.NewFromFloat(1.00)},
		{EntityID: "pub-2", EntityName: "Site B", Date: day("2026-08-02"), Views: 5, Clicks: 2, Cost: decimal.NewFromFloat(0.50)},
	}

	first := Aggregate(models.EntityPublisher, rows)
	second := Aggregate(models.EntityPublisher, rows)
	assert.Equal(t, first, second)
}

func TestAggregateEmpty(t *testing.T) {
	report := Aggregate(models.EntityPublisher, nil)

	assert.Empty(t, report.Entities)
	assert.Empty(t, report.Days)
	assert.Zero(t, report.Total.Views)
	assert.Equal(t, 0.0, report.Total.CTR)
}

func TestAggregateSortsDays(t *testing.T) {
	rows := []models.EntityDay{
		{EntityID: "a", EntityName: "A", Date: day("2026-08-03"), Views: 1},
		{EntityID: "a", EntityName: "A", Date: day("2026-08-01"), Views: 1},
		{EntityID: "a", EntityName: "A", Date: day("2026-08-02"), Views: 1},
	}

	report := Aggregate(models.EntityAdvertisement, rows)

	require.Len(t, report.Days, 3)
	assert.Equal(t, "2026-08-01", report.Days[0].Date)
	assert.Equal(t, "2026-08-02", report.Days[1].Date)
	assert.Equal(t, "2026-08-03", report.Days[2].Date)
}

func TestPublisherReportEndToEnd(t *testing.T) {
	ctx := context.Background()

	ads := storage.NewInMemoryAdRepo()
	ad := seedAdvertisement()
	ads.AddAdvertisement(ad)
	ads.AddPublisher(&models.Publisher{ID: "pub-1", Slug: "example-site", Name: "Example Site"})

	impressions := storage.NewInMemoryImpressionRepo(ads)
	today := time.Now().UTC()
	for i := 0; i < 10; i++ {
		require.NoError(t, impressions.IncrementCounter(ctx, ad.ID, "pub-1", today, models.ImpressionView, ad.Flight.CostFor(models.ImpressionView)))
	}
	require.NoError(t, impressions.IncrementCounter(ctx, ad.ID, "pub-1", today, models.ImpressionClick, ad.Flight.CostFor(models.ImpressionClick)))

	reporting := NewReporting(ads, impressions, zap.NewNop(), nil)
	report, err := reporting.PublisherReport(ctx, "pub-1", ParseReportOptions(url.Values{}, time.Now()))
	require.NoError(t, err)

	require.Len(t, report.Days, 1)
	assert.Equal(t, uint64(10), report.Total.Views)
	assert.Equal(t, uint64(1), report.Total.Clicks)
	assert.Equal(t, 10.0, report.Total.CTR)
	// Ten views at 5.00 CPM plus one 2.00 click.
	assert.True(t, report.Total.Cost.Equal(decimal.NewFromFloat(2.05)), "cost %s", report.Total.Cost)
}
