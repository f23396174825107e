package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntityKind selects what a report row is grouped by.
type EntityKind string

const (
	EntityAdvertisement EntityKind = "advertisement"
	EntityPublisher     EntityKind = "publisher"
	EntityAdvertiser    EntityKind = "advertiser"
)

// Entity identifies one report subject.
type Entity struct {
	Kind EntityKind `json:"kind"`
	ID   string     `json:"id"`
	Name string     `json:"name"`
}

// EntityDay is one raw daily counter row for one entity, as returned by
// the impression repository.
type EntityDay struct {
	EntityID   string
	EntityName string
	Date       time.Time
	Views      uint64
	Clicks     uint64
	Cost       decimal.Decimal
}

// DailyRow is a derived report row. CTR and ECPM are recomputed from the
// summed counters on every read and never stored.
type DailyRow struct {
	Date   string          `json:"date,omitempty"`
	Views  uint64          `json:"views"`
	Clicks uint64          `json:"clicks"`
	Cost   decimal.Decimal `json:"cost"`
	CTR    float64         `json:"ctr"`
	ECPM   float64         `json:"ecpm"`
}

// Report is the daily breakdown plus totals for a single entity.
type Report struct {
	Days  []DailyRow `json:"days"`
	Total DailyRow   `json:"total"`
}

// AggregatedDay is one merged day across a set of entities, retaining the
// per-entity breakdown for charting.
type AggregatedDay struct {
	DailyRow
	ViewsByEntity  map[string]uint64 `json:"views_by_entity"`
	ClicksByEntity map[string]uint64 `json:"clicks_by_entity"`
}

// AggregatedReport merges daily counters across entities. Entities with
// zero views over the whole range are dropped from Entities.
type AggregatedReport struct {
	Entities []Entity        `json:"entities"`
	Days     []AggregatedDay `json:"days"`
	Total    DailyRow        `json:"total"`
}

// CalculateCTR returns the click-through rate as a percentage.
func CalculateCTR(clicks, views uint64) float64 {
	if views == 0 {
		return 0
	}
	return float64(clicks) / float64(views) * 100
}

// CalculateECPM returns the effective cost per thousand views.
func CalculateECPM(cost decimal.Decimal, views uint64) float64 {
	if views == 0 {
		return 0
	}
	ecpm, _ := cost.Div(decimal.NewFromInt(int64(views))).Mul(decimal.NewFromInt(1000)).Float64()
	return ecpm
}

// Derive fills in CTR and ECPM from the row's counters.
func (d *DailyRow) Derive() {
	d.CTR = CalculateCTR(d.Clicks, d.Views)
	d.ECPM = CalculateECPM(d.Cost, d.Views)
}
