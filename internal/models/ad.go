package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ImpressionType distinguishes the two billable impression kinds.
type ImpressionType string

const (
	ImpressionView  ImpressionType = "view"
	ImpressionClick ImpressionType = "click"
)

// CampaignType values supported for report filtering.
const (
	CampaignPaid      = "paid"
	CampaignCommunity = "community"
	CampaignHouse     = "house"
)

// CampaignTypes lists the valid campaign type tags.
var CampaignTypes = []string{CampaignPaid, CampaignCommunity, CampaignHouse}

// IsValidCampaignType reports whether t is a known campaign type tag.
func IsValidCampaignType(t string) bool {
	for _, ct := range CampaignTypes {
		if ct == t {
			return true
		}
	}
	return false
}

// Advertiser owns campaigns and can view its own reports.
type Advertiser struct {
	ID          string `json:"id"`
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	ReportToken string `json:"-"`
}

// Publisher is a site that serves advertisements. Resolved from a nonce
// at tracking time.
type Publisher struct {
	ID          string `json:"id"`
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	ReportToken string `json:"-"`
}

// Campaign groups flights under an advertiser with a type tag.
type Campaign struct {
	ID           string      `json:"id"`
	Slug         string      `json:"slug"`
	Name         string      `json:"name"`
	CampaignType string      `json:"campaign_type"`
	AdvertiserID string      `json:"advertiser_id"`
	Advertiser   *Advertiser `json:"-"`
}

// Flight is the pricing and geo-targeting unit under a campaign.
type Flight struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	CampaignID string    `json:"campaign_id"`
	Campaign   *Campaign `json:"-"`

	// Billing rates. CPC is charged per billed click, CPM per thousand
	// billed views.
	CPC decimal.Decimal `json:"cpc"`
	CPM decimal.Decimal `json:"cpm"`

	// Geo targeting by ISO 3166-1 alpha-2 country code.
	IncludeCountries []string `json:"include_countries,omitempty"`
	ExcludeCountries []string `json:"exclude_countries,omitempty"`

	// RestrictUnknownGeo rejects impressions whose location could not be
	// resolved. Off by default: an unresolved country passes targeting.
	RestrictUnknownGeo bool `json:"restrict_unknown_geo,omitempty"`
}

// AllowsGeo reports whether this flight may be billed for the given
// country code. An empty code means the location was unresolved.
func (f *Flight) AllowsGeo(countryCode string) bool {
	if countryCode == "" {
		return !f.RestrictUnknownGeo
	}

	code := strings.ToUpper(countryCode)

	if len(f.IncludeCountries) > 0 && !containsCountry(f.IncludeCountries, code) {
		return false
	}
	if containsCountry(f.ExcludeCountries, code) {
		return false
	}
	return true
}

// CostFor returns the amount billed for one impression of the given type.
func (f *Flight) CostFor(t ImpressionType) decimal.Decimal {
	if t == ImpressionClick {
		return f.CPC
	}
	return f.CPM.Div(decimal.NewFromInt(1000))
}

func containsCountry(codes []string, code string) bool {
	for _, c := range codes {
		if strings.ToUpper(c) == code {
			return true
		}
	}
	return false
}

// Advertisement is the creative that gets served, viewed and clicked.
type Advertisement struct {
	ID       string    `json:"id"`
	Slug     string    `json:"slug"`
	Name     string    `json:"name"`
	Link     string    `json:"link"`
	Text     string    `json:"text,omitempty"`
	Live     bool      `json:"live"`
	FlightID string    `json:"flight_id"`
	Flight   *Flight   `json:"-"`
	Created  time.Time `json:"created,omitempty"`
}

// CampaignType returns the tag of the owning campaign, or "" when the
// flight chain is not populated.
func (a *Advertisement) CampaignType() string {
	if a.Flight != nil && a.Flight.Campaign != nil {
		return a.Flight.Campaign.CampaignType
	}
	return ""
}

// AdvertiserID returns the owning advertiser id, or "" when unknown.
func (a *Advertisement) AdvertiserID() string {
	if a.Flight != nil && a.Flight.Campaign != nil {
		return a.Flight.Campaign.AdvertiserID
	}
	return ""
}
