package fraud

import (
	"context"
	"testing"
	"time"

	"github.com/radiusdt/vector-adserver/internal/models"
	"github.com/radiusdt/vector-adserver/internal/nonce"
	"github.com/radiusdt/vector-adserver/internal/targeting"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testAdvertisement(campaignType string) *models.Advertisement {
	return &models.Advertisement{
		ID:   "ad-1",
		Slug: "test-ad",
		Name: "Test Ad",
		Link: "https://example.com",
		Live: true,
		Flight: &models.Flight{
			ID:  "flight-1",
			CPC: decimal.NewFromFloat(2.00),
			CPM: decimal.NewFromFloat(1.00),
			Campaign: &models.Campaign{
				ID:           "campaign-1",
				CampaignType: campaignType,
				AdvertiserID: "advertiser-1",
				Advertiser:   &models.Advertiser{ID: "advertiser-1", Name: "Acme"},
			},
		},
	}
}

func testChain(t *testing.T, nonces nonce.Store, limiter RateLimiter, internalIPs, uaBlacklist []string) *Chain {
	t.Helper()
	blacklist := targeting.NewUABlacklist(uaBlacklist, zap.NewNop())
	return NewChain(nonces, limiter, internalIPs, blacklist, zap.NewNop(), nil)
}

func validImpression(t *testing.T, nonces nonce.Store, impType models.ImpressionType) *Context {
	t.Helper()
	token, err := nonces.Issue(context.Background(), "ad-1", impType, "pub-1")
	require.NoError(t, err)

	return &Context{
		Advertisement:  testAdvertisement(models.CampaignPaid),
		Publisher:      &models.Publisher{ID: "pub-1", Name: "Example Site"},
		Nonce:          token,
		ImpressionType: impType,
		ClientIP:       "93.184.216.34",
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0",
		UA:             targeting.UserAgentInfo{OSFamily: "Windows", BrowserFamily: "Chrome"},
		CountryCode:    "US",
	}
}

func TestChainAcceptsValidImpression(t *testing.T) {
	nonces := nonce.NewMemoryStore(time.Minute, 100)
	chain := testChain(t, nonces, nil, nil, nil)

	imp := validImpression(t, nonces, models.ImpressionView)
	assert.Empty(t, chain.Evaluate(context.Background(), imp))
}

func TestChainRejectsMissingNonce(t *testing.T) {
	nonces := nonce.NewMemoryStore(time.Minute, 100)
	chain := testChain(t, nonces, nil, nil, nil)

	imp := validImpression(t, nonces, models.ImpressionView)
	imp.Nonce = "deadbeef"
	assert.Equal(t, ReasonInvalidNonce, chain.Evaluate(context.Background(), imp))
}

func TestChainRejectsConsumedNonce(t *testing.T) {
	ctx := context.Background()
	nonces := nonce.NewMemoryStore(time.Minute, 100)
	chain := testChain(t, nonces, nil, nil, nil)

	imp := validImpression(t, nonces, models.ImpressionView)
	require.True(t, nonces.Consume(ctx, "ad-1", models.ImpressionView, imp.Nonce))
	assert.Equal(t, ReasonInvalidNonce, chain.Evaluate(ctx, imp))
}

func TestChainRejectsBot(t *testing.T) {
	nonces := nonce.NewMemoryStore(time.Minute, 100)
	chain := testChain(t, nonces, nil, nil, nil)

	imp := validImpression(t, nonces, models.ImpressionView)
	imp.UA.Bot = true
	assert.Equal(t, ReasonBot, chain.Evaluate(context.Background(), imp))
}

func TestChainNonceCheckedBeforeBot(t *testing.T) {
	nonces := nonce.NewMemoryStore(time.Minute, 100)
	chain := testChain(t, nonces, nil, nil, nil)

	imp := validImpression(t, nonces, models.ImpressionView)
	imp.Nonce = "deadbeef"
	imp.UA.Bot = true
	assert.Equal(t, ReasonInvalidNonce, chain.Evaluate(context.Background(), imp))
}

func TestChainRejectsInternalIP(t *testing.T) {
	nonces := nonce.NewMemoryStore(time.Minute, 100)
	chain := testChain(t, nonces, nil, []string{"10.0.0.0/8", "127.0.0.0/8", "203.0.113.7"}, nil)

	cases := []string{"127.0.0.1", "10.1.2.3", "203.0.113.7"}
	for _, ip := range cases {
		imp := validImpression(t, nonces, models.ImpressionView)
		imp.ClientIP = ip
		assert.Equal(t, ReasonInternalIP, chain.Evaluate(context.Background(), imp), "ip %s", ip)
	}
}

func TestChainAllowsUnconfiguredInternalIP(t *testing.T) {
	// Only addresses in the configured set are internal; loopback passes
	// unless it is listed.
	nonces := nonce.NewMemoryStore(time.Minute, 100)
	chain := testChain(t, nonces, nil, nil, nil)

	imp := validImpression(t, nonces, models.ImpressionView)
	imp.ClientIP = "127.0.0.1"
	assert.Empty(t, chain.Evaluate(context.Background(), imp))
}

func TestChainRejectsUnrecognizedUserAgent(t *testing.T) {
	nonces := nonce.NewMemoryStore(time.Minute, 100)
	chain := testChain(t, nonces, nil, nil, nil)

	imp := validImpression(t, nonces, models.ImpressionView)
	imp.UA = targeting.UserAgentInfo{OSFamily: targeting.UnknownFamily, BrowserFamily: targeting.UnknownFamily}
	assert.Equal(t, ReasonUnrecognizedUA, chain.Evaluate(context.Background(), imp))
}

func TestChainRejectsStaff(t *testing.T) {
	// Staff traffic never bills, regardless of campaign type.
	for _, campaignType := range []string{models.CampaignPaid, models.CampaignCommunity, models.CampaignHouse} {
		nonces := nonce.NewMemoryStore(time.Minute, 100)
		chain := testChain(t, nonces, nil, nil, nil)

		imp := validImpression(t, nonces, models.ImpressionView)
		imp.Advertisement = testAdvertisement(campaignType)
		imp.IsStaff = true
		assert.Equal(t, ReasonStaff, chain.Evaluate(context.Background(), imp), "campaign %s", campaignType)
	}
}

func TestChainRejectsBlacklistedUserAgent(t *testing.T) {
	nonces := nonce.NewMemoryStore(time.Minute, 100)
	chain := testChain(t, nonces, nil, nil, []string{`(?i)headless`})

	imp := validImpression(t, nonces, models.ImpressionView)
	imp.UserAgent = "Mozilla/5.0 HeadlessChrome/120.0"
	imp.UA = targeting.UserAgentInfo{OSFamily: "Linux", BrowserFamily: "Chrome"}
	assert.Equal(t, ReasonBlacklisted, chain.Evaluate(context.Background(), imp))
}

func TestChainRejectsUnknownPublisher(t *testing.T) {
	nonces := nonce.NewMemoryStore(time.Minute, 100)
	chain := testChain(t, nonces, nil, nil, nil)

	imp := validImpression(t, nonces, models.ImpressionView)
	imp.Publisher = nil
	assert.Equal(t, ReasonUnknownPublisher, chain.Evaluate(context.Background(), imp))
}

func TestChainRejectsGeoTargetingMiss(t *testing.T) {
	nonces := nonce.NewMemoryStore(time.Minute, 100)
	chain := testChain(t, nonces, nil, nil, nil)

	imp := validImpression(t, nonces, models.ImpressionView)
	imp.Advertisement.Flight.IncludeCountries = []string{"DE"}
	assert.Equal(t, ReasonInvalidTargeting, chain.Evaluate(context.Background(), imp))
}

func TestChainUnresolvedGeoFailsOpen(t *testing.T) {
	nonces := nonce.NewMemoryStore(time.Minute, 100)
	chain := testChain(t, nonces, nil, nil, nil)

	imp := validImpression(t, nonces, models.ImpressionView)
	imp.Advertisement.Flight.IncludeCountries = []string{"DE"}
	imp.CountryCode = ""
	assert.Empty(t, chain.Evaluate(context.Background(), imp))
}

func TestChainUnresolvedGeoRestricted(t *testing.T) {
	nonces := nonce.NewMemoryStore(time.Minute, 100)
	chain := testChain(t, nonces, nil, nil, nil)

	imp := validImpression(t, nonces, models.ImpressionView)
	imp.Advertisement.Flight.RestrictUnknownGeo = true
	imp.CountryCode = ""
	assert.Equal(t, ReasonInvalidTargeting, chain.Evaluate(context.Background(), imp))
}

func TestChainRatelimitsClicks(t *testing.T) {
	ctx := context.Background()
	nonces := nonce.NewMemoryStore(time.Minute, 100)
	limiter := NewMemoryRateLimiter([]WindowLimit{{Count: 1, Window: time.Minute}})
	chain := testChain(t, nonces, limiter, nil, nil)

	limiter.Record(ctx, "93.184.216.34")

	imp := validImpression(t, nonces, models.ImpressionClick)
	assert.Equal(t, ReasonRatelimited, chain.Evaluate(ctx, imp))
}

func TestChainDoesNotRatelimitViews(t *testing.T) {
	ctx := context.Background()
	nonces := nonce.NewMemoryStore(time.Minute, 100)
	limiter := NewMemoryRateLimiter([]WindowLimit{{Count: 1, Window: time.Minute}})
	chain := testChain(t, nonces, limiter, nil, nil)

	limiter.Record(ctx, "93.184.216.34")

	imp := validImpression(t, nonces, models.ImpressionView)
	assert.Empty(t, chain.Evaluate(ctx, imp))
}
