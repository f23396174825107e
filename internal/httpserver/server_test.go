package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/radiusdt/vector-adserver/internal/adserver"
	"github.com/radiusdt/vector-adserver/internal/config"
	"github.com/radiusdt/vector-adserver/internal/middleware"
	"github.com/radiusdt/vector-adserver/internal/models"
	"github.com/radiusdt/vector-adserver/internal/nonce"
	"github.com/radiusdt/vector-adserver/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Debug:   true,
			BaseURL: "http://ads.test",
		},
		Nonce: config.NonceConfig{TTL: time.Minute, MaxEntries: 1000},
		Fraud: config.FraudConfig{ClickRatelimits: "1000/24h"},
		DoNotTrack: config.DNTConfig{
			Enabled:   true,
			PolicyURL: "http://ads.test/dnt/policy",
		},
		Auth: config.AuthConfig{Enabled: true, StaffKey: "staff-secret"},
	}
}

type serverFixture struct {
	handler http.Handler
	ads     *storage.InMemoryAdRepo
	nonces  nonce.Store
}

func newServerFixture(t *testing.T, cfg *config.Config) *serverFixture {
	t.Helper()

	ads := storage.NewInMemoryAdRepo()
	advertiser := &models.Advertiser{ID: "adv-1", Slug: "acme", Name: "Acme", ReportToken: "acme-token"}
	ads.AddAdvertisement(&models.Advertisement{
		ID:   "ad-1",
		Slug: "acme-banner",
		Name: "Acme Banner",
		Link: "https://acme.example.com",
		Live: true,
		Flight: &models.Flight{
			ID:  "flight-1",
			CPC: decimal.NewFromFloat(2.00),
			CPM: decimal.NewFromFloat(5.00),
			Campaign: &models.Campaign{
				ID:           "campaign-1",
				CampaignType: models.CampaignPaid,
				AdvertiserID: advertiser.ID,
				Advertiser:   advertiser,
			},
		},
	})
	ads.AddPublisher(&models.Publisher{ID: "pub-1", Slug: "example-site", Name: "Example Site", ReportToken: "pub-token"})

	nonces := nonce.NewMemoryStore(time.Minute, 1000)

	srv, err := NewServer(Dependencies{
		Config:         cfg,
		Logger:         zap.NewNop(),
		AdRepo:         ads,
		ImpressionRepo: storage.NewInMemoryImpressionRepo(ads),
		Nonces:         nonces,
	})
	require.NoError(t, err)

	return &serverFixture{
		handler: middleware.NewAuthMiddleware(cfg.Auth).Handler(srv),
		ads:     ads,
		nonces:  nonces,
	}
}

func (f *serverFixture) issue(t *testing.T, impType models.ImpressionType) string {
	t.Helper()
	token, err := f.nonces.Issue(context.Background(), "ad-1", impType, "pub-1")
	require.NoError(t, err)
	return token
}

func (f *serverFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestTrackViewServesPixel(t *testing.T) {
	f := newServerFixture(t, testConfig())
	token := f.issue(t, models.ImpressionView)

	req := httptest.NewRequest(http.MethodGet, "/track/view/ad-1/"+token, nil)
	req.Header.Set("User-Agent", chromeUA)
	req.RemoteAddr = "93.184.216.34:1234"

	rec := f.do(req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/gif", rec.Header().Get("Content-Type"))
	assert.Equal(t, transparentPixel, rec.Body.Bytes())
	assert.Equal(t, adserver.MessageBilledView, rec.Header().Get(reasonHeader))
}

func TestTrackClickRedirects(t *testing.T) {
	f := newServerFixture(t, testConfig())
	token := f.issue(t, models.ImpressionClick)

	req := httptest.NewRequest(http.MethodGet, "/track/click/ad-1/"+token, nil)
	req.Header.Set("User-Agent", chromeUA)
	req.RemoteAddr = "93.184.216.34:1234"

	rec := f.do(req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://acme.example.com", rec.Header().Get("Location"))
	assert.Equal(t, adserver.MessageBilledClick, rec.Header().Get(reasonHeader))
}

func TestTrackRejectedClickStillRedirects(t *testing.T) {
	f := newServerFixture(t, testConfig())

	// Stale nonce: the impression is rejected but the user still lands on
	// the advertiser page.
	req := httptest.NewRequest(http.MethodGet, "/track/click/ad-1/deadbeef", nil)
	req.Header.Set("User-Agent", chromeUA)
	req.RemoteAddr = "93.184.216.34:1234"

	rec := f.do(req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://acme.example.com", rec.Header().Get("Location"))
	assert.Equal(t, "Old/Nonexistent nonce", rec.Header().Get(reasonHeader))
}

func TestTrackReasonHeaderHiddenOutsideDebug(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Debug = false
	f := newServerFixture(t, cfg)
	token := f.issue(t, models.ImpressionView)

	req := httptest.NewRequest(http.MethodGet, "/track/view/ad-1/"+token, nil)
	req.Header.Set("User-Agent", chromeUA)
	req.RemoteAddr = "93.184.216.34:1234"

	rec := f.do(req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(reasonHeader))
}

func TestTrackUnknownAdvertisement(t *testing.T) {
	f := newServerFixture(t, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/track/view/no-such-ad/deadbeef", nil)
	req.Header.Set("User-Agent", chromeUA)

	assert.Equal(t, http.StatusNotFound, f.do(req).Code)
}

func TestTrackMalformedPath(t *testing.T) {
	f := newServerFixture(t, testConfig())

	for _, path := range []string{"/track/view/", "/track/view/ad-1", "/track/view/ad-1/a/b/c"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, f.do(req).Code, "path %s", path)
	}
}

func TestDecisionOffersAdvertisement(t *testing.T) {
	f := newServerFixture(t, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/decision?publisher=example-site", nil)
	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	var offer adserver.Offer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &offer))

	assert.Equal(t, "acme-banner", offer.Slug)
	assert.NotEmpty(t, offer.ID)
	assert.Contains(t, offer.ViewURL, "http://ads.test/track/view/ad-1/")
	assert.Contains(t, offer.ClickURL, "http://ads.test/track/click/ad-1/")
}

func TestDecisionUnknownPublisher(t *testing.T) {
	f := newServerFixture(t, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/decision?publisher=nobody", nil)
	assert.Equal(t, http.StatusNotFound, f.do(req).Code)
}

func TestDecisionRequiresPublisher(t *testing.T) {
	f := newServerFixture(t, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/decision", nil)
	assert.Equal(t, http.StatusBadRequest, f.do(req).Code)
}

func TestDNTStatus(t *testing.T) {
	f := newServerFixture(t, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/dnt/status", nil)
	req.Header.Set("DNT", "1")
	rec := f.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/tracking-status+json", rec.Header().Get("Content-Type"))

	var status map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "N", status["tracking"])
	assert.Equal(t, "http://ads.test/dnt/policy", status["policy"])
}

func TestDNTStatusWithoutSignal(t *testing.T) {
	f := newServerFixture(t, testConfig())

	rec := f.do(httptest.NewRequest(http.MethodGet, "/dnt/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "T", status["tracking"])
}

func TestDNTDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.DoNotTrack.Enabled = false
	f := newServerFixture(t, cfg)

	assert.Equal(t, http.StatusNotFound, f.do(httptest.NewRequest(http.MethodGet, "/dnt/status", nil)).Code)
	assert.Equal(t, http.StatusNotFound, f.do(httptest.NewRequest(http.MethodGet, "/dnt/policy", nil)).Code)
}

func TestDNTPolicy(t *testing.T) {
	f := newServerFixture(t, testConfig())

	rec := f.do(httptest.NewRequest(http.MethodGet, "/dnt/policy", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Do Not Track")
}

func TestAdvertiserReportAuth(t *testing.T) {
	f := newServerFixture(t, testConfig())

	// Anonymous callers are rejected.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/advertisers/acme/report", nil)
	assert.Equal(t, http.StatusForbidden, f.do(req).Code)

	// The owning advertiser's report token grants access.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/advertisers/acme/report", nil)
	req.Header.Set("X-API-Key", "acme-token")
	assert.Equal(t, http.StatusOK, f.do(req).Code)

	// Staff see any advertiser.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/advertisers/acme/report", nil)
	req.Header.Set("X-API-Key", "staff-secret")
	assert.Equal(t, http.StatusOK, f.do(req).Code)

	// A wrong token is rejected.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/advertisers/acme/report", nil)
	req.Header.Set("X-API-Key", "pub-token")
	assert.Equal(t, http.StatusForbidden, f.do(req).Code)
}

func TestPublisherReportAuth(t *testing.T) {
	f := newServerFixture(t, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/publishers/example-site/report", nil)
	req.Header.Set("X-API-Key", "pub-token")
	assert.Equal(t, http.StatusOK, f.do(req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/publishers/unknown/report", nil)
	req.Header.Set("X-API-Key", "staff-secret")
	assert.Equal(t, http.StatusNotFound, f.do(req).Code)
}

func TestAllEntityReportsStaffOnly(t *testing.T) {
	f := newServerFixture(t, testConfig())

	for _, path := range []string{"/api/v1/reports/advertisers", "/api/v1/reports/publishers"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		assert.Equal(t, http.StatusForbidden, f.do(req).Code, "anonymous %s", path)

		req = httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("X-API-Key", "acme-token")
		assert.Equal(t, http.StatusForbidden, f.do(req).Code, "non-staff %s", path)

		req = httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("X-API-Key", "staff-secret")
		assert.Equal(t, http.StatusOK, f.do(req).Code, "staff %s", path)
	}
}

func TestHealthEndpoint(t *testing.T) {
	f := newServerFixture(t, testConfig())

	rec := f.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "ok", status["status"])
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5000"
	assert.Equal(t, "10.0.0.1", getClientIP(req))

	req.Header.Set("X-Real-IP", "93.184.216.34")
	assert.Equal(t, "93.184.216.34", getClientIP(req))

	req.Header.Set("X-Forwarded-For", "198.51.100.9, 10.0.0.1")
	assert.Equal(t, "198.51.100.9", getClientIP(req))
}
