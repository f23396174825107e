package targeting

import (
	"net"
	"sync"
	"time"

	"github.com/radiusdt/vector-adserver/internal/metrics"
)

// GeoInfo holds geographic information for an IP.
type GeoInfo struct {
	Country     string
	CountryCode string
	Region      string
	City        string
}

// GeoProvider interface for IP geolocation.
type GeoProvider interface {
	Lookup(ip string) (*GeoInfo, error)
	Close() error
}

// GeoResolver resolves client IPs to country codes with a TTL cache.
// Lookup failures degrade to an empty country code; the filter chain
// treats that as unresolved, never as an error.
type GeoResolver struct {
	provider GeoProvider
	cache    *geoCache
	metrics  *metrics.Metrics
}

type geoCache struct {
	mu      sync.RWMutex
	data    map[string]*geoCacheEntry
	maxSize int
	ttl     time.Duration
}

type geoCacheEntry struct {
	info      *GeoInfo
	expiresAt time.Time
}

// NewGeoResolver creates a resolver. The provider may be nil, in which
// case every lookup resolves to unknown.
func NewGeoResolver(provider GeoProvider, cacheSize int, cacheTTL time.Duration, m *metrics.Metrics) *GeoResolver {
	return &GeoResolver{
		provider: provider,
		cache: &geoCache{
			data:    make(map[string]*geoCacheEntry),
			maxSize: cacheSize,
			ttl:     cacheTTL,
		},
		metrics: m,
	}
}

// CountryCode returns the ISO country code for an IP, or "" when the
// location could not be resolved.
func (r *GeoResolver) CountryCode(ip string) string {
	info := r.lookup(ip)
	if info == nil {
		return ""
	}
	return info.CountryCode
}

func (r *GeoResolver) lookup(ip string) *GeoInfo {
	if ip == "" || r.provider == nil {
		return nil
	}

	start := time.Now()
	if info, ok := r.cache.get(ip); ok {
		if r.metrics != nil {
			r.metrics.RecordGeoLookup(true, time.Since(start))
		}
		return info
	}

	info, err := r.provider.Lookup(ip)
	if err != nil || info == nil {
		return nil
	}

	r.cache.set(ip, info)
	if r.metrics != nil {
		r.metrics.RecordGeoLookup(false, time.Since(start))
	}

	return info
}

// Close closes the underlying provider.
func (r *GeoResolver) Close() error {
	if r.provider != nil {
		return r.provider.Close()
	}
	return nil
}

func (c *geoCache) get(ip string) (*GeoInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.data[ip]
	if !ok {
		return nil, false
	}

	if time.Now().After(entry.expiresAt) {
		return nil, false
	}

	return entry.info, true
}

func (c *geoCache) set(ip string, info *GeoInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Evict if at capacity (simple FIFO)
	if len(c.data) >= c.maxSize {
		for k := range c.data {
			delete(c.data, k)
			break
		}
	}

	c.data[ip] = &geoCacheEntry{
		info:      info,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// MockGeoProvider is a simple geo provider for testing.
type MockGeoProvider struct {
	data map[string]*GeoInfo
}

func NewMockGeoProvider() *MockGeoProvider {
	return &MockGeoProvider{
		data: make(map[string]*GeoInfo),
	}
}

func (m *MockGeoProvider) AddEntry(ip string, info *GeoInfo) {
	m.data[ip] = info
}

func (m *MockGeoProvider) Lookup(ip string) (*GeoInfo, error) {
	if net.ParseIP(ip) == nil {
		return nil, nil
	}
	if info, ok := m.data[ip]; ok {
		return info, nil
	}
	return nil, nil
}

func (m *MockGeoProvider) Close() error {
	return nil
}
