// Package nonce issues and consumes the single-use tokens that bind one
// impression event to an (advertisement, impression type) pair. The
// VALID→CONSUMED transition is the sole defense against duplicate billing,
// so Consume must be a single atomic check-and-set.
package nonce

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/radiusdt/vector-adserver/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Store is the nonce lifecycle contract. Implementations must guarantee
// that for any number of concurrent Consume calls on the same token,
// exactly one returns true.
type Store interface {
	// Issue generates an unguessable token bound to the advertisement,
	// impression type and publisher, valid for the store's TTL.
	Issue(ctx context.Context, adID string, t models.ImpressionType, publisherID string) (string, error)

	// IsValid reports whether the token exists for the (ad, type) pair,
	// is unexpired and has not been consumed.
	IsValid(ctx context.Context, adID string, t models.ImpressionType, token string) bool

	// Publisher returns the publisher id the token was issued for.
	Publisher(ctx context.Context, adID string, t models.ImpressionType, token string) (string, bool)

	// Consume atomically transitions the token VALID→CONSUMED and reports
	// whether this call performed the transition. Replays return false.
	Consume(ctx context.Context, adID string, t models.ImpressionType, token string) bool
}

// newToken returns 32 hex chars from a CSPRNG.
func newToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func key(adID string, t models.ImpressionType, token string) string {
	return fmt.Sprintf("nonce:%s:%s:%s", adID, t, token)
}

// RedisStore implements Store on Redis. Tokens are SET NX with a TTL; the
// consume transition is GETDEL, which is atomic server-side. Storage
// errors fail closed: an unreachable Redis means nothing validates and
// nothing is billed.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStore creates a Redis-backed nonce store.
func NewRedisStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func (s *RedisStore) Issue(ctx context.Context, adID string, t models.ImpressionType, publisherID string) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}

	ok, err := s.client.SetNX(ctx, key(adID, t, token), publisherID, s.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("failed to store nonce: %w", err)
	}
	if !ok {
		// 128-bit collision; not expected in practice.
		return "", fmt.Errorf("nonce collision for advertisement %s", adID)
	}

	return token, nil
}

func (s *RedisStore) IsValid(ctx context.Context, adID string, t models.ImpressionType, token string) bool {
	if token == "" {
		return false
	}

	err := s.client.Get(ctx, key(adID, t, token)).Err()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		s.logger.Warn("nonce validation unavailable, failing closed",
			zap.String("advertisement_id", adID),
			zap.Error(err),
		)
		return false
	}
	return true
}

func (s *RedisStore) Publisher(ctx context.Context, adID string, t models.ImpressionType, token string) (string, bool) {
	if token == "" {
		return "", false
	}

	publisherID, err := s.client.Get(ctx, key(adID, t, token)).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		s.logger.Warn("nonce lookup unavailable",
			zap.String("advertisement_id", adID),
			zap.Error(err),
		)
		return "", false
	}
	return publisherID, true
}

func (s *RedisStore) Consume(ctx context.Context, adID string, t models.ImpressionType, token string) bool {
	if token == "" {
		return false
	}

	err := s.client.GetDel(ctx, key(adID, t, token)).Err()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		s.logger.Warn("nonce consume unavailable, failing closed",
			zap.String("advertisement_id", adID),
			zap.Error(err),
		)
		return false
	}
	return true
}
