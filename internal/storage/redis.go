package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/user/iap-service/internal/domain"
)

// RedisStore caches successful locale listings.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr string) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	return &RedisStore{client: rdb}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// GetListing returns the cached items for a locale. The bool is false on a
// cache miss.
func (s *RedisStore) GetListing(ctx context.Context, productID, locale, slug string) ([]domain.ListingItem, bool, error) {
	raw, err := s.client.Get(ctx, listingKey(productID, locale, slug)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var items []domain.ListingItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false, fmt.Errorf("decode cached listing: %w", err)
	}
	return items, true, nil
}

// SetListing stores items under the locale key with ttl.
func (s *RedisStore) SetListing(ctx context.Context, productID, locale, slug string, items []domain.ListingItem, ttl time.Duration) error {
	raw, err := json.Marshal(items)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, listingKey(productID, locale, slug), raw, ttl).Err()
}
