// Package redis stores shopping carts as Redis hashes: cart:<user id> maps product id to quantity.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Zhima-Mochi/storefront-reconciler/internal/observability"
)

const peer = "redis"

func cartKey(userID string) string {
	return "cart:" + userID
}

type CartStore struct {
	client  redis.Cmdable
	metrics observability.Metrics
}

func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

func NewCartStore(client redis.Cmdable, tel observability.Observability) *CartStore {
	if tel == nil {
		tel = observability.Nop()
	}
	return &CartStore{client: client, metrics: tel.Metrics()}
}

// RemoveProducts drops the purchased products from the user's cart. Other entries stay.
func (s *CartStore) RemoveProducts(ctx context.Context, userID string, productIDs []string) (err error) {
	if len(productIDs) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { observability.ExternalCall(s.metrics, peer, "cart.remove", start, err) }()

	if err = s.client.HDel(ctx, cartKey(userID), productIDs...).Err(); err != nil {
		return fmt.Errorf("redis: remove products from cart of %s: %w", userID, err)
	}
	return nil
}
