// Package cache implements the low-latency derived-state caches of the indexer:
// order book price levels, funding indices and predicted funding rates, and order
// fill progress. Every cache is built on the Client capability, which a Redis
// connection (pkg/redis) or the in-memory MemoryClient satisfies.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNegativeResult is returned by HIncrByNonNegative when applying the delta would
// leave the field below zero. The stored value is left untouched.
var ErrNegativeResult = errors.New("hash field would become negative")

// Client is the set of atomic primitives the caches rely on. Only IncrByOnce touches
// two keys; every other operation works on a single key.
type Client interface {
	// Get returns the string value of key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// MGet returns the values of the keys that exist; absent keys are omitted.
	MGet(ctx context.Context, keys ...string) (map[string]string, error)
	// Set overwrites key.
	Set(ctx context.Context, key, value string) error
	// SetNX stores key only if it is absent and reports whether it did. A zero ttl keeps the key forever.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// IncrBy adds delta to the integer at key (absent is 0) and returns the new value.
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)
	// IncrByOnce adds delta to key and stores marker in one atomic step, unless marker
	// already exists. It returns the total of key and whether delta was applied.
	IncrByOnce(ctx context.Context, marker, markerValue string, ttl time.Duration, key string, delta int64) (int64, bool, error)

	// HGet returns a hash field and whether it exists.
	HGet(ctx context.Context, key, field string) (string, bool, error)
	// HSetNX sets a hash field only if it is absent and reports whether it did.
	HSetNX(ctx context.Context, key, field, value string) (bool, error)
	// HIncrByNonNegative adds delta to an integer hash field (absent is 0). A result of
	// zero removes the field; a negative result fails with ErrNegativeResult and
	// leaves the field as it was.
	HIncrByNonNegative(ctx context.Context, key, field string, delta int64) (int64, error)

	// ZAdd adds or rescores member in the sorted set at key.
	ZAdd(ctx context.Context, key string, score float64, member string) error
	// ZMaxMemberAtOrBelow returns the member with the highest score <= max.
	ZMaxMemberAtOrBelow(ctx context.Context, key string, max float64) (string, bool, error)

	// SAdd adds members to the set at key.
	SAdd(ctx context.Context, key string, members ...string) error
	// SMembers returns all members of the set at key.
	SMembers(ctx context.Context, key string) ([]string, error)

	Ping(ctx context.Context) error
}

// Key layout shared by every Client implementation.
const (
	orderbookLevelsPrefix     = "v4/orderbookLevels/"
	nextFundingPrefix         = "v4/nextFunding/"
	fundingIndexPrefix        = "v4/fundingIndex/"
	fundingIndexHeightsPrefix = "v4/fundingIndexHeights/"
	fundingIndexMarketsKey    = "v4/fundingIndexMarkets"
	filledQuantumsPrefix      = "v4/stateFilledQuantums/"
)
