package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Cache defines the interface for caching operations
type Cache interface {
	// Get retrieves a value from the cache
	// Returns the value and a boolean indicating whether the key was found
	Get(ctx context.Context, key string) (interface{}, bool)

	// Set adds a value to the cache with the specified expiration
	// NoExpiration keeps the item for the lifetime of the process
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration)

	// SetIfAbsent stores the value only when the key is missing or expired.
	// It returns false when the key was already present.
	SetIfAbsent(ctx context.Context, key string, value interface{}, expiration time.Duration) bool

	// Delete removes a key from the cache
	Delete(ctx context.Context, key string)

	// DeleteByPrefix removes all keys with the given prefix
	DeleteByPrefix(ctx context.Context, prefix string)

	// Flush removes all items from the cache
	Flush(ctx context.Context)
}

// Predefined cache key prefixes. Each prefix documents its eviction policy.
const (
	// exchange rates, evicted after the configured rate TTL
	PrefixExchangeRate = "rate:v1:"
	// address-missing task dedup set, kept for the process lifetime
	PrefixAddressTask = "address_task:v1:"
	// deals fetched during one processing run, evicted after DealContextTTL
	PrefixDealContext = "deal:v1:"
)

// NoExpiration keeps an entry until the process exits or it is deleted
const NoExpiration time.Duration = -1

// DealContextTTL bounds how long a fetched deal is reused
const DealContextTTL = 2 * time.Minute

// GenerateKey creates a cache key from a prefix and a set of parameters
// It joins all parameters with a colon and appends them to the prefix
func GenerateKey(prefix string, params ...interface{}) string {
	parts := make([]string, len(params)+1)
	parts[0] = strings.TrimSuffix(prefix, ":")

	for i, param := range params {
		parts[i+1] = fmt.Sprintf("%v", param)
	}

	return strings.Join(parts, ":")
}
