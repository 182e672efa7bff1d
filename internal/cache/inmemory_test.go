package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGenerateKey(t *testing.T) {
	assert.Equal(t, "rate:v1:EUR:PLN", GenerateKey(PrefixExchangeRate, "EUR", "PLN"))
	assert.Equal(t, "address_task:v1:42", GenerateKey(PrefixAddressTask, 42))
}

func TestInMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCacheWithExpiration(time.Minute, time.Minute)

	c.Set(ctx, "short", 1, 20*time.Millisecond)
	c.Set(ctx, "forever", 2, NoExpiration)

	time.Sleep(40 * time.Millisecond)

	_, found := c.Get(ctx, "short")
	assert.False(t, found)

	v, found := c.Get(ctx, "forever")
	assert.True(t, found)
	assert.Equal(t, 2, v)
}

func TestSetIfAbsentIsExclusive(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	var winners int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.SetIfAbsent(ctx, "deal:1", true, NoExpiration) {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners)
}

func TestDeleteByPrefix(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	c.Set(ctx, GenerateKey(PrefixDealContext, "1"), "a", 0)
	c.Set(ctx, GenerateKey(PrefixDealContext, "2"), "b", 0)
	c.Set(ctx, GenerateKey(PrefixExchangeRate, "EUR", "PLN"), 4.3, 0)

	c.DeleteByPrefix(ctx, PrefixDealContext)

	assert.Equal(t, 1, c.ItemCount())
	_, found := c.Get(ctx, GenerateKey(PrefixExchangeRate, "EUR", "PLN"))
	assert.True(t, found)
}
