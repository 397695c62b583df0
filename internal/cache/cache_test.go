package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetSetRoundTrip(t *testing.T) {
	c := New[float64]()
	c.Set("price_BTC/USDT", 65000.5, 5*time.Second)

	v, ok := c.Get("price_BTC/USDT")
	assert.True(t, ok)
	assert.Equal(t, 65000.5, v)
}

func TestGetMissingKey(t *testing.T) {
	c := New[float64]()
	_, ok := c.Get("nope")
	assert.False(t, ok)
}

func TestLazyExpiry(t *testing.T) {
	c := New[int]()
	c.Set("k", 1, 1*time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entry should be swept on Get")
}

func TestDefaultTTLAppliedWhenZero(t *testing.T) {
	c := New[int]()
	c.Set("k", 1, 0)
	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestConcurrentAccess(t *testing.T) {
	c := New[int]()
	done := make(chan struct{})
	for i := 0; i < 20; i++ {
		go func(n int) {
			c.Set("k", n, time.Minute)
			c.Get("k")
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < 20; i++ {
		<-done
	}
}
