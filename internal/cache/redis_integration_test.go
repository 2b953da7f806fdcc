//go:build integration
// +build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/kjstillabower/weather-lookup/internal/models"
)

func newTestRedis(t *testing.T) *RedisCache {
	t.Helper()
	c := NewRedisCache(RedisOptions{Addr: "localhost:6379", DialTimeout: 500 * time.Millisecond})
	if err := c.Ping(context.Background()); err != nil {
		c.Close()
		t.Skipf("redis not reachable: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRedisCache_GetSet_Integration(t *testing.T) {
	c := newTestRedis(t)
	ctx := context.Background()

	val := models.Reading{City: "Kazan", Temperature: 4.2, Humidity: 71, WindSpeed: 5}
	if err := c.Set(ctx, Key("Kazan"), val, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, ok, err := c.Get(ctx, Key("kazan"))
	if err != nil || !ok {
		t.Fatalf("Get() = ok %v, err %v; want hit", ok, err)
	}
	if got.City != val.City || got.Humidity != val.Humidity {
		t.Errorf("Get() = %+v, want %+v", got, val)
	}
}

func TestRedisCache_Expiry_Integration(t *testing.T) {
	c := newTestRedis(t)
	ctx := context.Background()

	if err := c.Set(ctx, "expiring-city", models.Reading{City: "x"}, time.Second); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	time.Sleep(1500 * time.Millisecond)
	if _, ok, err := c.Get(ctx, "expiring-city"); ok || err != nil {
		t.Errorf("Get() after ttl = ok %v, err %v; want miss", ok, err)
	}
}
