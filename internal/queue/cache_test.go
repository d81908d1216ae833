package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestResponseCacheRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	c := NewResponseCache(rdb, time.Hour)
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, "generate-config", "ospf", `{"area":"0"}`); err != nil || ok {
		t.Fatalf("expected cache miss, got ok=%v err=%v", ok, err)
	}

	if err := c.Set(ctx, "router ospf 1", "generate-config", "ospf", `{"area":"0"}`); err != nil {
		t.Fatalf("set: %v", err)
	}

	val, ok, err := c.Get(ctx, "generate-config", "ospf", `{"area":"0"}`)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok || val != "router ospf 1" {
		t.Fatalf("expected cache hit with stored value, got ok=%v val=%q", ok, val)
	}

	if _, ok, _ := c.Get(ctx, "generate-config", "ospf", `{"area":"1"}`); ok {
		t.Fatalf("different parameters must produce a different key")
	}
}
