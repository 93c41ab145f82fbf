package relay

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisDeduperClaimsOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	d := NewRedisDeduper(client, time.Hour)
	ctx := context.Background()

	ok, err := d.Claim(ctx, "wamid.1")
	if err != nil || !ok {
		t.Fatalf("first claim = %v, %v; want true, nil", ok, err)
	}
	ok, err = d.Claim(ctx, "wamid.1")
	if err != nil || ok {
		t.Fatalf("second claim = %v, %v; want false, nil", ok, err)
	}
	if ttl := mr.TTL("relay:wamid:wamid.1"); ttl != time.Hour {
		t.Fatalf("ttl = %v, want 1h", ttl)
	}
}

func TestRedisDeduperExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	d := NewRedisDeduper(client, time.Minute)
	ctx := context.Background()

	if ok, _ := d.Claim(ctx, "wamid.2"); !ok {
		t.Fatal("expected first claim to succeed")
	}
	mr.FastForward(2 * time.Minute)
	if ok, _ := d.Claim(ctx, "wamid.2"); !ok {
		t.Fatal("expected claim to succeed after ttl expiry")
	}
}

func TestRedisDeduperRelease(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	d := NewRedisDeduper(client, 0)
	ctx := context.Background()

	if ok, _ := d.Claim(ctx, "wamid.3"); !ok {
		t.Fatal("expected first claim to succeed")
	}
	if err := d.Release(ctx, "wamid.3"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := d.Claim(ctx, "wamid.3"); !ok {
		t.Fatal("expected claim to succeed after release")
	}
}

func TestRedisDeduperEmptyIDAlwaysClaims(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	d := NewRedisDeduper(client, time.Hour)

	for i := 0; i < 2; i++ {
		if ok, err := d.Claim(context.Background(), ""); err != nil || !ok {
			t.Fatalf("claim %d = %v, %v; want true, nil", i, ok, err)
		}
	}
}

func TestRedisDeduperBackendError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	d := NewRedisDeduper(client, time.Hour)
	mr.Close()

	if _, err := d.Claim(context.Background(), "wamid.4"); err == nil {
		t.Fatal("expected error when redis is unavailable")
	}
}
