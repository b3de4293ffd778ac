package main

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestBuildWebhookCacheDisabledWithoutRedisURL(t *testing.T) {
	t.Setenv("REDIS_URL", "")

	cache, cleanup, err := buildWebhookCache(context.Background())
	if err != nil {
		t.Fatalf("buildWebhookCache: %v", err)
	}
	defer cleanup()
	if cache != nil {
		t.Fatal("expected nil cache when REDIS_URL is empty")
	}
}

func TestBuildWebhookCacheRejectsInvalidURL(t *testing.T) {
	t.Setenv("REDIS_URL", "://not-a-url")

	cache, cleanup, err := buildWebhookCache(context.Background())
	if err == nil {
		if cleanup != nil {
			cleanup()
		}
		t.Fatalf("expected error for invalid REDIS_URL, got cache=%v", cache)
	}
}

func TestBuildWebhookCacheConnects(t *testing.T) {
	srv := miniredis.RunT(t)
	t.Setenv("REDIS_URL", "redis://"+srv.Addr())
	t.Setenv("REDIS_HEALTHCHECK_TIMEOUT", "1s")

	cache, cleanup, err := buildWebhookCache(context.Background())
	if err != nil {
		t.Fatalf("buildWebhookCache: %v", err)
	}
	defer cleanup()
	if cache == nil {
		t.Fatal("expected a cache when Redis is reachable")
	}
}

func TestBuildWebhookCacheFailsHealthcheck(t *testing.T) {
	srv := miniredis.RunT(t)
	addr := srv.Addr()
	srv.Close()

	t.Setenv("REDIS_URL", "redis://"+addr)
	t.Setenv("REDIS_HEALTHCHECK_TIMEOUT", "200ms")

	cache, cleanup, err := buildWebhookCache(context.Background())
	if err == nil {
		if cleanup != nil {
			cleanup()
		}
		t.Fatalf("expected ping failure against closed server, got cache=%v", cache)
	}
}
