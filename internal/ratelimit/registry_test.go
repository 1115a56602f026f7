package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestBucketRegistryGetOrCreateIsStable(t *testing.T) {
	reg := NewBucketRegistry(DefaultRateConfig())
	now := time.Now()
	b1 := reg.GetOrCreate("1.1.1.1", now)
	b2 := reg.GetOrCreate("1.1.1.1", now.Add(time.Second))
	if b1 != b2 {
		t.Fatal("expected the same bucket instance for repeated lookups of the same IP")
	}
	if reg.Len() != 1 {
		t.Fatalf("expected a single tracked bucket, got %d", reg.Len())
	}
}

func TestBucketRegistryCreatesFullBucket(t *testing.T) {
	cfg := DefaultRateConfig().WithRatePerMinute(30)
	reg := NewBucketRegistry(cfg)
	now := time.Now()
	b := reg.GetOrCreate("2.2.2.2", now)
	if tok := b.Tokens(); tok != cfg.MaxTokens() {
		t.Fatalf("new bucket should start full: tokens=%f, want %f", tok, cfg.MaxTokens())
	}
}

func TestBucketRegistryDifferentIPsDoNotSerialize(t *testing.T) {
	reg := NewBucketRegistryWithShards(DefaultRateConfig(), 8)
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		ip := fmt.Sprintf("10.0.0.%d", i)
		wg.Add(1)
		go func(ip string) {
			defer wg.Done()
			b := reg.GetOrCreate(ip, now)
			b.TryConsume(now, 1.0)
		}(ip)
	}
	wg.Wait()

	if reg.Len() != 100 {
		t.Fatalf("expected 100 distinct buckets, got %d", reg.Len())
	}
}

func TestBucketRegistryEvictsOldUnblockedBuckets(t *testing.T) {
	reg := NewBucketRegistry(DefaultRateConfig()).WithEvictionAge(time.Hour)
	now := time.Now()
	reg.GetOrCreate("3.3.3.3", now)

	evicted := reg.Evict(now.Add(2 * time.Hour))
	if evicted != 1 {
		t.Fatalf("expected 1 eviction, got %d", evicted)
	}
	if reg.Len() != 0 {
		t.Fatalf("expected registry to be empty after eviction, len=%d", reg.Len())
	}

	// Eviction never causes a false block: the recreated bucket starts full.
	fresh := reg.GetOrCreate("3.3.3.3", now.Add(2*time.Hour))
	if tok := fresh.Tokens(); tok != DefaultRateConfig().MaxTokens() {
		t.Fatalf("recreated bucket should start full, tokens=%f", tok)
	}
}

func TestBucketRegistryNeverEvictsALiveBlock(t *testing.T) {
	cfg := DefaultRateConfig().WithRatePerMinute(1).WithBlockDuration(24 * time.Hour)
	reg := NewBucketRegistry(cfg).WithEvictionAge(time.Minute)
	now := time.Now()
	b := reg.GetOrCreate("4.4.4.4", now)
	b.TryConsume(now, 1.0)
	b.TryConsume(now, 1.0) // Denied: opens a 24h block window

	evicted := reg.Evict(now.Add(2 * time.Hour))
	if evicted != 0 {
		t.Fatalf("expected the live-blocked bucket to survive eviction, evicted=%d", evicted)
	}
}
