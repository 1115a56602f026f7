package scheduler

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/brinkwatch/admission-guard/internal/ratelimit"
)

func TestNewWithoutExporterOnlySchedulesEviction(t *testing.T) {
	registry := ratelimit.NewBucketRegistry(ratelimit.DefaultRateConfig())
	s, err := New(Config{EvictionSchedule: "@every 1h"}, registry, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start()
	defer s.Stop()

	if entries := s.cron.Entries(); len(entries) != 1 {
		t.Fatalf("expected exactly one scheduled job, got %d", len(entries))
	}
}

func TestNewRejectsBadSchedule(t *testing.T) {
	registry := ratelimit.NewBucketRegistry(ratelimit.DefaultRateConfig())
	if _, err := New(Config{EvictionSchedule: "not a cron expr"}, registry, nil, zap.NewNop()); err == nil {
		t.Fatal("expected an error for a malformed cron expression")
	}
}

func TestDefaultConfigSchedulesAreNonEmpty(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.EvictionSchedule == "" || cfg.ExportSchedule == "" {
		t.Fatal("DefaultConfig must populate both schedules")
	}
}

func TestEvictionJobRunsAndEvictsStaleBuckets(t *testing.T) {
	registry := ratelimit.NewBucketRegistry(ratelimit.DefaultRateConfig()).WithEvictionAge(time.Millisecond)
	registry.GetOrCreate("1.2.3.4", time.Now().Add(-time.Hour))

	s, err := New(Config{EvictionSchedule: "@every 50ms"}, registry, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for registry.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if registry.Len() != 0 {
		t.Fatalf("expected the stale bucket to be evicted, registry still has %d", registry.Len())
	}
}
