package ratelimit

import (
	"hash/fnv"
	"sync"
	"time"
)

const defaultShardCount = 32

// BucketRegistry is a concurrent IP-to-Bucket map. It exclusively owns
// every Bucket it creates; all other components reach a Bucket only
// through GetOrCreate. Keys are sharded across independent mutexes so that
// concurrent requests from different IPs never serialize against each
// other.
type BucketRegistry struct {
	shards     []*registryShard
	cfg        RateConfig
	evictAfter time.Duration
}

type registryShard struct {
	mu      sync.Mutex
	buckets map[string]*Bucket
}

// NewBucketRegistry creates a registry that mints buckets from cfg, using
// the default shard count.
func NewBucketRegistry(cfg RateConfig) *BucketRegistry {
	return NewBucketRegistryWithShards(cfg, defaultShardCount)
}

// NewBucketRegistryWithShards is like NewBucketRegistry but lets the caller
// pick the shard count, mostly useful for tests that want to force
// collisions or keep a single shard for deterministic ordering.
func NewBucketRegistryWithShards(cfg RateConfig, shardCount int) *BucketRegistry {
	if shardCount <= 0 {
		shardCount = defaultShardCount
	}
	shards := make([]*registryShard, shardCount)
	for i := range shards {
		shards[i] = &registryShard{buckets: make(map[string]*Bucket)}
	}
	return &BucketRegistry{
		shards:     shards,
		cfg:        cfg,
		evictAfter: time.Hour,
	}
}

// WithEvictionAge overrides the age threshold Evict uses, and returns the
// receiver for chaining at construction time.
func (r *BucketRegistry) WithEvictionAge(d time.Duration) *BucketRegistry {
	r.evictAfter = d
	return r
}

func (r *BucketRegistry) shardFor(ip string) *registryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(ip))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

// GetOrCreate returns the bucket for ip, creating it full (tokens at
// max_tokens, first_seen and last_refill at now, unblocked) if this is the
// first time ip has been seen.
func (r *BucketRegistry) GetOrCreate(ip string, now time.Time) *Bucket {
	shard := r.shardFor(ip)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	if b, ok := shard.buckets[ip]; ok {
		return b
	}
	b := newBucket(r.cfg, now)
	shard.buckets[ip] = b
	return b
}

// Len returns the total number of buckets currently tracked, across all
// shards. It is intended for the registry-size metrics gauge, not the hot
// path.
func (r *BucketRegistry) Len() int {
	total := 0
	for _, s := range r.shards {
		s.mu.Lock()
		total += len(s.buckets)
		s.mu.Unlock()
	}
	return total
}

// Evict drops buckets whose last refill predates now minus the configured
// eviction age. A bucket with a block window still live at now is never
// evicted, since dropping it would silently forgive a penalty still in
// effect; it is simply revisited on the next sweep. Eviction never causes
// a false block: a dropped bucket, when next requested, is recreated full.
func (r *BucketRegistry) Evict(now time.Time) int {
	cutoff := now.Add(-r.evictAfter)
	evicted := 0
	for _, s := range r.shards {
		s.mu.Lock()
		for ip, b := range s.buckets {
			if _, blocked := b.BlockedUntil(now); blocked {
				continue
			}
			if b.LastRefill().Before(cutoff) {
				delete(s.buckets, ip)
				evicted++
			}
		}
		s.mu.Unlock()
	}
	return evicted
}
