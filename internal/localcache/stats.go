package localcache

// Stats reports runtime hit/miss/eviction counters. A low hit ratio here
// points at a follower-heavy workload (many distinct cold keys) rather than
// the warm-hit steady state the fresh-TTL window is meant to produce.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}
