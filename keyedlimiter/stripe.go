package keyedlimiter

import (
	"hash/maphash"
	"sync"

	"github.com/joeycumines/priosched"
)

// stripe is one independent lock-guarded shard of the key -> *container
// map. Grounded on catrate.Limiter's sharded sync.Map of per-category
// state, generalized here to an explicit, user-configurable stripe count
// (spec.md §4.4's "striped hash map with P stripes") rather than a single
// sync.Map, since we additionally need the two-phase tentative-remove
// eviction check to run under the same lock as a concurrent getOrCreate.
type stripe struct {
	mu sync.Mutex
	m  map[any]*container
}

// stripeSet selects one of P stripes for a given key via maphash.Comparable
// (the stdlib's general-purpose hash-any-comparable-value primitive): P
// only governs contention, never correctness, per spec.md §4.4.
type stripeSet struct {
	seed    maphash.Seed
	shards  []*stripe
	shardsP int
}

func newStripeSet(p int) *stripeSet {
	if p < 1 {
		p = 1
	}
	// round up to a power of two so index selection can use a mask.
	n := 1
	for n < p {
		n <<= 1
	}
	shards := make([]*stripe, n)
	for i := range shards {
		shards[i] = &stripe{m: make(map[any]*container)}
	}
	return &stripeSet{seed: maphash.MakeSeed(), shards: shards, shardsP: n}
}

func (ss *stripeSet) stripeFor(key any) *stripe {
	h := maphash.Comparable(ss.seed, key)
	return ss.shards[h&uint64(ss.shardsP-1)]
}

// getOrCreate returns the existing container for key, clearing any
// tentative-eviction marker on it, or creates and inserts a new one.
func (s *stripe) getOrCreate(key any, maxConcurrency int, log *priosched.Logger) *container {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.m[key]; ok {
		c.removable.Store(false)
		return c
	}
	c := newContainer(key, maxConcurrency)
	s.m[key] = c
	if log != nil {
		log.Info().Int("maxConcurrency", maxConcurrency).Log("keyedlimiter: container created")
	}
	return c
}

// evictIfStillRemovable deletes key's entry iff it still maps to c and c
// is still marked removable, completing the two-phase tentative-remove
// eviction spec.md §4.4/§9 describes. Run under the stripe lock so it
// cannot race a concurrent getOrCreate's removable-clearing.
func (s *stripe) evictIfStillRemovable(key any, c *container, log *priosched.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.m[key]; ok && cur == c && c.removable.Load() {
		delete(s.m, key)
		if log != nil {
			log.Info().Log("keyedlimiter: container evicted")
		}
	}
}

func (s *stripe) keys() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]any, 0, len(s.m))
	for k := range s.m {
		out = append(out, k)
	}
	return out
}
