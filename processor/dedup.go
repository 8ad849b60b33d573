package processor

import (
	"sync"

	"cdsflow/logger"
)

// Dedup tracks report identifiers already ingested so repeats are suppressed.
// The set is bounded: once capacity is exceeded the oldest keys are evicted
// first, keeping memory flat over an indefinite run. Restart continuity comes
// from seeding the set with the sink's most recent keys; the sink's unique
// index remains the final guarantee either way.
type Dedup struct {
	mu       sync.Mutex
	seen     map[string]struct{}
	order    []string
	head     int
	capacity int
	log      *logger.Log
}

func NewDedup(capacity int) *Dedup {
	if capacity <= 0 {
		capacity = 100000
	}
	return &Dedup{
		seen:     make(map[string]struct{}),
		capacity: capacity,
		log:      logger.GetLogger(),
	}
}

// Observe returns true the first time a key is seen and false thereafter.
func (d *Dedup) Observe(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[key]; ok {
		return false
	}
	d.insert(key)
	return true
}

// Forget removes keys from the set so a later cycle can admit them again,
// used when a persisted batch fails and its keys were never durably stored.
func (d *Dedup) Forget(keys []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, key := range keys {
		delete(d.seen, key)
	}
}

// Seed preloads keys already present in the sink.
func (d *Dedup) Seed(keys []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, key := range keys {
		if _, ok := d.seen[key]; !ok {
			d.insert(key)
		}
	}
	d.log.WithComponent("dedup").WithFields(logger.Fields{"keys": len(keys)}).Info("seeded dedup set")
}

// Len reports how many keys the set currently holds.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func (d *Dedup) insert(key string) {
	d.seen[key] = struct{}{}
	d.order = append(d.order, key)

	for len(d.seen) > d.capacity {
		oldest := d.order[d.head]
		d.head++
		delete(d.seen, oldest)
	}
	// Reclaim the evicted prefix once it dominates the backing slice.
	if d.head > len(d.order)/2 && d.head > 1024 {
		d.order = append([]string(nil), d.order[d.head:]...)
		d.head = 0
	}
}
