package exfil

import (
	"sync"
)

// Origin records where a harvested email address was first seen.
type Origin struct {
	Source    string
	McpTag    string
	Timestamp string
	Context   string
}

// DefaultRegistryCapacity bounds the tracked-address set.
const DefaultRegistryCapacity = 4096

// Registry is a bounded, concurrency-safe map of lowercased email
// addresses to their first-seen origin. When full, the oldest entry is
// evicted FIFO.
type Registry struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]Origin
	order    []string
}

// NewRegistry builds a registry with the given capacity; non-positive
// values fall back to the default.
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultRegistryCapacity
	}
	return &Registry{
		capacity: capacity,
		entries:  make(map[string]Origin, capacity),
	}
}

// Track records an address, replacing any previous origin. Re-tracking
// an existing address refreshes its origin without changing eviction
// order.
func (r *Registry) Track(email string, origin Origin) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[email]; exists {
		r.entries[email] = origin
		return
	}
	if len(r.order) >= r.capacity {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.entries, oldest)
	}
	r.entries[email] = origin
	r.order = append(r.order, email)
}

// Lookup returns the origin for a tracked address.
func (r *Registry) Lookup(email string) (Origin, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	origin, ok := r.entries[email]
	return origin, ok
}

// Len reports the number of tracked addresses.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// TrackedSummary describes the registry contents for monitoring.
type TrackedSummary struct {
	TotalTracked int            `json:"total_tracked"`
	BySource     map[string]int `json:"by_source"`
	Emails       []string       `json:"emails"`
}

// Summary returns the tracked addresses grouped by origin source, in
// tracking order.
func (r *Registry) Summary() TrackedSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	bySource := make(map[string]int)
	for _, origin := range r.entries {
		bySource[origin.Source]++
	}
	emails := make([]string, len(r.order))
	copy(emails, r.order)

	return TrackedSummary{
		TotalTracked: len(r.entries),
		BySource:     bySource,
		Emails:       emails,
	}
}
