// Package metrics holds the per-run outcome counters and their Prometheus export.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Counters is a concurrency-safe named counter pool.
type Counters struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewCounters returns an empty pool.
func NewCounters() *Counters {
	return &Counters{counts: make(map[string]int)}
}

// Add adds delta to name.
func (c *Counters) Add(name string, delta int) {
	c.mu.Lock()
	c.counts[name] += delta
	c.mu.Unlock()
}

// Increment adds one to name.
func (c *Counters) Increment(name string) { c.Add(name, 1) }

// Get returns the current value of name.
func (c *Counters) Get(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[name]
}

// Snapshot returns a copy of all counters.
func (c *Counters) Snapshot() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}

// DumpAlphabetically renders one "name: value" line per counter, sorted by name.
func (c *Counters) DumpAlphabetically() string {
	snap := c.Snapshot()
	names := make([]string, 0, len(snap))
	for k := range snap {
		names = append(names, k)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, n := range names {
		fmt.Fprintf(&b, "%s: %d\n", n, snap[n])
	}
	return b.String()
}
