// Package metrics implements the Metrics Cache (spec §4.9): per-minute
// time-bucketed counters with a GC for old buckets, plus periodic gauge
// sampling. The promauto-registered collector shape is grounded on
// adred-codev-ws_poc/go-server/internal/metrics/metrics.go, generalized
// from one fixed metric set to the broker's own counters/gauges; the
// counters/gauges sit alongside, not instead of, the time-bucketed
// in-process query API spec §4.9 itself asks for.
package metrics

import (
	"sync"
	"time"
)

// Counter identifies one of the per-interval counters spec §4.9 names.
type Counter int

const (
	CounterConnections Counter = iota
	CounterTopics
	CounterSubscriptions
	CounterMessagesIn
	CounterMessagesOut
	CounterMessagesDrop
	counterKindCount
)

// bucket holds one minute's worth of counter deltas.
type bucket struct {
	minuteUnix int64
	counts     [counterKindCount]int64
}

// Sample is one time-range query result row (spec §4.9 "time-range
// queries scan the buckets for windows within [start, end]").
type Sample struct {
	MinuteUnix int64
	Counts     [counterKindCount]int64
	// Totals is the running total as of the end of this bucket, the
	// "running totals" half of spec §4.9's "running totals and derived
	// per-interval delta".
	Totals [counterKindCount]int64
}

// Cache is the per-minute time-bucketed counter store.
type Cache struct {
	mu      sync.Mutex
	buckets map[int64]*bucket
	totals  [counterKindCount]int64
	now     func() int64
}

// New constructs a Cache using now to resolve the current Unix time
// (injectable for tests).
func New(now func() int64) *Cache {
	return &Cache{buckets: make(map[int64]*bucket), now: now}
}

func minuteOf(unixSeconds int64) int64 { return unixSeconds - (unixSeconds % 60) }

// Record increments counter kind by delta in the bucket for the current
// minute, and updates the running total.
func (c *Cache) Record(kind Counter, delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var minute = minuteOf(c.now())
	var b, ok = c.buckets[minute]
	if !ok {
		b = &bucket{minuteUnix: minute}
		c.buckets[minute] = b
	}
	b.counts[kind] += delta
	c.totals[kind] += delta
}

// Query returns every bucket whose minute falls within [start, end]
// (inclusive), ordered by minute, with each sample's Totals reflecting the
// running total as of that bucket (spec §4.9).
func (c *Cache) Query(start, end int64) []Sample {
	c.mu.Lock()
	defer c.mu.Unlock()

	var minutes []int64
	for m := range c.buckets {
		if m >= minuteOf(start) && m <= minuteOf(end) {
			minutes = append(minutes, m)
		}
	}
	sortInt64s(minutes)

	var running [counterKindCount]int64
	// Totals must reflect the running total INCLUDING every bucket up to
	// and including the queried one, not just buckets inside the window,
	// so walk all bucket minutes up to each queried minute.
	var allMinutes []int64
	for m := range c.buckets {
		allMinutes = append(allMinutes, m)
	}
	sortInt64s(allMinutes)

	var out = make([]Sample, 0, len(minutes))
	var wanted = make(map[int64]bool, len(minutes))
	for _, m := range minutes {
		wanted[m] = true
	}
	for _, m := range allMinutes {
		var b = c.buckets[m]
		for k := Counter(0); k < counterKindCount; k++ {
			running[k] += b.counts[k]
		}
		if wanted[m] {
			out = append(out, Sample{MinuteUnix: m, Counts: b.counts, Totals: running})
		}
	}
	return out
}

func sortInt64s(s []int64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// GC removes buckets older than maxAge relative to the current time (spec
// §4.9: default retention 3 days).
func (c *Cache) GC(maxAge time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var cutoff = c.now() - int64(maxAge.Seconds())
	for m := range c.buckets {
		if m < cutoff {
			delete(c.buckets, m)
		}
	}
}

// DefaultRetention is spec §4.9's stated GC window.
const DefaultRetention = 72 * time.Hour
