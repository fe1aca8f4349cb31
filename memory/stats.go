package memory

import "sync/atomic"

// Stats holds per-allocator byte counters.
//
// "Self" counts what an allocator obtained from (and returned to) its backing
// allocator. "Client" counts what it handed to (and got back from) its callers.
// For a caching layer the outstanding amounts differ exactly by the bytes it
// currently retains.
type Stats struct {
	SelfTotalAllocated   int64
	SelfTotalFreed       int64
	ClientTotalAllocated int64
	ClientTotalFreed     int64
}

// IsAllFreed reports whether everything taken from the backing allocator was returned.
func (s Stats) IsAllFreed() bool { return s.SelfTotalAllocated == s.SelfTotalFreed }

// ClientIsAllFreed reports whether callers returned everything they were given.
func (s Stats) ClientIsAllFreed() bool { return s.ClientTotalAllocated == s.ClientTotalFreed }

// SelfOutstanding is the number of bytes currently held from the backing allocator.
func (s Stats) SelfOutstanding() int64 { return s.SelfTotalAllocated - s.SelfTotalFreed }

// ClientOutstanding is the number of bytes currently held by callers.
func (s Stats) ClientOutstanding() int64 { return s.ClientTotalAllocated - s.ClientTotalFreed }

// Cached is the number of bytes held from the backing allocator but not by callers.
func (s Stats) Cached() int64 { return s.SelfOutstanding() - s.ClientOutstanding() }

// Counters is a concurrency-safe accumulator for Stats.
type Counters struct {
	selfAllocated   atomic.Int64
	selfFreed       atomic.Int64
	clientAllocated atomic.Int64
	clientFreed     atomic.Int64
}

// SelfAlloc records n bytes obtained from the backing allocator.
func (c *Counters) SelfAlloc(n int) { c.selfAllocated.Add(int64(n)) }

// SelfFree records n bytes returned to the backing allocator.
func (c *Counters) SelfFree(n int) { c.selfFreed.Add(int64(n)) }

// ClientAlloc records n bytes handed to a caller.
func (c *Counters) ClientAlloc(n int) { c.clientAllocated.Add(int64(n)) }

// ClientFree records n bytes returned by a caller.
func (c *Counters) ClientFree(n int) { c.clientFreed.Add(int64(n)) }

// Snapshot returns the current values.
func (c *Counters) Snapshot() Stats {
	return Stats{
		SelfTotalAllocated:   c.selfAllocated.Load(),
		SelfTotalFreed:       c.selfFreed.Load(),
		ClientTotalAllocated: c.clientAllocated.Load(),
		ClientTotalFreed:     c.clientFreed.Load(),
	}
}
