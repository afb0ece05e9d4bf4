package bmemcache

import (
	"sync/atomic"
	"time"

	"github.com/pior/bmemcache/binprot"
)

// PoolStats contains statistics about a connection pool.
//
// For Prometheus integration, expose these as:
//   - Gauges: TotalConns, IdleConns, ActiveConns
//   - Counters: AcquireCount, AcquireWaitCount, CreatedConns, DestroyedConns, AcquireErrors
//   - Histogram: AcquireWaitDuration (use AcquireWaitCount and AcquireWaitTimeNs to calculate)
//
// NewMetricsSet does this with VictoriaMetrics/metrics.
type PoolStats struct {
	// Lifetime counters
	AcquireCount      uint64 // Total acquire attempts
	AcquireWaitCount  uint64 // Acquires that had to wait
	CreatedConns      uint64 // Total connections created
	DestroyedConns    uint64 // Total connections destroyed
	AcquireErrors     uint64 // Failed acquire attempts
	AcquireWaitTimeNs uint64 // Total nanoseconds spent waiting

	// Current state gauges
	TotalConns  int32 // Total connections in pool (active + idle)
	IdleConns   int32 // Idle connections available
	ActiveConns int32 // Connections currently in use
}

// ClientStats contains statistics about client operations.
type ClientStats struct {
	Gets       uint64 // Get operations, including each key of a MultiGet
	GetHits    uint64 // Get operations that found the key
	Sets       uint64 // Set, Add, Replace and CompareAndSwap operations
	Deletes    uint64 // Delete operations
	Increments uint64 // Increment and Decrement operations
	Touches    uint64 // Touch operations
	Errors     uint64 // Operations that returned an error
}

// poolStatsCollector holds the counters a pool updates itself.
// Gauges are computed by each pool when taking a snapshot.
type poolStatsCollector struct {
	acquires     atomic.Uint64
	waits        atomic.Uint64
	waitTimeNs   atomic.Uint64
	created      atomic.Uint64
	destroyed    atomic.Uint64
	acquireError atomic.Uint64
}

func newPoolStatsCollector() *poolStatsCollector {
	return &poolStatsCollector{}
}

func (c *poolStatsCollector) recordAcquire() {
	c.acquires.Add(1)
}

func (c *poolStatsCollector) recordAcquireWait(d time.Duration) {
	c.waits.Add(1)
	c.waitTimeNs.Add(uint64(d.Nanoseconds()))
}

func (c *poolStatsCollector) recordCreate() {
	c.created.Add(1)
}

func (c *poolStatsCollector) recordDestroy() {
	c.destroyed.Add(1)
}

func (c *poolStatsCollector) recordAcquireError() {
	c.acquireError.Add(1)
}

func (c *poolStatsCollector) snapshot(total, idle, active int32) PoolStats {
	return PoolStats{
		AcquireCount:      c.acquires.Load(),
		AcquireWaitCount:  c.waits.Load(),
		CreatedConns:      c.created.Load(),
		DestroyedConns:    c.destroyed.Load(),
		AcquireErrors:     c.acquireError.Load(),
		AcquireWaitTimeNs: c.waitTimeNs.Load(),
		TotalConns:        total,
		IdleConns:         idle,
		ActiveConns:       active,
	}
}

// clientStatsCollector counts operations by opcode.
type clientStatsCollector struct {
	gets       atomic.Uint64
	getHits    atomic.Uint64
	sets       atomic.Uint64
	deletes    atomic.Uint64
	increments atomic.Uint64
	touches    atomic.Uint64
	errors     atomic.Uint64
}

func newClientStatsCollector() *clientStatsCollector {
	return &clientStatsCollector{}
}

// record counts one request and its outcome. resp is nil for quiet requests
// the server did not answer.
func (c *clientStatsCollector) record(req *binprot.Request, resp *binprot.Response, err error) {
	if err != nil {
		c.errors.Add(1)
	}

	switch req.Opcode {
	case binprot.OpGet, binprot.OpGetK, binprot.OpGetQ, binprot.OpGetKQ:
		c.gets.Add(1)
		if resp != nil && resp.IsSuccess() {
			c.getHits.Add(1)
		}
	case binprot.OpSet, binprot.OpSetQ, binprot.OpAdd, binprot.OpAddQ, binprot.OpReplace, binprot.OpReplaceQ:
		c.sets.Add(1)
	case binprot.OpDelete, binprot.OpDeleteQ:
		c.deletes.Add(1)
	case binprot.OpIncrement, binprot.OpDecrement:
		c.increments.Add(1)
	case binprot.OpTouch:
		c.touches.Add(1)
	}
}

func (c *clientStatsCollector) snapshot() ClientStats {
	return ClientStats{
		Gets:       c.gets.Load(),
		GetHits:    c.getHits.Load(),
		Sets:       c.sets.Load(),
		Deletes:    c.deletes.Load(),
		Increments: c.increments.Load(),
		Touches:    c.touches.Load(),
		Errors:     c.errors.Load(),
	}
}
