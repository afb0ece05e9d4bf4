package bmemcache

import (
	"context"
	"errors"

	"github.com/jackc/puddle/v2"
)

// NewPuddlePool creates a puddle-based connection pool.
// Use it with Config.Pool: bmemcache.NewPuddlePool
func NewPuddlePool(constructor ConnectionConstructor, maxSize int32) (Pool, error) {
	if maxSize <= 0 {
		maxSize = 1
	}

	p := &puddlePool{stats: newPoolStatsCollector()}

	poolConfig := &puddle.Config[*Connection]{
		Constructor: func(ctx context.Context) (*Connection, error) {
			conn, err := constructor(ctx)
			if err == nil {
				p.stats.recordCreate()
			}
			return conn, err
		},
		Destructor: func(c *Connection) {
			p.stats.recordDestroy()
			_ = c.Close()
		},
		MaxSize: maxSize,
	}

	pool, err := puddle.NewPool(poolConfig)
	if err != nil {
		return nil, err
	}
	p.pool = pool
	return p, nil
}

// puddlePool wraps puddle.Pool to implement our Pool interface.
// *puddle.Resource[*Connection] already satisfies Resource.
type puddlePool struct {
	pool  *puddle.Pool[*Connection]
	stats *poolStatsCollector
}

func (p *puddlePool) Acquire(ctx context.Context) (Resource, error) {
	res, err := p.pool.Acquire(ctx)
	if err != nil {
		if errors.Is(err, puddle.ErrClosedPool) {
			return nil, ErrPoolClosed
		}
		return nil, err
	}
	return res, nil
}

func (p *puddlePool) AcquireAllIdle() []Resource {
	puddleResources := p.pool.AcquireAllIdle()
	resources := make([]Resource, len(puddleResources))
	for i, res := range puddleResources {
		resources[i] = res
	}
	return resources
}

func (p *puddlePool) Close() {
	p.pool.Close()
}

// Stats maps puddle's statistics to PoolStats.
func (p *puddlePool) Stats() PoolStats {
	s := p.pool.Stat()

	return PoolStats{
		TotalConns:        s.TotalResources(),
		IdleConns:         s.IdleResources(),
		ActiveConns:       s.AcquiredResources(),
		AcquireCount:      uint64(s.AcquireCount()),
		AcquireWaitCount:  uint64(s.EmptyAcquireCount()),
		CreatedConns:      p.stats.created.Load(),
		DestroyedConns:    p.stats.destroyed.Load(),
		AcquireErrors:     uint64(s.CanceledAcquireCount()),
		AcquireWaitTimeNs: uint64(s.EmptyAcquireWaitTime().Nanoseconds()),
	}
}
