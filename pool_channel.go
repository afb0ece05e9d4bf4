package bmemcache

import (
	"context"
	"sync"
	"time"

	"github.com/pior/bmemcache/internal/coarsetime"
)

// NewChannelPool creates a channel based connection pool.
// This is the default pool implementation.
//
// Connections are opened lazily on Acquire, never in the background.
func NewChannelPool(constructor ConnectionConstructor, maxSize int32) (Pool, error) {
	if maxSize <= 0 {
		maxSize = 1
	}

	return &channelPool{
		constructor: constructor,
		slots:       make(chan struct{}, maxSize),
		idle:        make(chan *channelResource, maxSize),
		stats:       newPoolStatsCollector(),
	}, nil
}

// channelResource implements Resource for channel pool.
type channelResource struct {
	conn         *Connection
	pool         *channelPool
	creationTime time.Time
	lastUsedTime time.Time
}

func (r *channelResource) Value() *Connection {
	return r.conn
}

func (r *channelResource) Release() {
	r.lastUsedTime = coarsetime.Now()
	r.pool.put(r)
}

func (r *channelResource) ReleaseUnused() {
	r.pool.put(r)
}

func (r *channelResource) Destroy() {
	r.pool.destroy(r)
}

func (r *channelResource) CreationTime() time.Time {
	return r.creationTime
}

func (r *channelResource) IdleDuration() time.Duration {
	return coarsetime.Now().Sub(r.lastUsedTime)
}

// channelPool bounds the number of live connections with a slot semaphore.
// A slot is taken before dialing and given back when the connection is destroyed,
// so waiters are woken either by a released connection or by a free slot.
type channelPool struct {
	constructor ConnectionConstructor

	slots chan struct{}
	idle  chan *channelResource

	mu     sync.Mutex
	closed bool

	stats *poolStatsCollector
}

func (p *channelPool) Acquire(ctx context.Context) (Resource, error) {
	p.stats.recordAcquire()

	if p.isClosed() {
		p.stats.recordAcquireError()
		return nil, ErrPoolClosed
	}

	// Fast path: an idle connection
	select {
	case res := <-p.idle:
		return res, nil
	default:
	}

	// Open a new connection if the pool is not full
	select {
	case p.slots <- struct{}{}:
		return p.create(ctx)
	default:
	}

	// Pool is full, wait for a connection to be released or destroyed
	waitStart := coarsetime.Now()
	select {
	case res := <-p.idle:
		p.stats.recordAcquireWait(coarsetime.Now().Sub(waitStart))
		return res, nil
	case p.slots <- struct{}{}:
		p.stats.recordAcquireWait(coarsetime.Now().Sub(waitStart))
		return p.create(ctx)
	case <-ctx.Done():
		p.stats.recordAcquireError()
		return nil, ctx.Err()
	}
}

// create opens a connection for a slot already taken by the caller.
func (p *channelPool) create(ctx context.Context) (Resource, error) {
	conn, err := p.constructor(ctx)
	if err != nil {
		<-p.slots
		p.stats.recordAcquireError()
		return nil, err
	}

	if p.isClosed() {
		conn.Close()
		<-p.slots
		p.stats.recordAcquireError()
		return nil, ErrPoolClosed
	}

	p.stats.recordCreate()

	now := coarsetime.Now()
	return &channelResource{
		conn:         conn,
		pool:         p,
		creationTime: now,
		lastUsedTime: now,
	}, nil
}

func (p *channelPool) put(res *channelResource) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		p.destroyLocked(res)
		return
	}

	select {
	case p.idle <- res:
	default:
		// More connections than slots can not happen, but never block here
		p.destroyLocked(res)
	}
}

func (p *channelPool) destroy(res *channelResource) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destroyLocked(res)
}

func (p *channelPool) destroyLocked(res *channelResource) {
	res.conn.Close()
	<-p.slots
	p.stats.recordDestroy()
}

func (p *channelPool) AcquireAllIdle() []Resource {
	var idle []Resource
	for {
		select {
		case res := <-p.idle:
			idle = append(idle, res)
		default:
			return idle
		}
	}
}

// Close destroys the idle connections. Connections checked out at that time
// are destroyed when given back.
func (p *channelPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	for {
		select {
		case res := <-p.idle:
			p.destroyLocked(res)
		default:
			return
		}
	}
}

func (p *channelPool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Stats returns a snapshot of pool statistics.
func (p *channelPool) Stats() PoolStats {
	total := int32(len(p.slots))
	idle := int32(len(p.idle))
	return p.stats.snapshot(total, idle, total-idle)
}
