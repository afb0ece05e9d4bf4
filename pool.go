package bmemcache

import (
	"context"
	"errors"
	"time"
)

// ErrPoolClosed is returned by Acquire once the pool has been closed.
var ErrPoolClosed = errors.New("bmemcache: pool closed")

// Pool holds the connections to one server.
//
// A connection is checked out by Acquire and must be given back with exactly one
// of Release, ReleaseUnused or Destroy. It is never used by two callers at once.
type Pool interface {
	Acquire(ctx context.Context) (Resource, error)
	// AcquireAllIdle checks out every idle connection, used by health checks.
	AcquireAllIdle() []Resource
	Close()
	Stats() PoolStats
}

// Resource is a checked out connection.
type Resource interface {
	Value() *Connection
	// Release returns the connection to the pool.
	Release()
	// ReleaseUnused returns the connection without updating its last use time.
	ReleaseUnused()
	// Destroy closes the connection and frees its slot in the pool.
	Destroy()
	CreationTime() time.Time
	IdleDuration() time.Duration
}

// ConnectionConstructor opens a new connection, it is called lazily by pools.
type ConnectionConstructor func(ctx context.Context) (*Connection, error)

// PoolFactory creates a Pool holding at most maxSize connections.
// NewChannelPool and NewPuddlePool are the two implementations.
type PoolFactory func(constructor ConnectionConstructor, maxSize int32) (Pool, error)
