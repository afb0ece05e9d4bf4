package bmemcache

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/pior/bmemcache/binprot"
)

// NewServerPool creates the pool of connections to one server.
// No connection is opened until the first request.
func NewServerPool(addr string, config Config) (*ServerPool, error) {
	config = config.withDefaults()
	logger := config.Logger.With().Str("layer", "server").Str("addr", addr).Logger()

	constructor := config.constructor
	if constructor == nil {
		network := serverNetwork(addr)
		constructor = func(ctx context.Context) (*Connection, error) {
			netConn, err := config.Dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, &binprot.ConnectionError{Op: "dial", Err: err}
			}
			logger.Debug().Str("network", network).Msg("connection opened")
			return NewConnection(netConn, config.Timeout), nil
		}
	}

	pool, err := config.Pool(constructor, config.MaxSize)
	if err != nil {
		return nil, err
	}

	sp := &ServerPool{
		addr:       addr,
		pool:       pool,
		maxRetries: config.MaxRetries,
		logger:     logger,
	}
	if config.NewCircuitBreaker != nil {
		sp.circuitBreaker = config.NewCircuitBreaker(addr, logger)
	}
	return sp, nil
}

// ServerPool wraps a pool and an optional circuit breaker with its server address.
//
// Requests failing with a ConnectionError are retried on a new connection up
// to maxRetries times: the failed connection is destroyed and the pool dials
// again on the next Acquire. Protocol errors are never retried.
type ServerPool struct {
	addr           string
	pool           Pool
	circuitBreaker *CircuitBreaker
	maxRetries     int
	logger         zerolog.Logger

	retries atomic.Uint64
}

func (sp *ServerPool) Address() string {
	return sp.addr
}

// ServerPoolStats contains stats for a single server pool
type ServerPoolStats struct {
	Addr                 string
	PoolStats            PoolStats
	Retries              uint64
	CircuitBreakerState  gobreaker.State
	CircuitBreakerCounts gobreaker.Counts
}

func (sp *ServerPool) Stats() ServerPoolStats {
	stats := ServerPoolStats{
		Addr:      sp.addr,
		PoolStats: sp.pool.Stats(),
		Retries:   sp.retries.Load(),
	}
	if sp.circuitBreaker != nil {
		stats.CircuitBreakerState = sp.circuitBreaker.State()
		stats.CircuitBreakerCounts = sp.circuitBreaker.Counts()
	}
	return stats
}

// Close closes the pool. Connections in use are closed when released.
func (sp *ServerPool) Close() {
	sp.pool.Close()
	sp.logger.Debug().Msg("pool closed")
}

// Execute sends a single request and returns its response.
// Non-success statuses are returned as responses, not errors.
func (sp *ServerPool) Execute(ctx context.Context, req *binprot.Request) (*binprot.Response, error) {
	if sp.circuitBreaker == nil {
		return sp.execute(ctx, req)
	}

	return sp.circuitBreaker.Execute(func() (*binprot.Response, error) {
		return sp.execute(ctx, req)
	})
}

func (sp *ServerPool) execute(ctx context.Context, req *binprot.Request) (*binprot.Response, error) {
	var resp *binprot.Response
	err := sp.withConnection(ctx, func(conn *Connection) error {
		var err error
		resp, err = conn.Send(ctx, req)
		return err
	})
	return resp, err
}

// ExecuteBatch pipelines reqs on one connection using the NoOp marker strategy.
// Sends all requests followed by a NoOp, then reads responses until the NoOp response.
//
// The returned slice is aligned with reqs; entries are nil where a quiet request
// got no response (a GetKQ miss, a successful SetQ or DeleteQ).
func (sp *ServerPool) ExecuteBatch(ctx context.Context, reqs []*binprot.Request) ([]*binprot.Response, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	var responses []*binprot.Response
	batch := func() (*binprot.Response, error) {
		return nil, sp.withConnection(ctx, func(conn *Connection) error {
			var err error
			responses, err = conn.SendBatch(ctx, reqs)
			return err
		})
	}

	var err error
	if sp.circuitBreaker == nil {
		_, err = batch()
	} else {
		_, err = sp.circuitBreaker.Execute(batch)
	}
	return responses, err
}

// withConnection runs fn on a pooled connection, retrying on a new connection
// after a ConnectionError.
//
// Idle connections were opened before the failure and are likely broken the
// same way, so they are destroyed before a retry: the retry dials.
func (sp *ServerPool) withConnection(ctx context.Context, fn func(conn *Connection) error) error {
	for attempt := 0; ; attempt++ {
		err := sp.withConnectionOnce(ctx, fn)
		if err == nil || !binprot.IsConnectionError(err) || attempt >= sp.maxRetries || ctx.Err() != nil {
			return err
		}

		sp.retries.Add(1)
		discarded := sp.discardIdle()
		sp.logger.Info().Err(err).Int("attempt", attempt+1).Int("discarded", discarded).Msg("retrying on a new connection")
	}
}

// discardIdle destroys every idle connection and returns how many there were.
func (sp *ServerPool) discardIdle() int {
	idle := sp.pool.AcquireAllIdle()
	for _, res := range idle {
		res.Destroy()
	}
	return len(idle)
}

func (sp *ServerPool) withConnectionOnce(ctx context.Context, fn func(conn *Connection) error) error {
	resource, err := sp.pool.Acquire(ctx)
	if err != nil {
		return err
	}

	conn := resource.Value()
	err = fn(conn)

	if conn.State() != StateConnected {
		sp.logger.Warn().Err(err).Msg("destroying failed connection")
		resource.Destroy()
	} else {
		resource.Release()
	}
	return err
}

// checkIdle runs fn on each idle connection and destroys those it rejects.
// Used by the client health check.
func (sp *ServerPool) checkIdle(fn func(res Resource) error) {
	for _, res := range sp.pool.AcquireAllIdle() {
		if err := fn(res); err != nil {
			sp.logger.Debug().Err(err).Msg("closing idle connection")
			res.Destroy()
			continue
		}
		res.ReleaseUnused()
	}
}
