package bmemcache

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pior/bmemcache/binprot"
)

const (
	// DefaultTimeout bounds a request round trip when Config.Timeout is zero.
	DefaultTimeout = 5 * time.Second

	// DefaultMaxRetries is the number of retries on a new connection when Config.MaxRetries is zero.
	DefaultMaxRetries = 1
)

// Config holds configuration for the client and its connection pools.
// The zero value is usable.
type Config struct {
	// MaxSize is the maximum number of connections per server.
	// Zero means 1: each server has one connection, used by one request at a time.
	MaxSize int32

	// MaxConnLifetime is the maximum duration a connection can be reused.
	// Zero means no limit. Enforced by health checks.
	MaxConnLifetime time.Duration

	// MaxConnIdleTime is the maximum duration a connection can be idle before being closed.
	// Zero means no limit. Enforced by health checks.
	MaxConnIdleTime time.Duration

	// HealthCheckInterval is how often to check idle connections for health.
	// Zero disables health checks.
	HealthCheckInterval time.Duration

	// Timeout bounds each request round trip, on top of the context deadline.
	// Zero means DefaultTimeout, negative disables it.
	// A timeout is a ConnectionError.
	Timeout time.Duration

	// MaxRetries is how many times a request failing with a ConnectionError is
	// retried on a new connection. Zero means DefaultMaxRetries, negative disables retries.
	// An Increment or Decrement the server applied before the connection broke is
	// applied again by the retry.
	MaxRetries int

	// Dialer is used to open connections.
	// If nil, a net.Dialer with Timeout is used.
	Dialer *net.Dialer

	// Pool is the connection pool factory function.
	// If nil, uses NewChannelPool. Set to NewPuddlePool for the puddle implementation.
	Pool PoolFactory

	// SelectServer picks which server to use for a key.
	// If nil, uses DefaultServerSelector.
	SelectServer ServerSelector

	// NewCircuitBreaker creates a circuit breaker for a server.
	// Called once per server address when the pool is created.
	// If nil, no circuit breaker is used.
	NewCircuitBreaker CircuitBreakerFactory

	// Logger receives connection lifecycle events. The zero value discards them.
	Logger zerolog.Logger

	// for testing purposes only
	constructor ConnectionConstructor
}

func (c Config) withDefaults() Config {
	if c.MaxSize <= 0 {
		c.MaxSize = 1
	}

	switch {
	case c.Timeout == 0:
		c.Timeout = DefaultTimeout
	case c.Timeout < 0:
		c.Timeout = 0
	}

	switch {
	case c.MaxRetries == 0:
		c.MaxRetries = DefaultMaxRetries
	case c.MaxRetries < 0:
		c.MaxRetries = 0
	}

	if c.Dialer == nil {
		c.Dialer = &net.Dialer{Timeout: c.Timeout}
	}
	if c.Pool == nil {
		c.Pool = NewChannelPool
	}
	if c.SelectServer == nil {
		c.SelectServer = DefaultServerSelector
	}
	return c
}

// Client is a memcache client routing each key to one of several servers.
//
// It is safe for concurrent use. Connections are opened lazily, a connection
// failing with an I/O error is discarded and replaced on the next request.
type Client struct {
	*Commands
	*BatchCommands

	servers Servers
	config  Config
	logger  zerolog.Logger

	// Multi-pool management
	mu     sync.RWMutex
	pools  map[string]*ServerPool
	closed bool

	// Pools replaced by DisconnectAll: closing ones still count in totals,
	// closed ones are folded into retired.
	closing []*ServerPool
	retired map[string]ServerPoolStats

	closeOnce       sync.Once
	stopHealthCheck chan struct{}

	stats *clientStatsCollector
}

var (
	_ Querier       = (*Client)(nil)
	_ Executor      = (*Client)(nil)
	_ BatchExecutor = (*Client)(nil)
)

// NewClient creates a new memcache client with the given servers and configuration.
// For a single server, use: NewClient(NewStaticServers("host:port"), config)
func NewClient(servers Servers, config Config) (*Client, error) {
	if servers == nil || len(servers.List()) == 0 {
		return nil, ErrNoServers
	}

	config = config.withDefaults()

	client := &Client{
		servers:         servers,
		config:          config,
		logger:          config.Logger.With().Str("layer", "client").Logger(),
		pools:           make(map[string]*ServerPool),
		retired:         make(map[string]ServerPoolStats),
		stopHealthCheck: make(chan struct{}),
		stats:           newClientStatsCollector(),
	}
	client.Commands = NewCommands(client)
	client.BatchCommands = NewBatchCommands(client)

	// Start health check goroutine if enabled
	if config.HealthCheckInterval > 0 {
		go client.healthCheckLoop()
	}

	return client, nil
}

// Close closes the client and all its connections.
// Requests made after Close return ErrClientClosed.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		close(c.stopHealthCheck)
		c.DisconnectAll()
	})
}

// DisconnectAll closes every connection to every server.
// The server list is kept: the next request opens new connections.
// It is safe to call at any time and any number of times.
func (c *Client) DisconnectAll() {
	c.mu.Lock()
	pools := c.pools
	c.pools = make(map[string]*ServerPool)
	for _, sp := range pools {
		c.closing = append(c.closing, sp)
	}
	c.mu.Unlock()

	for _, sp := range pools {
		sp.Close()
	}

	c.mu.Lock()
	for _, sp := range pools {
		c.closing = slices.DeleteFunc(c.closing, func(p *ServerPool) bool { return p == sp })
		totals := c.retired[sp.addr]
		addPoolCounters(&totals, sp.Stats())
		c.retired[sp.addr] = totals
	}
	c.mu.Unlock()

	c.logger.Debug().Int("pools", len(pools)).Msg("disconnected all servers")
}

// Execute sends req to the server selected by its key.
func (c *Client) Execute(ctx context.Context, req *binprot.Request) (*binprot.Response, error) {
	resp, err := c.execute(ctx, req)
	c.stats.record(req, resp, err)
	return resp, err
}

func (c *Client) execute(ctx context.Context, req *binprot.Request) (*binprot.Response, error) {
	addr, err := c.selectServerForKey(req.Key)
	if err != nil {
		return nil, err
	}

	var resp *binprot.Response
	err = c.withServerPool(addr, func(sp *ServerPool) error {
		var err error
		resp, err = sp.Execute(ctx, req)
		return err
	})
	return resp, err
}

// ExecuteBatch groups reqs by server and pipelines each group on one connection.
// Groups are sent concurrently. Responses are aligned with reqs.
func (c *Client) ExecuteBatch(ctx context.Context, reqs []*binprot.Request) ([]*binprot.Response, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	groups := make(map[string][]int)
	for i, req := range reqs {
		addr, err := c.selectServerForKey(req.Key)
		if err != nil {
			return nil, err
		}
		groups[addr] = append(groups[addr], i)
	}

	responses := make([]*binprot.Response, len(reqs))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for addr, indexes := range groups {
		wg.Add(1)
		go func() {
			defer wg.Done()

			group := make([]*binprot.Request, len(indexes))
			for j, idx := range indexes {
				group[j] = reqs[idx]
			}

			var groupResponses []*binprot.Response
			err := c.withServerPool(addr, func(sp *ServerPool) error {
				var err error
				groupResponses, err = sp.ExecuteBatch(ctx, group)
				return err
			})

			for j, idx := range indexes {
				var resp *binprot.Response
				if err == nil {
					resp = groupResponses[j]
					responses[idx] = resp
				}
				c.stats.record(reqs[idx], resp, err)
			}

			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", addr, err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return responses, nil
}

// FlushAll invalidates all items on every server.
func (c *Client) FlushAll(ctx context.Context) error {
	for _, addr := range c.servers.List() {
		resp, err := c.executeOn(ctx, addr, binprot.NewFlushRequest(0))
		if err != nil {
			return fmt.Errorf("%s: %w", addr, err)
		}
		if !resp.IsSuccess() {
			return fmt.Errorf("%s: %w", addr, resp.Err())
		}
	}
	return nil
}

// Version returns the version string of every server, by address.
func (c *Client) Version(ctx context.Context) (map[string]string, error) {
	versions := make(map[string]string)
	for _, addr := range c.servers.List() {
		resp, err := c.executeOn(ctx, addr, binprot.NewVersionRequest())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", addr, err)
		}
		if !resp.IsSuccess() {
			return nil, fmt.Errorf("%s: %w", addr, resp.Err())
		}
		versions[addr] = string(resp.Value)
	}
	return versions, nil
}

// Ping sends a NoOp to every server.
func (c *Client) Ping(ctx context.Context) error {
	for _, addr := range c.servers.List() {
		if _, err := c.executeOn(ctx, addr, binprot.NewNoOpRequest()); err != nil {
			return fmt.Errorf("%s: %w", addr, err)
		}
	}
	return nil
}

func (c *Client) executeOn(ctx context.Context, addr string, req *binprot.Request) (*binprot.Response, error) {
	var resp *binprot.Response
	err := c.withServerPool(addr, func(sp *ServerPool) error {
		var err error
		resp, err = sp.Execute(ctx, req)
		return err
	})
	return resp, err
}

// withServerPool runs fn with the pool of addr. A pool closed by a concurrent
// DisconnectAll is replaced by a new one, until the client itself is closed.
func (c *Client) withServerPool(addr string, fn func(sp *ServerPool) error) error {
	for {
		sp, err := c.getOrCreatePool(addr)
		if err != nil {
			return err
		}

		err = fn(sp)
		if errors.Is(err, ErrPoolClosed) {
			c.logger.Debug().Str("addr", addr).Msg("pool closed during request, using a new pool")
			continue
		}
		return err
	}
}

// selectServerForKey picks the server address for a given key.
// Uses the configured SelectServer function with the current server list.
func (c *Client) selectServerForKey(key string) (string, error) {
	servers := c.servers.List()
	if len(servers) == 0 {
		return "", ErrNoServers
	}

	idx := c.config.SelectServer(key, servers)
	if idx < 0 || idx >= len(servers) {
		return "", fmt.Errorf("bmemcache: server selector returned index %d for %d servers", idx, len(servers))
	}
	return servers[idx], nil
}

// getOrCreatePool gets or creates a pool for the given server address.
func (c *Client) getOrCreatePool(addr string) (*ServerPool, error) {
	// Fast path: read lock
	c.mu.RLock()
	sp, exists := c.pools[addr]
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return nil, ErrClientClosed
	}
	if exists {
		return sp, nil
	}

	// Slow path: write lock and create
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClientClosed
	}

	// Double-check after acquiring write lock
	if sp, exists := c.pools[addr]; exists {
		return sp, nil
	}

	sp, err := NewServerPool(addr, c.config)
	if err != nil {
		return nil, err
	}
	c.pools[addr] = sp
	return sp, nil
}

// healthCheckLoop periodically checks idle connections for health and lifecycle limits.
func (c *Client) healthCheckLoop() {
	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopHealthCheck:
			return
		case <-ticker.C:
			c.checkAllPools()
		}
	}
}

// checkAllPools runs health checks on all existing pools
func (c *Client) checkAllPools() {
	c.mu.RLock()
	pools := make([]*ServerPool, 0, len(c.pools))
	for _, sp := range c.pools {
		pools = append(pools, sp)
	}
	c.mu.RUnlock()

	for _, sp := range pools {
		sp.checkIdle(c.checkConnection)
	}
}

var (
	errConnLifetimeExceeded = errors.New("connection lifetime exceeded")
	errConnIdleTimeExceeded = errors.New("connection idle time exceeded")
)

// checkConnection rejects stale connections and probes the others with a NoOp.
func (c *Client) checkConnection(res Resource) error {
	if c.config.MaxConnLifetime > 0 && time.Since(res.CreationTime()) > c.config.MaxConnLifetime {
		return errConnLifetimeExceeded
	}

	if c.config.MaxConnIdleTime > 0 && res.IdleDuration() > c.config.MaxConnIdleTime {
		return errConnIdleTimeExceeded
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.config.HealthCheckInterval)
	defer cancel()

	resp, err := res.Value().Send(ctx, binprot.NewNoOpRequest())
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("health check failed: %w", resp.Err())
	}
	return nil
}

// Stats returns a snapshot of client statistics.
func (c *Client) Stats() ClientStats {
	return c.stats.snapshot()
}

// poolTotals returns, by address, the lifetime counters of every pool the
// client used, including pools replaced by DisconnectAll. Gauges and circuit
// breaker state are those of the current pool.
func (c *Client) poolTotals() map[string]ServerPoolStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	totals := make(map[string]ServerPoolStats, len(c.retired)+len(c.pools))
	for addr, st := range c.retired {
		st.Addr = addr
		totals[addr] = st
	}
	for _, sp := range c.closing {
		st := totals[sp.addr]
		st.Addr = sp.addr
		addPoolCounters(&st, sp.Stats())
		totals[sp.addr] = st
	}
	for addr, sp := range c.pools {
		current := sp.Stats()
		st := totals[addr]
		addPoolCounters(&st, current)
		st.Addr = addr
		st.PoolStats.TotalConns = current.PoolStats.TotalConns
		st.PoolStats.IdleConns = current.PoolStats.IdleConns
		st.PoolStats.ActiveConns = current.PoolStats.ActiveConns
		st.CircuitBreakerState = current.CircuitBreakerState
		st.CircuitBreakerCounts = current.CircuitBreakerCounts
		totals[addr] = st
	}
	return totals
}

func addPoolCounters(dst *ServerPoolStats, src ServerPoolStats) {
	dst.PoolStats.AcquireCount += src.PoolStats.AcquireCount
	dst.PoolStats.AcquireWaitCount += src.PoolStats.AcquireWaitCount
	dst.PoolStats.CreatedConns += src.PoolStats.CreatedConns
	dst.PoolStats.DestroyedConns += src.PoolStats.DestroyedConns
	dst.PoolStats.AcquireErrors += src.PoolStats.AcquireErrors
	dst.PoolStats.AcquireWaitTimeNs += src.PoolStats.AcquireWaitTimeNs
	dst.Retries += src.Retries
}

// AllPoolStats returns stats for the current server pools.
// Counters restart from zero when DisconnectAll replaces the pools.
func (c *Client) AllPoolStats() []ServerPoolStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := make([]ServerPoolStats, 0, len(c.pools))
	for _, sp := range c.pools {
		stats = append(stats, sp.Stats())
	}
	return stats
}
