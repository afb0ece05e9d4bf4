package bmemcache

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
)

// NewMetricsSet exposes the client and pool statistics as a metrics.Set.
// Values are read from the client counters when the set is written.
//
// Pool metrics are labelled with the server address, for the servers known at
// creation time. Pool counters keep growing across DisconnectAll. Register the set with metrics.RegisterSet or write it with
// Set.WritePrometheus.
func NewMetricsSet(client *Client) *metrics.Set {
	s := metrics.NewSet()

	clientGauge := func(name string, get func(ClientStats) uint64) {
		s.NewGauge(name, func() float64 {
			return float64(get(client.Stats()))
		})
	}
	clientGauge("bmemcache_gets_total", func(st ClientStats) uint64 { return st.Gets })
	clientGauge("bmemcache_get_hits_total", func(st ClientStats) uint64 { return st.GetHits })
	clientGauge("bmemcache_sets_total", func(st ClientStats) uint64 { return st.Sets })
	clientGauge("bmemcache_deletes_total", func(st ClientStats) uint64 { return st.Deletes })
	clientGauge("bmemcache_increments_total", func(st ClientStats) uint64 { return st.Increments })
	clientGauge("bmemcache_touches_total", func(st ClientStats) uint64 { return st.Touches })
	clientGauge("bmemcache_errors_total", func(st ClientStats) uint64 { return st.Errors })

	seen := make(map[string]bool)
	for _, addr := range client.servers.List() {
		if seen[addr] {
			continue
		}
		seen[addr] = true

		poolGauge := func(name string, get func(ServerPoolStats) float64) {
			s.NewGauge(fmt.Sprintf("%s{addr=%q}", name, addr), func() float64 {
				return get(client.poolTotals()[addr])
			})
		}
		poolGauge("bmemcache_pool_connections_total", func(st ServerPoolStats) float64 { return float64(st.PoolStats.TotalConns) })
		poolGauge("bmemcache_pool_connections_idle", func(st ServerPoolStats) float64 { return float64(st.PoolStats.IdleConns) })
		poolGauge("bmemcache_pool_connections_active", func(st ServerPoolStats) float64 { return float64(st.PoolStats.ActiveConns) })
		poolGauge("bmemcache_pool_acquires_total", func(st ServerPoolStats) float64 { return float64(st.PoolStats.AcquireCount) })
		poolGauge("bmemcache_pool_acquire_waits_total", func(st ServerPoolStats) float64 { return float64(st.PoolStats.AcquireWaitCount) })
		poolGauge("bmemcache_pool_acquire_wait_seconds_total", func(st ServerPoolStats) float64 { return float64(st.PoolStats.AcquireWaitTimeNs) / 1e9 })
		poolGauge("bmemcache_pool_acquire_errors_total", func(st ServerPoolStats) float64 { return float64(st.PoolStats.AcquireErrors) })
		poolGauge("bmemcache_pool_connections_created_total", func(st ServerPoolStats) float64 { return float64(st.PoolStats.CreatedConns) })
		poolGauge("bmemcache_pool_connections_destroyed_total", func(st ServerPoolStats) float64 { return float64(st.PoolStats.DestroyedConns) })
		poolGauge("bmemcache_retries_total", func(st ServerPoolStats) float64 { return float64(st.Retries) })
		poolGauge("bmemcache_circuit_breaker_state", func(st ServerPoolStats) float64 { return float64(st.CircuitBreakerState) })
	}

	return s
}
