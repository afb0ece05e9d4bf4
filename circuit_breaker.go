package bmemcache

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/pior/bmemcache/binprot"
)

// CircuitBreaker is the per-server circuit breaker type used by ServerPool.
type CircuitBreaker = gobreaker.CircuitBreaker[*binprot.Response]

// CircuitBreakerFactory creates the circuit breaker of one server.
// The logger carries the server address.
type CircuitBreakerFactory func(addr string, logger zerolog.Logger) *CircuitBreaker

// NewCircuitBreakerConfig returns a CircuitBreakerFactory for Config.NewCircuitBreaker.
//
// The breaker trips when at least 60% of 3 or more requests failed within interval.
// Only connection and protocol errors count as failures: misses, refused stores
// and invalid keys are normal outcomes.
func NewCircuitBreakerConfig(maxRequests uint32, interval, timeout time.Duration) CircuitBreakerFactory {
	return func(addr string, logger zerolog.Logger) *CircuitBreaker {
		settings := gobreaker.Settings{
			Name:        addr,
			MaxRequests: maxRequests,
			Interval:    interval,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
			IsSuccessful: func(err error) bool {
				return err == nil || !(binprot.IsConnectionError(err) || binprot.IsProtocolError(err))
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
			},
		}
		return gobreaker.NewCircuitBreaker[*binprot.Response](settings)
	}
}
