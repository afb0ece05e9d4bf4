// Package coarsetime is a clock with a 50ms resolution, cheaper to read than time.Now.
// Pools use it to timestamp connections on every release.
package coarsetime

import (
	"sync/atomic"
	"time"
)

const Resolution = 50 * time.Millisecond

var now atomic.Int64

func init() {
	now.Store(time.Now().UnixNano())

	ticker := time.NewTicker(Resolution)
	go func() {
		for t := range ticker.C {
			now.Store(t.UnixNano())
		}
	}()
}

// Now returns the current time, late by at most Resolution.
// The result carries no monotonic clock reading.
func Now() time.Time {
	return time.Unix(0, now.Load())
}

// Since returns the time elapsed since t, measured with Now.
func Since(t time.Time) time.Duration {
	return Now().Sub(t)
}
