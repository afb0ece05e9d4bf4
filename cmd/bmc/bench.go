package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/pior/bmemcache"
)

type OperationType string

const (
	CacheHit     OperationType = "cache-hit"
	DynamicValue OperationType = "dynamic-value"
	CacheMiss    OperationType = "cache-miss"
	Increment    OperationType = "increment"
	MultiGet     OperationType = "multi-get"
	All          OperationType = "all"
)

var operations = []OperationType{CacheHit, DynamicValue, CacheMiss, Increment, MultiGet}

type BenchmarkResult struct {
	Operation    OperationType
	Duration     time.Duration
	TotalOps     int64
	Failures     int64
	AvgLatency   time.Duration
	OpsPerSecond float64
	Mismatches   int64
}

// operationFunc runs one operation for a worker. It reports false when the result is wrong.
type operationFunc func(ctx context.Context, worker, n int) (bool, error)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run a load benchmark against the servers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		operation, _ := cmd.Flags().GetString("operation")
		duration, _ := cmd.Flags().GetDuration("duration")
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		printMetrics, _ := cmd.Flags().GetBool("metrics")

		ctx := cmd.Context()
		if err := client.Ping(ctx); err != nil {
			return fmt.Errorf("servers not reachable: %w", err)
		}

		selected := operations
		if OperationType(operation) != All {
			selected = []OperationType{OperationType(operation)}
		}

		for _, op := range selected {
			fn, err := setupOperation(ctx, op)
			if err != nil {
				return err
			}
			printResult(runBenchmark(ctx, op, fn, duration, concurrency))
		}

		if printMetrics {
			bmemcache.NewMetricsSet(client).WritePrometheus(os.Stdout)
		}
		return nil
	},
}

func init() {
	benchCmd.Flags().String("operation", string(All), "cache-hit, dynamic-value, cache-miss, increment, multi-get or all")
	benchCmd.Flags().Duration("duration", 5*time.Second, "duration of each benchmark")
	benchCmd.Flags().Int("concurrency", 1, "number of concurrent workers")
	benchCmd.Flags().Bool("metrics", false, "print client metrics in Prometheus format at the end")
}

func setupOperation(ctx context.Context, op OperationType) (operationFunc, error) {
	switch op {
	case CacheHit:
		const key, value = "bench-hit", "cache-hit-value"
		if _, err := client.Set(ctx, key, value, time.Hour); err != nil {
			return nil, fmt.Errorf("failed to set initial value: %w", err)
		}
		return func(ctx context.Context, _, _ int) (bool, error) {
			item, err := client.Get(ctx, key)
			return item.Found && item.Value == value, err
		}, nil

	case DynamicValue:
		return func(ctx context.Context, worker, n int) (bool, error) {
			key := "bench-dynamic-" + strconv.Itoa(worker) + "-" + strconv.Itoa(n)
			if _, err := client.Set(ctx, key, int64(n), time.Minute); err != nil {
				return false, err
			}
			item, err := client.Get(ctx, key)
			return item.Value == int64(n), err
		}, nil

	case CacheMiss:
		return func(ctx context.Context, worker, n int) (bool, error) {
			item, err := client.Get(ctx, "bench-miss-"+strconv.Itoa(worker)+"-"+strconv.Itoa(n))
			return !item.Found, err
		}, nil

	case Increment:
		return func(ctx context.Context, worker, _ int) (bool, error) {
			_, err := client.Increment(ctx, "bench-counter-"+strconv.Itoa(worker), 1, 0, time.Hour)
			return true, err
		}, nil

	case MultiGet:
		keys := make([]string, 20)
		items := make([]bmemcache.Item, len(keys))
		for i := range keys {
			keys[i] = "bench-multi-" + strconv.Itoa(i)
			items[i] = bmemcache.Item{Key: keys[i], Value: i, TTL: time.Hour}
		}
		if _, err := client.MultiSet(ctx, items); err != nil {
			return nil, fmt.Errorf("failed to set initial values: %w", err)
		}
		return func(ctx context.Context, _, _ int) (bool, error) {
			found, err := client.MultiGet(ctx, keys)
			for i, item := range found {
				if !item.Found || item.Value != i {
					return false, err
				}
			}
			return true, err
		}, nil

	default:
		return nil, fmt.Errorf("unknown operation: %s", op)
	}
}

func runBenchmark(ctx context.Context, op OperationType, fn operationFunc, duration time.Duration, concurrency int) *BenchmarkResult {
	logger.Info().Str("operation", string(op)).Int("workers", concurrency).Dur("duration", duration).Msg("starting benchmark")

	var totalOps, failures, mismatches, totalLatency atomic.Int64

	startTime := time.Now()
	var wg sync.WaitGroup

	for worker := range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for n := 0; time.Since(startTime) < duration && ctx.Err() == nil; n++ {
				opStart := time.Now()
				ok, err := fn(ctx, worker, n)
				totalLatency.Add(int64(time.Since(opStart)))
				totalOps.Add(1)

				switch {
				case err != nil:
					failures.Add(1)
					logger.Debug().Err(err).Int("worker", worker).Msg("operation failed")
				case !ok:
					mismatches.Add(1)
				}
			}
		}()
	}

	wg.Wait()

	result := &BenchmarkResult{
		Operation:  op,
		Duration:   time.Since(startTime),
		TotalOps:   totalOps.Load(),
		Failures:   failures.Load(),
		Mismatches: mismatches.Load(),
	}
	if result.TotalOps > 0 {
		result.AvgLatency = time.Duration(totalLatency.Load() / result.TotalOps)
		result.OpsPerSecond = float64(result.TotalOps) / result.Duration.Seconds()
	}
	return result
}

func printResult(result *BenchmarkResult) {
	fmt.Printf("\n=== %s ===\n", result.Operation)
	fmt.Printf("Duration:       %v\n", result.Duration)
	fmt.Printf("Total ops:      %d\n", result.TotalOps)
	fmt.Printf("Failures:       %d\n", result.Failures)
	fmt.Printf("Mismatches:     %d\n", result.Mismatches)
	fmt.Printf("Avg latency:    %v\n", result.AvgLatency)
	fmt.Printf("Ops/sec:        %.0f\n", result.OpsPerSecond)
}
