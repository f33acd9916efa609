package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/optistore/optistore"
	"github.com/optistore/optistore/backingstore"
	"github.com/optistore/optistore/config"
)

var version = "dev"

var (
	numPolicies int
	numQueries  int
	payloadSize int
	bits        int
	outputJSON  bool
)

var rootCmd = &cobra.Command{
	Use:   "optistore",
	Short: "CLI tool for the policy-store optimization layer",
	Long:  `Benchmarks and inspects the optistore cache, quantization and index pipeline.`,
}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run a synthetic optimization pipeline and print the results",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		opts := cfg.Options()
		opts = append(opts,
			optistore.WithQuantizationBits(bits),
			optistore.WithBackingStore(backingstore.NewMemory()),
		)

		opt := optistore.New(opts...)
		if err := opt.Open(); err != nil {
			return fmt.Errorf("failed to open optimizer: %w", err)
		}

		ctx := context.Background()
		defer func() { _ = opt.Close(ctx, true) }()

		before := opt.Metrics().Snapshot()

		var degraded int
		storeStart := time.Now()
		for i := 0; i < numPolicies; i++ {
			id := fmt.Sprintf("policy-%04d", i)
			result, err := opt.OptimizeStorage(ctx, id, syntheticPayload(i, payloadSize))
			if err != nil {
				return fmt.Errorf("optimize storage: %w", err)
			}
			if !result.Success {
				degraded++
			}
		}
		storeElapsed := time.Since(storeStart)

		var cacheHits int
		queryStart := time.Now()
		for i := 0; i < numQueries; i++ {
			// Repeat each query once so the second pass can hit the cache.
			query := syntheticVector(i / 2)
			qr, err := opt.OptimizeQuery(ctx, query, 10)
			if err != nil {
				return fmt.Errorf("optimize query: %w", err)
			}
			if qr.CacheHit {
				cacheHits++
			}
		}
		queryElapsed := time.Since(queryStart)

		after := opt.Metrics().Snapshot()
		diff := opt.Metrics().Diff(before, after)

		summary := map[string]any{
			"policies":            numPolicies,
			"queries":             numQueries,
			"degraded":            degraded,
			"query_cache_hits":    cacheHits,
			"store_elapsed":       storeElapsed.String(),
			"query_elapsed":       queryElapsed.String(),
			"avg_search_latency":  after.AvgSearchLatency.String(),
			"cache_hit_rate":      after.CacheHitRate,
			"index_size":          after.IndexSize,
			"memory_saved_bytes":  after.MemorySavedBytes,
			"improvement_percent": diff.ImprovementPercent,
		}
		for _, rec := range diff.Recommendations {
			summary["recommendation_"+rec.Code] = rec.Message
		}

		if outputJSON {
			data, _ := json.MarshalIndent(summary, "", "  ")
			fmt.Println(string(data))
			return nil
		}

		fmt.Printf("Stored %d policies in %s (%d degraded)\n", numPolicies, storeElapsed, degraded)
		fmt.Printf("Ran %d queries in %s (%d cache hits, avg search %s)\n",
			numQueries, queryElapsed, cacheHits, after.AvgSearchLatency)
		fmt.Printf("Cache hit rate %.2f, index size %d, saved %d bytes\n",
			after.CacheHitRate, after.IndexSize, after.MemorySavedBytes)
		for _, rec := range diff.Recommendations {
			fmt.Printf("Recommendation [%s]: %s\n", rec.Code, rec.Message)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

// syntheticPayload builds a deterministic float32 stream so repeated bench
// runs are comparable.
func syntheticPayload(seed, size int) []byte {
	n := size / 4
	payload := make([]byte, n*4)
	for i := 0; i < n; i++ {
		v := float32(math.Sin(float64(seed+1) * float64(i+1) * 0.01))
		binary.LittleEndian.PutUint32(payload[i*4:], math.Float32bits(v))
	}
	return payload
}

func syntheticVector(seed int) []float32 {
	vec := make([]float32, 128)
	for i := range vec {
		vec[i] = float32(math.Cos(float64(seed+1) * float64(i+1) * 0.01))
	}
	return vec
}

func init() {
	benchCmd.Flags().IntVar(&numPolicies, "policies", 1000, "number of synthetic policies to store")
	benchCmd.Flags().IntVar(&numQueries, "queries", 200, "number of queries to run")
	benchCmd.Flags().IntVar(&payloadSize, "payload-size", 4096, "payload size in bytes")
	benchCmd.Flags().IntVar(&bits, "bits", 8, "quantization bit-width")
	benchCmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")

	rootCmd.AddCommand(benchCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
