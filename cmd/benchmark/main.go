// Command benchmark drives the clinical term mapping engine's
// map_terms_batch tool through the performance benchmarking suite and
// prints a latency/throughput summary.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/clinterm/mapper-mcp-server/internal/config"
	"github.com/clinterm/mapper-mcp-server/internal/mcp"
	"github.com/clinterm/mapper-mcp-server/internal/mcp/benchmarking"
	"github.com/clinterm/mapper-mcp-server/internal/mcp/tools"
)

func main() {
	duration := flag.Duration("duration", 10*time.Second, "how long to run the batch-mapping benchmark")
	concurrency := flag.Int("concurrency", 4, "concurrent workers driving map_terms_batch calls")
	batchSize := flag.Int("batch-size", 8, "terms per map_terms_batch call")
	minThroughput := flag.Float64("min-throughput", 0, "fail if map_terms_batch throughput (ops/sec) drops below this")
	maxP95 := flag.Duration("max-p95", 0, "fail if map_terms_batch p95 latency exceeds this")
	flag.Parse()

	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("configuration validation failed: %v", err)
	}

	server, err := mcp.NewServer(configManager)
	if err != nil {
		log.Fatalf("failed to build mapping engine: %v", err)
	}
	defer server.Close()

	suite := benchmarking.NewPerformanceSuite(benchmarking.BenchmarkConfig{
		Concurrency:     *concurrency,
		Duration:        *duration,
		DetailedResults: true,
	})

	params := benchmarkParams(*batchSize)
	suite.RegisterToolBenchmark("map_terms_batch", func(ctx context.Context) error {
		resp := server.ExecuteTool(ctx, "map_terms_batch", params)
		if resp.Error != nil {
			return fmt.Errorf("map_terms_batch: %s", resp.Error.Message)
		}
		return nil
	})

	summary, err := suite.RunAllBenchmarks(context.Background())
	if err != nil {
		log.Fatalf("benchmark run failed: %v", err)
	}

	encoded, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		log.Fatalf("failed to encode benchmark summary: %v", err)
	}
	fmt.Println(string(encoded))

	violations := suite.CheckSLA(*minThroughput, *maxP95)
	if len(violations) > 0 {
		for _, v := range violations {
			fmt.Fprintf(os.Stderr, "SLA violation: %s %s target=%.2f actual=%.2f\n", v.TestName, v.Metric, v.Target, v.Actual)
		}
		os.Exit(1)
	}
	os.Exit(0)
}

// benchmarkParams builds a representative map_terms_batch request spanning
// all three vocabulary systems.
func benchmarkParams(batchSize int) tools.MapTermsBatchParams {
	sampleTerms := []string{
		"myocardial infarction",
		"hypertension",
		"hemoglobin a1c",
		"acetaminophen",
		"type 2 diabetes mellitus",
		"chest pain",
		"serum creatinine",
		"metformin",
	}

	terms := make([]tools.MapTermParams, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		terms = append(terms, tools.MapTermParams{
			Text:      sampleTerms[i%len(sampleTerms)],
			Threshold: 0.7,
		})
	}

	return tools.MapTermsBatchParams{Terms: terms}
}
