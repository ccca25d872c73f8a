// Command benchmark is a load generator for the ingestion endpoint. It fires
// concurrent webhook POSTs at a relay instance and reports throughput,
// latency percentiles and rate-limit pushback.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	defaultBaseURL     = "http://localhost:8080"
	defaultRequests    = 1000
	defaultConcurrency = 10
	defaultBodyBytes   = 256
)

type Config struct {
	BaseURL     string
	EndpointID  string
	Requests    int
	Concurrency int
	BodyBytes   int
	Timeout     time.Duration
	OutputFile  string
}

// Result is the outcome of a single ingestion request
type Result struct {
	Status  int
	Latency time.Duration
	Err     error
}

// Stats aggregates the run
type Stats struct {
	Total     int
	Admitted  int // 200
	Limited   int // 429
	NotFound  int // 404
	Other     int
	Errors    int
	Latencies []time.Duration
	Elapsed   time.Duration
}

func main() {
	cfg := parseFlags()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Stop the run cleanly on interrupt; whatever finished is still reported
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nInterrupted, finishing in-flight requests...")
		cancel()
	}()

	fmt.Printf("Target:      %s/e/%s\n", cfg.BaseURL, cfg.EndpointID)
	fmt.Printf("Requests:    %d\n", cfg.Requests)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Body size:   %d bytes\n\n", cfg.BodyBytes)

	stats := run(ctx, cfg)
	report := renderReport(cfg, stats)
	fmt.Print(report)

	if cfg.OutputFile != "" {
		if err := os.WriteFile(cfg.OutputFile, []byte(report), 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write report: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\nReport written to %s\n", cfg.OutputFile)
	}
}

func parseFlags() Config {
	var cfg Config
	var configPath string

	flag.StringVar(&configPath, "config", "", "Path to a saved benchmark config")
	flag.StringVar(&cfg.BaseURL, "url", defaultBaseURL, "Relay base URL")
	flag.StringVar(&cfg.EndpointID, "endpoint", "", "Target endpoint ID")
	flag.IntVar(&cfg.Requests, "n", defaultRequests, "Total requests to send")
	flag.IntVar(&cfg.Concurrency, "c", defaultConcurrency, "Concurrent workers")
	flag.IntVar(&cfg.BodyBytes, "body", defaultBodyBytes, "Payload size in bytes")
	flag.DurationVar(&cfg.Timeout, "timeout", 10*time.Second, "Per-request timeout")
	flag.StringVar(&cfg.OutputFile, "output", "", "Write the report to a file")
	flag.Parse()

	if configPath == "" {
		if _, err := os.Stat(GetDefaultConfigPath()); err == nil {
			configPath = GetDefaultConfigPath()
		}
	}
	if configPath != "" {
		if saved, err := LoadConfig(configPath); err == nil {
			if cfg.BaseURL == defaultBaseURL && saved.BaseURL != "" {
				cfg.BaseURL = saved.BaseURL
			}
			if cfg.EndpointID == "" {
				cfg.EndpointID = saved.EndpointID
			}
		}
	}

	if cfg.EndpointID == "" {
		fmt.Fprintln(os.Stderr, "an endpoint ID is required (-endpoint)")
		flag.Usage()
		os.Exit(2)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return cfg
}

// run fans the configured request count out over the worker pool and
// collects per-request results.
func run(ctx context.Context, cfg Config) *Stats {
	payload := buildPayload(cfg.BodyBytes)
	client := &http.Client{Timeout: cfg.Timeout}
	url := fmt.Sprintf("%s/e/%s", cfg.BaseURL, cfg.EndpointID)

	jobs := make(chan struct{})
	results := make(chan Result, cfg.Concurrency)

	var wg sync.WaitGroup
	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				results <- fire(ctx, client, url, payload)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := 0; i < cfg.Requests; i++ {
			select {
			case <-ctx.Done():
				return
			case jobs <- struct{}{}:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	stats := &Stats{}
	start := time.Now()
	for res := range results {
		stats.Total++
		switch {
		case res.Err != nil:
			stats.Errors++
		case res.Status == http.StatusOK:
			stats.Admitted++
			stats.Latencies = append(stats.Latencies, res.Latency)
		case res.Status == http.StatusTooManyRequests:
			stats.Limited++
		case res.Status == http.StatusNotFound:
			stats.NotFound++
		default:
			stats.Other++
		}
	}
	stats.Elapsed = time.Since(start)
	return stats
}

// fire sends one ingestion request and measures its round trip
func fire(ctx context.Context, client *http.Client, url string, payload []byte) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Result{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return Result{Err: err, Latency: latency}
	}
	defer resp.Body.Close()

	return Result{Status: resp.StatusCode, Latency: latency}
}

// buildPayload produces a JSON body of roughly the requested size
func buildPayload(size int) []byte {
	filler := size - len(`{"benchmark":true,"padding":""}`)
	if filler < 0 {
		filler = 0
	}
	body := map[string]any{
		"benchmark": true,
		"padding":   strings.Repeat("x", filler),
	}
	data, _ := json.Marshal(body)
	return data
}

// renderReport formats the run as markdown
func renderReport(cfg Config, stats *Stats) string {
	var b strings.Builder

	b.WriteString("# Ingestion benchmark\n\n")
	fmt.Fprintf(&b, "Target: `%s/e/%s`\n\n", cfg.BaseURL, cfg.EndpointID)

	b.WriteString("| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Requests sent | %d |\n", stats.Total)
	fmt.Fprintf(&b, "| Admitted (200) | %d (%s) |\n", stats.Admitted, percentageString(stats.Admitted, stats.Total))
	fmt.Fprintf(&b, "| Rate limited (429) | %d (%s) |\n", stats.Limited, percentageString(stats.Limited, stats.Total))
	fmt.Fprintf(&b, "| Not found (404) | %d |\n", stats.NotFound)
	fmt.Fprintf(&b, "| Other statuses | %d |\n", stats.Other)
	fmt.Fprintf(&b, "| Transport errors | %d |\n", stats.Errors)
	fmt.Fprintf(&b, "| Elapsed | %s |\n", stats.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(&b, "| Throughput | %s |\n", formatRate(stats.Total, stats.Elapsed))

	if len(stats.Latencies) > 0 {
		b.WriteString("\n## Admitted-request latency\n\n")
		b.WriteString("| Percentile | Latency |\n|---|---|\n")
		fmt.Fprintf(&b, "| p50 | %s |\n", percentile(stats.Latencies, 50).Round(time.Microsecond))
		fmt.Fprintf(&b, "| p95 | %s |\n", percentile(stats.Latencies, 95).Round(time.Microsecond))
		fmt.Fprintf(&b, "| p99 | %s |\n", percentile(stats.Latencies, 99).Round(time.Microsecond))
		fmt.Fprintf(&b, "| max | %s |\n", percentile(stats.Latencies, 100).Round(time.Microsecond))
	}

	return b.String()
}
