// Load generator for exercising a running Breakwater instance.
//
// Usage:
//   go run cmd/loadgen/main.go -url http://localhost:8080 -signals 5000
//
// This tool:
//  1. Generates synthetic hazard signals clustered around incident sites
//  2. Submits them concurrently to POST /signals
//  3. Reports acceptance/rejection counts and latency
//  4. Queries GET /stats to show how signals collapsed into alerts
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// signalRequest mirrors the POST /signals request body.
type signalRequest struct {
	Source          string    `json:"source"`
	Category        string    `json:"category"`
	Lat             *float64  `json:"lat,omitempty"`
	Lon             *float64  `json:"lon,omitempty"`
	PlaceName       string    `json:"placeName,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	RawSeverityHint string    `json:"rawSeverityHint,omitempty"`
	EngagementScore float64   `json:"engagementScore,omitempty"`
	Content         string    `json:"content"`
}

// incidentSite is a synthetic hazard location signals cluster around.
type incidentSite struct {
	name     string
	category string
	lat      float64
	lon      float64
	hint     string
}

var sites = []incidentSite{
	{"harbor oil sheen", "oil_spill", 36.6050, -121.8890, "high"},
	{"north beach erosion", "erosion", 36.9741, -122.0308, "medium"},
	{"offshore swell", "wave_tsunami", 36.5552, -121.9233, "critical"},
	{"stormwater outfall", "pollution", 36.9630, -122.0015, "low"},
	{"kelp die-off", "marine_life", 36.6195, -121.9016, ""},
	{"squall line", "weather_anomaly", 36.8007, -121.7900, "high"},
}

var sources = []string{"crowd_report", "social_post", "sensor"}

type metrics struct {
	Accepted       int64
	Rejected       int64
	Overloaded     int64
	Errors         int64
	TotalLatencyMs int64
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Breakwater base URL")
	total := flag.Int("signals", 1000, "Number of signals to submit")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	spreadKM := flag.Float64("spread", 2.0, "Scatter radius around each incident site (km)")
	badRate := flag.Float64("bad", 0.05, "Fraction of deliberately invalid signals (0.0-1.0)")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║            BREAKWATER LOADGEN - Synthetic Signals             ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nBase URL:   %s\n", *baseURL)
	fmt.Printf("Signals:    %d\n", *total)
	fmt.Printf("Workers:    %d\n", *workers)
	fmt.Printf("Spread:     %.1f km\n", *spreadKM)
	fmt.Printf("Bad Rate:   %.2f\n", *badRate)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Breakwater not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Breakwater is running:")
		fmt.Println("  go run cmd/breakwater/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Breakwater is healthy")

	rng := rand.New(rand.NewSource(*seed))
	requests := make([]signalRequest, *total)
	for i := range requests {
		requests[i] = makeSignal(rng, *spreadKM, *badRate)
	}

	fmt.Printf("\nSubmitting %d signals with %d workers...\n", *total, *workers)
	start := time.Now()
	m := run(requests, *baseURL, *workers)
	duration := time.Since(start)

	printResults(m, duration, *baseURL)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// makeSignal scatters a signal around a random incident site. A badRate
// fraction gets a bogus category so the rejection path is exercised too.
func makeSignal(rng *rand.Rand, spreadKM, badRate float64) signalRequest {
	site := sites[rng.Intn(len(sites))]
	source := sources[rng.Intn(len(sources))]

	// ~1 degree latitude is 111km; longitude shrinks with latitude but
	// the same factor is close enough for scatter at these latitudes.
	jitter := spreadKM / 111.0
	lat := site.lat + (rng.Float64()*2-1)*jitter
	lon := site.lon + (rng.Float64()*2-1)*jitter

	req := signalRequest{
		Source:          source,
		Category:        site.category,
		Lat:             &lat,
		Lon:             &lon,
		Timestamp:       time.Now().UTC().Add(-time.Duration(rng.Intn(600)) * time.Second),
		RawSeverityHint: site.hint,
		Content:         fmt.Sprintf("report near %s", site.name),
	}

	if source == "social_post" {
		req.EngagementScore = float64(rng.Intn(5000))
	}

	if rng.Float64() < badRate {
		req.Category = "kraken_sighting"
	}

	return req
}

func run(requests []signalRequest, baseURL string, numWorkers int) *metrics {
	m := &metrics{}

	work := make(chan signalRequest, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for req := range work {
				start := time.Now()
				status, err := submit(client, baseURL, req)
				atomic.AddInt64(&m.TotalLatencyMs, time.Since(start).Milliseconds())

				switch {
				case err != nil:
					atomic.AddInt64(&m.Errors, 1)
				case status == http.StatusCreated:
					atomic.AddInt64(&m.Accepted, 1)
				case status == http.StatusUnprocessableEntity:
					atomic.AddInt64(&m.Rejected, 1)
				case status == http.StatusServiceUnavailable:
					atomic.AddInt64(&m.Overloaded, 1)
				default:
					atomic.AddInt64(&m.Errors, 1)
				}
			}
		}()
	}

	for _, req := range requests {
		work <- req
	}
	close(work)
	wg.Wait()

	return m
}

func submit(client *http.Client, baseURL string, req signalRequest) (int, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return 0, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/signals", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	return resp.StatusCode, nil
}

func printResults(m *metrics, duration time.Duration, baseURL string) {
	total := m.Accepted + m.Rejected + m.Overloaded + m.Errors

	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                       LOADGEN RESULTS                         ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 SUBMISSION\n")
	fmt.Printf("   Total:       %d\n", total)
	fmt.Printf("   Accepted:    %d\n", m.Accepted)
	fmt.Printf("   Rejected:    %d (validation)\n", m.Rejected)
	fmt.Printf("   Overloaded:  %d (queue full)\n", m.Overloaded)
	fmt.Printf("   Errors:      %d\n", m.Errors)

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:  %v\n", duration.Round(time.Millisecond))
	if total > 0 {
		fmt.Printf("   Avg Latency:     %.2f ms\n", float64(m.TotalLatencyMs)/float64(total))
		fmt.Printf("   Throughput:      %.2f signals/sec\n", float64(total)/duration.Seconds())
	}

	// Let the pipeline drain before reading aggregates.
	time.Sleep(2 * time.Second)

	resp, err := http.Get(baseURL + "/stats")
	if err != nil {
		fmt.Printf("\nWARN: could not fetch /stats: %v\n", err)
		return
	}
	defer resp.Body.Close()

	var stats struct {
		ByStatus   map[string]int `json:"byStatus"`
		ByCategory map[string]int `json:"byCategory"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		fmt.Printf("\nWARN: could not parse /stats: %v\n", err)
		return
	}

	alertCount := 0
	for _, n := range stats.ByStatus {
		alertCount += n
	}

	fmt.Printf("\n🔍 AGGREGATION\n")
	fmt.Printf("   Alerts Open:     %d\n", alertCount)
	if m.Accepted > 0 && alertCount > 0 {
		fmt.Printf("   Collapse Ratio:  %.1f signals/alert\n", float64(m.Accepted)/float64(alertCount))
	}
	for category, n := range stats.ByCategory {
		fmt.Printf("   %-16s %d\n", category+":", n)
	}

	fmt.Println()
}
