package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"
)

// CLI flags
var (
	apiURL      = flag.String("api-url", "http://localhost:8080", "browserpool API base URL")
	apiKey      = flag.String("api-key", "", "API key for authenticated requests")
	concurrency = flag.Int("concurrency", 8, "number of requests in flight")
	requests    = flag.Int("requests", 40, "total number of render requests")
	target      = flag.String("url", "https://example.com", "page to render")
	timeout     = flag.Int("timeout", 60, "per-request timeout in seconds")
	output      = flag.String("output", "", "optional JSON report path")
)

// --- Request / Response types (mirrors models package) ---

type renderRequest struct {
	URL          string `json:"url"`
	OutputFormat string `json:"output_format"`
	Timeout      int    `json:"timeout"`
}

type renderResponse struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"status_code"`
	BrowserID  string `json:"browser_id"`
	Timing     struct {
		TotalMs   int64 `json:"total_ms"`
		AcquireMs int64 `json:"acquire_ms"`
		RenderMs  int64 `json:"render_ms"`
	} `json:"timing"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// --- Report types ---

type sample struct {
	HTTPStatus int    `json:"http_status"`
	Code       string `json:"code"`
	BrowserID  string `json:"browser_id,omitempty"`
	AcquireMs  int64  `json:"acquire_ms"`
	RenderMs   int64  `json:"render_ms"`
	WallMs     int64  `json:"wall_ms"`
}

type report struct {
	Timestamp   string          `json:"timestamp"`
	APIURL      string          `json:"api_url"`
	Target      string          `json:"target"`
	Concurrency int             `json:"concurrency"`
	ElapsedMs   int64           `json:"elapsed_ms"`
	Codes       map[string]int  `json:"codes"`
	Browsers    map[string]int  `json:"browsers"`
	Samples     []sample        `json:"samples"`
	PoolAfter   json.RawMessage `json:"pool_after,omitempty"`
}

func main() {
	flag.Parse()

	fmt.Println("=== browserpool load test ===")
	fmt.Printf("API URL:      %s\n", *apiURL)
	fmt.Printf("Target:       %s\n", *target)
	fmt.Printf("Requests:     %d (concurrency %d)\n", *requests, *concurrency)
	fmt.Println()

	client := &http.Client{Timeout: time.Duration(*timeout+30) * time.Second}

	if _, err := poolStats(client); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach API at %s: %v\n", *apiURL, err)
		os.Exit(1)
	}

	rep := run(context.Background(), client)

	printSummary(rep)

	if *output != "" {
		if err := writeJSON(*output, rep); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing JSON output: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\nDetailed results written to %s\n", *output)
	}
}

func run(ctx context.Context, client *http.Client) report {
	rep := report{
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		APIURL:      *apiURL,
		Target:      *target,
		Concurrency: *concurrency,
		Codes:       map[string]int{},
		Browsers:    map[string]int{},
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(*concurrency)

	start := time.Now()
	for i := 0; i < *requests; i++ {
		g.Go(func() error {
			s := renderOnce(ctx, client)
			mu.Lock()
			rep.Samples = append(rep.Samples, s)
			rep.Codes[s.Code]++
			if s.BrowserID != "" {
				rep.Browsers[s.BrowserID]++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	rep.ElapsedMs = time.Since(start).Milliseconds()

	if raw, err := poolStats(client); err == nil {
		rep.PoolAfter = raw
	}
	return rep
}

func renderOnce(ctx context.Context, client *http.Client) sample {
	var s sample

	body, err := json.Marshal(renderRequest{URL: *target, OutputFormat: "text", Timeout: *timeout})
	if err != nil {
		s.Code = "CLIENT_ERROR"
		return s
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, *apiURL+"/api/v1/render", bytes.NewReader(body))
	if err != nil {
		s.Code = "CLIENT_ERROR"
		return s
	}
	req.Header.Set("Content-Type", "application/json")
	if *apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+*apiKey)
	}

	start := time.Now()
	resp, err := client.Do(req)
	s.WallMs = time.Since(start).Milliseconds()
	if err != nil {
		s.Code = "TRANSPORT_ERROR"
		return s
	}
	defer resp.Body.Close()
	s.HTTPStatus = resp.StatusCode

	var rr renderResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		s.Code = "DECODE_ERROR"
		return s
	}

	s.BrowserID = rr.BrowserID
	s.AcquireMs = rr.Timing.AcquireMs
	s.RenderMs = rr.Timing.RenderMs
	switch {
	case rr.Success:
		s.Code = "OK"
	case rr.Error != nil:
		s.Code = rr.Error.Code
	default:
		s.Code = "UNKNOWN"
	}
	return s
}

func poolStats(client *http.Client) (json.RawMessage, error) {
	resp, err := client.Get(*apiURL + "/api/v1/health/browser-resources")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// percentile returns the p-th percentile (0..100) of the successful samples
// selected by pick.
func percentile(samples []sample, p float64, pick func(sample) int64) int64 {
	var vals []int64
	for _, s := range samples {
		if s.Code == "OK" {
			vals = append(vals, pick(s))
		}
	}
	if len(vals) == 0 {
		return 0
	}
	sort.Slice(vals, func(i, j int) bool { return vals[i] < vals[j] })
	idx := int(p / 100 * float64(len(vals)-1))
	return vals[idx]
}

func printSummary(rep report) {
	fmt.Println(strings.Repeat("─", 60))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Metric\tp50\tp95\tmax\n")
	fmt.Fprintf(w, "──────\t───\t───\t───\n")
	for _, m := range []struct {
		name string
		pick func(sample) int64
	}{
		{"acquire", func(s sample) int64 { return s.AcquireMs }},
		{"render", func(s sample) int64 { return s.RenderMs }},
		{"wall", func(s sample) int64 { return s.WallMs }},
	} {
		fmt.Fprintf(w, "%s\t%dms\t%dms\t%dms\n", m.name,
			percentile(rep.Samples, 50, m.pick),
			percentile(rep.Samples, 95, m.pick),
			percentile(rep.Samples, 100, m.pick))
	}
	w.Flush()

	fmt.Println(strings.Repeat("─", 60))
	fmt.Printf("Elapsed: %dms\n", rep.ElapsedMs)
	for _, code := range sortedKeys(rep.Codes) {
		fmt.Printf("  %-20s %d\n", code, rep.Codes[code])
	}
	fmt.Printf("Browsers used: %d\n", len(rep.Browsers))
	for _, id := range sortedKeys(rep.Browsers) {
		fmt.Printf("  %s  %d requests\n", id, rep.Browsers[id])
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeJSON(path string, rep report) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
