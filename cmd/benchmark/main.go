package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	airline     string
	oracleCount int
	flightCount int
)

// Metrics
var (
	totalRequests uint64
	success2xx    uint64
	fail409       uint64 // Duplicates and settled requests
	fail422       uint64
	failOther     uint64
	settlements   uint64
)

const unit = 1_000_000_000

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "insure", "Workload type: insure | oracle")
	flag.StringVar(&airline, "airline", "airline-01", "Funded airline that owns the benchmark flights")
	flag.IntVar(&oracleCount, "oracles", 20, "Oracles to register for the oracle workload")
	flag.IntVar(&flightCount, "flights", 50, "Flights to register for the insure workload")
}

type client struct {
	http *http.Client
}

func (c *client) do(method, path, caller string, payload any, out any) (int, error) {
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			return 0, err
		}
	}
	req, err := http.NewRequest(method, targetURL+"/api/v1"+path, &body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Caller", caller)
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		atomic.AddUint64(&failOther, 1)
		return 0, err
	}
	defer resp.Body.Close()

	atomic.AddUint64(&totalRequests, 1)
	switch {
	case resp.StatusCode < 300:
		atomic.AddUint64(&success2xx, 1)
	case resp.StatusCode == 409:
		atomic.AddUint64(&fail409, 1)
	case resp.StatusCode == 422:
		atomic.AddUint64(&fail422, 1)
	default:
		atomic.AddUint64(&failOther, 1)
	}
	if out != nil && resp.StatusCode < 300 {
		return resp.StatusCode, json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode, nil
}

type flightRef struct {
	Airline   string `json:"airline"`
	Flight    string `json:"flight"`
	Timestamp int64  `json:"timestamp"`
}

func (f flightRef) path() string {
	return fmt.Sprintf("/flights/%s/%s/%d", url.PathEscape(f.Airline), url.PathEscape(f.Flight), f.Timestamp)
}

type oracle struct {
	addr    string
	indexes []int
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	c := &client{http: &http.Client{Timeout: 5 * time.Second}}
	c.do("POST", "/airlines/"+airline+"/funds", airline, map[string]int64{"amount": 10 * unit}, nil)

	var run func(ctx context.Context, c *client, start time.Time) error
	switch workload {
	case "oracle":
		oracles := registerOracles(c)
		run = func(ctx context.Context, c *client, start time.Time) error {
			return settleWorker(c, oracles, start)
		}
	default:
		flights := registerFlights(c)
		run = func(ctx context.Context, c *client, start time.Time) error {
			return insureWorker(c, flights, start)
		}
	}

	start := time.Now()
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < concurrency; i++ {
		g.Go(func() error { return run(ctx, c, start) })
	}
	if err := g.Wait(); err != nil {
		log.Printf("worker stopped: %v", err)
	}
	printResults(time.Since(start))
}

func registerFlights(c *client) []flightRef {
	base := time.Now().Unix()
	flights := make([]flightRef, 0, flightCount)
	for i := 0; i < flightCount; i++ {
		f := flightRef{Airline: airline, Flight: fmt.Sprintf("BN%04d", i), Timestamp: base + int64(i)}
		c.do("POST", "/flights", airline, map[string]any{"flight": f.Flight, "timestamp": f.Timestamp}, nil)
		flights = append(flights, f)
	}
	return flights
}

func registerOracles(c *client) []oracle {
	oracles := make([]oracle, 0, oracleCount)
	for i := 0; i < oracleCount; i++ {
		addr := fmt.Sprintf("bench-oracle-%02d", i)
		var resp struct {
			Indexes []int `json:"indexes"`
		}
		code, _ := c.do("POST", "/oracles", addr, map[string]int64{"fee": unit}, &resp)
		if code >= 300 {
			c.do("GET", "/oracles/"+addr+"/indexes", addr, nil, &resp)
		}
		oracles = append(oracles, oracle{addr: addr, indexes: resp.Indexes})
	}
	return oracles
}

// insureWorker buys half-unit policies for fresh passengers on random flights.
func insureWorker(c *client, flights []flightRef, start time.Time) error {
	for time.Since(start) < duration {
		f := flights[rand.Intn(len(flights))]
		passenger := "pax-" + uuid.NewString()
		c.do("POST", f.path()+"/policies", passenger, map[string]int64{"amount": unit / 2}, nil)
	}
	return nil
}

var flightSeq atomic.Int64

// settleWorker registers a flight, requests its status and drives the
// request to quorum with every oracle holding the requested index.
func settleWorker(c *client, oracles []oracle, start time.Time) error {
	for time.Since(start) < duration {
		n := flightSeq.Add(1)
		f := flightRef{Airline: airline, Flight: fmt.Sprintf("OR%06d", n), Timestamp: time.Now().Unix() + n}
		if code, _ := c.do("POST", "/flights", airline, map[string]any{"flight": f.Flight, "timestamp": f.Timestamp}, nil); code >= 300 {
			continue
		}
		var rk struct {
			Index int `json:"index"`
		}
		if code, _ := c.do("POST", f.path()+"/status-requests", airline, nil, &rk); code >= 300 {
			continue
		}
		for _, o := range oracles {
			if !holds(o, rk.Index) {
				continue
			}
			var st struct {
				Settled bool `json:"settled"`
			}
			payload := map[string]any{
				"index": rk.Index, "airline": f.Airline, "flight": f.Flight,
				"timestamp": f.Timestamp, "status_code": 20,
			}
			c.do("POST", "/oracles/responses", o.addr, payload, &st)
			if st.Settled {
				atomic.AddUint64(&settlements, 1)
				break
			}
		}
	}
	return nil
}

func holds(o oracle, index int) bool {
	for _, i := range o.indexes {
		if i == index {
			return true
		}
	}
	return false
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	ok := atomic.LoadUint64(&success2xx)
	f409 := atomic.LoadUint64(&fail409)
	f422 := atomic.LoadUint64(&fail422)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()
	rejectRate := 0.0
	if total > 0 {
		rejectRate = float64(f409+f422) / float64(total) * 100
	}

	results := map[string]interface{}{
		"workload":        workload,
		"duration_sec":    d.Seconds(),
		"total_requests":  total,
		"throughput_tps":  tps,
		"success":         ok,
		"conflicts":       f409,
		"rejected":        f422,
		"reject_rate_pct": rejectRate,
		"settlements":     atomic.LoadUint64(&settlements),
		"errors":          fErr,
	}

	// Print JSON for the python plotter to consume
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	// Also save to file
	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("unable to save results: %v", err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
