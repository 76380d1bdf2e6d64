package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
)

// Metrics
var (
	totalRequests uint64
	success200    uint64 // Idempotent replays
	success201    uint64 // Settled
	fail409       uint64 // Not payable / already resolved
	fail422       uint64 // Insufficient funds / validation
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	bookings, err := fetchPendingBookings()
	if err != nil {
		log.Fatalf("Unable to load seeded bookings: %v", err)
	}
	if len(bookings) == 0 {
		log.Fatal("No pending bookings found; run the seeder first")
	}

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, bookings)
	}
	wg.Wait()
	printResults(time.Since(start))
}

// fetchPendingBookings reads the seeded booking ids from the file the seeder
// produced.
func fetchPendingBookings() ([]string, error) {
	path := os.Getenv("BOOKINGS_FILE")
	if path == "" {
		path = "bookings.txt"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range bytes.Split(data, []byte("\n")) {
		if len(line) > 0 {
			out = append(out, string(line))
		}
	}
	return out, nil
}

func worker(wg *sync.WaitGroup, start time.Time, bookings []string) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		bookingID := pickBooking(bookings)

		// Gateway capture id. Replays are intentional under the hotspot
		// workload: a fraction of requests resend a previous reference
		// to exercise the idempotency guard.
		ref := fmt.Sprintf("bench-%s-%d", bookingID, time.Now().UnixNano())
		if workload == "hotspot" && rand.Intn(4) == 0 {
			ref = fmt.Sprintf("bench-%s-replay", bookingID)
		}

		payload := map[string]interface{}{
			"booking_id":   bookingID,
			"amount":       300.00,
			"external_ref": ref,
			"source":       "wallet",
			"kind":         "booking",
		}
		body, _ := json.Marshal(payload)

		req, _ := http.NewRequest("POST", targetURL+"/api/v1/payments/confirm", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}
		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case http.StatusOK:
			atomic.AddUint64(&success200, 1)
		case http.StatusCreated:
			atomic.AddUint64(&success201, 1)
		case http.StatusConflict:
			atomic.AddUint64(&fail409, 1)
		case http.StatusUnprocessableEntity:
			atomic.AddUint64(&fail422, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func pickBooking(bookings []string) string {
	if workload == "hotspot" {
		// 80% of traffic hammers 10% of bookings.
		if rand.Intn(10) < 8 {
			return bookings[rand.Intn(max(len(bookings)/10, 1))]
		}
	}
	return bookings[rand.Intn(len(bookings))]
}

func printResults(elapsed time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	fmt.Println("--- Benchmark Results ---")
	fmt.Printf("Duration:        %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("Total Requests:  %d (%.1f req/s)\n", total, float64(total)/elapsed.Seconds())
	fmt.Printf("Settled (201):   %d\n", atomic.LoadUint64(&success201))
	fmt.Printf("Replayed (200):  %d\n", atomic.LoadUint64(&success200))
	fmt.Printf("Not payable:     %d\n", atomic.LoadUint64(&fail409))
	fmt.Printf("Rejected (422):  %d\n", atomic.LoadUint64(&fail422))
	fmt.Printf("Other failures:  %d\n", atomic.LoadUint64(&failOther))
}
