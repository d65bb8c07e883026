// Command loadgen drives traffic against a running service instance so
// collectors have traces, metrics, and logs to show.
//
// Usage:
//
//	go run ./cmd/loadgen -url http://localhost:8000 -requests 100 -concurrency 10
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

var merchantQueries = []string{"coffee", "restaurant", "gas", "grocery", "pharmacy", "bank", "atm"}

type results struct {
	success atomic.Uint64
	errors  atomic.Uint64
	perOp   sync.Map // operation name -> *atomic.Uint64
}

func (r *results) record(op string, ok bool) {
	if ok {
		r.success.Add(1)
	} else {
		r.errors.Add(1)
	}
	v, _ := r.perOp.LoadOrStore(op, &atomic.Uint64{})
	v.(*atomic.Uint64).Add(1)
}

type driver struct {
	baseURL string
	client  *http.Client
	res     *results
}

func (d *driver) hitAccounts(rng *rand.Rand) {
	url := fmt.Sprintf("%s/api/banking/accounts?user_id=user_%d", d.baseURL, rng.Intn(100)+1)
	d.res.record("accounts", d.get(url))
}

func (d *driver) hitMerchants(rng *rand.Rand) {
	url := fmt.Sprintf("%s/api/merchant/locate?query=%s&latitude=%.4f&longitude=%.4f&radius=%d",
		d.baseURL,
		merchantQueries[rng.Intn(len(merchantQueries))],
		37.0+rng.Float64(),
		-123.0+rng.Float64(),
		rng.Intn(10)+1,
	)
	d.res.record("merchants", d.get(url))
}

func (d *driver) hitFraud(rng *rand.Rand) {
	payload, _ := json.Marshal(map[string]interface{}{
		"transaction_id": fmt.Sprintf("txn_%d", rng.Intn(900000)+100000),
		"amount":         float64(rng.Intn(499000)+1000) / 100,
		"merchant_id":    fmt.Sprintf("mch_%d", rng.Intn(9000)+1000),
		"currency":       "USD",
	})

	resp, err := d.client.Post(d.baseURL+"/api/fraud/check", "application/json", bytes.NewReader(payload))
	if err != nil {
		d.res.record("fraud", false)
		return
	}
	_ = resp.Body.Close()
	d.res.record("fraud", resp.StatusCode == http.StatusOK)
}

func (d *driver) hitTransactions(rng *rand.Rand) {
	url := fmt.Sprintf("%s/api/transactions/history?account_id=acc_%d&days=%d",
		d.baseURL, rng.Intn(9000)+1000, rng.Intn(84)+7)
	d.res.record("transactions", d.get(url))
}

func (d *driver) get(url string) bool {
	resp, err := d.client.Get(url)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (d *driver) randomHit(rng *rand.Rand) {
	switch rng.Intn(4) {
	case 0:
		d.hitAccounts(rng)
	case 1:
		d.hitMerchants(rng)
	case 2:
		d.hitFraud(rng)
	default:
		d.hitTransactions(rng)
	}
}

func main() {
	baseURL := flag.String("url", "http://localhost:8000", "service base URL")
	total := flag.Int("requests", 100, "total requests to send")
	concurrency := flag.Int("concurrency", 10, "concurrent workers")
	flag.Parse()

	d := &driver{
		baseURL: *baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		res:     &results{},
	}

	// Bail early if the target is not serving.
	resp, err := d.client.Get(*baseURL + "/health")
	if err != nil || resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "service at %s is not healthy\n", *baseURL)
		os.Exit(1)
	}
	_ = resp.Body.Close()

	fmt.Printf("sending %d requests with %d workers to %s\n", *total, *concurrency, *baseURL)
	start := time.Now()

	work := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for range work {
				d.randomHit(rng)
			}
		}(time.Now().UnixNano() + int64(i))
	}

	for i := 0; i < *total; i++ {
		work <- struct{}{}
	}
	close(work)
	wg.Wait()

	elapsed := time.Since(start)
	success := d.res.success.Load()
	errors := d.res.errors.Load()

	fmt.Printf("\ndone in %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("  success: %d\n  errors:  %d\n  rate:    %.1f req/s\n",
		success, errors, float64(success+errors)/elapsed.Seconds())
	d.res.perOp.Range(func(k, v interface{}) bool {
		fmt.Printf("  %-12s %d\n", k.(string), v.(*atomic.Uint64).Load())
		return true
	})
}
