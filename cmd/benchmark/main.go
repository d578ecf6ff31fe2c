package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/remitledger/internal/api"
	"github.com/punchamoorthee/remitledger/internal/domain"
	"github.com/punchamoorthee/remitledger/internal/models"
	"github.com/shopspring/decimal"
)

var (
	targetURL    string
	concurrency  int
	duration     time.Duration
	workload     string
	accountsFile string
	jwtSecret    string
	amount       string
)

var (
	totalRequests uint64
	success200    uint64 // Idempotent replays
	success201    uint64 // Created
	fail409       uint64 // Conflicts
	fail422       uint64 // Business rejections, mostly insufficient funds
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "unique", "Workload type: unique | replay")
	flag.StringVar(&accountsFile, "accounts", "accounts.txt", "Wallet IDs written by the seeder")
	flag.StringVar(&jwtSecret, "secret", envOr("JWT_SECRET", "dev-jwt-secret"), "HS256 secret shared with the API")
	flag.StringVar(&amount, "amount", "1.00", "Send amount per request")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

type sender struct {
	account uuid.UUID
	token   string
}

func main() {
	flag.Parse()
	if workload != "unique" && workload != "replay" {
		log.Fatalf("unknown workload %q", workload)
	}

	senders, err := loadSenders()
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s | Wallets: %d", workload, concurrency, duration, len(senders))

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, senders)
	}
	wg.Wait()
	printResults(time.Since(start))
}

func loadSenders() ([]sender, error) {
	f, err := os.Open(accountsFile)
	if err != nil {
		return nil, fmt.Errorf("open %s (run the seeder first): %w", accountsFile, err)
	}
	defer f.Close()

	var out []sender
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		id, err := uuid.Parse(line)
		if err != nil {
			return nil, fmt.Errorf("bad account id %q: %w", line, err)
		}
		tok, err := api.SignToken(jwtSecret, domain.Actor{Kind: domain.ActorUser, ID: id.String(), Role: domain.RoleUser}, duration+time.Hour)
		if err != nil {
			return nil, err
		}
		out = append(out, sender{account: id, token: tok})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s has no account ids", accountsFile)
	}
	return out, nil
}

func worker(wg *sync.WaitGroup, start time.Time, senders []sender) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}
	send := decimal.RequireFromString(amount)

	for time.Since(start) < duration {
		s := senders[rand.Intn(len(senders))]

		// The replay workload hammers one key per wallet, so every request
		// after the first must come back as a replay.
		key := fmt.Sprintf("bench-%s-%d", s.account, time.Now().UnixNano())
		if workload == "replay" {
			key = "bench-replay-" + s.account.String()
		}

		body, _ := json.Marshal(models.CreateTransactionRequest{
			AccountID:     s.account,
			Recipient:     "+254700000001",
			Amount:        send,
			FundingSource: domain.FundingWallet,
		})

		req, _ := http.NewRequest(http.MethodPost, targetURL+"/api/v1/transactions", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+s.token)
		req.Header.Set("Idempotency-Key", key)

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case http.StatusCreated:
			atomic.AddUint64(&success201, 1)
		case http.StatusOK:
			atomic.AddUint64(&success200, 1)
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

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	s201 := atomic.LoadUint64(&success201)
	s200 := atomic.LoadUint64(&success200)
	f409 := atomic.LoadUint64(&fail409)
	f422 := atomic.LoadUint64(&fail422)
	fErr := atomic.LoadUint64(&failOther)

	var abortRate float64
	if total > 0 {
		abortRate = float64(f409) / float64(total) * 100
	}

	results := map[string]any{
		"workload":          workload,
		"duration_sec":      d.Seconds(),
		"total_requests":    total,
		"throughput_tps":    float64(total) / d.Seconds(),
		"success_created":   s201,
		"success_replay":    s200,
		"aborts_conflict":   f409,
		"abort_rate_pct":    abortRate,
		"rejected_business": f422,
		"errors":            fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("unable to write %s: %v", filename, err)
		return
	}
	defer file.Close()
	_ = json.NewEncoder(file).Encode(results)
}
