// Command expseed drives a running experimentd with synthetic traffic:
// for each simulated subject it requests an assignment, then emits view
// and (probabilistically) purchase events. Useful for smoke testing and
// for exercising the aggregation and winner paths with realistic volume.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"
)

const (
	defaultSubjects = 1000
	defaultWorkers  = 8
	defaultTimeout  = 10 * time.Second
	defaultRunLimit = 10 * time.Minute
)

type options struct {
	baseURL  string
	code     string
	org      string
	subjects int
	workers  int
	buyRate  float64
	timeout  time.Duration
}

func main() {
	var opts options
	flag.StringVar(&opts.baseURL, "url", "http://localhost:9080", "base URL of the service")
	flag.StringVar(&opts.code, "code", "checkout-cta", "experiment code to drive")
	flag.StringVar(&opts.org, "org", "", "organization scope (empty for global)")
	flag.IntVar(&opts.subjects, "subjects", defaultSubjects, "number of simulated subjects")
	flag.IntVar(&opts.workers, "workers", defaultWorkers, "number of concurrent workers")
	flag.Float64Var(&opts.buyRate, "buy-rate", 0.3, "probability a subject purchases after viewing")
	flag.DurationVar(&opts.timeout, "timeout", defaultTimeout, "HTTP request timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), defaultRunLimit)
	defer cancel()

	client := &http.Client{Timeout: opts.timeout}

	subjects := make(chan int)
	var wg sync.WaitGroup
	var mu sync.Mutex
	perVariant := make(map[string]int)
	var failures int

	for w := 0; w < opts.workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := range subjects {
				variant, err := driveSubject(ctx, client, &opts, fmt.Sprintf("seed-subject-%d", i), rng)
				mu.Lock()
				if err != nil {
					failures++
				} else {
					perVariant[variant]++
				}
				mu.Unlock()
			}
		}(time.Now().UnixNano() + int64(w))
	}

	for i := 0; i < opts.subjects; i++ {
		select {
		case subjects <- i:
		case <-ctx.Done():
			i = opts.subjects
		}
	}
	close(subjects)
	wg.Wait()

	fmt.Printf("seeded %d subjects against %q (%d failures)\n", opts.subjects-failures, opts.code, failures)
	for variant, n := range perVariant {
		fmt.Printf("  %s: %d\n", variant, n)
	}
	if failures > 0 {
		os.Exit(1)
	}
}

// driveSubject assigns one subject and emits its event trail. Returns the
// assigned variant key.
func driveSubject(ctx context.Context, client *http.Client, opts *options, subjectID string, rng *rand.Rand) (string, error) {
	var assigned struct {
		VariantKey string `json:"variant_key"`
	}
	err := post(ctx, client, opts,
		fmt.Sprintf("%s/v1/experiments/%s/assignments", opts.baseURL, opts.code),
		map[string]any{"subject_id": subjectID},
		&assigned,
	)
	if err != nil {
		return "", err
	}

	events := []map[string]any{{"event_key": "view"}}
	if rng.Float64() < opts.buyRate {
		events = append(events, map[string]any{"event_key": "purchase"})
	}
	err = post(ctx, client, opts,
		fmt.Sprintf("%s/v1/experiments/%s/events", opts.baseURL, opts.code),
		map[string]any{"subject_id": subjectID, "events": events},
		nil,
	)
	return assigned.VariantKey, err
}

func post(ctx context.Context, client *http.Client, opts *options, url string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if opts.org != "" {
		req.Header.Set("X-Org-ID", opts.org)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: status %d: %s", url, resp.StatusCode, msg)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
