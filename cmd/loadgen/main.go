package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"backoffice.dev/internal/obs"
	"backoffice.dev/internal/servicetrust"
)

type counters struct {
	registered  atomic.Int64
	logins      atomic.Int64
	conflicts   atomic.Int64
	rateLimited atomic.Int64
	rejected    atomic.Int64
	failures    atomic.Int64
}

func main() {
	var (
		baseURL  = flag.String("base-url", "http://localhost:8080", "API base URL")
		workers  = flag.Int("workers", 4, "Concurrent worker count")
		duration = flag.Duration("duration", time.Minute, "Duration of the run")
		secret   = flag.String("secret", os.Getenv("BACKOFFICE_SERVICE_SECRET"), "Shared service secret")
	)
	flag.Parse()
	logger := obs.NewLogger(os.Stderr, "info", "text")

	signer, err := servicetrust.NewSigner(*secret)
	if err != nil {
		logger.Error("signer", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger.Info("launching load generator", "base", *baseURL, "workers", *workers, "duration", *duration)

	client := &http.Client{Timeout: 10 * time.Second}
	var c counters
	var wg sync.WaitGroup
	deadline := time.Now().Add(*duration)

	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id*9973)))
			for time.Now().Before(deadline) {
				select {
				case <-ctx.Done():
					return
				default:
				}
				name := "load-" + uuid.NewString()[:8]
				password := uuid.NewString()
				status, err := post(ctx, client, *baseURL+"/api/register/cliente", map[string]string{
					"username": name,
					"email":    name + "@load.test",
					"password": password,
				}, signer)
				if err != nil {
					logger.Warn("register", "worker", id, "error", err)
					c.failures.Add(1)
					continue
				}
				if !c.record(status, http.StatusCreated) {
					backoff(status)
					continue
				}
				c.registered.Add(1)

				status, err = post(ctx, client, *baseURL+"/api/login", map[string]string{
					"email":    name + "@load.test",
					"password": password,
				}, nil)
				if err != nil {
					c.failures.Add(1)
					continue
				}
				if c.record(status, http.StatusOK) {
					c.logins.Add(1)
				} else {
					backoff(status)
				}
				time.Sleep(time.Duration(50+rnd.Intn(120)) * time.Millisecond)
			}
		}(i)
	}

	wg.Wait()

	logger.Info("run complete",
		"registered", c.registered.Load(),
		"logins", c.logins.Load(),
		"conflicts", c.conflicts.Load(),
		"rate_limited", c.rateLimited.Load(),
		"signature_rejected", c.rejected.Load(),
		"failures", c.failures.Load(),
	)
}

// record classifies status and reports whether it matched want.
func (c *counters) record(status, want int) bool {
	if status == want {
		return true
	}
	switch status {
	case http.StatusConflict:
		c.conflicts.Add(1)
	case http.StatusTooManyRequests:
		c.rateLimited.Add(1)
	case http.StatusUnauthorized:
		c.rejected.Add(1)
	default:
		c.failures.Add(1)
	}
	return false
}

func backoff(status int) {
	if status == http.StatusTooManyRequests {
		time.Sleep(250 * time.Millisecond)
		return
	}
	time.Sleep(100 * time.Millisecond)
}

func post(ctx context.Context, client *http.Client, url string, payload any, signer *servicetrust.Signer) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if signer != nil {
		signer.Apply(req)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("post %s: %w", url, err)
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
