// Package alert pushes operational alerts (auto-rejections, expired
// approvals) to configured webhook endpoints.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	requestTimeout = 5 * time.Second
	maxAttempts    = 3
	retryBackoff   = 500 * time.Millisecond
)

// Payload is the JSON body posted to each endpoint.
type Payload struct {
	Type      string            `json:"type"`
	Severity  string            `json:"severity"`
	Message   string            `json:"message"`
	Timestamp time.Time         `json:"timestamp"`
	Context   map[string]string `json:"context,omitempty"`
}

type endpoint struct {
	url     string
	limiter *rate.Limiter
	dropped atomic.Int64
	failed  atomic.Int64
}

// Dispatcher fans alerts out to webhook endpoints. Delivery is
// fire-and-forget: rate-limited or failing endpoints are logged and
// counted, never surfaced to the caller.
type Dispatcher struct {
	endpoints []*endpoint
	client    *http.Client
	logger    *zap.Logger
	wg        sync.WaitGroup
}

// NewDispatcher creates a Dispatcher for the given endpoint URLs. Each
// endpoint is allowed a burst of 5 alerts and 1 per second sustained.
func NewDispatcher(urls []string, logger *zap.Logger) *Dispatcher {
	d := &Dispatcher{
		client: &http.Client{Timeout: requestTimeout},
		logger: logger,
	}
	for _, u := range urls {
		d.endpoints = append(d.endpoints, &endpoint{
			url:     u,
			limiter: rate.NewLimiter(rate.Limit(1), 5),
		})
	}
	return d
}

// Dispatch sends the payload to every endpoint in the background.
func (d *Dispatcher) Dispatch(p *Payload) {
	for _, ep := range d.endpoints {
		if !ep.limiter.Allow() {
			ep.dropped.Add(1)
			d.logger.Warn("alert rate limited, dropping",
				zap.String("endpoint", ep.url),
				zap.String("type", p.Type),
			)
			continue
		}
		d.wg.Add(1)
		go func(ep *endpoint) {
			defer d.wg.Done()
			d.deliver(ep, p)
		}(ep)
	}
}

// Wait blocks until in-flight deliveries finish. Intended for shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) deliver(ep *endpoint, p *Payload) {
	body, err := json.Marshal(p)
	if err != nil {
		d.logger.Error("alert marshal failed", zap.Error(err))
		return
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(retryBackoff * time.Duration(attempt-1))
		}
		if err := d.post(ep.url, body); err != nil {
			lastErr = err
			continue
		}
		return
	}

	ep.failed.Add(1)
	d.logger.Error("alert delivery failed",
		zap.String("endpoint", ep.url),
		zap.String("type", p.Type),
		zap.Int("attempts", maxAttempts),
		zap.Error(lastErr),
	)
}

func (d *Dispatcher) post(url string, body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Stats reports per-endpoint drop and failure counts.
func (d *Dispatcher) Stats() map[string]map[string]int64 {
	out := make(map[string]map[string]int64, len(d.endpoints))
	for _, ep := range d.endpoints {
		out[ep.url] = map[string]int64{
			"dropped": ep.dropped.Load(),
			"failed":  ep.failed.Load(),
		}
	}
	return out
}
