// Copyright 2026 The Remedy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package hardenedclient wraps an HTTP round-tripper with the three
// properties spec §4.3 requires of every call to the remote agent
// backend: retry with jittered exponential backoff (honoring Retry-After),
// a circuit breaker, and prompt cancellation.
package hardenedclient

import (
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/remedyrun/remedy/pkg/remedyerr"
)

// retryableStatus is the exact set from spec §4.3: 429, 500, 502, 503.
// All other non-2xx statuses fail immediately.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable:
		return true
	default:
		return false
	}
}

// Config configures retry and circuit-breaker behavior. Zero values fall
// back to the spec's stated defaults.
type Config struct {
	MaxRetries       int           // default 3
	BaseDelay        time.Duration // default 1s
	JitterMax        time.Duration // default 1s
	MaxRetryAfter    time.Duration // cap on an honored Retry-After header; default 60s
	BreakerThreshold uint32        // consecutive failures to open; default 5
	BreakerCooldown  time.Duration // open -> half-open delay; default 30s
	Name             string        // breaker name, for diagnostics/metrics labels
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 1 * time.Second
	}
	if c.JitterMax <= 0 {
		c.JitterMax = 1 * time.Second
	}
	if c.MaxRetryAfter <= 0 {
		c.MaxRetryAfter = 60 * time.Second
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	if c.Name == "" {
		c.Name = "agent-backend"
	}
	return c
}

// Client performs HTTP requests through retry + circuit breaker logic. It
// is installed as the *http.Client used by pkg/agentbackend/remote.
type Client struct {
	base    *http.Client
	cfg     Config
	breaker *gobreaker.CircuitBreaker
	rng     *rand.Rand

	// nextDelayOverride carries a Retry-After value from one attempt to
	// the next within a single doWithRetry call. It is only ever touched
	// from within that call's sequential loop, never concurrently.
	nextDelayOverride time.Duration
}

// New wraps base (or a new zero-value *http.Client if nil) with hardening
// per cfg.
func New(base *http.Client, cfg Config) *Client {
	cfg = cfg.withDefaults()
	if base == nil {
		base = &http.Client{}
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1, // one probe request while half-open
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerThreshold
		},
	}

	return &Client{
		base:    base,
		cfg:     cfg,
		breaker: gobreaker.NewCircuitBreaker(settings),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Do executes req with retry/backoff, gated by the circuit breaker. Each
// individual wire-level attempt (not the overall retried request) passes
// through the breaker, so consecutive raw-attempt failures are what trips
// it per spec §4.3 ("consecutive failing requests increment a counter")
// and §8 Scenario 4 (five consecutive 503s trip the breaker). If the
// breaker reports open mid-retry, Do stops retrying immediately rather
// than burning through the remaining attempts.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.doWithRetry(req)
}

// RoundTrip makes Client satisfy http.RoundTripper, so it can be installed
// as an *http.Client's Transport — the wiring pkg/agentbackend/remote's
// Config.HTTPClient expects.
func (c *Client) RoundTrip(req *http.Request) (*http.Response, error) {
	return c.Do(req)
}

// StdClient wraps c in an *http.Client using c as the transport, for
// handing to a Config.HTTPClient field that requires the concrete type.
func (c *Client) StdClient() *http.Client {
	return &http.Client{Transport: c}
}

func (c *Client) doWithRetry(req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxRetries+1; attempt++ {
		if attempt > 1 {
			delay := c.backoff(attempt - 1)
			select {
			case <-time.After(delay):
			case <-req.Context().Done():
				return nil, req.Context().Err()
			}
			// The previous attempt consumed the request body; rewind it
			// before replaying, or the retry goes out empty.
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, remedyerr.Wrap(err, "rewinding request body for retry")
				}
				req.Body = body
			}
		}

		result, err := c.breaker.Execute(func() (interface{}, error) {
			return c.doOnce(req, attempt)
		})
		if err == nil {
			return result.(*http.Response), nil
		}

		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, remedyerr.Wrap(remedyerr.ErrCircuitOpen, err.Error())
		}

		lastErr = err
		if req.Context().Err() != nil {
			return nil, req.Context().Err()
		}

		if attempt == c.cfg.MaxRetries+1 {
			return nil, remedyerr.Wrapf(lastErr, "exhausted %d retries", c.cfg.MaxRetries)
		}
	}

	return nil, lastErr
}

// doOnce performs a single wire-level attempt. It returns a non-nil error
// for anything the breaker should count as a failure: a transport error or
// a retryable status (429/500/502/503). A non-retryable non-2xx status is
// returned to the caller as a normal response, not a breaker failure — the
// backend answered definitively, it just answered with an application
// error.
func (c *Client) doOnce(req *http.Request, attempt int) (*http.Response, error) {
	resp, err := c.base.Do(req)
	if err != nil {
		return nil, err
	}

	if !retryableStatus(resp.StatusCode) {
		return resp, nil
	}

	// Retryable status: remember Retry-After for the next delay, drain and
	// close this attempt's body, then report failure so the breaker and
	// the retry loop both see it.
	retryAfter := parseRetryAfter(resp, c.cfg.MaxRetryAfter)
	status := resp.StatusCode
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if retryAfter > 0 {
		c.nextDelayOverride = retryAfter
	}

	return nil, fmt.Errorf("attempt %d returned status %d", attempt, status)
}

// backoff computes base*2^(attempt-1) + uniform(0, jitterMax), honoring a
// Retry-After override recorded by the previous attempt, capped at
// MaxRetryAfter.
func (c *Client) backoff(attempt int) time.Duration {
	if c.nextDelayOverride > 0 {
		d := c.nextDelayOverride
		c.nextDelayOverride = 0
		if d > c.cfg.MaxRetryAfter {
			d = c.cfg.MaxRetryAfter
		}
		return d
	}

	base := float64(c.cfg.BaseDelay) * pow2(attempt-1)
	jitter := c.rng.Float64() * float64(c.cfg.JitterMax)
	d := time.Duration(base + jitter)
	if d > c.cfg.MaxRetryAfter {
		d = c.cfg.MaxRetryAfter
	}
	return d
}

func pow2(n int) float64 {
	if n <= 0 {
		return 1
	}
	v := 1.0
	for i := 0; i < n; i++ {
		v *= 2
	}
	return v
}

func parseRetryAfter(resp *http.Response, cap time.Duration) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
		d := time.Duration(seconds) * time.Second
		if d > cap {
			d = cap
		}
		return d
	}
	if t, err := http.ParseTime(header); err == nil {
		d := time.Until(t)
		if d > cap {
			d = cap
		}
		if d > 0 {
			return d
		}
	}
	return 0
}

// State reports the breaker's current state string ("closed", "open",
// "half_open"), for diagnostics and metrics export.
func (c *Client) State() string {
	switch c.breaker.State() {
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Context cancellation note: doWithRetry checks req.Context().Err() both
// before issuing an attempt's backoff wait and immediately after a failed
// attempt, so cancellation during back-off is observed promptly (spec
// §4.3 "Timeout/cancellation").
