// Package stage holds the HTTP clients of the downstream processing
// services. Every call goes through Endpoint, which applies the per-call
// timeout and the circuit breaker and turns failures into classified *Error
// values.
package stage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

const (
	defaultTimeout    = 5 * time.Minute
	maxErrorBodyBytes = 4096
	maxDetailLen      = 512
)

// Options configures an Endpoint. Zero values select defaults.
type Options struct {
	Timeout         time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration
	HTTPClient      *http.Client
	Logger          *slog.Logger
}

// Endpoint is a single POST endpoint of a stage service.
type Endpoint struct {
	name    string
	url     string
	http    *http.Client
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
}

func NewEndpoint(name, url string, opts Options) *Endpoint {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.BreakerFailures <= 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = 30 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	failures := uint32(opts.BreakerFailures)
	logger := opts.Logger

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Only infrastructure failures count against the endpoint; a 4xx or a
		// guardrail rejection is a valid answer.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || !IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger != nil {
				logger.Warn("stage circuit breaker state changed",
					slog.String("stage", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			}
		},
	}

	return &Endpoint{
		name:    name,
		url:     url,
		http:    opts.HTTPClient,
		timeout: opts.Timeout,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

func (e *Endpoint) Name() string { return e.name }

func (e *Endpoint) URL() string { return e.url }

// Sub returns an endpoint for path below this one that shares its breaker.
func (e *Endpoint) Sub(path string) *Endpoint {
	c := *e
	c.url = strings.TrimRight(e.url, "/") + "/" + strings.TrimLeft(path, "/")
	return &c
}

// Post sends payload as JSON and decodes a 200 response into out (which may
// be nil). Any other outcome is returned as *Error, except cancellation of
// ctx itself, which is returned unchanged.
func (e *Endpoint) Post(ctx context.Context, payload, out any) error {
	_, err := e.breaker.Execute(func() (interface{}, error) {
		return nil, e.post(ctx, payload, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &Error{Stage: e.name, Class: ClassTransient, Err: err}
	}
	return err
}

func (e *Endpoint) post(ctx context.Context, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &Error{Stage: e.name, Class: ClassFatal, Err: fmt.Errorf("marshal request: %w", err)}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return &Error{Stage: e.name, Class: ClassFatal, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &Error{Stage: e.name, Class: ClassTransient, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return &Error{
			Stage:  e.name,
			Class:  classifyStatus(resp.StatusCode),
			Status: resp.StatusCode,
			Detail: errorDetail(raw),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if callCtx.Err() != nil {
			return &Error{Stage: e.name, Class: ClassTransient, Err: err}
		}
		return &Error{Stage: e.name, Class: ClassFatal, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// errorDetail extracts the "detail" field FastAPI-style services put in
// error bodies, falling back to the raw body.
func errorDetail(raw []byte) string {
	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	detail := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &body) == nil && len(body.Detail) > 0 {
		var s string
		if json.Unmarshal(body.Detail, &s) == nil {
			detail = s
		} else {
			detail = string(body.Detail)
		}
	}
	if len(detail) > maxDetailLen {
		detail = detail[:maxDetailLen] + "..."
	}
	return detail
}
