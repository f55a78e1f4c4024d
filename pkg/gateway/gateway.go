// Package gateway is the resilient client for the external language-model
// service. Providers are registered as descriptors that own the wire format
// (request body, headers, response parsing); the gateway owns transport,
// retry with exponential backoff, and per-attempt audit events on the bus.
package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/daymark/daymark/pkg/bus"
	"github.com/daymark/daymark/pkg/domain"
)

// CallOptions tune a single gateway call. Zero values fall back to the
// descriptor's defaults.
type CallOptions struct {
	// Provider overrides the active provider for this call.
	Provider    string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Analysis is the structured result of one successful call. Raw carries the
// product JSON opaquely; Summary/Mood/Advice are the conventional keys.
type Analysis struct {
	Summary string
	Mood    string
	Advice  string
	Raw     map[string]any
}

// Descriptor declares how to speak one provider's wire format. All three
// functions are required; registration fails otherwise.
type Descriptor struct {
	Name             string
	Endpoint         string
	BuildRequestBody func(prompt string, opts CallOptions) ([]byte, error)
	BuildHeaders     func() map[string]string
	ParseResponse    func(raw []byte) (Analysis, error)
}

// Audit is the payload of api.call.success / api.call.failed events.
type Audit struct {
	Provider string
	Attempt  int
	Status   int // 0 on transport-level failure
	Err      string
}

// StatusError is a non-success HTTP response from a provider.
type StatusError struct {
	Provider string
	Status   int
	Body     string
}

// Error implements error.
func (e *StatusError) Error() string {
	return fmt.Sprintf("provider %s returned status %d: %s", e.Provider, e.Status, e.Body)
}

// Retryable reports whether the status warrants another attempt: server-side
// failures do, client errors never do.
func (e *StatusError) Retryable() bool { return e.Status >= 500 }

// Options configure the gateway's retry policy and transport.
type Options struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	BackoffFactor float64
	Timeout       time.Duration
}

// DefaultOptions returns the stock retry policy.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:   3,
		BaseDelay:     time.Second,
		BackoffFactor: 2,
		Timeout:       60 * time.Second,
	}
}

// Gateway routes prompts to the active provider descriptor with retries.
type Gateway struct {
	mu        sync.RWMutex
	providers map[string]Descriptor
	active    string

	client *http.Client
	events *bus.Bus
	logger *slog.Logger
	opts   Options
	sleep  func(time.Duration) // swapped out in tests
}

// New creates a gateway publishing audit events on the given bus.
func New(events *bus.Bus, opts Options, logger *slog.Logger) *Gateway {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultOptions().MaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultOptions().BaseDelay
	}
	if opts.BackoffFactor < 1 {
		opts.BackoffFactor = DefaultOptions().BackoffFactor
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		providers: make(map[string]Descriptor),
		client:    &http.Client{Timeout: opts.Timeout},
		events:    events,
		logger:    logger,
		opts:      opts,
		sleep:     time.Sleep,
	}
}

// RegisterProvider validates and stores a descriptor. The first registered
// provider becomes active. Validation mirrors the calculator registry: a
// descriptor missing any required function is rejected before storage.
func (g *Gateway) RegisterProvider(d Descriptor) error {
	if d.Name == "" || d.Endpoint == "" {
		return fmt.Errorf("%w: name and endpoint are required", domain.ErrInvalidProviderDescriptor)
	}
	if d.BuildRequestBody == nil || d.BuildHeaders == nil || d.ParseResponse == nil {
		return fmt.Errorf("%w: %s is missing a required function", domain.ErrInvalidProviderDescriptor, d.Name)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.providers) == 0 {
		g.active = d.Name
	}
	g.providers[d.Name] = d
	return nil
}

// SelectProvider switches the active provider. Others stay registered.
func (g *Gateway) SelectProvider(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.providers[name]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownProvider, name)
	}
	g.active = name
	return nil
}

// ActiveProvider returns the currently active provider name.
func (g *Gateway) ActiveProvider() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.active
}

func (g *Gateway) resolve(name string) (Descriptor, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if name == "" {
		name = g.active
	}
	d, ok := g.providers[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", domain.ErrUnknownProvider, name)
	}
	return d, nil
}

// Call sends the prompt to the resolved provider and returns one fully
// parsed result, or an error; partial success is not possible. Transport
// errors and 5xx responses retry up to MaxAttempts with exponential backoff
// (no jitter); 4xx responses fail immediately. Every attempt publishes an
// audit event.
func (g *Gateway) Call(ctx context.Context, prompt string, opts CallOptions) (Analysis, error) {
	d, err := g.resolve(opts.Provider)
	if err != nil {
		return Analysis{}, err
	}

	body, err := d.BuildRequestBody(prompt, opts)
	if err != nil {
		return Analysis{}, fmt.Errorf("build request for %s: %w", d.Name, err)
	}

	var lastErr error
	delay := g.opts.BaseDelay
	for attempt := 1; attempt <= g.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			g.sleep(delay)
			delay = time.Duration(float64(delay) * g.opts.BackoffFactor)
		}

		raw, status, attemptErr := g.attempt(ctx, d, body)
		if attemptErr == nil {
			g.publishAudit(ctx, domain.EventAPICallSuccess, Audit{
				Provider: d.Name, Attempt: attempt, Status: status,
			})
			result, parseErr := d.ParseResponse(raw)
			if parseErr != nil {
				return Analysis{}, fmt.Errorf("parse %s response: %w", d.Name, parseErr)
			}
			return result, nil
		}

		lastErr = attemptErr
		g.publishAudit(ctx, domain.EventAPICallFailed, Audit{
			Provider: d.Name, Attempt: attempt, Status: status, Err: attemptErr.Error(),
		})
		g.logger.Warn("api call failed",
			slog.String("provider", d.Name),
			slog.Int("attempt", attempt),
			slog.Int("status", status),
			slog.Any("error", attemptErr))

		if se, ok := attemptErr.(*StatusError); ok && !se.Retryable() {
			return Analysis{}, attemptErr
		}
	}

	return Analysis{}, fmt.Errorf("%w: %d attempts to %s, last error: %v",
		domain.ErrRetriesExhausted, g.opts.MaxAttempts, d.Name, lastErr)
}

// attempt performs one HTTP round trip. It returns the raw body on success,
// or a transport error (status 0) / *StatusError (non-2xx).
func (g *Gateway) attempt(ctx context.Context, d Descriptor, body []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range d.BuildHeaders() {
		req.Header.Set(k, v)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, &StatusError{
			Provider: d.Name,
			Status:   resp.StatusCode,
			Body:     truncate(string(raw), 200),
		}
	}
	return raw, resp.StatusCode, nil
}

// TestReachability sends a minimal prompt and reports whether the provider
// answered at all.
func (g *Gateway) TestReachability(ctx context.Context) bool {
	_, err := g.Call(ctx, "ping", CallOptions{MaxTokens: 8})
	return err == nil
}

func (g *Gateway) publishAudit(ctx context.Context, eventType domain.EventType, a Audit) {
	if g.events == nil {
		return
	}
	g.events.Publish(ctx, eventType, a)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
