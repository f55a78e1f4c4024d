package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daymark/daymark/pkg/bus"
	"github.com/daymark/daymark/pkg/domain"
)

// testDescriptor speaks a trivial JSON echo protocol against httptest.
func testDescriptor(name, endpoint string) Descriptor {
	return Descriptor{
		Name:     name,
		Endpoint: endpoint,
		BuildRequestBody: func(prompt string, opts CallOptions) ([]byte, error) {
			return []byte(`{"prompt":"` + prompt + `"}`), nil
		},
		BuildHeaders: func() map[string]string {
			return map[string]string{"x-test-key": "secret"}
		},
		ParseResponse: func(raw []byte) (Analysis, error) {
			return parseProductText(string(raw)), nil
		},
	}
}

func newTestGateway(t *testing.T, endpoint string) (*Gateway, *bus.Bus) {
	t.Helper()
	events := bus.New()
	g := New(events, Options{
		MaxAttempts:   3,
		BaseDelay:     time.Millisecond,
		BackoffFactor: 2,
		Timeout:       5 * time.Second,
	}, nil)
	g.sleep = func(time.Duration) {}
	require.NoError(t, g.RegisterProvider(testDescriptor("test", endpoint)))
	return g, events
}

func auditEvents(events *bus.Bus, eventType domain.EventType) []Audit {
	var out []Audit
	for _, e := range events.History(0) {
		if e.Type == eventType {
			out = append(out, e.Payload.(Audit))
		}
	}
	return out
}

func TestRegisterProviderValidation(t *testing.T) {
	g := New(bus.New(), DefaultOptions(), nil)

	d := testDescriptor("broken", "http://example.invalid")
	d.ParseResponse = nil
	require.ErrorIs(t, g.RegisterProvider(d), domain.ErrInvalidProviderDescriptor)

	d = testDescriptor("", "http://example.invalid")
	require.ErrorIs(t, g.RegisterProvider(d), domain.ErrInvalidProviderDescriptor)

	// Nothing stored after rejection.
	assert.Equal(t, "", g.ActiveProvider())
}

func TestSelectProviderUnknown(t *testing.T) {
	g := New(bus.New(), DefaultOptions(), nil)
	require.NoError(t, g.RegisterProvider(testDescriptor("a", "http://example.invalid")))

	assert.ErrorIs(t, g.SelectProvider("nope"), domain.ErrUnknownProvider)
	require.NoError(t, g.SelectProvider("a"))
	assert.Equal(t, "a", g.ActiveProvider())
}

func TestCallRetriesOn503ThenSucceeds(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "secret", r.Header.Get("x-test-key"))
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"summary":"a calm day","mood":"content"}`))
	}))
	defer srv.Close()

	g, events := newTestGateway(t, srv.URL)
	result, err := g.Call(context.Background(), "how was my day", CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, "a calm day", result.Summary)
	assert.Equal(t, "content", result.Mood)
	assert.Equal(t, 2, calls)

	failed := auditEvents(events, domain.EventAPICallFailed)
	succeeded := auditEvents(events, domain.EventAPICallSuccess)
	require.Len(t, failed, 1)
	require.Len(t, succeeded, 1)
	assert.Equal(t, 1, failed[0].Attempt)
	assert.Equal(t, http.StatusServiceUnavailable, failed[0].Status)
	assert.Equal(t, 2, succeeded[0].Attempt)
}

func TestCall400FailsImmediately(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	g, events := newTestGateway(t, srv.URL)
	_, err := g.Call(context.Background(), "p", CallOptions{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrRetriesExhausted)
	assert.Equal(t, 1, calls)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.Status)
	assert.Len(t, auditEvents(events, domain.EventAPICallFailed), 1)
}

func TestCallExhaustsRetriesOn500(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "server on fire", http.StatusInternalServerError)
	}))
	defer srv.Close()

	g, events := newTestGateway(t, srv.URL)
	_, err := g.Call(context.Background(), "p", CallOptions{})
	require.ErrorIs(t, err, domain.ErrRetriesExhausted)
	assert.Contains(t, err.Error(), "server on fire")
	assert.Equal(t, 3, calls)

	failed := auditEvents(events, domain.EventAPICallFailed)
	require.Len(t, failed, 3)
	for i, a := range failed {
		assert.Equal(t, i+1, a.Attempt)
		assert.Equal(t, http.StatusInternalServerError, a.Status)
		assert.Equal(t, "test", a.Provider)
	}
	assert.Empty(t, auditEvents(events, domain.EventAPICallSuccess))
}

func TestCallTransportErrorRetries(t *testing.T) {
	// A closed server produces transport-level errors (no status).
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	g, events := newTestGateway(t, srv.URL)
	_, err := g.Call(context.Background(), "p", CallOptions{})
	require.ErrorIs(t, err, domain.ErrRetriesExhausted)

	failed := auditEvents(events, domain.EventAPICallFailed)
	require.Len(t, failed, 3)
	assert.Equal(t, 0, failed[0].Status)
}

func TestCallBackoffProgression(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	events := bus.New()
	g := New(events, Options{
		MaxAttempts:   3,
		BaseDelay:     10 * time.Millisecond,
		BackoffFactor: 3,
	}, nil)
	var delays []time.Duration
	g.sleep = func(d time.Duration) { delays = append(delays, d) }
	require.NoError(t, g.RegisterProvider(testDescriptor("test", srv.URL)))

	_, err := g.Call(context.Background(), "p", CallOptions{})
	require.ErrorIs(t, err, domain.ErrRetriesExhausted)

	// base, then base*factor: multiplied after every attempt, no jitter.
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 30 * time.Millisecond}, delays)
}

func TestCallUnknownProvider(t *testing.T) {
	g := New(bus.New(), DefaultOptions(), nil)
	_, err := g.Call(context.Background(), "p", CallOptions{})
	assert.ErrorIs(t, err, domain.ErrUnknownProvider)

	require.NoError(t, g.RegisterProvider(testDescriptor("a", "http://example.invalid")))
	_, err = g.Call(context.Background(), "p", CallOptions{Provider: "b"})
	assert.ErrorIs(t, err, domain.ErrUnknownProvider)
}

func TestTestReachability(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"summary":"pong"}`))
	}))
	defer srv.Close()

	g, _ := newTestGateway(t, srv.URL)
	assert.True(t, g.TestReachability(context.Background()))

	bad, _ := newTestGateway(t, "http://127.0.0.1:1")
	assert.False(t, bad.TestReachability(context.Background()))
}

func TestBuiltinDescriptors(t *testing.T) {
	anthropic := NewAnthropicDescriptor(ProviderConfig{APIKey: "k", Model: "claude"})
	body, err := anthropic.BuildRequestBody("hello", CallOptions{})
	require.NoError(t, err)
	assert.Contains(t, string(body), `"model":"claude"`)
	assert.Equal(t, "k", anthropic.BuildHeaders()["x-api-key"])

	result, err := anthropic.ParseResponse([]byte(`{"content":[{"type":"text","text":"{\"summary\":\"s\",\"mood\":\"m\",\"advice\":\"a\"}"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "s", result.Summary)
	assert.Equal(t, "m", result.Mood)
	assert.Equal(t, "a", result.Advice)

	openai := NewOpenAIDescriptor(ProviderConfig{APIKey: "k", Model: "gpt"})
	assert.Equal(t, "Bearer k", openai.BuildHeaders()["Authorization"])
	result, err = openai.ParseResponse([]byte(`{"choices":[{"message":{"content":"plain text, not json"}}]}`))
	require.NoError(t, err)
	assert.Equal(t, "plain text, not json", result.Summary)

	gemini := NewGeminiDescriptor(ProviderConfig{APIKey: "k", Model: "gemini-pro"})
	assert.Contains(t, gemini.Endpoint, "gemini-pro")
	assert.Contains(t, gemini.Endpoint, "key=k")
	result, err = gemini.ParseResponse([]byte("{\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"```json\\n{\\\"summary\\\":\\\"fenced\\\"}\\n```\"}]}}]}"))
	require.NoError(t, err)
	assert.Equal(t, "fenced", result.Summary)

	_, err = anthropic.ParseResponse([]byte(`{"content":[]}`))
	assert.Error(t, err)
}
