// Package bus provides the synchronous in-process event bus that every other
// pipeline component communicates through. Handlers for an event type run in
// registration order, and Publish returns only after every handler has
// returned; a handler that needs asynchronous work must finish it before
// returning, which makes publish-completion the combined settlement signal
// for a whole stage chain.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/daymark/daymark/pkg/domain"
)

// DefaultAuditSize bounds the rolling audit log; oldest entries are evicted.
const DefaultAuditSize = 256

// Handler consumes a published payload. A returned error (or a panic) is
// captured by the bus, logged, and re-published as domain.EventErrorOccurred;
// it never prevents the remaining handlers from running.
type Handler func(ctx context.Context, payload any) error

// Subscription is the token returned by Subscribe; it is the only way to
// unsubscribe, since Go functions are not comparable.
type Subscription struct {
	id        uint64
	eventType domain.EventType
}

// HandlerFailure is the payload of domain.EventErrorOccurred.
type HandlerFailure struct {
	EventType domain.EventType
	Err       error
}

type registration struct {
	id   uint64
	fn   Handler
	once bool
}

// Bus dispatches events to registered handlers and keeps a bounded audit log
// of everything published. Safe for concurrent use; handlers may publish
// further events re-entrantly from inside a dispatch.
type Bus struct {
	mu       sync.RWMutex
	handlers map[domain.EventType][]*registration
	nextID   uint64
	audit    []domain.Event
	auditCap int
	logger   *slog.Logger
	closed   bool
}

// Option configures a Bus.
type Option func(*Bus)

// WithAuditSize overrides the audit-log capacity.
func WithAuditSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.auditCap = n
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// New creates an event bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		handlers: make(map[domain.EventType][]*registration),
		auditCap: DefaultAuditSize,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a handler for an event type. Handlers are invoked in
// registration order; registering the same handler twice is legal and will
// invoke it twice.
func (b *Bus) Subscribe(eventType domain.EventType, fn Handler) *Subscription {
	return b.subscribe(eventType, fn, false)
}

// SubscribeOnce registers a handler that is removed after its first
// invocation.
func (b *Bus) SubscribeOnce(eventType domain.EventType, fn Handler) *Subscription {
	return b.subscribe(eventType, fn, true)
}

func (b *Bus) subscribe(eventType domain.EventType, fn Handler, once bool) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	reg := &registration{id: b.nextID, fn: fn, once: once}
	b.handlers[eventType] = append(b.handlers[eventType], reg)
	return &Subscription{id: reg.id, eventType: eventType}
}

// Unsubscribe removes a previously registered handler. Unknown or already
// removed subscriptions are a no-op.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(sub.eventType, sub.id)
}

func (b *Bus) removeLocked(eventType domain.EventType, id uint64) {
	regs := b.handlers[eventType]
	for i, reg := range regs {
		if reg.id == id {
			b.handlers[eventType] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

// Publish appends one event to the audit log and invokes every currently
// registered handler for the type, synchronously and in registration order.
// A handler error or panic is converted into a domain.EventErrorOccurred
// event and swallowed; the remaining handlers still run. Publish returns
// once all handlers have returned.
func (b *Bus) Publish(ctx context.Context, eventType domain.EventType, payload any) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.appendAuditLocked(domain.NewEvent(eventType, payload))
	// Snapshot so handlers can subscribe/unsubscribe re-entrantly.
	regs := make([]*registration, len(b.handlers[eventType]))
	copy(regs, b.handlers[eventType])
	b.mu.Unlock()

	for _, reg := range regs {
		if reg.once {
			// Remove before invoking so a re-entrant publish cannot
			// double-fire a one-shot handler.
			b.mu.Lock()
			b.removeLocked(eventType, reg.id)
			b.mu.Unlock()
		}
		if err := b.invoke(ctx, reg.fn, payload); err != nil {
			b.reportFailure(ctx, eventType, err)
		}
	}
}

func (b *Bus) invoke(ctx context.Context, fn Handler, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return fn(ctx, payload)
}

// reportFailure logs the failure and re-publishes it as error.occurred.
// A failing error.occurred handler is only logged, never re-published,
// so a misbehaving error listener cannot recurse.
func (b *Bus) reportFailure(ctx context.Context, eventType domain.EventType, err error) {
	b.logger.Error("event handler failed",
		slog.String("event", string(eventType)),
		slog.Any("error", err))

	if eventType == domain.EventErrorOccurred {
		return
	}
	b.Publish(ctx, domain.EventErrorOccurred, HandlerFailure{EventType: eventType, Err: err})
}

func (b *Bus) appendAuditLocked(event domain.Event) {
	if len(b.audit) >= b.auditCap {
		// Evict oldest; the slice-copy keeps the backing array from growing.
		copy(b.audit, b.audit[1:])
		b.audit = b.audit[:len(b.audit)-1]
	}
	b.audit = append(b.audit, event)
}

// History returns copies of the most recent audit entries, ordered oldest to
// newest, capped by limit. A non-positive limit returns the full window.
func (b *Bus) History(limit int) []domain.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := len(b.audit)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.Event, limit)
	copy(out, b.audit[n-limit:])
	return out
}

// HandlerCount returns the number of registered handlers (diagnostics).
func (b *Bus) HandlerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, regs := range b.handlers {
		count += len(regs)
	}
	return count
}

// Close stops dispatch. Subsequent publishes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}
