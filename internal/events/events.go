// Package events provides a structured event log for module lifecycle and
// fallback dispatch. Events are kept in a bounded ring buffer and fanned out
// to subscribers.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType classifies an event.
type EventType string

const (
	// Module lifecycle events
	EventModuleInstalled       EventType = "module.installed"
	EventModuleUninstalled     EventType = "module.uninstalled"
	EventModuleInstallFailed   EventType = "module.install_failed"
	EventModuleUninstallFailed EventType = "module.uninstall_failed"

	// Account events
	EventAccountInitialized EventType = "account.initialized"

	// Dispatch events
	EventFallbackDispatched EventType = "fallback.dispatched"
	EventFallbackRejected   EventType = "fallback.rejected"
)

// Severity indicates the importance of an event.
type Severity string

const (
	SeverityDebug   Severity = "debug"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is one structured registry event.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`

	Account    string `json:"account,omitempty"`
	Module     string `json:"module,omitempty"`
	ModuleType string `json:"module_type,omitempty"`
	Selector   string `json:"selector,omitempty"`
	CallMode   string `json:"call_mode,omitempty"`

	Message  string            `json:"message,omitempty"`
	Error    string            `json:"error,omitempty"`
	Duration time.Duration     `json:"duration_ns,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`

	RequestID string `json:"request_id,omitempty"`
}

// String returns the JSON form.
func (e Event) String() string {
	data, _ := json.Marshal(e)
	return string(data)
}

// EventHandler processes events as they occur.
type EventHandler func(Event)

// EventFilter decides whether an event should be processed.
type EventFilter func(Event) bool

// EventLogger is the interface for event logging.
type EventLogger interface {
	Log(event Event)
	LogWithContext(ctx context.Context, event Event)
	Subscribe(handler EventHandler) func()
	SubscribeFiltered(filter EventFilter, handler EventHandler) func()
	Recent(n int) []Event
	RecentByAccount(account string, n int) []Event
	RecentByType(eventType EventType, n int) []Event
}

// RingBuffer is a thread-safe circular buffer for events.
type RingBuffer struct {
	mu       sync.RWMutex
	events   []Event
	size     int
	head     int
	count    int
	handlers []handlerEntry
	nextID   int64
}

type handlerEntry struct {
	id      int64
	filter  EventFilter
	handler EventHandler
}

// NewRingBuffer creates a buffer holding the last size events.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1000
	}
	return &RingBuffer{
		events: make([]Event, size),
		size:   size,
	}
}

// Log adds an event and notifies handlers.
func (rb *RingBuffer) Log(event Event) {
	rb.mu.Lock()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	rb.events[rb.head] = event
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}

	handlers := make([]handlerEntry, len(rb.handlers))
	copy(handlers, rb.handlers)
	rb.mu.Unlock()

	// Handlers run outside the lock so they may log again.
	for _, h := range handlers {
		if h.filter == nil || h.filter(event) {
			h.handler(event)
		}
	}
}

// LogWithContext copies the request id from ctx before logging.
func (rb *RingBuffer) LogWithContext(ctx context.Context, event Event) {
	if id, ok := ctx.Value(requestIDKey).(string); ok && event.RequestID == "" {
		event.RequestID = id
	}
	rb.Log(event)
}

// Subscribe registers a handler for all events.
func (rb *RingBuffer) Subscribe(handler EventHandler) func() {
	return rb.SubscribeFiltered(nil, handler)
}

// SubscribeFiltered registers a handler with a filter. The returned function
// unsubscribes.
func (rb *RingBuffer) SubscribeFiltered(filter EventFilter, handler EventHandler) func() {
	rb.mu.Lock()
	id := rb.nextID
	rb.nextID++
	rb.handlers = append(rb.handlers, handlerEntry{id: id, filter: filter, handler: handler})
	rb.mu.Unlock()

	return func() {
		rb.mu.Lock()
		defer rb.mu.Unlock()
		for i, h := range rb.handlers {
			if h.id == id {
				rb.handlers = append(rb.handlers[:i], rb.handlers[i+1:]...)
				return
			}
		}
	}
}

// Recent returns the most recent n events, newest first.
func (rb *RingBuffer) Recent(n int) []Event {
	return rb.collect(n, nil)
}

// RecentByAccount returns recent events of one account.
func (rb *RingBuffer) RecentByAccount(account string, n int) []Event {
	return rb.collect(n, func(e Event) bool { return e.Account == account })
}

// RecentByType returns recent events of one type.
func (rb *RingBuffer) RecentByType(eventType EventType, n int) []Event {
	return rb.collect(n, func(e Event) bool { return e.Type == eventType })
}

func (rb *RingBuffer) collect(n int, match EventFilter) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || rb.count == 0 {
		return nil
	}

	result := make([]Event, 0, min(n, rb.count))
	for i := 0; i < rb.count && len(result) < n; i++ {
		idx := (rb.head - 1 - i + rb.size) % rb.size
		if match == nil || match(rb.events[idx]) {
			result = append(result, rb.events[idx])
		}
	}
	return result
}

// Count returns the number of buffered events.
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Clear drops every buffered event.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.events = make([]Event, rb.size)
	rb.head = 0
	rb.count = 0
}

type contextKey string

const requestIDKey contextKey = "request_id"

// WithRequestID adds a request id to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// EventBuilder provides a fluent API for creating events.
type EventBuilder struct {
	event Event
}

// NewEvent starts an info-level event.
func NewEvent(eventType EventType) *EventBuilder {
	return &EventBuilder{
		event: Event{
			Type:      eventType,
			Severity:  SeverityInfo,
			Timestamp: time.Now().UTC(),
		},
	}
}

func (b *EventBuilder) Account(account string) *EventBuilder {
	b.event.Account = account
	return b
}

func (b *EventBuilder) Module(module string) *EventBuilder {
	b.event.Module = module
	return b
}

func (b *EventBuilder) ModuleType(moduleType string) *EventBuilder {
	b.event.ModuleType = moduleType
	return b
}

func (b *EventBuilder) Selector(selector string) *EventBuilder {
	b.event.Selector = selector
	return b
}

func (b *EventBuilder) CallMode(mode string) *EventBuilder {
	b.event.CallMode = mode
	return b
}

func (b *EventBuilder) Severity(severity Severity) *EventBuilder {
	b.event.Severity = severity
	return b
}

func (b *EventBuilder) Message(msg string) *EventBuilder {
	b.event.Message = msg
	return b
}

// ErrorFrom records err and raises severity to error.
func (b *EventBuilder) ErrorFrom(err error) *EventBuilder {
	if err != nil {
		b.event.Error = err.Error()
		b.event.Severity = SeverityError
	}
	return b
}

func (b *EventBuilder) Duration(d time.Duration) *EventBuilder {
	b.event.Duration = d
	return b
}

func (b *EventBuilder) Metadata(key, value string) *EventBuilder {
	if b.event.Metadata == nil {
		b.event.Metadata = make(map[string]string)
	}
	b.event.Metadata[key] = value
	return b
}

// Build returns the event with an id assigned.
func (b *EventBuilder) Build() Event {
	if b.event.ID == "" {
		b.event.ID = uuid.NewString()
	}
	return b.event
}

// LogTo logs the event.
func (b *EventBuilder) LogTo(logger EventLogger) {
	logger.Log(b.Build())
}

// LogToWithContext logs the event with context.
func (b *EventBuilder) LogToWithContext(ctx context.Context, logger EventLogger) {
	logger.LogWithContext(ctx, b.Build())
}

// NoOpLogger discards all events.
type NoOpLogger struct{}

func (NoOpLogger) Log(Event)                                          {}
func (NoOpLogger) LogWithContext(context.Context, Event)              {}
func (NoOpLogger) Subscribe(EventHandler) func()                      { return func() {} }
func (NoOpLogger) SubscribeFiltered(EventFilter, EventHandler) func() { return func() {} }
func (NoOpLogger) Recent(int) []Event                                 { return nil }
func (NoOpLogger) RecentByAccount(string, int) []Event                { return nil }
func (NoOpLogger) RecentByType(EventType, int) []Event                { return nil }
