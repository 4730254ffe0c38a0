// Package bus carries analysis progress events from the service to live
// subscribers such as the gateway's WebSocket stream.
package bus

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// Event represents one step of an analysis.
type Event struct {
	Type      string         `json:"type"`   // e.g. "analysis.started", "login.required"
	Source    string         `json:"source"` // originating component
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventHandler is a callback for events. Handlers run on the emitter's
// goroutine and must not block.
type EventHandler func(Event)

// EventBus provides topic-based publish/subscribe with wildcard subscriptions
// and a bounded history for replay to late subscribers.
type EventBus struct {
	handlers   map[string][]namedHandler
	mu         sync.RWMutex
	logger     *slog.Logger
	history    []Event
	maxHistory int
	nextID     int
}

// namedHandler pairs a handler with an ID for unsubscription.
type namedHandler struct {
	ID      string
	Handler EventHandler
}

const defaultMaxHistory = 200

// NewEventBus creates an EventBus keeping the last 200 events for replay.
func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		handlers:   make(map[string][]namedHandler),
		logger:     logger,
		maxHistory: defaultMaxHistory,
	}
}

// On registers a handler for the given event type.
// Use "*" to listen to all events. Returns the handler ID for unsubscription.
func (eb *EventBus) On(eventType string, handler EventHandler) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := eventType + "-" + strconv.Itoa(eb.nextID)
	eb.handlers[eventType] = append(eb.handlers[eventType], namedHandler{ID: id, Handler: handler})
	return id
}

// Off removes a handler by its ID.
func (eb *EventBus) Off(eventType, handlerID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	handlers := eb.handlers[eventType]
	for i, h := range handlers {
		if h.ID == handlerID {
			eb.handlers[eventType] = append(handlers[:i:i], handlers[i+1:]...)
			return
		}
	}
}

// Emit publishes an event to all registered handlers.
// Handlers are called synchronously in order.
func (eb *EventBus) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.Lock()
	if len(eb.history) >= eb.maxHistory {
		eb.history = eb.history[1:]
	}
	eb.history = append(eb.history, event)

	var handlers []namedHandler
	handlers = append(handlers, eb.handlers[event.Type]...)
	handlers = append(handlers, eb.handlers["*"]...)
	eb.mu.Unlock()

	for _, h := range handlers {
		func(nh namedHandler) {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "event", event.Type, "handler", nh.ID, "panic", r)
				}
			}()
			nh.Handler(event)
		}(h)
	}
}

// Replay returns historical events matching the given type since the given time.
// Use "*" for all event types.
func (eb *EventBus) Replay(eventType string, since time.Time) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	var result []Event
	for _, e := range eb.history {
		if e.Timestamp.Before(since) {
			continue
		}
		if eventType == "*" || e.Type == eventType {
			result = append(result, e)
		}
	}
	return result
}

// NotifyLoginRequired emits EventLoginRequired so live dashboards can prompt
// the operator. It lets the bus stand in as a login notifier.
func (eb *EventBus) NotifyLoginRequired(ctx context.Context, url string, timeout time.Duration) error {
	eb.Emit(Event{
		Type:    EventLoginRequired,
		Source:  "driver",
		Payload: map[string]any{"url": url, "timeout": timeout.String()},
	})
	return nil
}

// --- Well-known event types ---
const (
	EventAnalysisStarted  = "analysis.started"
	EventAnalysisFinished = "analysis.finished"
	EventAnalysisFailed   = "analysis.failed"
	EventLoginRequired    = "login.required"
)
