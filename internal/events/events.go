// Package events provides the event system through which the monitor
// core publishes its observable state (classified connections,
// bandwidth snapshots, alerts) to collaborators such as a UI layer.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/constripacity/SentryBar/internal/models"
)

// EventType defines the type of event.
type EventType string

const (
	// Monitoring cycle events
	EventCycleCompleted EventType = "cycle:completed"
	EventConnections    EventType = "connections:updated"

	// Bandwidth events
	EventBandwidthSnapshot EventType = "bandwidth:snapshot"
	EventSessionTotals     EventType = "bandwidth:session"

	// Alert events
	EventAlertRaised EventType = "alert:raised"

	// Rule events
	EventRulesChanged EventType = "rules:changed"

	// System events
	EventSystemError   EventType = "system:error"
	EventSystemWarning EventType = "system:warning"
)

// Event represents an event published to collaborators.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp int64       `json:"timestamp"` // Nanosecond precision
	Data      interface{} `json:"data"`
}

// EventHandler is a function that handles events.
type EventHandler func(event *Event)

// Bus manages event distribution and batching. High-frequency cycle
// events are batched so a consuming UI is not redrawn per event; alerts
// bypass batching.
type Bus struct {
	handlers      map[EventType][]EventHandler
	globalHandler EventHandler
	mu            sync.RWMutex

	// Batching configuration
	batchInterval time.Duration
	batchSize     int
	batchEnabled  bool

	// Batch state
	batchMu      sync.Mutex
	currentBatch []*Event
	batchTimer   *time.Timer

	// Statistics. Dispatch runs on both the batch-timer goroutine and
	// immediate emitters, so the emitted counter is atomic.
	eventsEmitted atomic.Uint64
	eventsBatched uint64
	batchesSent   uint64
}

// BusConfig holds configuration for the event bus.
type BusConfig struct {
	// BatchInterval is the maximum time to wait before sending a batch.
	BatchInterval time.Duration

	// BatchSize is the maximum number of events per batch.
	BatchSize int

	// EnableBatching enables event batching.
	EnableBatching bool
}

// DefaultBusConfig returns a sensible default configuration.
func DefaultBusConfig() *BusConfig {
	return &BusConfig{
		BatchInterval:  100 * time.Millisecond,
		BatchSize:      64,
		EnableBatching: true,
	}
}

// NewBus creates a new event bus.
func NewBus(cfg *BusConfig) *Bus {
	if cfg == nil {
		cfg = DefaultBusConfig()
	}

	return &Bus{
		handlers:      make(map[EventType][]EventHandler),
		batchInterval: cfg.BatchInterval,
		batchSize:     cfg.BatchSize,
		batchEnabled:  cfg.EnableBatching,
		currentBatch:  make([]*Event, 0, cfg.BatchSize),
	}
}

// SetGlobalHandler sets a handler that receives all events.
func (b *Bus) SetGlobalHandler(handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.globalHandler = handler
}

// Subscribe adds a handler for a specific event type.
func (b *Bus) Subscribe(eventType EventType, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Unsubscribe removes all handlers for a specific event type.
func (b *Bus) Unsubscribe(eventType EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, eventType)
}

// Emit emits an event to all registered handlers.
func (b *Bus) Emit(eventType EventType, data interface{}) {
	event := &Event{
		Type:      eventType,
		Timestamp: time.Now().UnixNano(),
		Data:      data,
	}

	if b.batchEnabled {
		b.addToBatch(event)
	} else {
		b.dispatchEvent(event)
	}
}

// EmitImmediate emits an event immediately, bypassing batching.
func (b *Bus) EmitImmediate(eventType EventType, data interface{}) {
	event := &Event{
		Type:      eventType,
		Timestamp: time.Now().UnixNano(),
		Data:      data,
	}
	b.dispatchEvent(event)
}

// addToBatch adds an event to the current batch.
func (b *Bus) addToBatch(event *Event) {
	b.batchMu.Lock()
	defer b.batchMu.Unlock()

	b.currentBatch = append(b.currentBatch, event)
	b.eventsBatched++

	// Start timer if this is the first event in the batch
	if len(b.currentBatch) == 1 {
		b.batchTimer = time.AfterFunc(b.batchInterval, b.flushBatch)
	}

	// Flush if batch is full
	if len(b.currentBatch) >= b.batchSize {
		b.flushBatchLocked()
	}
}

// flushBatch flushes the current batch.
func (b *Bus) flushBatch() {
	b.batchMu.Lock()
	defer b.batchMu.Unlock()
	b.flushBatchLocked()
}

// flushBatchLocked flushes the batch (must be called with lock held).
func (b *Bus) flushBatchLocked() {
	if len(b.currentBatch) == 0 {
		return
	}

	// Stop timer if running
	if b.batchTimer != nil {
		b.batchTimer.Stop()
		b.batchTimer = nil
	}

	// Dispatch all events in batch
	for _, event := range b.currentBatch {
		b.dispatchEvent(event)
	}

	b.batchesSent++
	b.currentBatch = b.currentBatch[:0]
}

// dispatchEvent dispatches an event to handlers.
func (b *Bus) dispatchEvent(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	b.eventsEmitted.Add(1)

	// Call global handler
	if b.globalHandler != nil {
		b.globalHandler(event)
	}

	// Call type-specific handlers
	if handlers, ok := b.handlers[event.Type]; ok {
		for _, handler := range handlers {
			handler(event)
		}
	}
}

// Flush forces a flush of any pending batched events.
func (b *Bus) Flush() {
	b.flushBatch()
}

// Stats returns event bus statistics.
func (b *Bus) Stats() (emitted, batched, batches uint64) {
	b.batchMu.Lock()
	defer b.batchMu.Unlock()
	return b.eventsEmitted.Load(), b.eventsBatched, b.batchesSent
}

// Helper functions for common event types

// EmitCycleCompleted signals that one sampling cycle finished, with the
// cycle ordinal and the number of connections it observed.
func (b *Bus) EmitCycleCompleted(cycle uint64, connections int) {
	b.Emit(EventCycleCompleted, map[string]uint64{
		"cycle":       cycle,
		"connections": uint64(connections),
	})
}

// EmitConnections emits the classified connection list for a cycle.
func (b *Bus) EmitConnections(conns []*models.Connection) {
	b.Emit(EventConnections, conns)
}

// EmitBandwidthSnapshot emits a completed bandwidth sampling window.
func (b *Bus) EmitBandwidthSnapshot(snapshot *models.BandwidthSnapshot) {
	b.Emit(EventBandwidthSnapshot, snapshot)
}

// EmitSessionTotals emits updated session counters.
func (b *Bus) EmitSessionTotals(totals *models.SessionTotals) {
	b.Emit(EventSessionTotals, totals)
}

// EmitAlert emits an alert. Alerts bypass batching: they are rare by
// construction (de-duplicated upstream) and latency-sensitive.
func (b *Bus) EmitAlert(alert *models.Alert) {
	b.EmitImmediate(EventAlertRaised, alert)
}

// EmitRulesChanged signals that the rule set was mutated or reloaded.
func (b *Bus) EmitRulesChanged(allowed, blocked int) {
	b.Emit(EventRulesChanged, map[string]int{
		"allowed": allowed,
		"blocked": blocked,
	})
}

// EmitError emits a system error event.
func (b *Bus) EmitError(err error, context string) {
	b.EmitImmediate(EventSystemError, map[string]interface{}{
		"error":   err.Error(),
		"context": context,
	})
}

// EmitWarning emits a system warning event.
func (b *Bus) EmitWarning(message, context string) {
	b.Emit(EventSystemWarning, map[string]interface{}{
		"message": message,
		"context": context,
	})
}

// EventJSON returns the JSON representation of an event.
func (e *Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}
