package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"realtime-core/pkg/clock"
	"realtime-core/pkg/logger"
	"realtime-core/pkg/metrics"
)

// Emitter accepts events after a state change has been committed.
// Emit never fails the caller; delivery problems are logged and counted.
type Emitter interface {
	Emit(ctx context.Context, events ...Event)
}

// dispatcher encodes and publishes a single event with a bounded timeout
type dispatcher struct {
	publisher Publisher
	clock     clock.Clock
	timeout   time.Duration
}

func (d *dispatcher) dispatch(ctx context.Context, e Event) {
	msg, err := Encode(e, d.clock.Now())
	if err != nil {
		logger.Warn("Failed to encode event",
			zap.String("event", e.Name),
			zap.String("channel", e.Channel),
			zap.Error(err))
		metrics.EventsDroppedTotal.WithLabelValues(e.Name, "encode").Inc()
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.publisher.Publish(pubCtx, e.Channel, msg); err != nil {
		logger.Warn("Failed to publish event",
			zap.String("event", e.Name),
			zap.String("channel", e.Channel),
			zap.Error(err))
		metrics.EventsDroppedTotal.WithLabelValues(e.Name, "publish").Inc()
		return
	}
	metrics.EventsPublishedTotal.WithLabelValues(e.Name).Inc()
}

// SyncEmitter publishes inline on the caller's goroutine.
// The request context is detached so a cancelled request does not drop its events.
type SyncEmitter struct {
	d dispatcher
}

// NewSyncEmitter creates an emitter that publishes inline
func NewSyncEmitter(publisher Publisher, clk clock.Clock, timeout time.Duration) *SyncEmitter {
	return &SyncEmitter{d: dispatcher{publisher: publisher, clock: clk, timeout: timeout}}
}

// Emit publishes events in order
func (s *SyncEmitter) Emit(ctx context.Context, events ...Event) {
	base := context.WithoutCancel(ctx)
	for _, e := range events {
		s.d.dispatch(base, e)
	}
}

// AsyncEmitter queues events into a bounded FIFO drained by a single goroutine,
// so append order per channel matches emit order. A full queue drops the event.
type AsyncEmitter struct {
	d      dispatcher
	queue  chan Event
	done   chan struct{}
	mu     sync.RWMutex
	closed bool
}

// NewAsyncEmitter creates an emitter with the given queue capacity. Call Start before use.
func NewAsyncEmitter(publisher Publisher, clk clock.Clock, queueSize int, timeout time.Duration) *AsyncEmitter {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &AsyncEmitter{
		d:     dispatcher{publisher: publisher, clock: clk, timeout: timeout},
		queue: make(chan Event, queueSize),
		done:  make(chan struct{}),
	}
}

// Start launches the dispatch goroutine
func (a *AsyncEmitter) Start() {
	go a.run()
}

func (a *AsyncEmitter) run() {
	defer close(a.done)
	for e := range a.queue {
		metrics.EventQueueDepth.Dec()
		a.d.dispatch(context.Background(), e)
	}
}

// Emit enqueues events without blocking
func (a *AsyncEmitter) Emit(_ context.Context, events ...Event) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for _, e := range events {
		if a.closed {
			metrics.EventsDroppedTotal.WithLabelValues(e.Name, "closed").Inc()
			continue
		}
		select {
		case a.queue <- e:
			metrics.EventQueueDepth.Inc()
		default:
			logger.Warn("Event queue full, dropping event",
				zap.String("event", e.Name),
				zap.String("channel", e.Channel))
			metrics.EventsDroppedTotal.WithLabelValues(e.Name, "queue_full").Inc()
		}
	}
}

// Close stops accepting events and waits for queued ones to be published or ctx to end
func (a *AsyncEmitter) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
