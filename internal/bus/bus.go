// Package bus implements a resilient event bus over a durable stream
// store. Producers publish typed events onto named streams; consumer
// groups receive them through per-group dispatch loops with
// acknowledgement, bounded redelivery and dead-lettering. A circuit
// breaker guards the store connection and a deduplicator suppresses
// repeated payloads inside a sliding window.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Handler processes one delivered entry. Returning nil acknowledges the
// entry. A fatal error (see Fatal) routes it to the dead-letter stream;
// any other error leaves it pending for redelivery.
type Handler func(ctx context.Context, d *Delivery) error

// Delivery is one stream entry handed to a handler.
type Delivery struct {
	Entry
	Group string
	// Deliveries counts attempts including this one.
	Deliveries int64
}

// Decode unmarshals the entry fields into target, which must be a
// pointer to a struct.
func (d *Delivery) Decode(target any) error {
	return Unflatten(d.Fields, target)
}

// DeadLetterStream returns the dead-letter stream name for a
// stream/group pair.
func DeadLetterStream(stream, group string) string {
	return stream + ":" + group + ":dlq"
}

// Reserved field names added to dead-lettered entries.
const (
	FieldDeadLetterError      = "_error"
	FieldDeadLetterOriginalID = "_original_id"
	FieldDeadLetterTimestamp  = "_timestamp"
)

type loopKey struct {
	stream string
	group  string
}

// EventBus coordinates the registry, breaker, deduplicator, metrics and
// the stream store behind a single publish/subscribe surface.
type EventBus struct {
	store    StreamStore
	registry *Registry
	breaker  *CircuitBreaker
	dedup    *Deduplicator
	metrics  *Metrics
	opts     Options

	consumer string

	mu    sync.Mutex
	loops map[loopKey]*dispatchLoop

	shutdown  atomic.Bool
	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// New creates an EventBus over store. Dispatch loops started by
// Subscribe run until Close; Run drives the maintenance and health
// cycles.
func New(store StreamStore, opts Options) *EventBus {
	if store == nil {
		panic("bus: store is required")
	}
	opts = opts.normalized()
	ctx, cancel := context.WithCancel(context.Background())
	b := &EventBus{
		store:     store,
		registry:  NewRegistry(),
		breaker:   NewCircuitBreaker(opts.FailureThreshold, opts.ResetTimeout),
		metrics:   NewMetrics(),
		opts:      opts,
		consumer:  defaultConsumerName(),
		loops:     make(map[loopKey]*dispatchLoop),
		runCtx:    ctx,
		runCancel: cancel,
	}
	if !opts.DisableDedup {
		b.dedup = NewDeduplicator(opts.DedupWindow)
	}
	slog.Info("[Bus] Event bus created",
		"consumer", b.consumer,
		"batch_size", opts.BatchSize,
		"max_deliveries", opts.MaxDeliveries,
		"dedup_enabled", !opts.DisableDedup)
	return b
}

// RegisterStream binds a stream name to an event schema. Registering
// the same pair again is a no-op; a different schema for a known stream
// fails with SchemaConflictError.
func (b *EventBus) RegisterStream(name string, prototype any) error {
	if b.shutdown.Load() {
		return ErrShutdown
	}
	if err := b.registry.Register(name, prototype); err != nil {
		return err
	}
	slog.Debug("[Bus] Stream registered", "stream", name)
	return nil
}

// Publish validates event against the registered schema for stream and
// appends it to the store. Duplicate payloads inside the dedup window
// are dropped silently. During shutdown Publish is a no-op.
func (b *EventBus) Publish(ctx context.Context, stream string, event any) error {
	if b.shutdown.Load() {
		slog.Debug("[Bus] Publish skipped, shutdown in progress", "stream", stream)
		return nil
	}
	if err := b.registry.Validate(stream, event); err != nil {
		return err
	}
	if !b.breaker.IsClosed() {
		slog.Warn("[Bus] Publish rejected, circuit open", "stream", stream)
		return fmt.Errorf("publish to %q: %w", stream, ErrCircuitOpen)
	}
	fields, err := Flatten(event)
	if err != nil {
		return fmt.Errorf("publish to %q: %w", stream, err)
	}
	// Fingerprint the payload as the caller provided it. Defaults are
	// injected afterwards so generated IDs cannot mask repeats.
	if b.dedup != nil && b.dedup.IsDuplicate(stream, fields) {
		b.metrics.IncrDuplicates(stream)
		slog.Debug("[Bus] Duplicate event dropped", "stream", stream)
		return nil
	}
	ensureEventDefaults(fields)
	id, err := b.store.Append(ctx, stream, fields, b.opts.MaxStreamLen)
	if err != nil {
		connErr := NewConnError("append", err)
		b.noteStoreFailure(connErr)
		return fmt.Errorf("publish to %q: %w", stream, connErr)
	}
	b.metrics.IncrPublished(stream)
	b.metrics.RecordSuccess()
	b.breaker.RecordSuccess()
	slog.Debug("[Bus] Event published", "stream", stream, "id", id)
	return nil
}

// Subscribe attaches handler to the stream/group pair and starts its
// dispatch loop if not already running. Multiple handlers on the same
// pair run sequentially per entry; any failure counts for the whole
// entry.
func (b *EventBus) Subscribe(stream, group string, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("subscribe %s/%s: handler is nil", stream, group)
	}
	if b.shutdown.Load() {
		return ErrShutdown
	}
	if !b.registry.Registered(stream) {
		return fmt.Errorf("subscribe %s/%s: %w", stream, group, ErrNotRegistered)
	}
	ctx, cancel := context.WithTimeout(b.runCtx, 5*time.Second)
	defer cancel()
	if err := b.store.EnsureGroup(ctx, stream, group); err != nil {
		connErr := NewConnError("ensure group", err)
		b.noteStoreFailure(connErr)
		return fmt.Errorf("subscribe %s/%s: %w", stream, group, connErr)
	}

	key := loopKey{stream: stream, group: group}
	b.mu.Lock()
	loop, ok := b.loops[key]
	if ok {
		loop.addHandler(handler)
		b.mu.Unlock()
		slog.Info("[Bus] Handler added to existing consumer", "stream", stream, "group", group)
		return nil
	}
	loop = newDispatchLoop(b, stream, group, handler)
	b.loops[key] = loop
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		loop.run(b.runCtx)
	}()
	slog.Info("[Bus] Consumer started", "stream", stream, "group", group, "consumer", b.consumer)
	return nil
}

// Close stops all dispatch loops, waits up to the shutdown timeout for
// in-flight handlers to finish and closes the store. Publish becomes a
// no-op as soon as Close begins. Close is idempotent.
func (b *EventBus) Close() error {
	if !b.shutdown.CompareAndSwap(false, true) {
		return nil
	}
	slog.Info("[Bus] Shutting down", "timeout", b.opts.ShutdownTimeout)
	b.runCancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("[Bus] All consumers stopped")
	case <-time.After(b.opts.ShutdownTimeout):
		slog.Warn("[Bus] Shutdown timeout exceeded, abandoning in-flight handlers")
	}
	if err := b.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}

// Metrics exposes the bus counters, e.g. for Prometheus registration.
func (b *EventBus) Metrics() *Metrics {
	return b.metrics
}

// BreakerState reports the current circuit breaker state.
func (b *EventBus) BreakerState() CircuitState {
	return b.breaker.State()
}

// Streams lists registered stream names in sorted order.
func (b *EventBus) Streams() []string {
	return b.registry.Streams()
}

// Report combines the metrics snapshot with bus-level state.
type Report struct {
	Snapshot
	BreakerState    CircuitState `json:"circuit_breaker_state"`
	ActiveStreams   int          `json:"active_streams"`
	ActiveConsumers int          `json:"active_consumers"`
}

// Report returns a consistent view of counters, breaker state and the
// number of registered streams and running consumers.
func (b *EventBus) Report() Report {
	b.mu.Lock()
	consumers := len(b.loops)
	b.mu.Unlock()
	return Report{
		Snapshot:        b.metrics.Snapshot(),
		BreakerState:    b.breaker.State(),
		ActiveStreams:   len(b.registry.Streams()),
		ActiveConsumers: consumers,
	}
}

// noteStoreFailure feeds a store error into the breaker and metrics.
func (b *EventBus) noteStoreFailure(err error) {
	b.breaker.RecordFailure()
	b.metrics.IncrStoreErrors()
	b.metrics.SetLastError(err)
}

// ensureEventDefaults fills the envelope fields producers may omit. The
// caller's event value is never mutated; defaults land in the flattened
// field map only.
func ensureEventDefaults(fields map[string]string) {
	if fields["event_id"] == "" {
		fields["event_id"] = uuid.New().String()
	}
	if fields["timestamp"] == "" {
		fields["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
}

func defaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "edgelink"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// sleepCtx waits d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
