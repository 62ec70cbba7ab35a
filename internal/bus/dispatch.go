package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// pendingScanLimit caps how many pending entries one claim cycle
// inspects.
const pendingScanLimit = 100

// dispatchLoop consumes one stream/group pair. A single goroutine runs
// the loop, so at most one handler call is in flight per pair.
type dispatchLoop struct {
	bus    *EventBus
	stream string
	group  string

	mu       sync.Mutex
	handlers []Handler

	lastClaim time.Time
}

func newDispatchLoop(b *EventBus, stream, group string, handler Handler) *dispatchLoop {
	return &dispatchLoop{
		bus:       b,
		stream:    stream,
		group:     group,
		handlers:  []Handler{handler},
		lastClaim: time.Now(),
	}
}

func (l *dispatchLoop) addHandler(h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = append(l.handlers, h)
}

func (l *dispatchLoop) run(ctx context.Context) {
	b := l.bus
	slog.Info("[Bus] Dispatch loop running", "stream", l.stream, "group", l.group)
	defer slog.Info("[Bus] Dispatch loop stopped", "stream", l.stream, "group", l.group)

	for {
		if ctx.Err() != nil {
			return
		}
		if !b.breaker.IsClosed() {
			sleepCtx(ctx, b.opts.RetryDelay)
			continue
		}
		if time.Since(l.lastClaim) >= b.opts.ClaimInterval {
			l.lastClaim = time.Now()
			l.reclaimStale(ctx)
		}

		entries, err := b.store.ReadGroup(ctx, l.stream, l.group, b.consumer, b.opts.BatchSize, b.opts.BatchTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.noteStoreFailure(NewConnError("read group", err))
			slog.Warn("[Bus] Read failed", "stream", l.stream, "group", l.group, "error", err)
			sleepCtx(ctx, b.opts.RetryDelay)
			continue
		}
		b.breaker.RecordSuccess()
		if len(entries) == 0 {
			continue
		}

		b.metrics.RecordBatchSize(len(entries))
		start := time.Now()
		l.processEntries(ctx, toDeliveries(entries, l.group, nil))
		b.metrics.SetProcessingTime(time.Since(start))
		l.refreshLag(ctx)
	}
}

// processEntries runs the handlers for each delivery in order. Entries
// over the delivery budget go straight to the dead-letter stream.
// Successes are acknowledged in one batch at the end; fatal failures
// are dead-lettered and acknowledged individually; retryable failures
// stay pending for a later claim cycle.
func (l *dispatchLoop) processEntries(ctx context.Context, deliveries []Delivery) {
	b := l.bus
	var acks []string
	for i := range deliveries {
		if ctx.Err() != nil {
			break
		}
		d := &deliveries[i]
		if d.Deliveries > b.opts.MaxDeliveries {
			l.deadLetter(ctx, d, fmt.Errorf("delivery budget exhausted after %d attempts", d.Deliveries-1))
			continue
		}
		err := l.invoke(ctx, d)
		if err == nil {
			acks = append(acks, d.ID)
			b.metrics.IncrProcessed(l.stream)
			continue
		}
		b.metrics.IncrFailed(l.stream)
		b.metrics.SetLastError(err)
		if IsRetryable(err) {
			slog.Warn("[Bus] Handler failed, entry left pending",
				"stream", l.stream, "group", l.group, "id", d.ID,
				"deliveries", d.Deliveries, "error", err)
			continue
		}
		slog.Error("[Bus] Handler failed fatally, dead-lettering",
			"stream", l.stream, "group", l.group, "id", d.ID, "error", err)
		l.deadLetter(ctx, d, err)
	}
	if len(acks) > 0 {
		if err := b.store.Ack(ctx, l.stream, l.group, acks...); err != nil {
			b.noteStoreFailure(NewConnError("ack", err))
			slog.Warn("[Bus] Ack failed, entries will be redelivered",
				"stream", l.stream, "group", l.group, "count", len(acks), "error", err)
		}
	}
}

// invoke runs every handler for the delivery. A panicking handler is
// treated as a fatal failure so it cannot take the loop down.
func (l *dispatchLoop) invoke(ctx context.Context, d *Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Fatal(fmt.Errorf("handler panic: %v", r))
		}
	}()
	l.mu.Lock()
	handlers := l.handlers
	l.mu.Unlock()
	for _, h := range handlers {
		if err := h(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

// deadLetter copies the entry onto the pair's dead-letter stream and
// acknowledges the original. If the copy fails the original stays
// pending and will be retried by a later claim cycle.
func (l *dispatchLoop) deadLetter(ctx context.Context, d *Delivery, cause error) {
	b := l.bus
	fields := make(map[string]string, len(d.Fields)+3)
	for k, v := range d.Fields {
		fields[k] = v
	}
	fields[FieldDeadLetterError] = cause.Error()
	fields[FieldDeadLetterOriginalID] = d.ID
	fields[FieldDeadLetterTimestamp] = time.Now().UTC().Format(time.RFC3339Nano)

	dlq := DeadLetterStream(l.stream, l.group)
	if _, err := b.store.Append(ctx, dlq, fields, 0); err != nil {
		b.noteStoreFailure(NewConnError("dead letter append", err))
		slog.Error("[Bus] Dead-letter write failed", "stream", l.stream, "group", l.group, "id", d.ID, "error", err)
		return
	}
	if err := b.store.Ack(ctx, l.stream, l.group, d.ID); err != nil {
		b.noteStoreFailure(NewConnError("ack", err))
		slog.Warn("[Bus] Ack after dead-letter failed", "stream", l.stream, "group", l.group, "id", d.ID, "error", err)
		return
	}
	b.metrics.IncrDeadLettered(l.stream, l.group)
	slog.Warn("[Bus] Entry dead-lettered", "stream", l.stream, "group", l.group, "id", d.ID, "dlq", dlq)
}

// reclaimStale takes over pending entries idle past the staleness
// threshold, including this consumer's own, and processes them with
// their updated delivery counts.
func (l *dispatchLoop) reclaimStale(ctx context.Context) {
	b := l.bus
	pending, err := b.store.Pending(ctx, l.stream, l.group, pendingScanLimit)
	if err != nil {
		b.noteStoreFailure(NewConnError("pending", err))
		return
	}
	var stale []string
	counts := make(map[string]int64, len(pending))
	for _, p := range pending {
		if p.Idle < b.opts.StalenessThreshold {
			continue
		}
		stale = append(stale, p.ID)
		counts[p.ID] = p.Deliveries + 1 // claiming bumps the delivery counter
	}
	if len(stale) == 0 {
		return
	}
	entries, err := b.store.Claim(ctx, l.stream, l.group, b.consumer, b.opts.StalenessThreshold, stale)
	if err != nil {
		b.noteStoreFailure(NewConnError("claim", err))
		return
	}
	if len(entries) == 0 {
		return
	}
	slog.Info("[Bus] Reclaimed stale entries",
		"stream", l.stream, "group", l.group, "count", len(entries), "consumer", b.consumer)
	l.processEntries(ctx, toDeliveries(entries, l.group, counts))
}

// refreshLag publishes the group's pending count as consumer lag.
func (l *dispatchLoop) refreshLag(ctx context.Context) {
	b := l.bus
	groups, err := b.store.Groups(ctx, l.stream)
	if err != nil {
		return
	}
	for _, g := range groups {
		if g.Name == l.group {
			b.metrics.SetConsumerLag(l.stream, l.group, g.Pending)
			return
		}
	}
}

// toDeliveries wraps entries for handler consumption. counts overrides
// the delivery number per entry ID; absent IDs are first deliveries.
func toDeliveries(entries []Entry, group string, counts map[string]int64) []Delivery {
	out := make([]Delivery, len(entries))
	for i, e := range entries {
		n := int64(1)
		if c, ok := counts[e.ID]; ok {
			n = c
		}
		out[i] = Delivery{Entry: e, Group: group, Deliveries: n}
	}
	return out
}
