package bus_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyon-labs/edgelink/internal/bus"
	"github.com/halcyon-labs/edgelink/internal/bus/storage"
)

type pulseReading struct {
	EventID  string `json:"event_id"`
	Sequence int    `json:"sequence"`
	BPM      int    `json:"bpm"`
}

type tempReading struct {
	EventID string  `json:"event_id"`
	Celsius float64 `json:"celsius"`
}

// fastOptions keeps the dispatch, claim and staleness cycles short so
// redelivery scenarios complete in milliseconds.
func fastOptions() bus.Options {
	return bus.Options{
		BatchTimeout:        25 * time.Millisecond,
		RetryDelay:          10 * time.Millisecond,
		ClaimInterval:       30 * time.Millisecond,
		StalenessThreshold:  10 * time.Millisecond,
		MaintenanceInterval: time.Hour,
		HealthInterval:      time.Hour,
		ShutdownTimeout:     2 * time.Second,
	}
}

func newTestBus(t *testing.T, opts bus.Options) (*bus.EventBus, *storage.Memory) {
	t.Helper()
	st := storage.NewMemory()
	b := bus.New(st, opts)
	t.Cleanup(func() { _ = b.Close() })
	return b, st
}

func TestPublishSubscribeDeliversInOrder(t *testing.T) {
	b, st := newTestBus(t, fastOptions())
	require.NoError(t, b.RegisterStream("vitals.pulse", pulseReading{}))

	received := make(chan pulseReading, 16)
	err := b.Subscribe("vitals.pulse", "monitors", func(ctx context.Context, d *bus.Delivery) error {
		var ev pulseReading
		if err := d.Decode(&ev); err != nil {
			return bus.Fatal(err)
		}
		received <- ev
		return nil
	})
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		ev := pulseReading{EventID: fmt.Sprintf("ev-%d", i), Sequence: i, BPM: 60 + i}
		require.NoError(t, b.Publish(ctx, "vitals.pulse", ev))
	}

	for i := 0; i < 5; i++ {
		select {
		case ev := <-received:
			assert.Equal(t, i, ev.Sequence)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}

	require.Eventually(t, func() bool {
		pending, err := st.Pending(ctx, "vitals.pulse", "monitors", 10)
		return err == nil && len(pending) == 0
	}, 2*time.Second, 20*time.Millisecond, "processed entries should be acknowledged")

	report := b.Report()
	assert.Equal(t, int64(5), report.PublishCount)
	assert.Equal(t, int64(5), report.MessagesProcessed)
	assert.Zero(t, report.MessagesFailed)
	assert.Equal(t, 1, report.ActiveStreams)
	assert.Equal(t, 1, report.ActiveConsumers)

	select {
	case ev := <-received:
		t.Fatalf("unexpected extra delivery: %+v", ev)
	default:
	}
}

func TestPublishGates(t *testing.T) {
	b, _ := newTestBus(t, fastOptions())
	ctx := context.Background()

	err := b.Publish(ctx, "vitals.pulse", pulseReading{EventID: "ev-1"})
	require.ErrorIs(t, err, bus.ErrNotRegistered)

	require.NoError(t, b.RegisterStream("vitals.pulse", pulseReading{}))
	err = b.Publish(ctx, "vitals.pulse", tempReading{EventID: "ev-2"})
	var mismatch *bus.SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "vitals.pulse", mismatch.Stream)

	err = b.RegisterStream("vitals.pulse", tempReading{})
	var conflict *bus.SchemaConflictError
	require.ErrorAs(t, err, &conflict)

	// Publish-side rejections never count as consumer failures.
	report := b.Report()
	assert.Zero(t, report.PublishCount)
	assert.Zero(t, report.MessagesFailed)
}

func TestPublishSuppressesDuplicatePayload(t *testing.T) {
	b, st := newTestBus(t, fastOptions())
	require.NoError(t, b.RegisterStream("vitals.temp", tempReading{}))

	ctx := context.Background()
	ev := tempReading{EventID: "tmp-1", Celsius: 36.6}
	require.NoError(t, b.Publish(ctx, "vitals.temp", ev))
	require.NoError(t, b.Publish(ctx, "vitals.temp", ev))

	info, err := st.Info(ctx, "vitals.temp")
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.Length)

	report := b.Report()
	assert.Equal(t, int64(1), report.PublishCount)
	assert.Equal(t, int64(1), report.DuplicatesDropped)
}

func TestPublishDedupDisabled(t *testing.T) {
	opts := fastOptions()
	opts.DisableDedup = true
	b, st := newTestBus(t, opts)
	require.NoError(t, b.RegisterStream("vitals.temp", tempReading{}))

	ctx := context.Background()
	ev := tempReading{EventID: "tmp-1", Celsius: 36.6}
	require.NoError(t, b.Publish(ctx, "vitals.temp", ev))
	require.NoError(t, b.Publish(ctx, "vitals.temp", ev))

	info, err := st.Info(ctx, "vitals.temp")
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.Length)
}

// flakyStore wraps a real store and fails appends on demand.
type flakyStore struct {
	bus.StreamStore
	fail    atomic.Bool
	appends atomic.Int64
}

func (f *flakyStore) Append(ctx context.Context, stream string, fields map[string]string, maxLen int64) (string, error) {
	f.appends.Add(1)
	if f.fail.Load() {
		return "", errors.New("connection refused")
	}
	return f.StreamStore.Append(ctx, stream, fields, maxLen)
}

func TestPublishCircuitOpensAfterStoreFailures(t *testing.T) {
	opts := fastOptions()
	opts.FailureThreshold = 3
	opts.ResetTimeout = time.Hour
	st := &flakyStore{StreamStore: storage.NewMemory()}
	b := bus.New(st, opts)
	t.Cleanup(func() { _ = b.Close() })

	require.NoError(t, b.RegisterStream("vitals.pulse", pulseReading{}))
	st.fail.Store(true)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		err := b.Publish(ctx, "vitals.pulse", pulseReading{EventID: fmt.Sprintf("ev-%d", i)})
		require.True(t, bus.IsConnError(err), "want connection error, got %v", err)
	}
	require.Equal(t, bus.CircuitOpen, b.BreakerState())

	before := st.appends.Load()
	err := b.Publish(ctx, "vitals.pulse", pulseReading{EventID: "ev-x"})
	require.ErrorIs(t, err, bus.ErrCircuitOpen)
	assert.Equal(t, before, st.appends.Load(), "open breaker must reject before touching the store")

	report := b.Report()
	assert.Equal(t, int64(3), report.StoreErrors)
	assert.Equal(t, bus.CircuitOpen, report.BreakerState)
}

func TestRetryableFailureIsRedelivered(t *testing.T) {
	b, st := newTestBus(t, fastOptions())
	require.NoError(t, b.RegisterStream("vitals.pulse", pulseReading{}))

	var attempts atomic.Int64
	done := make(chan bus.Delivery, 1)
	err := b.Subscribe("vitals.pulse", "monitors", func(ctx context.Context, d *bus.Delivery) error {
		if attempts.Add(1) == 1 {
			return bus.Retryable(errors.New("sensor busy"))
		}
		done <- *d
		return nil
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, "vitals.pulse", pulseReading{EventID: "ev-1", BPM: 72}))

	select {
	case d := <-done:
		assert.GreaterOrEqual(t, d.Deliveries, int64(2), "second attempt must carry the bumped delivery count")
	case <-time.After(3 * time.Second):
		t.Fatal("entry was never redelivered")
	}
	require.Eventually(t, func() bool {
		pending, err := st.Pending(ctx, "vitals.pulse", "monitors", 10)
		return err == nil && len(pending) == 0
	}, 2*time.Second, 20*time.Millisecond)

	report := b.Report()
	assert.Equal(t, int64(1), report.MessagesProcessed)
	assert.GreaterOrEqual(t, report.MessagesFailed, int64(1))
	assert.Zero(t, report.DeadLettered)
}

func TestFatalFailureRoutesToDeadLetter(t *testing.T) {
	b, st := newTestBus(t, fastOptions())
	require.NoError(t, b.RegisterStream("vitals.pulse", pulseReading{}))

	err := b.Subscribe("vitals.pulse", "monitors", func(ctx context.Context, d *bus.Delivery) error {
		return bus.Fatal(errors.New("malformed reading"))
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, "vitals.pulse", pulseReading{EventID: "ev-bad"}))

	dlq := bus.DeadLetterStream("vitals.pulse", "monitors")
	require.Eventually(t, func() bool {
		info, err := st.Info(ctx, dlq)
		return err == nil && info.Length == 1
	}, 3*time.Second, 20*time.Millisecond, "fatal failure should land on the dead-letter stream")
	require.Eventually(t, func() bool {
		pending, err := st.Pending(ctx, "vitals.pulse", "monitors", 10)
		return err == nil && len(pending) == 0
	}, 2*time.Second, 20*time.Millisecond, "original entry should be acknowledged")

	require.NoError(t, st.EnsureGroup(ctx, dlq, "inspect"))
	entries, err := st.ReadGroup(ctx, dlq, "inspect", "tester", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Fields[bus.FieldDeadLetterError], "malformed reading")
	assert.NotEmpty(t, entries[0].Fields[bus.FieldDeadLetterOriginalID])
	assert.NotEmpty(t, entries[0].Fields[bus.FieldDeadLetterTimestamp])
	assert.Equal(t, "ev-bad", entries[0].Fields["event_id"], "payload fields travel with the dead letter")

	report := b.Report()
	assert.Equal(t, int64(1), report.DeadLettered)
	assert.Equal(t, int64(1), report.MessagesFailed)
}

func TestDeliveryBudgetExhaustionDeadLetters(t *testing.T) {
	opts := fastOptions()
	opts.MaxDeliveries = 2
	b, st := newTestBus(t, opts)
	require.NoError(t, b.RegisterStream("vitals.pulse", pulseReading{}))

	var attempts atomic.Int64
	err := b.Subscribe("vitals.pulse", "monitors", func(ctx context.Context, d *bus.Delivery) error {
		attempts.Add(1)
		return bus.Retryable(errors.New("still busy"))
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, "vitals.pulse", pulseReading{EventID: "ev-stuck"}))

	dlq := bus.DeadLetterStream("vitals.pulse", "monitors")
	require.Eventually(t, func() bool {
		info, err := st.Info(ctx, dlq)
		return err == nil && info.Length == 1
	}, 4*time.Second, 20*time.Millisecond, "exhausted entry should be dead-lettered")
	require.Eventually(t, func() bool {
		pending, err := st.Pending(ctx, "vitals.pulse", "monitors", 10)
		return err == nil && len(pending) == 0
	}, 2*time.Second, 20*time.Millisecond)

	assert.Equal(t, int64(2), attempts.Load(), "no handler attempt past the delivery budget")

	report := b.Report()
	assert.Equal(t, int64(1), report.DeadLettered)
}

func TestSubscribeSecondHandlerSameGroup(t *testing.T) {
	b, _ := newTestBus(t, fastOptions())
	require.NoError(t, b.RegisterStream("vitals.pulse", pulseReading{}))

	first := make(chan string, 1)
	second := make(chan string, 1)
	require.NoError(t, b.Subscribe("vitals.pulse", "monitors", func(ctx context.Context, d *bus.Delivery) error {
		first <- d.ID
		return nil
	}))
	require.NoError(t, b.Subscribe("vitals.pulse", "monitors", func(ctx context.Context, d *bus.Delivery) error {
		second <- d.ID
		return nil
	}))

	require.NoError(t, b.Publish(context.Background(), "vitals.pulse", pulseReading{EventID: "ev-1"}))

	var firstID, secondID string
	select {
	case firstID = <-first:
	case <-time.After(2 * time.Second):
		t.Fatal("first handler not invoked")
	}
	select {
	case secondID = <-second:
	case <-time.After(2 * time.Second):
		t.Fatal("second handler not invoked")
	}
	assert.Equal(t, firstID, secondID)

	report := b.Report()
	assert.Equal(t, 1, report.ActiveConsumers, "handlers on the same pair share one dispatch loop")
}

func TestSubscribeRequiresRegisteredStream(t *testing.T) {
	b, _ := newTestBus(t, fastOptions())
	err := b.Subscribe("vitals.pulse", "monitors", func(ctx context.Context, d *bus.Delivery) error {
		return nil
	})
	require.ErrorIs(t, err, bus.ErrNotRegistered)
}

func TestHandlerPanicIsDeadLettered(t *testing.T) {
	b, st := newTestBus(t, fastOptions())
	require.NoError(t, b.RegisterStream("vitals.pulse", pulseReading{}))
	require.NoError(t, b.Subscribe("vitals.pulse", "monitors", func(ctx context.Context, d *bus.Delivery) error {
		panic("bad handler")
	}))

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, "vitals.pulse", pulseReading{EventID: "ev-panic"}))

	dlq := bus.DeadLetterStream("vitals.pulse", "monitors")
	require.Eventually(t, func() bool {
		info, err := st.Info(ctx, dlq)
		return err == nil && info.Length == 1
	}, 3*time.Second, 20*time.Millisecond, "panicking handler must not kill the loop")
}

func TestCloseStopsBusAndMakesPublishNoop(t *testing.T) {
	b, _ := newTestBus(t, fastOptions())
	require.NoError(t, b.RegisterStream("vitals.pulse", pulseReading{}))
	require.NoError(t, b.Subscribe("vitals.pulse", "monitors", func(ctx context.Context, d *bus.Delivery) error {
		return nil
	}))

	require.NoError(t, b.Close())
	require.NoError(t, b.Close(), "Close must be idempotent")

	// Publish during teardown is a silent no-op.
	require.NoError(t, b.Publish(context.Background(), "vitals.pulse", pulseReading{EventID: "late"}))
	assert.Zero(t, b.Report().PublishCount)

	require.ErrorIs(t, b.RegisterStream("vitals.temp", tempReading{}), bus.ErrShutdown)
	err := b.Subscribe("vitals.pulse", "late-group", func(ctx context.Context, d *bus.Delivery) error {
		return nil
	})
	require.ErrorIs(t, err, bus.ErrShutdown)
}

func TestRunMaintenanceTrimsOversizedStreams(t *testing.T) {
	opts := fastOptions()
	opts.MaintenanceInterval = 30 * time.Millisecond
	opts.HealthInterval = 30 * time.Millisecond
	opts.TrimMaxLen = 5
	st := storage.NewMemory()
	b := bus.New(st, opts)
	require.NoError(t, b.RegisterStream("vitals.pulse", pulseReading{}))

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- b.Run(ctx) }()

	for i := 0; i < 8; i++ {
		ev := pulseReading{EventID: fmt.Sprintf("ev-%d", i), Sequence: i}
		require.NoError(t, b.Publish(context.Background(), "vitals.pulse", ev))
	}
	require.Eventually(t, func() bool {
		info, err := st.Info(context.Background(), "vitals.pulse")
		return err == nil && info.Length == 5
	}, 2*time.Second, 20*time.Millisecond, "maintenance should trim the stream to the cap")

	cancel()
	select {
	case err := <-runDone:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	require.ErrorIs(t, b.RegisterStream("vitals.temp", tempReading{}), bus.ErrShutdown)
}
