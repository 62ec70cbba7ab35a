package bus

import (
	"context"
	"log/slog"
	"time"
)

const maintenanceOpTimeout = 10 * time.Second

// Run drives the periodic maintenance and health cycles until ctx is
// cancelled, then shuts the bus down. Intended to be supervised
// alongside the other long-running components.
func (b *EventBus) Run(ctx context.Context) error {
	maintenance := time.NewTicker(b.opts.MaintenanceInterval)
	defer maintenance.Stop()
	health := time.NewTicker(b.opts.HealthInterval)
	defer health.Stop()

	slog.Info("[Bus] Runtime loops started",
		"maintenance_interval", b.opts.MaintenanceInterval,
		"health_interval", b.opts.HealthInterval)
	for {
		select {
		case <-maintenance.C:
			b.runMaintenance(ctx)
		case <-health.C:
			b.runHealthCheck(ctx)
		case <-ctx.Done():
			slog.Info("[Bus] Runtime loops stopping")
			return b.Close()
		}
	}
}

// runMaintenance trims oversized registered streams, refreshes consumer
// lag and reports groups whose pending entries have no consumers left.
// Recovery of such entries is the claim cycle's job; maintenance only
// surfaces them.
func (b *EventBus) runMaintenance(ctx context.Context) {
	opCtx, cancel := context.WithTimeout(ctx, maintenanceOpTimeout)
	defer cancel()

	for _, stream := range b.registry.Streams() {
		info, err := b.store.Info(opCtx, stream)
		if err != nil {
			b.noteStoreFailure(NewConnError("stream info", err))
			slog.Warn("[Bus] Maintenance aborted", "stream", stream, "error", err)
			return
		}
		if b.opts.TrimMaxLen > 0 && info.Length > b.opts.TrimMaxLen {
			if err := b.store.Trim(opCtx, stream, b.opts.TrimMaxLen); err != nil {
				b.noteStoreFailure(NewConnError("trim", err))
				continue
			}
			slog.Debug("[Bus] Stream trimmed", "stream", stream, "length", info.Length, "max_len", b.opts.TrimMaxLen)
		}

		groups, err := b.store.Groups(opCtx, stream)
		if err != nil {
			b.noteStoreFailure(NewConnError("groups", err))
			continue
		}
		for _, g := range groups {
			b.metrics.SetConsumerLag(stream, g.Name, g.Pending)
			if g.Consumers == 0 && g.Pending > 0 {
				slog.Warn("[Bus] Orphaned pending entries",
					"stream", stream, "group", g.Name, "pending", g.Pending)
			}
		}
	}
}

// runHealthCheck probes the store. A successful probe while the breaker
// is not closed counts as the recovery call that closes it.
func (b *EventBus) runHealthCheck(ctx context.Context) {
	opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := b.store.Ping(opCtx); err != nil {
		b.noteStoreFailure(NewConnError("ping", err))
		slog.Warn("[Bus] Health check failed", "state", b.breaker.State(), "error", err)
		return
	}
	b.metrics.RecordSuccess()
	if b.breaker.State() != CircuitClosed {
		slog.Info("[Bus] Store reachable again", "state", b.breaker.State())
	}
	b.breaker.RecordSuccess()
}
