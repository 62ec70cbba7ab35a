package gateway

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSampleInterval is the collection cadence when none is
// configured.
const DefaultSampleInterval = 60 * time.Second

// Publisher is the bus surface the runner needs.
type Publisher interface {
	Publish(ctx context.Context, stream string, event any) error
}

// Runner samples all collectors on one ticker and publishes their
// events. Collection and publish failures are logged and never stop the
// cycle.
type Runner struct {
	interval   time.Duration
	publisher  Publisher
	collectors []Collector
}

func NewRunner(interval time.Duration, publisher Publisher, collectors ...Collector) *Runner {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	return &Runner{
		interval:   interval,
		publisher:  publisher,
		collectors: collectors,
	}
}

// Start samples immediately, then on every tick until ctx is cancelled.
func (r *Runner) Start(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	slog.Info("[Collectors] Starting telemetry runner",
		"interval", r.interval,
		"collectors", len(r.collectors),
	)

	// Initial sample so a fresh boot reports without waiting a full tick.
	r.collectOnce(ctx)

	for {
		select {
		case <-ticker.C:
			r.collectOnce(ctx)
		case <-ctx.Done():
			slog.Info("[Collectors] Stopping (context cancelled)")
			return nil
		}
	}
}

func (r *Runner) collectOnce(ctx context.Context) {
	for _, c := range r.collectors {
		if ctx.Err() != nil {
			return
		}
		stream, event, err := c.Collect(ctx)
		if err != nil {
			slog.Warn("[Collectors] Collection failed", "collector", c.Name(), "error", err)
			continue
		}
		if err := r.publisher.Publish(ctx, stream, event); err != nil {
			// Fire and forget: a rejected sample is dropped, the next
			// cycle produces a fresh one.
			slog.Warn("[Collectors] Publish failed",
				"collector", c.Name(), "stream", stream, "error", err)
		}
	}
}
