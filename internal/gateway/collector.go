package gateway

import "context"

// Collector produces one event per sampling cycle.
type Collector interface {
	Name() string
	// Collect returns the target stream and the event to publish.
	Collect(ctx context.Context) (stream string, event any, err error)
}
