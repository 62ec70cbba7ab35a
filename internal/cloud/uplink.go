package cloud

import (
	"context"
	"log/slog"

	"github.com/bytedance/sonic"

	"github.com/halcyon-labs/edgelink/internal/bus"
)

// Group is the consumer group name the uplink joins on every forwarded
// stream. One group means the fleet side sees each entry once no matter
// how many streams feed it.
const Group = "cloud-sync"

// Subscriber is the bus surface the uplink needs.
type Subscriber interface {
	Subscribe(stream, group string, handler bus.Handler) error
}

// Uplink forwards entries from the configured streams to a Destination
// as NDJSON. Destination failures are retryable so entries stay pending
// until connectivity returns.
type Uplink struct {
	dest    Destination
	streams []string
}

func NewUplink(dest Destination, streams []string) *Uplink {
	return &Uplink{dest: dest, streams: streams}
}

// Attach subscribes the uplink to all of its streams.
func (u *Uplink) Attach(sub Subscriber) error {
	for _, stream := range u.streams {
		if err := sub.Subscribe(stream, Group, u.forward); err != nil {
			return err
		}
	}
	slog.Info("[Uplink] Forwarding streams", "count", len(u.streams), "group", Group)
	return nil
}

// forward uploads one entry as a single NDJSON line. The object is
// durable before the entry is acknowledged.
func (u *Uplink) forward(ctx context.Context, d *bus.Delivery) error {
	line, err := sonic.ConfigStd.Marshal(d.Fields)
	if err != nil {
		// An unmarshalable field map will never improve on retry.
		return bus.Fatal(err)
	}
	if err := u.dest.Write(ctx, d.Stream, append(line, '\n')); err != nil {
		return bus.Retryable(err)
	}
	return nil
}
