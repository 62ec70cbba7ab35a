package gateway

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/halcyon-labs/edgelink/internal/events"
)

// StorageCollector samples one mounted filesystem via `df -k`.
type StorageCollector struct {
	runner ShellRunner
	mount  string
}

func NewStorageCollector(runner ShellRunner, mount string) *StorageCollector {
	if mount == "" {
		mount = "/"
	}
	return &StorageCollector{runner: runner, mount: mount}
}

func (c *StorageCollector) Name() string { return "storage_telemetry" }

func (c *StorageCollector) Collect(ctx context.Context) (string, any, error) {
	out, err := c.runner.Run(ctx, "df", "-k")
	if err != nil {
		return "", nil, err
	}
	ev, err := parseDfOutput(out, c.mount)
	if err != nil {
		return "", nil, err
	}
	return events.StreamStorageTelemetry, ev, nil
}

// parseDfOutput picks the row of `df -k` whose mount point matches:
//
//	Filesystem     1K-blocks    Used Available Use% Mounted on
//	/dev/root       30375348 8122336  20983588  28% /
func parseDfOutput(out, mount string) (events.StorageTelemetryEvent, error) {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 6 || fields[len(fields)-1] != mount {
			continue
		}
		total, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return events.StorageTelemetryEvent{}, fmt.Errorf("parse df total: %w", err)
		}
		used, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return events.StorageTelemetryEvent{}, fmt.Errorf("parse df used: %w", err)
		}
		available, err := strconv.ParseInt(fields[3], 10, 64)
		if err != nil {
			return events.StorageTelemetryEvent{}, fmt.Errorf("parse df available: %w", err)
		}
		usePercent, err := strconv.ParseFloat(strings.TrimSuffix(fields[4], "%"), 64)
		if err != nil {
			return events.StorageTelemetryEvent{}, fmt.Errorf("parse df use%%: %w", err)
		}

		return events.StorageTelemetryEvent{
			Header:      events.NewHeader(),
			Filesystem:  fields[0],
			MountPoint:  mount,
			TotalKB:     total,
			UsedKB:      used,
			AvailableKB: available,
			UsePercent:  usePercent,
		}, nil
	}
	return events.StorageTelemetryEvent{}, fmt.Errorf("df output has no row for mount %q", mount)
}
