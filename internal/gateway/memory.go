package gateway

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/halcyon-labs/edgelink/internal/events"
)

// MemoryCollector samples system memory via `free -k`.
type MemoryCollector struct {
	runner ShellRunner
}

func NewMemoryCollector(runner ShellRunner) *MemoryCollector {
	return &MemoryCollector{runner: runner}
}

func (c *MemoryCollector) Name() string { return "memory_telemetry" }

func (c *MemoryCollector) Collect(ctx context.Context) (string, any, error) {
	out, err := c.runner.Run(ctx, "free", "-k")
	if err != nil {
		return "", nil, err
	}
	ev, err := parseFreeOutput(out)
	if err != nil {
		return "", nil, err
	}
	return events.StreamMemoryTelemetry, ev, nil
}

// parseFreeOutput reads the Mem: row of `free -k`:
//
//	              total        used        free      shared  buff/cache   available
//	Mem:        3884340     1276520      162128       43160     2445692     2362400
func parseFreeOutput(out string) (events.MemoryTelemetryEvent, error) {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 7 || fields[0] != "Mem:" {
			continue
		}
		total, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return events.MemoryTelemetryEvent{}, fmt.Errorf("parse free total: %w", err)
		}
		used, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return events.MemoryTelemetryEvent{}, fmt.Errorf("parse free used: %w", err)
		}
		free, err := strconv.ParseInt(fields[3], 10, 64)
		if err != nil {
			return events.MemoryTelemetryEvent{}, fmt.Errorf("parse free free: %w", err)
		}
		available, err := strconv.ParseInt(fields[6], 10, 64)
		if err != nil {
			return events.MemoryTelemetryEvent{}, fmt.Errorf("parse free available: %w", err)
		}

		var usedPercent float64
		if total > 0 {
			usedPercent = math.Round(float64(used)/float64(total)*1000) / 10
		}
		return events.MemoryTelemetryEvent{
			Header:      events.NewHeader(),
			TotalKB:     total,
			UsedKB:      used,
			FreeKB:      free,
			AvailableKB: available,
			UsedPercent: usedPercent,
		}, nil
	}
	return events.MemoryTelemetryEvent{}, fmt.Errorf("free output missing Mem row")
}
