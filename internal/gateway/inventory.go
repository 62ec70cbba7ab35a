package gateway

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/halcyon-labs/edgelink/internal/events"
)

const defaultOSReleasePath = "/etc/os-release"

// OSKernelCollector reports kernel and OS identity.
type OSKernelCollector struct {
	runner        ShellRunner
	osReleasePath string
}

func NewOSKernelCollector(runner ShellRunner) *OSKernelCollector {
	return &OSKernelCollector{runner: runner, osReleasePath: defaultOSReleasePath}
}

func (c *OSKernelCollector) Name() string { return "os_kernel_inventory" }

func (c *OSKernelCollector) Collect(ctx context.Context) (string, any, error) {
	kernel, err := c.runner.Run(ctx, "uname", "-r")
	if err != nil {
		return "", nil, err
	}
	osName, osVersion := parseOSRelease(c.osReleasePath)
	hostname, _ := os.Hostname()

	ev := events.OSKernelInventoryEvent{
		Header:        events.NewHeader(),
		KernelVersion: strings.TrimSpace(kernel),
		OSName:        osName,
		OSVersion:     osVersion,
		Hostname:      hostname,
	}
	return events.StreamOSKernelInventory, ev, nil
}

// parseOSRelease extracts NAME and VERSION_ID. A missing or partial file
// yields empty strings; kernel identity alone is still worth reporting.
func parseOSRelease(path string) (name, version string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", ""
	}
	for _, line := range strings.Split(string(raw), "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"`)
		switch key {
		case "NAME":
			name = value
		case "VERSION_ID":
			version = value
		}
	}
	return name, version
}

// ServiceInventoryCollector summarizes systemd unit state.
type ServiceInventoryCollector struct {
	runner ShellRunner
}

func NewServiceInventoryCollector(runner ShellRunner) *ServiceInventoryCollector {
	return &ServiceInventoryCollector{runner: runner}
}

func (c *ServiceInventoryCollector) Name() string { return "service_inventory" }

func (c *ServiceInventoryCollector) Collect(ctx context.Context) (string, any, error) {
	out, err := c.runner.Run(ctx, "systemctl", "list-units", "--type=service", "--plain", "--no-legend", "--no-pager")
	if err != nil {
		return "", nil, err
	}
	ev := parseServiceUnits(out)
	return events.StreamServiceInventory, ev, nil
}

// parseServiceUnits reads `systemctl list-units` rows:
//
//	UNIT LOAD ACTIVE SUB DESCRIPTION
func parseServiceUnits(out string) events.ServiceInventoryEvent {
	ev := events.ServiceInventoryEvent{Header: events.NewHeader()}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		switch {
		case fields[3] == "running":
			ev.RunningCount++
			ev.Services = append(ev.Services, fields[0])
		case fields[2] == "failed":
			ev.FailedCount++
		}
	}
	return ev
}

// PackageInventoryCollector counts installed dpkg packages.
type PackageInventoryCollector struct {
	runner ShellRunner
}

func NewPackageInventoryCollector(runner ShellRunner) *PackageInventoryCollector {
	return &PackageInventoryCollector{runner: runner}
}

func (c *PackageInventoryCollector) Name() string { return "package_inventory" }

func (c *PackageInventoryCollector) Collect(ctx context.Context) (string, any, error) {
	out, err := c.runner.Run(ctx, "dpkg-query", "-W", "-f", "${Package}\n")
	if err != nil {
		return "", nil, err
	}
	ev := events.PackageInventoryEvent{
		Header:  events.NewHeader(),
		Manager: "dpkg",
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) != "" {
			ev.PackageCount++
		}
	}
	return events.StreamPackageInventory, ev, nil
}

// CPUInventoryCollector reports the processor identity.
type CPUInventoryCollector struct {
	cpuinfoPath string
}

func NewCPUInventoryCollector() *CPUInventoryCollector {
	return &CPUInventoryCollector{cpuinfoPath: "/proc/cpuinfo"}
}

func (c *CPUInventoryCollector) Name() string { return "cpu_inventory" }

func (c *CPUInventoryCollector) Collect(ctx context.Context) (string, any, error) {
	raw, err := os.ReadFile(c.cpuinfoPath)
	if err != nil {
		return "", nil, fmt.Errorf("cpu inventory: %w", err)
	}
	ev := parseCPUInfo(string(raw))
	return events.StreamCPUInventory, ev, nil
}

func parseCPUInfo(raw string) events.CPUInventoryEvent {
	ev := events.CPUInventoryEvent{Header: events.NewHeader()}
	for _, line := range strings.Split(raw, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "processor":
			ev.Cores++
		case "model name":
			if ev.Model == "" {
				ev.Model = value
			}
		// ARM cpuinfo has no "model name"; fall back to the hardware
		// line Raspberry Pi kernels emit.
		case "Hardware":
			if ev.Model == "" {
				ev.Model = value
			}
		case "architecture", "CPU architecture":
			if ev.Architecture == "" {
				ev.Architecture = value
			}
		}
	}
	return ev
}
