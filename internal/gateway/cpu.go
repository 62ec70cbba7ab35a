package gateway

import (
	"context"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/halcyon-labs/edgelink/internal/events"
)

const (
	defaultThermalPath = "/sys/class/thermal/thermal_zone0/temp"
	defaultFreqPath    = "/sys/devices/system/cpu/cpu0/cpufreq/scaling_cur_freq"
)

// CPUCollector samples SoC temperature and clock from sysfs.
type CPUCollector struct {
	thermalPath string
	freqPath    string
}

func NewCPUCollector() *CPUCollector {
	return &CPUCollector{
		thermalPath: defaultThermalPath,
		freqPath:    defaultFreqPath,
	}
}

func (c *CPUCollector) Name() string { return "cpu_telemetry" }

func (c *CPUCollector) Collect(ctx context.Context) (string, any, error) {
	milli, err := readSysfsValue(c.thermalPath)
	if err != nil {
		return "", nil, fmt.Errorf("cpu temperature: %w", err)
	}
	khz, err := readSysfsValue(c.freqPath)
	if err != nil {
		return "", nil, fmt.Errorf("cpu frequency: %w", err)
	}

	ev := events.CPUTelemetryEvent{
		Header: events.NewHeader(),
		// thermal_zone0 reports millidegrees; keep one decimal.
		TemperatureCelsius: math.Round(milli/1000*10) / 10,
		// scaling_cur_freq reports kHz.
		FrequencyMHz: math.Round(khz / 1000),
	}
	return events.StreamCPUTelemetry, ev, nil
}

func readSysfsValue(path string) (float64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	return v, nil
}
