package events

import (
	"time"

	"github.com/google/uuid"
)

// Version is stamped on every event envelope.
const Version = "1.0"

// Header is the envelope embedded in every event.
type Header struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// NewHeader returns a fresh envelope with a generated ID and the
// current UTC time.
func NewHeader() Header {
	return Header{
		EventID:   uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Version:   Version,
	}
}

// ConnectionInfoEvent reports the state of a peripheral client
// connection (BLE or I2C).
type ConnectionInfoEvent struct {
	Header
	ClientType      string `json:"client_type"`
	Connected       bool   `json:"connected"`
	PeripheralCount int    `json:"peripheral_count"`
	LastError       string `json:"last_error,omitempty"`
}

// SensorMetadataEvent announces a sensor known to this gateway.
type SensorMetadataEvent struct {
	Header
	SensorID     string `json:"sensor_id"`
	SensorName   string `json:"sensor_name"`
	SensorType   string `json:"sensor_type"`
	PatientID    string `json:"patient_id,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty"`
}

// SensorStatusEvent reports sensor availability on the per-sensor
// status stream.
type SensorStatusEvent struct {
	Header
	SensorID       string    `json:"sensor_id"`
	Status         string    `json:"status"`
	BatteryPercent int       `json:"battery_percent,omitempty"`
	LastSeen       time.Time `json:"last_seen"`
}

// SensorDataEvent carries one measurement batch on the per-sensor data
// stream. Data keys are sensor specific, e.g. "heart_rate" or "spo2".
type SensorDataEvent struct {
	Header
	SensorID   string            `json:"sensor_id"`
	PatientID  string            `json:"patient_id,omitempty"`
	SensorName string            `json:"sensor_name"`
	SensorType string            `json:"sensor_type"`
	Data       map[string]string `json:"data"`
}

// SensorTriggerEvent requests an on-demand action from a sensor.
type SensorTriggerEvent struct {
	Header
	SensorID    string `json:"sensor_id"`
	Command     string `json:"command"`
	RequestedBy string `json:"requested_by,omitempty"`
}

// CPUTelemetryEvent samples the gateway SoC.
type CPUTelemetryEvent struct {
	Header
	TemperatureCelsius float64 `json:"temperature_celsius"`
	FrequencyMHz       float64 `json:"frequency_mhz"`
}

// MemoryTelemetryEvent samples system memory in kilobytes.
type MemoryTelemetryEvent struct {
	Header
	TotalKB     int64   `json:"total_kb"`
	UsedKB      int64   `json:"used_kb"`
	FreeKB      int64   `json:"free_kb"`
	AvailableKB int64   `json:"available_kb"`
	UsedPercent float64 `json:"used_percent"`
}

// StorageTelemetryEvent samples one mounted filesystem.
type StorageTelemetryEvent struct {
	Header
	Filesystem  string  `json:"filesystem"`
	MountPoint  string  `json:"mount_point"`
	TotalKB     int64   `json:"total_kb"`
	UsedKB      int64   `json:"used_kb"`
	AvailableKB int64   `json:"available_kb"`
	UsePercent  float64 `json:"use_percent"`
}

// PackageInventoryEvent summarizes the installed package set.
type PackageInventoryEvent struct {
	Header
	Manager      string   `json:"manager"`
	PackageCount int      `json:"package_count"`
	Packages     []string `json:"packages,omitempty"`
}

// CPUInventoryEvent describes the processor.
type CPUInventoryEvent struct {
	Header
	Model        string `json:"model"`
	Cores        int    `json:"cores"`
	Architecture string `json:"architecture"`
}

// NetworkInterface is one entry of a NetworkInventoryEvent.
type NetworkInterface struct {
	Name      string   `json:"name"`
	MAC       string   `json:"mac,omitempty"`
	Addresses []string `json:"addresses,omitempty"`
}

// NetworkInventoryEvent lists the gateway's network interfaces.
type NetworkInventoryEvent struct {
	Header
	Interfaces []NetworkInterface `json:"interfaces"`
}

// OSKernelInventoryEvent identifies the operating system and kernel.
type OSKernelInventoryEvent struct {
	Header
	KernelVersion string `json:"kernel_version"`
	OSName        string `json:"os_name"`
	OSVersion     string `json:"os_version"`
	Hostname      string `json:"hostname"`
}

// ServiceInventoryEvent summarizes systemd unit state.
type ServiceInventoryEvent struct {
	Header
	RunningCount int      `json:"running_count"`
	FailedCount  int      `json:"failed_count"`
	Services     []string `json:"services,omitempty"`
}

// AuditRecordEvent is the shared payload of the security monitor
// streams. Monitor names the producing collector; Details carries its
// findings.
type AuditRecordEvent struct {
	Header
	Monitor  string            `json:"monitor"`
	Severity string            `json:"severity"`
	Details  map[string]string `json:"details"`
}

// VulnerabilityScanEvent reports the outcome of one scanner run.
type VulnerabilityScanEvent struct {
	Header
	Scanner       string `json:"scanner"`
	FindingsTotal int    `json:"findings_total"`
	Critical      int    `json:"critical"`
	High          int    `json:"high"`
	Medium        int    `json:"medium"`
	Low           int    `json:"low"`
	Report        string `json:"report,omitempty"`
}

// ScanTriggerEvent requests an out-of-schedule vulnerability scan.
type ScanTriggerEvent struct {
	Header
	RequestedBy string `json:"requested_by,omitempty"`
	Scope       string `json:"scope,omitempty"`
}
