// Package events defines the stream catalog and the typed event
// payloads carried over the bus. Stream names and field names are part
// of the wire contract with downstream consumers and must not change.
package events

// Fixed stream names.
const (
	StreamBLEConnectionInfo     = "ble_client_connection_info_updated"
	StreamI2CConnectionInfo     = "i2c_client_connection_info_updated"
	StreamSensorMetadataCreated = "sensor_metadata_created"

	StreamCPUTelemetry     = "edge_gateway_cpu_telemetry"
	StreamMemoryTelemetry  = "edge_gateway_memory_telemetry"
	StreamStorageTelemetry = "edge_gateway_storage_telemetry"

	StreamPackageInventory  = "edge_gateway_package_inventory"
	StreamCPUInventory      = "edge_gateway_cpu_inventory"
	StreamNetworkInventory  = "edge_gateway_network_inventory"
	StreamOSKernelInventory = "edge_gateway_os_kernel_inventory"
	StreamServiceInventory  = "edge_gateway_service_inventory"

	StreamAccountSecurity          = "edge_gateway_account_security_monitor"
	StreamHardeningInformation     = "edge_gateway_hardening_information"
	StreamSystemAudit              = "edge_gateway_system_audit_collector"
	StreamBluetoothDeviceMonitor   = "edge_gateway_bluetooth_device_monitor"
	StreamWiFiConnectionMonitor    = "edge_gateway_wifi_connection_monitor"
	StreamVulnerabilityScan        = "edge_gateway_vulnerability_scan"
	StreamVulnerabilityScanTrigger = "edge_gateway_vulnerability_scan_trigger"
)

// Per-sensor stream prefixes. The full stream name is the prefix plus
// the sensor ID, see SensorStream.
const (
	PrefixSensorStatus  = "sensor_status_updated_"
	PrefixSensorData    = "sensor_data_updated_"
	PrefixSensorTrigger = "sensor_trigger_"
)

// SensorStream returns the per-sensor stream name for a prefix and
// sensor ID.
func SensorStream(prefix, sensorID string) string {
	return prefix + sensorID
}
