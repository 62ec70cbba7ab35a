package events

// Registrar is the bus surface needed to install the catalog.
type Registrar interface {
	RegisterStream(name string, prototype any) error
}

// catalog maps every fixed stream to its payload type.
var catalog = []struct {
	stream    string
	prototype any
}{
	{StreamBLEConnectionInfo, ConnectionInfoEvent{}},
	{StreamI2CConnectionInfo, ConnectionInfoEvent{}},
	{StreamSensorMetadataCreated, SensorMetadataEvent{}},

	{StreamCPUTelemetry, CPUTelemetryEvent{}},
	{StreamMemoryTelemetry, MemoryTelemetryEvent{}},
	{StreamStorageTelemetry, StorageTelemetryEvent{}},

	{StreamPackageInventory, PackageInventoryEvent{}},
	{StreamCPUInventory, CPUInventoryEvent{}},
	{StreamNetworkInventory, NetworkInventoryEvent{}},
	{StreamOSKernelInventory, OSKernelInventoryEvent{}},
	{StreamServiceInventory, ServiceInventoryEvent{}},

	{StreamAccountSecurity, AuditRecordEvent{}},
	{StreamHardeningInformation, AuditRecordEvent{}},
	{StreamSystemAudit, AuditRecordEvent{}},
	{StreamBluetoothDeviceMonitor, AuditRecordEvent{}},
	{StreamWiFiConnectionMonitor, AuditRecordEvent{}},
	{StreamVulnerabilityScan, VulnerabilityScanEvent{}},
	{StreamVulnerabilityScanTrigger, ScanTriggerEvent{}},
}

// RegisterCatalog installs every fixed stream with its payload type.
func RegisterCatalog(r Registrar) error {
	for _, c := range catalog {
		if err := r.RegisterStream(c.stream, c.prototype); err != nil {
			return err
		}
	}
	return nil
}

// RegisterSensor installs the per-sensor streams for one sensor ID.
func RegisterSensor(r Registrar, sensorID string) error {
	if err := r.RegisterStream(SensorStream(PrefixSensorData, sensorID), SensorDataEvent{}); err != nil {
		return err
	}
	if err := r.RegisterStream(SensorStream(PrefixSensorStatus, sensorID), SensorStatusEvent{}); err != nil {
		return err
	}
	return r.RegisterStream(SensorStream(PrefixSensorTrigger, sensorID), SensorTriggerEvent{})
}
