package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistrar struct {
	streams map[string]any
	err     error
}

func (f *fakeRegistrar) RegisterStream(name string, prototype any) error {
	if f.err != nil {
		return f.err
	}
	if f.streams == nil {
		f.streams = make(map[string]any)
	}
	f.streams[name] = prototype
	return nil
}

func TestRegisterCatalog(t *testing.T) {
	r := &fakeRegistrar{}
	require.NoError(t, RegisterCatalog(r))

	require.Len(t, r.streams, 18)
	assert.IsType(t, CPUTelemetryEvent{}, r.streams[StreamCPUTelemetry])
	assert.IsType(t, ConnectionInfoEvent{}, r.streams[StreamBLEConnectionInfo])
	assert.IsType(t, AuditRecordEvent{}, r.streams[StreamSystemAudit])
	assert.IsType(t, ScanTriggerEvent{}, r.streams[StreamVulnerabilityScanTrigger])
}

func TestRegisterSensor(t *testing.T) {
	r := &fakeRegistrar{}
	require.NoError(t, RegisterSensor(r, "sns-001"))

	require.Len(t, r.streams, 3)
	assert.IsType(t, SensorDataEvent{}, r.streams["sensor_data_updated_sns-001"])
	assert.IsType(t, SensorStatusEvent{}, r.streams["sensor_status_updated_sns-001"])
	assert.IsType(t, SensorTriggerEvent{}, r.streams["sensor_trigger_sns-001"])
}

func TestRegisterCatalogPropagatesError(t *testing.T) {
	r := &fakeRegistrar{err: errors.New("registry closed")}
	require.Error(t, RegisterCatalog(r))
}
