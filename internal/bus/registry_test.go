package bus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tempReading struct {
	SensorID string  `json:"sensor_id"`
	Value    float64 `json:"value"`
}

type doorState struct {
	DeviceID string `json:"device_id"`
	Open     bool   `json:"open"`
}

func TestRegistryRegisterAndValidate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("temps", tempReading{}))

	assert.NoError(t, r.Validate("temps", tempReading{SensorID: "s1", Value: 20.5}))
	assert.NoError(t, r.Validate("temps", &tempReading{SensorID: "s1"}), "pointer and value forms are the same type")
}

func TestRegistryIdempotentReRegister(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("temps", tempReading{}))
	require.NoError(t, r.Register("temps", tempReading{}))
	require.NoError(t, r.Register("temps", &tempReading{}))
}

func TestRegistryConflictOnDifferentType(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("temps", tempReading{}))

	err := r.Register("temps", doorState{})
	require.Error(t, err)

	var conflict *SchemaConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "temps", conflict.Stream)
}

func TestRegistryValidateUnknownStream(t *testing.T) {
	r := NewRegistry()
	err := r.Validate("missing", tempReading{})
	assert.True(t, errors.Is(err, ErrNotRegistered))
}

func TestRegistryValidateWrongType(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("temps", tempReading{}))

	err := r.Validate("temps", doorState{})
	var mismatch *SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "temps", mismatch.Stream)
}

func TestRegistryStreamsSorted(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("zeta", tempReading{}))
	require.NoError(t, r.Register("alpha", doorState{}))
	require.NoError(t, r.Register("mid", tempReading{}))

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, r.Streams())
}
