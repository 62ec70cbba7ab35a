package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type codecHeader struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

type codecSample struct {
	codecHeader
	SensorID string            `json:"sensor_id"`
	Reading  float64           `json:"reading"`
	Count    int               `json:"count"`
	Active   bool              `json:"active"`
	Tags     map[string]string `json:"tags"`
	Note     *string           `json:"note"`
	Internal string            `json:"-"`
}

func TestFlattenUnflattenRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	in := codecSample{
		codecHeader: codecHeader{EventID: "e-1", Timestamp: ts, Version: "1.0"},
		SensorID:    "s-42",
		Reading:     36.6,
		Count:       3,
		Active:      true,
		Tags:        map[string]string{"ward": "icu"},
		Internal:    "never stored",
	}

	fields, err := Flatten(in)
	require.NoError(t, err)

	// Embedded header fields flatten to the top level.
	assert.Equal(t, "e-1", fields["event_id"])
	assert.Equal(t, "2026-03-14T09:26:53Z", fields["timestamp"])
	assert.Equal(t, "36.6", fields["reading"])
	assert.Equal(t, "3", fields["count"])
	assert.Equal(t, "1", fields["active"])
	assert.Equal(t, `{"ward":"icu"}`, fields["tags"])
	assert.NotContains(t, fields, "Internal")
	assert.NotContains(t, fields, "note", "nil pointers are omitted")

	var out codecSample
	require.NoError(t, Unflatten(fields, &out))
	assert.Equal(t, in.EventID, out.EventID)
	assert.True(t, in.Timestamp.Equal(out.Timestamp))
	assert.Equal(t, in.SensorID, out.SensorID)
	assert.Equal(t, in.Reading, out.Reading)
	assert.Equal(t, in.Count, out.Count)
	assert.Equal(t, in.Active, out.Active)
	assert.Equal(t, in.Tags, out.Tags)
	assert.Nil(t, out.Note)
}

func TestFlattenAcceptsPointer(t *testing.T) {
	fields, err := Flatten(&codecSample{SensorID: "s-1"})
	require.NoError(t, err)
	assert.Equal(t, "s-1", fields["sensor_id"])
}

func TestFlattenRejectsNonStruct(t *testing.T) {
	_, err := Flatten("not a struct")
	assert.Error(t, err)

	var nilEvent *codecSample
	_, err = Flatten(nilEvent)
	assert.Error(t, err)
}

func TestUnflattenIgnoresUnknownFields(t *testing.T) {
	fields := map[string]string{
		"sensor_id":    "s-9",
		"_error":       "handler exploded",
		"_original_id": "17-0",
	}
	var out codecSample
	require.NoError(t, Unflatten(fields, &out))
	assert.Equal(t, "s-9", out.SensorID)
}

func TestUnflattenPointerField(t *testing.T) {
	fields := map[string]string{"note": "manual reading"}
	var out codecSample
	require.NoError(t, Unflatten(fields, &out))
	require.NotNil(t, out.Note)
	assert.Equal(t, "manual reading", *out.Note)
}

func TestUnflattenBadInput(t *testing.T) {
	var out codecSample
	assert.Error(t, Unflatten(map[string]string{"count": "NaN"}, &out))
	assert.Error(t, Unflatten(map[string]string{"timestamp": "yesterday"}, &out))
	assert.Error(t, Unflatten(nil, codecSample{}))
}
