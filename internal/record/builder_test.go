package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beaconscan/internal/model"
)

func TestBuild_StampsBuildTime(t *testing.T) {
	built := time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC)
	captured := built.Add(-2 * time.Second)

	b := NewBuilder(nil)
	b.now = func() time.Time { return built }

	dev := model.DeviceRecord{Address: "AA:BB:CC:DD:EE:FF", Name: "W6", RSSI: -55}
	mfr := &model.CharacteristicReading{Raw: []byte{0x10, 0x20}, CapturedAt: captured}
	sensor := &model.CharacteristicReading{Raw: []byte{0x30, 0x40}, CapturedAt: captured}

	rec := b.Build(dev, mfr, sensor)
	assert.Equal(t, built, rec.Timestamp)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", rec.DeviceAddress)
	assert.Equal(t, "W6", rec.DeviceName)
	assert.Equal(t, -55, rec.RSSI)
	require.NotNil(t, rec.ManufacturerData)
	require.NotNil(t, rec.SensorData)
	assert.Equal(t, "1020", rec.ManufacturerData.RawData)
	assert.Equal(t, "3040", rec.SensorData.RawData)
	assert.Equal(t, captured.Format(time.RFC3339Nano), rec.SensorData.Timestamp)
}

func TestBuild_AbsentReadings(t *testing.T) {
	b := NewBuilder(nil)
	dev := model.DeviceRecord{Address: "AA"}

	rec := b.Build(dev, nil, &model.CharacteristicReading{Raw: []byte{0x01}})
	assert.Nil(t, rec.ManufacturerData)
	require.NotNil(t, rec.SensorData)
	assert.Equal(t, "01", rec.SensorData.RawData)

	rec = b.Build(dev, nil, nil)
	assert.Nil(t, rec.ManufacturerData)
	assert.Nil(t, rec.SensorData)
	assert.Equal(t, "AA", rec.DeviceAddress)
}

func TestBuild_CustomDecoder(t *testing.T) {
	b := NewBuilder(func(r model.CharacteristicReading) model.Payload {
		return model.Payload{RawData: "x", Fields: map[string]string{"battery": "100"}}
	})

	rec := b.Build(model.DeviceRecord{Address: "AA"}, &model.CharacteristicReading{}, nil)
	require.NotNil(t, rec.ManufacturerData)
	assert.Equal(t, "100", rec.ManufacturerData.Fields["battery"])
}
