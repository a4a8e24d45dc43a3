// Package record assembles persistable beacon records.
package record

import (
	"time"

	"beaconscan/internal/gatt"
	"beaconscan/internal/model"
)

// Builder turns reader output into BeaconDataRecords.
type Builder struct {
	decode gatt.Decoder
	now    func() time.Time
}

// NewBuilder returns a Builder using decode, or the hex fallback when nil.
func NewBuilder(decode gatt.Decoder) *Builder {
	if decode == nil {
		decode = gatt.HexDecoder
	}
	return &Builder{decode: decode, now: time.Now}
}

// Build assembles a record for device. Either reading may be nil; the
// record is stamped with the build time, not the readings' capture times.
func (b *Builder) Build(device model.DeviceRecord, manufacturer, sensor *model.CharacteristicReading) model.BeaconDataRecord {
	return model.BeaconDataRecord{
		Timestamp:        b.now().UTC(),
		DeviceAddress:    device.Address,
		DeviceName:       device.Name,
		RSSI:             device.RSSI,
		ManufacturerData: b.payload(manufacturer),
		SensorData:       b.payload(sensor),
	}
}

func (b *Builder) payload(r *model.CharacteristicReading) *model.Payload {
	if r == nil {
		return nil
	}
	p := b.decode(*r)
	return &p
}
