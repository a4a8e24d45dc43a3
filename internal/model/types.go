package model

import "time"

// UnknownName is recorded for devices that advertise without a local name.
const UnknownName = "Unknown"

// Advertisement is a single broadcast observed during a discovery window.
// It is only valid for the duration of the discovery callback.
type Advertisement struct {
	Address          string
	Name             string
	RSSI             int
	ManufacturerData map[uint16][]byte
}

// DeviceRecord is the registry entry for a discovered beacon.
type DeviceRecord struct {
	Address   string    `json:"address"`
	Name      string    `json:"name"`
	RSSI      int       `json:"rssi"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// CharacteristicReading is the raw result of one GATT read.
type CharacteristicReading struct {
	Characteristic string
	Raw            []byte
	CapturedAt     time.Time
}

// Payload is the persisted form of a characteristic reading.
type Payload struct {
	RawData   string            `json:"raw_data"`
	Timestamp string            `json:"timestamp"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// BeaconDataRecord is the unit of persistence, one row of the table.
type BeaconDataRecord struct {
	Timestamp        time.Time `json:"timestamp"`
	DeviceAddress    string    `json:"device_address"`
	DeviceName       string    `json:"device_name,omitempty"`
	RSSI             int       `json:"rssi"`
	ManufacturerData *Payload  `json:"manufacturer_data"`
	SensorData       *Payload  `json:"sensor_data"`
}
