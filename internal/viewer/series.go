package viewer

import (
	"encoding/hex"
	"sort"
	"strings"

	"beaconscan/internal/model"
)

// maxSensorBytes bounds how many leading bytes form a sensor level.
const maxSensorBytes = 4

// SensorLevel interprets the first bytes of a hex payload as a big-endian
// unsigned number. It reports false for absent or malformed payloads.
func SensorLevel(p *model.Payload) (float64, bool) {
	if p == nil || p.RawData == "" {
		return 0, false
	}
	raw, err := hex.DecodeString(strings.TrimSpace(p.RawData))
	if err != nil || len(raw) == 0 {
		return 0, false
	}
	if len(raw) > maxSensorBytes {
		raw = raw[:maxSensorBytes]
	}
	var v uint32
	for _, b := range raw {
		v = v<<8 | uint32(b)
	}
	return float64(v), true
}

// Series is one device's samples in table order.
type Series struct {
	Address string
	Values  []float64
}

// rssiSeries groups RSSI samples per device, ordered by address.
func rssiSeries(records []model.BeaconDataRecord) []Series {
	return group(records, func(r model.BeaconDataRecord) (float64, bool) {
		return float64(r.RSSI), true
	})
}

// sensorSeries groups sensor levels per device; rows without a readable
// sensor payload are skipped.
func sensorSeries(records []model.BeaconDataRecord) []Series {
	return group(records, func(r model.BeaconDataRecord) (float64, bool) {
		return SensorLevel(r.SensorData)
	})
}

func group(records []model.BeaconDataRecord, value func(model.BeaconDataRecord) (float64, bool)) []Series {
	byAddress := make(map[string][]float64)
	for _, r := range records {
		v, ok := value(r)
		if !ok {
			continue
		}
		byAddress[r.DeviceAddress] = append(byAddress[r.DeviceAddress], v)
	}

	out := make([]Series, 0, len(byAddress))
	for addr, values := range byAddress {
		out = append(out, Series{Address: addr, Values: values})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// latestPerDevice keeps the newest record of every device, newest first.
func latestPerDevice(records []model.BeaconDataRecord) []model.BeaconDataRecord {
	latest := make(map[string]model.BeaconDataRecord)
	for _, r := range records {
		if cur, ok := latest[r.DeviceAddress]; !ok || !r.Timestamp.Before(cur.Timestamp) {
			latest[r.DeviceAddress] = r
		}
	}

	out := make([]model.BeaconDataRecord, 0, len(latest))
	for _, r := range latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].DeviceAddress < out[j].DeviceAddress
	})
	return out
}
