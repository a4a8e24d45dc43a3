package sink

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"beaconscan/internal/model"
)

// ReadCSV loads records from a table file.
func ReadCSV(path string) ([]model.BeaconDataRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return ParseCSV(file)
}

// ParseCSV decodes a table. Columns are located by header name, so tables
// that predate the device_name and rssi columns still load.
func ParseCSV(r io.Reader) ([]model.BeaconDataRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	index := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		index[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{"timestamp", "device_address"} {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("missing %s column", required)
		}
	}

	cell := func(row []string, name string) string {
		i, ok := index[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	items := make([]model.BeaconDataRecord, 0, len(records)-1)
	for i := 1; i < len(records); i++ {
		row := records[i]

		ts, err := parseTimestamp(cell(row, "timestamp"))
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp at line %d: %w", i+1, err)
		}
		mfr, err := decodePayload(cell(row, "manufacturer_data"))
		if err != nil {
			return nil, fmt.Errorf("invalid manufacturer_data at line %d: %w", i+1, err)
		}
		sensor, err := decodePayload(cell(row, "sensor_data"))
		if err != nil {
			return nil, fmt.Errorf("invalid sensor_data at line %d: %w", i+1, err)
		}
		rssi, _ := strconv.Atoi(cell(row, "rssi"))

		items = append(items, model.BeaconDataRecord{
			Timestamp:        ts,
			DeviceAddress:    cell(row, "device_address"),
			DeviceName:       cell(row, "device_name"),
			RSSI:             rssi,
			ManufacturerData: mfr,
			SensorData:       sensor,
		})
	}

	return items, nil
}

func parseTimestamp(s string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err == nil {
		return ts, nil
	}
	// Naive ISO-8601 without a zone, as written by older tooling.
	if naive, nerr := time.ParseInLocation("2006-01-02T15:04:05.999999999", s, time.Local); nerr == nil {
		return naive, nil
	}
	return time.Time{}, err
}

func decodePayload(s string) (*model.Payload, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "None" {
		return nil, nil
	}

	var p model.Payload
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		// Dict reprs use single quotes; payload values are hex and ISO
		// strings, so swapping quotes is lossless.
		if jerr := json.Unmarshal([]byte(strings.ReplaceAll(s, "'", `"`)), &p); jerr != nil {
			return nil, err
		}
	}
	return &p, nil
}
