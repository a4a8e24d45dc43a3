// Package sink persists beacon records to the on-disk table.
package sink

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"beaconscan/internal/model"
)

// DefaultPath is the well-known location of the beacon table.
const DefaultPath = "beacon_data.csv"

// Columns is the table header in column order.
var Columns = []string{
	"timestamp",
	"device_address",
	"manufacturer_data",
	"sensor_data",
	"device_name",
	"rssi",
}

// Sink accepts finished records.
type Sink interface {
	AppendAndFlush(ctx context.Context, rec model.BeaconDataRecord) error
}

// CSVSink keeps every record in memory and rewrites the whole table after
// each append. It is owned by one goroutine.
type CSVSink struct {
	path    string
	records []model.BeaconDataRecord
}

// NewCSVSink returns a sink writing to path.
func NewCSVSink(path string) *CSVSink {
	if path == "" {
		path = DefaultPath
	}
	return &CSVSink{path: path}
}

// Path returns the table location.
func (s *CSVSink) Path() string {
	return s.path
}

// AppendAndFlush appends rec and rewrites the table. On failure the record is
// kept and reaches disk with the next successful flush.
func (s *CSVSink) AppendAndFlush(_ context.Context, rec model.BeaconDataRecord) error {
	s.records = append(s.records, rec)
	return s.Flush()
}

// Flush rewrites the table from the in-memory records. The file is replaced
// atomically so readers never see a half-written table.
func (s *CSVSink) Flush() error {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, s.records); err != nil {
		return &model.PersistenceError{Path: s.path, Err: err}
	}
	if err := replaceFile(s.path, buf.Bytes()); err != nil {
		return &model.PersistenceError{Path: s.path, Err: err}
	}
	return nil
}

// Records returns a copy of the in-memory records in append order.
func (s *CSVSink) Records() []model.BeaconDataRecord {
	out := make([]model.BeaconDataRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Len returns the number of records held in memory.
func (s *CSVSink) Len() int {
	return len(s.records)
}

// WriteCSV writes records with a header row in Columns order.
func WriteCSV(w io.Writer, records []model.BeaconDataRecord) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(Columns); err != nil {
		return err
	}

	for _, rec := range records {
		mfr, err := encodePayload(rec.ManufacturerData)
		if err != nil {
			return fmt.Errorf("encode manufacturer data for %s: %w", rec.DeviceAddress, err)
		}
		sensor, err := encodePayload(rec.SensorData)
		if err != nil {
			return fmt.Errorf("encode sensor data for %s: %w", rec.DeviceAddress, err)
		}

		row := []string{
			rec.Timestamp.UTC().Format(time.RFC3339Nano),
			rec.DeviceAddress,
			mfr,
			sensor,
			rec.DeviceName,
			strconv.Itoa(rec.RSSI),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func encodePayload(p *model.Payload) (string, error) {
	if p == nil {
		return "", nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func replaceFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create table directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp table: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp table: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp table: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp table: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp table: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace table: %w", err)
	}
	return nil
}
