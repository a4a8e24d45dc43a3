package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beaconscan/internal/model"
)

func sampleRecords(n int) []model.BeaconDataRecord {
	base := time.Date(2024, 3, 1, 10, 0, 0, 123456789, time.UTC)
	out := make([]model.BeaconDataRecord, 0, n)
	for i := 0; i < n; i++ {
		rec := model.BeaconDataRecord{
			Timestamp:     base.Add(time.Duration(i) * time.Second),
			DeviceAddress: fmt.Sprintf("AA:BB:CC:DD:EE:%02X", i),
			DeviceName:    "W6, \"pro\"",
			RSSI:          -40 - i,
			SensorData:    &model.Payload{RawData: fmt.Sprintf("%04x", i), Timestamp: base.Format(time.RFC3339Nano)},
		}
		if i%2 == 0 {
			rec.ManufacturerData = &model.Payload{RawData: "1020", Timestamp: base.Format(time.RFC3339Nano)}
		}
		out = append(out, rec)
	}
	return out
}

func TestCSVSink_RoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 50} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "beacon_data.csv")
			s := NewCSVSink(path)

			records := sampleRecords(n)
			for _, rec := range records {
				require.NoError(t, s.AppendAndFlush(context.Background(), rec))
			}
			require.NoError(t, s.Flush())

			got, err := ReadCSV(path)
			require.NoError(t, err)
			require.Len(t, got, n)
			for i := range records {
				assert.Equal(t, records[i].DeviceAddress, got[i].DeviceAddress)
				assert.True(t, records[i].Timestamp.Equal(got[i].Timestamp), "row %d timestamp", i)
				assert.Equal(t, records[i].DeviceName, got[i].DeviceName)
				assert.Equal(t, records[i].RSSI, got[i].RSSI)
				assert.Equal(t, records[i].ManufacturerData, got[i].ManufacturerData)
				assert.Equal(t, records[i].SensorData, got[i].SensorData)
			}
		})
	}
}

func TestCSVSink_FlushIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "beacon_data.csv")
	s := NewCSVSink(path)
	for _, rec := range sampleRecords(5) {
		require.NoError(t, s.AppendAndFlush(context.Background(), rec))
	}

	first, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, s.Flush())
	second, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestCSVSink_HeaderAndEmptyPayloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "beacon_data.csv")
	s := NewCSVSink(path)
	rec := model.BeaconDataRecord{
		Timestamp:     time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		DeviceAddress: "AA:BB:CC:DD:EE:FF",
		RSSI:          -70,
	}
	require.NoError(t, s.AppendAndFlush(context.Background(), rec))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "timestamp,device_address,manufacturer_data,sensor_data,device_name,rssi", lines[0])
	assert.Equal(t, "2024-03-01T10:00:00Z,AA:BB:CC:DD:EE:FF,,,,-70", lines[1])

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestCSVSink_FailureKeepsRecord(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "beacon_data.csv")
	// A directory at the table path makes the rename fail.
	require.NoError(t, os.Mkdir(path, 0o755))

	s := NewCSVSink(path)
	recs := sampleRecords(2)

	err := s.AppendAndFlush(context.Background(), recs[0])
	var perr *model.PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, path, perr.Path)
	assert.Equal(t, 1, s.Len())

	require.NoError(t, os.Remove(path))
	require.NoError(t, s.AppendAndFlush(context.Background(), recs[1]))

	got, err := ReadCSV(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, recs[0].DeviceAddress, got[0].DeviceAddress)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestParseCSV_LegacyTable(t *testing.T) {
	table := "timestamp,device_address,manufacturer_data,sensor_data\n" +
		"2024-03-01T10:00:00.123456,AA:BB:CC:DD:EE:FF,\"{'raw_data': '1020', 'timestamp': '2024-03-01T10:00:00.100000'}\",\n"

	got, err := ParseCSV(strings.NewReader(table))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].ManufacturerData)
	assert.Equal(t, "1020", got[0].ManufacturerData.RawData)
	assert.Nil(t, got[0].SensorData)
	assert.Equal(t, 123456000, got[0].Timestamp.Nanosecond())
	assert.Zero(t, got[0].RSSI)
}

func TestParseCSV_Malformed(t *testing.T) {
	_, err := ParseCSV(strings.NewReader("device_address\nAA\n"))
	assert.ErrorContains(t, err, "missing timestamp column")

	_, err = ParseCSV(strings.NewReader("timestamp,device_address\nyesterday,AA\n"))
	assert.ErrorContains(t, err, "invalid timestamp at line 2")

	_, err = ParseCSV(strings.NewReader("timestamp,device_address,sensor_data\n2024-03-01T10:00:00Z,AA,{broken\n"))
	assert.ErrorContains(t, err, "invalid sensor_data at line 2")

	got, err := ParseCSV(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, got)
}

type fakeMirror struct {
	err  error
	seen []string
}

func (m *fakeMirror) Name() string { return "fake" }

func (m *fakeMirror) Mirror(_ context.Context, rec model.BeaconDataRecord) error {
	m.seen = append(m.seen, rec.DeviceAddress)
	return m.err
}

func TestMulti_MirrorFailureDoesNotFailPrimary(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	primary := NewCSVSink(filepath.Join(t.TempDir(), "beacon_data.csv"))
	broken := &fakeMirror{err: errors.New("broker down")}
	healthy := &fakeMirror{}
	m := NewMulti(primary, logger, broken, nil, healthy)

	rec := sampleRecords(1)[0]
	require.NoError(t, m.AppendAndFlush(context.Background(), rec))

	assert.Equal(t, 1, primary.Len())
	assert.Equal(t, []string{rec.DeviceAddress}, broken.seen)
	assert.Equal(t, []string{rec.DeviceAddress}, healthy.seen)
	assert.Contains(t, logs.String(), "broker down")
}
