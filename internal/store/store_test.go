package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beaconscan/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "data", "beacons.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.InitSchema(context.Background()))
	return s
}

func TestInsertAndRecentRecords(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		rec := model.BeaconDataRecord{
			Timestamp:     base.Add(time.Duration(i) * time.Minute),
			DeviceAddress: "AA:BB:CC:DD:EE:FF",
			DeviceName:    "W6",
			RSSI:          -50 - i,
			SensorData:    &model.Payload{RawData: "3040", Timestamp: base.Format(time.RFC3339Nano)},
		}
		require.NoError(t, s.InsertRecord(ctx, rec))
	}

	got, err := s.RecentRecords(ctx, 2, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, -52, got[0].RSSI)
	assert.True(t, got[0].Timestamp.Equal(base.Add(2*time.Minute)))
	assert.Nil(t, got[0].ManufacturerData)
	require.NotNil(t, got[0].SensorData)
	assert.Equal(t, "3040", got[0].SensorData.RawData)

	since := base.Add(30 * time.Second)
	got, err = s.RecentRecords(ctx, 10, &since)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestUpsertDiscoveredBeacon_KeepsFirstSeen(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	first := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	later := first.Add(time.Hour)

	require.NoError(t, s.UpsertDiscoveredBeacon(ctx, model.DeviceRecord{Address: "AA", Name: "W6", RSSI: -40, FirstSeen: first, LastSeen: first}))
	require.NoError(t, s.UpsertDiscoveredBeacon(ctx, model.DeviceRecord{Address: "AA", Name: "W6b", RSSI: -60, FirstSeen: later, LastSeen: later}))
	require.NoError(t, s.UpsertDiscoveredBeacon(ctx, model.DeviceRecord{Address: "BB", Name: "Unknown", RSSI: -70, FirstSeen: first, LastSeen: first}))

	devices, err := s.ListDiscoveredBeacons(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "AA", devices[0].Address)
	assert.Equal(t, "W6b", devices[0].Name)
	assert.Equal(t, -60, devices[0].RSSI)
	assert.True(t, devices[0].FirstSeen.Equal(first))
	assert.True(t, devices[0].LastSeen.Equal(later))
}

func TestJournal(t *testing.T) {
	s := openTestStore(t)
	j := NewJournal(s)
	ctx := context.Background()

	assert.Equal(t, "sqlite", j.Name())
	require.NoError(t, j.Mirror(ctx, model.BeaconDataRecord{DeviceAddress: "AA", Timestamp: time.Now()}))
	require.NoError(t, j.RecordDevices(ctx, []model.DeviceRecord{{Address: "AA"}, {Address: "BB"}}))

	recs, err := s.RecentRecords(ctx, 0, nil)
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	devices, err := s.ListDiscoveredBeacons(ctx)
	require.NoError(t, err)
	assert.Len(t, devices, 2)
	require.NoError(t, s.Ping(ctx))
}

func TestClosedStoreErrors(t *testing.T) {
	s := &Store{}
	assert.Error(t, s.InsertRecord(context.Background(), model.BeaconDataRecord{}))
	assert.NoError(t, s.Close())
}
