package beacon

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beaconscan/internal/model"
)

func TestIsTargetVendor(t *testing.T) {
	tests := []struct {
		name string
		data map[uint16][]byte
		want bool
	}{
		{name: "nil map", data: nil, want: false},
		{name: "empty map", data: map[uint16][]byte{}, want: false},
		{name: "other vendor", data: map[uint16][]byte{0x004C: {0x02, 0x15}}, want: false},
		{name: "target vendor", data: map[uint16][]byte{0x0059: {0x01, 0x02}}, want: true},
		{name: "target vendor empty payload", data: map[uint16][]byte{0x0059: nil}, want: true},
		{name: "mixed vendors", data: map[uint16][]byte{0x004C: {0x01}, 0x0059: {0x02}}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adv := model.Advertisement{Address: "AA:BB:CC:DD:EE:FF", ManufacturerData: tt.data}
			assert.Equal(t, tt.want, IsTargetVendor(adv, DefaultVendorID))
		})
	}
}

func TestIsTargetVendor_AllOtherIDsRejected(t *testing.T) {
	for id := 0; id <= 0xFFFF; id += 0x0101 {
		if uint16(id) == DefaultVendorID {
			continue
		}
		adv := model.Advertisement{ManufacturerData: map[uint16][]byte{uint16(id): {0x00}}}
		require.False(t, IsTargetVendor(adv, DefaultVendorID), "vendor 0x%04x", id)
	}
}

func TestRegistry_FirstSeenWins(t *testing.T) {
	reg := NewRegistry(false)

	assert.True(t, reg.RegisterIfNew(model.Advertisement{Address: "AA:BB:CC:DD:EE:FF", Name: "W6", RSSI: -40}))
	for i := 0; i < 10; i++ {
		assert.False(t, reg.RegisterIfNew(model.Advertisement{Address: "AA:BB:CC:DD:EE:FF", Name: fmt.Sprintf("W6-%d", i), RSSI: -90 + i}))
	}

	require.Equal(t, 1, reg.Len())
	dev, ok := reg.Lookup("AA:BB:CC:DD:EE:FF")
	require.True(t, ok)
	assert.Equal(t, "W6", dev.Name)
	assert.Equal(t, -40, dev.RSSI)
}

func TestRegistry_RefreshPolicy(t *testing.T) {
	reg := NewRegistry(true)
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return first }
	reg.RegisterIfNew(model.Advertisement{Address: "AA", Name: "old", RSSI: -40})

	later := first.Add(time.Minute)
	reg.now = func() time.Time { return later }
	assert.False(t, reg.RegisterIfNew(model.Advertisement{Address: "AA", Name: "new", RSSI: -70}))

	dev, _ := reg.Lookup("AA")
	assert.Equal(t, "new", dev.Name)
	assert.Equal(t, -70, dev.RSSI)
	assert.Equal(t, first, dev.FirstSeen)
	assert.Equal(t, later, dev.LastSeen)
}

func TestRegistry_UnknownNameAndOrder(t *testing.T) {
	reg := NewRegistry(false)
	addrs := []string{"CC", "AA", "BB"}
	for _, a := range addrs {
		reg.RegisterIfNew(model.Advertisement{Address: a, Name: "  "})
	}

	all := reg.All()
	require.Len(t, all, 3)
	for i, dev := range all {
		assert.Equal(t, addrs[i], dev.Address)
		assert.Equal(t, model.UnknownName, dev.Name)
	}

	all[0].Name = "mutated"
	dev, _ := reg.Lookup("CC")
	assert.Equal(t, model.UnknownName, dev.Name)
}
