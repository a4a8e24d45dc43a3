package beacon

import (
	"strings"
	"time"

	"beaconscan/internal/model"
)

// Registry maps discovered addresses to their metadata in registration order.
// It is owned by a single orchestrator and is not safe for concurrent use.
type Registry struct {
	refresh bool
	now     func() time.Time
	index   map[string]int
	devices []model.DeviceRecord
}

// NewRegistry builds an empty registry. With refresh set, rediscovering a known
// address updates its name and signal strength instead of keeping the first sighting.
func NewRegistry(refresh bool) *Registry {
	return &Registry{
		refresh: refresh,
		now:     func() time.Time { return time.Now().UTC() },
		index:   make(map[string]int),
	}
}

// RegisterIfNew records the advertisement's device if its address is unknown
// and reports whether a new entry was created.
func (r *Registry) RegisterIfNew(adv model.Advertisement) bool {
	now := r.now()

	if i, ok := r.index[adv.Address]; ok {
		if r.refresh {
			r.devices[i].Name = displayName(adv.Name)
			r.devices[i].RSSI = adv.RSSI
			r.devices[i].LastSeen = now
		}
		return false
	}

	r.index[adv.Address] = len(r.devices)
	r.devices = append(r.devices, model.DeviceRecord{
		Address:   adv.Address,
		Name:      displayName(adv.Name),
		RSSI:      adv.RSSI,
		FirstSeen: now,
		LastSeen:  now,
	})
	return true
}

// Lookup returns the entry for address.
func (r *Registry) Lookup(address string) (model.DeviceRecord, bool) {
	i, ok := r.index[address]
	if !ok {
		return model.DeviceRecord{}, false
	}
	return r.devices[i], true
}

// All returns a snapshot of every registered device in registration order.
func (r *Registry) All() []model.DeviceRecord {
	out := make([]model.DeviceRecord, len(r.devices))
	copy(out, r.devices)
	return out
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	return len(r.devices)
}

func displayName(name string) string {
	if strings.TrimSpace(name) == "" {
		return model.UnknownName
	}
	return name
}
