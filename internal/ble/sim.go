package ble

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"beaconscan/internal/model"
)

var errSimulatedFailure = errors.New("simulated radio failure")

// SimDevice is one beacon advertised by the simulator.
type SimDevice struct {
	Address  string
	Name     string
	VendorID uint16
	// Values holds fixed characteristic values keyed by UUID. Characteristics
	// not listed here but present in Characteristics return random bytes.
	Values          map[string][]byte
	Characteristics []string
}

// SimOptions tune the simulated radio.
type SimOptions struct {
	BaseRSSI    int
	RSSIJitter  int
	FailureRate float64
	Seed        int64
}

// Sim is an in-process Transport that needs no radio. It is used by the
// beacon-sim tool and for running the scanner on machines without Bluetooth.
type Sim struct {
	devices []SimDevice
	opts    SimOptions
	rnd     *rand.Rand
}

// NewSim returns a simulator advertising devices.
func NewSim(devices []SimDevice, opts SimOptions) *Sim {
	return &Sim{devices: devices, opts: opts, rnd: rand.New(rand.NewSource(opts.Seed))}
}

// DefaultSimDevices builds n beacons of vendor that expose the given characteristics.
func DefaultSimDevices(n int, vendor uint16, characteristics ...string) []SimDevice {
	out := make([]SimDevice, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, SimDevice{
			Address:         fmt.Sprintf("C0:FF:EE:00:%02X:%02X", i/256, i%256),
			Name:            fmt.Sprintf("sim-beacon-%d", i+1),
			VendorID:        vendor,
			Characteristics: characteristics,
		})
	}
	return out
}

// Scan advertises every simulated device once, followed by one non-matching
// neighbour, then holds the window open until ctx is done.
func (s *Sim) Scan(ctx context.Context, handler func(model.Advertisement)) error {
	for _, d := range s.devices {
		handler(model.Advertisement{
			Address:          d.Address,
			Name:             d.Name,
			RSSI:             s.rssi(),
			ManufacturerData: map[uint16][]byte{d.VendorID: {0x01, byte(s.rnd.Intn(256))}},
		})
	}
	handler(model.Advertisement{
		Address:          "DE:AD:BE:EF:00:00",
		RSSI:             s.rssi(),
		ManufacturerData: map[uint16][]byte{0x004C: {0x02, 0x15}},
	})

	<-ctx.Done()
	return nil
}

// Connect implements Connector.
func (s *Sim) Connect(ctx context.Context, address string) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for i := range s.devices {
		if s.devices[i].Address != address {
			continue
		}
		if s.fail() {
			return nil, errSimulatedFailure
		}
		return &simConn{sim: s, dev: &s.devices[i]}, nil
	}
	return nil, fmt.Errorf("no simulated device at %s", address)
}

func (s *Sim) rssi() int {
	if s.opts.RSSIJitter <= 0 {
		return s.opts.BaseRSSI
	}
	return s.opts.BaseRSSI + s.rnd.Intn(s.opts.RSSIJitter*2+1) - s.opts.RSSIJitter
}

func (s *Sim) fail() bool {
	return s.opts.FailureRate > 0 && s.rnd.Float64() < s.opts.FailureRate
}

type simConn struct {
	sim    *Sim
	dev    *SimDevice
	closed bool
}

func (c *simConn) Read(ctx context.Context, characteristic string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.closed {
		return nil, errors.New("connection closed")
	}

	id := strings.ToLower(characteristic)
	if v, ok := c.dev.Values[id]; ok {
		return append([]byte(nil), v...), nil
	}
	for _, ch := range c.dev.Characteristics {
		if strings.EqualFold(ch, id) {
			if c.sim.fail() {
				return nil, errSimulatedFailure
			}
			buf := make([]byte, 4)
			c.sim.rnd.Read(buf)
			return buf, nil
		}
	}
	return nil, ErrCharacteristicNotFound
}

func (c *simConn) Services(ctx context.Context) ([]Service, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids := append([]string(nil), c.dev.Characteristics...)
	for id := range c.dev.Values {
		ids = append(ids, id)
	}
	return []Service{{UUID: "0000fff0-0000-1000-8000-00805f9b34fb", Characteristics: ids}}, nil
}

func (c *simConn) Close() error {
	c.closed = true
	return nil
}
