package ble

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"tinygo.org/x/bluetooth"

	"beaconscan/internal/model"
)

const maxAttributeLength = 512

// Bluetooth implements Transport on top of the host adapter.
type Bluetooth struct {
	adapter *bluetooth.Adapter
	logger  *slog.Logger

	mu      sync.Mutex
	active  bool
	handler func(model.Advertisement)
	seen    map[string]bluetooth.Address
}

// NewBluetooth enables the default adapter.
func NewBluetooth(logger *slog.Logger) (*Bluetooth, error) {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("enable bluetooth adapter: %w", err)
	}
	return &Bluetooth{
		adapter: adapter,
		logger:  logger,
		seen:    make(map[string]bluetooth.Address),
	}, nil
}

// Scan implements Scanner.
func (b *Bluetooth) Scan(ctx context.Context, handler func(model.Advertisement)) error {
	b.mu.Lock()
	b.active = true
	b.handler = handler
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.active = false
		b.handler = nil
		b.mu.Unlock()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- b.adapter.Scan(b.onScanResult)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		return fmt.Errorf("scan ended before the window closed")
	case <-ctx.Done():
	}

	if err := b.adapter.StopScan(); err != nil {
		return fmt.Errorf("stop scan: %w", err)
	}
	if err := <-errCh; err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	return nil
}

func (b *Bluetooth) onScanResult(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
	address := result.Address.String()

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.active {
		return
	}
	b.seen[address] = result.Address

	var data map[uint16][]byte
	if elems := result.ManufacturerData(); len(elems) > 0 {
		data = make(map[uint16][]byte, len(elems))
		for _, el := range elems {
			data[el.CompanyID] = append([]byte(nil), el.Data...)
		}
	}

	b.handler(model.Advertisement{
		Address:          address,
		Name:             result.LocalName(),
		RSSI:             int(result.RSSI),
		ManufacturerData: data,
	})
}

// Connect implements Connector. Only addresses observed by a previous scan can
// be connected to.
func (b *Bluetooth) Connect(ctx context.Context, address string) (Conn, error) {
	b.mu.Lock()
	addr, ok := b.seen[address]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("address %s not seen in any scan", address)
	}

	dev, err := await(ctx, func() (bluetooth.Device, error) {
		return b.adapter.Connect(addr, bluetooth.ConnectionParams{})
	}, func(d bluetooth.Device) {
		_ = d.Disconnect()
	})
	if err != nil {
		return nil, err
	}

	return &bluetoothConn{device: dev, logger: b.logger.With("address", address)}, nil
}

type bluetoothConn struct {
	device bluetooth.Device
	logger *slog.Logger

	discovered bool
	services   []Service
	chars      map[string]bluetooth.DeviceCharacteristic
}

func (c *bluetoothConn) discover(ctx context.Context) error {
	if c.discovered {
		return nil
	}

	svcs, err := await(ctx, func() ([]bluetooth.DeviceService, error) {
		return c.device.DiscoverServices(nil)
	}, nil)
	if err != nil {
		return fmt.Errorf("discover services: %w", err)
	}

	c.chars = make(map[string]bluetooth.DeviceCharacteristic)
	c.services = c.services[:0]
	for _, svc := range svcs {
		svc := svc
		chars, err := await(ctx, func() ([]bluetooth.DeviceCharacteristic, error) {
			return svc.DiscoverCharacteristics(nil)
		}, nil)
		if err != nil {
			c.logger.Warn("discover characteristics failed", "service", svc.UUID().String(), "error", err)
			continue
		}

		entry := Service{UUID: strings.ToLower(svc.UUID().String())}
		for _, ch := range chars {
			id := strings.ToLower(ch.UUID().String())
			entry.Characteristics = append(entry.Characteristics, id)
			if _, dup := c.chars[id]; !dup {
				c.chars[id] = ch
			}
		}
		c.services = append(c.services, entry)
	}

	c.discovered = true
	return nil
}

func (c *bluetoothConn) Read(ctx context.Context, characteristic string) ([]byte, error) {
	if err := c.discover(ctx); err != nil {
		return nil, err
	}

	ch, ok := c.chars[strings.ToLower(characteristic)]
	if !ok {
		return nil, ErrCharacteristicNotFound
	}

	return await(ctx, func() ([]byte, error) {
		buf := make([]byte, maxAttributeLength)
		n, err := ch.Read(buf)
		if err != nil {
			return nil, err
		}
		return buf[:n], nil
	}, nil)
}

func (c *bluetoothConn) Services(ctx context.Context) ([]Service, error) {
	if err := c.discover(ctx); err != nil {
		return nil, err
	}
	out := make([]Service, len(c.services))
	copy(out, c.services)
	return out, nil
}

func (c *bluetoothConn) Close() error {
	return c.device.Disconnect()
}
