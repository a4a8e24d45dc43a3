// Package gatt reads characteristic values from connected beacons.
package gatt

import (
	"context"
	"encoding/hex"
	"log/slog"
	"time"

	"beaconscan/internal/ble"
	"beaconscan/internal/model"
)

// Characteristic identifiers read from every beacon.
const (
	ManufacturerCharacteristic = "0000180a-0000-1000-8000-00805f9b34fb"
	SensorCharacteristic       = "0000180f-0000-1000-8000-00805f9b34fb"
)

// Options configure a Reader.
type Options struct {
	Manufacturer string
	Sensor       string
	Timeout      time.Duration
	// DumpAll logs every readable characteristic before the two fixed reads.
	DumpAll bool
}

// Reader issues characteristic reads against an open connection.
type Reader struct {
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// NewReader builds a Reader, filling in the default characteristic identifiers.
func NewReader(opts Options, logger *slog.Logger) *Reader {
	if opts.Manufacturer == "" {
		opts.Manufacturer = ManufacturerCharacteristic
	}
	if opts.Sensor == "" {
		opts.Sensor = SensorCharacteristic
	}
	return &Reader{
		opts:   opts,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Read reads one characteristic. Failures are reported as *model.ReadError.
func (r *Reader) Read(ctx context.Context, conn ble.Conn, characteristic string) (model.CharacteristicReading, error) {
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	raw, err := conn.Read(ctx, characteristic)
	if err != nil {
		return model.CharacteristicReading{}, &model.ReadError{Characteristic: characteristic, Err: err}
	}

	return model.CharacteristicReading{
		Characteristic: characteristic,
		Raw:            raw,
		CapturedAt:     r.now(),
	}, nil
}

// Pair holds the outcome of the two fixed reads. A nil reading means the
// matching read failed and its error is set.
type Pair struct {
	Manufacturer    *model.CharacteristicReading
	Sensor          *model.CharacteristicReading
	ManufacturerErr error
	SensorErr       error
}

// ReadPair issues the manufacturer and sensor reads. A failure on one side
// never prevents the other read.
func (r *Reader) ReadPair(ctx context.Context, conn ble.Conn) Pair {
	if r.opts.DumpAll {
		r.dump(ctx, conn)
	}

	var p Pair
	if reading, err := r.Read(ctx, conn, r.opts.Manufacturer); err != nil {
		p.ManufacturerErr = err
	} else {
		p.Manufacturer = &reading
	}
	if reading, err := r.Read(ctx, conn, r.opts.Sensor); err != nil {
		p.SensorErr = err
	} else {
		p.Sensor = &reading
	}
	return p
}

func (r *Reader) dump(ctx context.Context, conn ble.Conn) {
	services, err := conn.Services(ctx)
	if err != nil {
		r.logger.Error("list services failed", "error", err)
		return
	}

	for _, svc := range services {
		r.logger.Info("service", "uuid", svc.UUID)
		for _, id := range svc.Characteristics {
			reading, err := r.Read(ctx, conn, id)
			if err != nil {
				r.logger.Warn("characteristic unreadable", "characteristic", id, "error", err)
				continue
			}
			r.logger.Info("characteristic", "characteristic", id, "value", hex.EncodeToString(reading.Raw))
		}
	}
}
