// Package scanner runs the discover → connect → read → persist loop.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"beaconscan/internal/beacon"
	"beaconscan/internal/ble"
	"beaconscan/internal/gatt"
	"beaconscan/internal/model"
	"beaconscan/internal/record"
	"beaconscan/internal/sink"
)

const (
	DefaultScanWindow     = 5 * time.Second
	DefaultCycleInterval  = 1 * time.Second
	DefaultConnectTimeout = 10 * time.Second
)

// Outcome is the terminal state of one device visit.
type Outcome string

const (
	OutcomePersisted     Outcome = "persisted"
	OutcomeFailed        Outcome = "failed"
	OutcomePersistFailed Outcome = "persist_failed"
)

// DeviceCatalog receives the registry snapshot after each discovery window.
type DeviceCatalog interface {
	RecordDevices(ctx context.Context, devices []model.DeviceRecord) error
}

// DeviceOutcome describes how one device visit ended.
type DeviceOutcome struct {
	Address string
	Outcome Outcome
	// Partial is set when a record was built with at least one reading missing.
	Partial bool
	Err     error
}

// CycleReport summarizes one scan cycle.
type CycleReport struct {
	NewDevices int
	Outcomes   []DeviceOutcome
	Err        error
}

// Count returns how many devices ended in o.
func (r CycleReport) Count(o Outcome) int {
	n := 0
	for _, out := range r.Outcomes {
		if out.Outcome == o {
			n++
		}
	}
	return n
}

// Config wires an Orchestrator.
type Config struct {
	Transport ble.Transport
	Registry  *beacon.Registry
	Reader    *gatt.Reader
	Builder   *record.Builder
	Sink      sink.Sink
	Catalog   DeviceCatalog

	VendorID       uint16
	ScanWindow     time.Duration
	CycleInterval  time.Duration
	ConnectTimeout time.Duration
}

// Orchestrator owns the registry and drives scan cycles. Devices are visited
// one at a time from the goroutine calling Run or RunCycle.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger
}

// New builds an Orchestrator, filling in defaults for unset fields.
func New(cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.Registry == nil {
		cfg.Registry = beacon.NewRegistry(false)
	}
	if cfg.Reader == nil {
		cfg.Reader = gatt.NewReader(gatt.Options{}, logger)
	}
	if cfg.Builder == nil {
		cfg.Builder = record.NewBuilder(nil)
	}
	if cfg.VendorID == 0 {
		cfg.VendorID = beacon.DefaultVendorID
	}
	if cfg.ScanWindow <= 0 {
		cfg.ScanWindow = DefaultScanWindow
	}
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = DefaultCycleInterval
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	return &Orchestrator{cfg: cfg, logger: logger}
}

// Registry exposes the registry the orchestrator fills.
func (o *Orchestrator) Registry() *beacon.Registry {
	return o.cfg.Registry
}

// Run repeats scan cycles until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("beacon scanner started",
		"vendor_id", fmt.Sprintf("0x%04x", o.cfg.VendorID),
		"scan_window", o.cfg.ScanWindow,
		"cycle_interval", o.cfg.CycleInterval)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		report := o.RunCycle(ctx)
		o.logger.Info("scan cycle finished",
			"new_devices", report.NewDevices,
			"devices", len(report.Outcomes),
			"persisted", report.Count(OutcomePersisted),
			"failed", report.Count(OutcomeFailed),
			"persist_failed", report.Count(OutcomePersistFailed))

		timer.Reset(o.cfg.CycleInterval)
	}
}

// RunCycle performs one discovery window followed by a sequential visit of
// every registered device. Failures are logged and never abort the cycle.
func (o *Orchestrator) RunCycle(ctx context.Context) CycleReport {
	var report CycleReport

	if err := o.discover(ctx, &report); err != nil {
		report.Err = &model.DiscoveryError{Err: err}
		o.logger.Error("scanning failed", "error", err)
		return report
	}
	if ctx.Err() != nil {
		return report
	}

	devices := o.cfg.Registry.All()
	if o.cfg.Catalog != nil && len(devices) > 0 {
		if err := o.cfg.Catalog.RecordDevices(ctx, devices); err != nil {
			o.logger.Warn("record discovered devices failed", "error", err)
		}
	}

	for _, dev := range devices {
		if ctx.Err() != nil {
			break
		}
		report.Outcomes = append(report.Outcomes, o.visit(ctx, dev))
	}

	return report
}

func (o *Orchestrator) discover(ctx context.Context, report *CycleReport) error {
	o.logger.Debug("scan window opened", "duration", o.cfg.ScanWindow)

	scanCtx, cancel := context.WithTimeout(ctx, o.cfg.ScanWindow)
	defer cancel()

	err := o.cfg.Transport.Scan(scanCtx, func(adv model.Advertisement) {
		if !beacon.IsTargetVendor(adv, o.cfg.VendorID) {
			return
		}
		if o.cfg.Registry.RegisterIfNew(adv) {
			report.NewDevices++
			o.logger.Info("found beacon", "address", adv.Address, "name", adv.Name, "rssi", adv.RSSI)
		}
	})
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return err
	}

	o.logger.Debug("scan window closed", "registered", o.cfg.Registry.Len())
	return nil
}

func (o *Orchestrator) visit(ctx context.Context, dev model.DeviceRecord) (out DeviceOutcome) {
	out.Address = dev.Address
	logger := o.logger.With("address", dev.Address)

	defer func() {
		if r := recover(); r != nil {
			out.Outcome = OutcomeFailed
			out.Err = fmt.Errorf("device visit panicked: %v", r)
			logger.Error("device visit aborted", "error", out.Err)
		}
	}()

	connCtx, cancel := context.WithTimeout(ctx, o.cfg.ConnectTimeout)
	conn, err := o.cfg.Transport.Connect(connCtx, dev.Address)
	cancel()
	if err != nil {
		out.Outcome = OutcomeFailed
		out.Err = &model.ConnectionError{Address: dev.Address, Err: err}
		logger.Error("failed to connect", "error", err)
		return out
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			logger.Warn("disconnect failed", "error", cerr)
		}
	}()
	logger.Info("connected")

	pair := o.cfg.Reader.ReadPair(ctx, conn)
	for _, rerr := range []error{pair.ManufacturerErr, pair.SensorErr} {
		if rerr == nil {
			continue
		}
		var readErr *model.ReadError
		if errors.As(rerr, &readErr) {
			logger.Error("characteristic read failed", "characteristic", readErr.Characteristic, "error", readErr.Err)
		} else {
			logger.Error("characteristic read failed", "error", rerr)
		}
	}

	rec := o.cfg.Builder.Build(dev, pair.Manufacturer, pair.Sensor)
	out.Partial = pair.Manufacturer == nil || pair.Sensor == nil
	if pair.Manufacturer != nil {
		logger.Info("manufacturer data", "raw", rec.ManufacturerData.RawData)
	}
	if pair.Sensor != nil {
		logger.Info("sensor data", "raw", rec.SensorData.RawData)
	}

	if err := o.cfg.Sink.AppendAndFlush(ctx, rec); err != nil {
		out.Outcome = OutcomePersistFailed
		out.Err = err
		logger.Error("failed to persist record", "error", err)
		return out
	}

	out.Outcome = OutcomePersisted
	logger.Debug("record persisted")
	return out
}
