package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"beaconscan/internal/beacon"
	"beaconscan/internal/ble"
	"beaconscan/internal/gatt"
	"beaconscan/internal/publish"
	"beaconscan/internal/record"
	"beaconscan/internal/scanner"
	"beaconscan/internal/sink"
)

func main() {
	devices := flag.Int("devices", 3, "Number of simulated beacons")
	vendorID := flag.Uint("vendor-id", uint(beacon.DefaultVendorID), "Manufacturer company identifier the beacons advertise")
	baseRSSI := flag.Int("base-rssi", -60, "Baseline RSSI value to simulate")
	rssiJitter := flag.Int("rssi-jitter", 6, "Maximum random jitter applied to RSSI readings")
	failureRate := flag.Float64("failure-rate", 0.1, "Probability that a connect or read fails")
	output := flag.String("output", sink.DefaultPath, "Table file to write")
	scanWindow := flag.Duration("scan-window", 2*time.Second, "Length of each discovery window")
	interval := flag.Duration("interval", time.Second, "Pause between scan cycles")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	brokerAddr := flag.String("broker", "", "Optional MQTT broker to mirror records to, e.g. tcp://localhost:1883")
	verbose := flag.Bool("v", false, "Log at debug level")

	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	if *vendorID > 0xFFFF {
		logger.Error("vendor id out of range", "vendor_id", *vendorID)
		os.Exit(2)
	}

	sim := ble.NewSim(
		ble.DefaultSimDevices(*devices, uint16(*vendorID), gatt.ManufacturerCharacteristic, gatt.SensorCharacteristic),
		ble.SimOptions{
			BaseRSSI:    *baseRSSI,
			RSSIJitter:  *rssiJitter,
			FailureRate: *failureRate,
			Seed:        *seed,
		},
	)

	var mirrors []sink.Mirror
	if *brokerAddr != "" {
		publisher, err := publish.Dial(*brokerAddr, "beacons", logger)
		if err != nil {
			logger.Error("failed to connect to broker", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		mirrors = append(mirrors, publisher)
	}

	csvSink := sink.NewCSVSink(*output)
	orchestrator := scanner.New(scanner.Config{
		Transport:     sim,
		Reader:        gatt.NewReader(gatt.Options{Timeout: time.Second}, logger),
		Builder:       record.NewBuilder(gatt.HexDecoder),
		Sink:          sink.NewMulti(csvSink, logger, mirrors...),
		VendorID:      uint16(*vendorID),
		ScanWindow:    *scanWindow,
		CycleInterval: *interval,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("simulating beacons", "devices", *devices, "output", csvSink.Path(), "seed", *seed)
	if err := orchestrator.Run(ctx); err != nil {
		logger.Error("simulation terminated", "error", err)
		os.Exit(1)
	}
	logger.Info("received shutdown signal", "records", csvSink.Len())
}
