package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"beaconscan/internal/ble"
)

// Config lists the tunable parameters for the beacon scanner and viewer.
type Config struct {
	OutputPath           string
	VendorID             uint16
	ManufacturerChar     string
	SensorChar           string
	ScanWindow           time.Duration
	CycleInterval        time.Duration
	ConnectTimeout       time.Duration
	ReadTimeout          time.Duration
	DumpAll              bool
	RefreshOnRediscovery bool
	Transport            string
	DatabasePath         string
	MQTTBroker           string
	MQTTTopicPrefix      string
	HTTPPort             int
	MDNS                 bool
	ViewerInterval       time.Duration
	LogLevel             string
}

const (
	TransportBluetooth = "bluetooth"
	TransportSim       = "sim"
)

const (
	defaultOutputPath       = "beacon_data.csv"
	defaultVendorID         = 0x0059
	defaultManufacturerChar = "0000180a-0000-1000-8000-00805f9b34fb"
	defaultSensorChar       = "0000180f-0000-1000-8000-00805f9b34fb"
	defaultScanWindow       = 5 * time.Second
	defaultCycleInterval    = 1 * time.Second
	defaultConnectTimeout   = 10 * time.Second
	defaultReadTimeout      = 5 * time.Second
	defaultMQTTTopicPrefix  = "beacons"
	defaultViewerInterval   = 1 * time.Second
	defaultLogLevel         = "info"
)

// Load reads an optional .env file, then derives configuration values from
// environment variables, falling back to defaults. Variables already set in
// the environment win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		OutputPath:       defaultOutputPath,
		VendorID:         defaultVendorID,
		ManufacturerChar: defaultManufacturerChar,
		SensorChar:       defaultSensorChar,
		ScanWindow:       defaultScanWindow,
		CycleInterval:    defaultCycleInterval,
		ConnectTimeout:   defaultConnectTimeout,
		ReadTimeout:      defaultReadTimeout,
		Transport:        TransportBluetooth,
		MQTTTopicPrefix:  defaultMQTTTopicPrefix,
		ViewerInterval:   defaultViewerInterval,
		LogLevel:         defaultLogLevel,
	}

	if v := os.Getenv("BEACONSCAN_OUTPUT_PATH"); v != "" {
		cfg.OutputPath = v
	}

	if v := os.Getenv("BEACONSCAN_VENDOR_ID"); v != "" {
		id, err := strconv.ParseUint(v, 0, 16)
		if err != nil {
			return Config{}, fmt.Errorf("invalid BEACONSCAN_VENDOR_ID: %w", err)
		}
		cfg.VendorID = uint16(id)
	}

	if v := os.Getenv("BEACONSCAN_MANUFACTURER_CHAR"); v != "" {
		cfg.ManufacturerChar = v
	}
	if v := os.Getenv("BEACONSCAN_SENSOR_CHAR"); v != "" {
		cfg.SensorChar = v
	}

	var err error
	if cfg.ManufacturerChar, err = ble.NormalizeUUID(cfg.ManufacturerChar); err != nil {
		return Config{}, fmt.Errorf("invalid BEACONSCAN_MANUFACTURER_CHAR: %w", err)
	}
	if cfg.SensorChar, err = ble.NormalizeUUID(cfg.SensorChar); err != nil {
		return Config{}, fmt.Errorf("invalid BEACONSCAN_SENSOR_CHAR: %w", err)
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"BEACONSCAN_SCAN_WINDOW", &cfg.ScanWindow},
		{"BEACONSCAN_CYCLE_INTERVAL", &cfg.CycleInterval},
		{"BEACONSCAN_CONNECT_TIMEOUT", &cfg.ConnectTimeout},
		{"BEACONSCAN_READ_TIMEOUT", &cfg.ReadTimeout},
		{"BEACONSCAN_VIEWER_INTERVAL", &cfg.ViewerInterval},
	}
	for _, d := range durations {
		v := os.Getenv(d.name)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", d.name, err)
		}
		if parsed <= 0 {
			return Config{}, fmt.Errorf("invalid %s: must be positive", d.name)
		}
		*d.dst = parsed
	}

	flags := []struct {
		name string
		dst  *bool
	}{
		{"BEACONSCAN_DUMP_ALL", &cfg.DumpAll},
		{"BEACONSCAN_REFRESH_ON_REDISCOVERY", &cfg.RefreshOnRediscovery},
		{"BEACONSCAN_MDNS", &cfg.MDNS},
	}
	for _, f := range flags {
		v := os.Getenv(f.name)
		if v == "" {
			continue
		}
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", f.name, err)
		}
		*f.dst = parsed
	}

	if v := os.Getenv("BEACONSCAN_TRANSPORT"); v != "" {
		switch t := strings.ToLower(strings.TrimSpace(v)); t {
		case TransportBluetooth, TransportSim:
			cfg.Transport = t
		default:
			return Config{}, fmt.Errorf("invalid BEACONSCAN_TRANSPORT: %q", v)
		}
	}

	if v := os.Getenv("BEACONSCAN_DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}

	if v := os.Getenv("BEACONSCAN_MQTT_BROKER"); v != "" {
		cfg.MQTTBroker = v
	}

	if v := os.Getenv("BEACONSCAN_MQTT_TOPIC_PREFIX"); v != "" {
		cfg.MQTTTopicPrefix = v
	}

	if v := os.Getenv("BEACONSCAN_HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid BEACONSCAN_HTTP_PORT: %w", err)
		}
		if port < 0 || port > 65535 {
			return Config{}, fmt.Errorf("invalid BEACONSCAN_HTTP_PORT: %d out of range", port)
		}
		cfg.HTTPPort = port
	}

	if v := os.Getenv("BEACONSCAN_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg, nil
}
