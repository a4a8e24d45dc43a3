package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/grandcat/zeroconf"

	"beaconscan/internal/beacon"
	"beaconscan/internal/ble"
	"beaconscan/internal/config"
	"beaconscan/internal/gatt"
	"beaconscan/internal/model"
	"beaconscan/internal/publish"
	"beaconscan/internal/record"
	"beaconscan/internal/scanner"
	"beaconscan/internal/sink"
	"beaconscan/internal/store"
)

const simDeviceCount = 3

// App wires together the scanner services and manages their lifecycle.
type App struct {
	cfg    config.Config
	logger *slog.Logger
	store  *store.Store
	mdns   *zeroconf.Server
	ready  atomic.Bool

	// newTransport is replaced in tests.
	newTransport func() (ble.Transport, error)
}

// New constructs a new application instance.
func New(cfg config.Config, logger *slog.Logger) *App {
	a := &App{cfg: cfg, logger: logger}
	a.newTransport = a.defaultTransport
	return a
}

// Run starts the scan loop and any configured side services, blocking until
// the context is cancelled or an error occurs.
func (a *App) Run(ctx context.Context) error {
	transport, err := a.newTransport()
	if err != nil {
		return err
	}

	csvSink := sink.NewCSVSink(a.cfg.OutputPath)
	var (
		mirrors []sink.Mirror
		catalog scanner.DeviceCatalog
	)

	if a.cfg.DatabasePath != "" {
		db, err := store.Open(a.cfg.DatabasePath)
		if err != nil {
			return err
		}
		a.store = db

		defer func() {
			if cerr := a.store.Close(); cerr != nil {
				a.logger.Error("close store", "error", cerr)
			}
		}()

		if err := a.store.InitSchema(ctx); err != nil {
			return err
		}

		journal := store.NewJournal(db)
		mirrors = append(mirrors, journal)
		catalog = journal
		a.logger.Info("sqlite journal enabled", "path", a.cfg.DatabasePath)
	}

	if a.cfg.MQTTBroker != "" {
		publisher, err := publish.Dial(a.cfg.MQTTBroker, a.cfg.MQTTTopicPrefix, a.logger)
		if err != nil {
			return err
		}
		defer publisher.Close()
		mirrors = append(mirrors, publisher)
	}

	orchestrator := scanner.New(scanner.Config{
		Transport: transport,
		Registry:  beacon.NewRegistry(a.cfg.RefreshOnRediscovery),
		Reader: gatt.NewReader(gatt.Options{
			Manufacturer: a.cfg.ManufacturerChar,
			Sensor:       a.cfg.SensorChar,
			Timeout:      a.cfg.ReadTimeout,
			DumpAll:      a.cfg.DumpAll,
		}, a.logger),
		Builder:        record.NewBuilder(gatt.HexDecoder),
		Sink:           sink.NewMulti(csvSink, a.logger, mirrors...),
		Catalog:        catalog,
		VendorID:       a.cfg.VendorID,
		ScanWindow:     a.cfg.ScanWindow,
		CycleInterval:  a.cfg.CycleInterval,
		ConnectTimeout: a.cfg.ConnectTimeout,
	}, a.logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	scanErrCh := make(chan error, 1)
	go func() {
		scanErrCh <- orchestrator.Run(runCtx)
	}()
	a.ready.Store(true)

	if a.cfg.HTTPPort <= 0 {
		err := <-scanErrCh
		a.logger.Info("beacon scanner stopped", "records", csvSink.Len(), "devices", orchestrator.Registry().Len())
		return err
	}

	httpErrCh := make(chan error, 1)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.HTTPPort),
		Handler: a.routes(),
	}

	go func() {
		a.logger.Info("http server started", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if a.cfg.MDNS {
		if err := a.startMDNS(a.cfg.HTTPPort); err != nil {
			a.logger.Warn("mDNS advertisement failed", "error", err)
		}
		defer a.stopMDNS()
	}

	select {
	case err := <-httpErrCh:
		cancel()
		<-scanErrCh
		return err
	case err := <-scanErrCh:
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if serr := httpServer.Shutdown(shutdownCtx); serr != nil {
			return fmt.Errorf("http server shutdown: %w", serr)
		}
		a.logger.Info("http server stopped")
		a.logger.Info("beacon scanner stopped", "records", csvSink.Len(), "devices", orchestrator.Registry().Len())
		return err
	}
}

func (a *App) defaultTransport() (ble.Transport, error) {
	switch a.cfg.Transport {
	case config.TransportSim:
		a.logger.Info("using simulated bluetooth transport", "devices", simDeviceCount)
		devices := ble.DefaultSimDevices(simDeviceCount, a.cfg.VendorID, a.cfg.ManufacturerChar, a.cfg.SensorChar)
		return ble.NewSim(devices, ble.SimOptions{
			BaseRSSI:   -60,
			RSSIJitter: 8,
			Seed:       time.Now().UnixNano(),
		}), nil
	default:
		bt, err := ble.NewBluetooth(a.logger)
		if err != nil {
			return nil, err
		}
		return bt, nil
	}
}

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.HandleFunc("/readyz", a.handleReadyz)
	mux.HandleFunc("/api/devices", a.handleDevices)
	mux.HandleFunc("/api/records", a.handleRecentRecords)
	mux.HandleFunc("/api/export", a.handleExport)
	return mux
}

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (a *App) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !a.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"starting"}`))
		return
	}
	if a.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.store.Ping(ctx); err != nil {
			a.logger.Warn("readiness: store ping failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"degraded"}`))
			return
		}
	}
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

// handleDevices lists known devices from the journal, or derives them from the
// table file when no journal is configured.
func (a *App) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	var (
		devices []model.DeviceRecord
		err     error
	)
	if a.store != nil {
		devices, err = a.store.ListDiscoveredBeacons(ctx)
	} else {
		var records []model.BeaconDataRecord
		records, err = a.readTable()
		devices = devicesFromRecords(records)
	}
	if err != nil {
		a.logger.Error("failed to load devices", "error", err)
		http.Error(w, "failed to load devices", http.StatusInternalServerError)
		return
	}
	if devices == nil {
		devices = []model.DeviceRecord{}
	}

	response := struct {
		Devices []model.DeviceRecord `json:"devices"`
	}{Devices: devices}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		a.logger.Error("failed to encode devices response", "error", err)
	}
}

func (a *App) handleRecentRecords(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var sinceOpt *time.Time
	if since := r.URL.Query().Get("since"); since != "" {
		if ts, err := time.Parse(time.RFC3339Nano, since); err == nil {
			sinceOpt = &ts
		} else if ts, err := time.Parse(time.RFC3339, since); err == nil {
			sinceOpt = &ts
		}
	}

	limit := 25
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			if parsed > 0 && parsed <= 500 {
				limit = parsed
			}
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	var (
		records []model.BeaconDataRecord
		err     error
	)
	if a.store != nil {
		records, err = a.store.RecentRecords(ctx, limit, sinceOpt)
	} else {
		records, err = a.readTable()
		records = latestRecords(records, limit, sinceOpt)
	}
	if err != nil {
		a.logger.Error("failed to load recent records", "error", err)
		http.Error(w, "failed to load records", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []model.BeaconDataRecord{}
	}

	response := struct {
		Records []model.BeaconDataRecord `json:"records"`
	}{Records: records}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		a.logger.Error("failed to encode records response", "error", err)
	}
}

// handleExport serves the table file as written by the sink.
func (a *App) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data, err := os.ReadFile(a.tablePath())
	if errors.Is(err, fs.ErrNotExist) {
		http.Error(w, "no records yet", http.StatusNotFound)
		return
	}
	if err != nil {
		a.logger.Error("export: failed to read table", "error", err)
		http.Error(w, "failed to read table", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filepath.Base(a.tablePath())))
	_, _ = w.Write(data)
}

func (a *App) tablePath() string {
	if a.cfg.OutputPath == "" {
		return sink.DefaultPath
	}
	return a.cfg.OutputPath
}

// readTable loads the table file; a missing file is an empty table.
func (a *App) readTable() ([]model.BeaconDataRecord, error) {
	records, err := sink.ReadCSV(a.tablePath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return records, err
}

// latestRecords returns up to limit records newer than since, newest first.
func latestRecords(records []model.BeaconDataRecord, limit int, since *time.Time) []model.BeaconDataRecord {
	out := make([]model.BeaconDataRecord, 0, limit)
	for i := len(records) - 1; i >= 0 && len(out) < limit; i-- {
		if since != nil && !records[i].Timestamp.After(*since) {
			continue
		}
		out = append(out, records[i])
	}
	return out
}

// devicesFromRecords collapses a table into one entry per address, most
// recently seen first.
func devicesFromRecords(records []model.BeaconDataRecord) []model.DeviceRecord {
	byAddress := make(map[string]*model.DeviceRecord)
	for _, rec := range records {
		dev, ok := byAddress[rec.DeviceAddress]
		if !ok {
			dev = &model.DeviceRecord{Address: rec.DeviceAddress, FirstSeen: rec.Timestamp}
			byAddress[rec.DeviceAddress] = dev
		}
		if rec.Timestamp.Before(dev.FirstSeen) {
			dev.FirstSeen = rec.Timestamp
		}
		if !rec.Timestamp.Before(dev.LastSeen) {
			dev.LastSeen = rec.Timestamp
			dev.Name = rec.DeviceName
			dev.RSSI = rec.RSSI
		}
	}

	devices := make([]model.DeviceRecord, 0, len(byAddress))
	for _, dev := range byAddress {
		devices = append(devices, *dev)
	}
	sort.Slice(devices, func(i, j int) bool {
		if !devices[i].LastSeen.Equal(devices[j].LastSeen) {
			return devices[i].LastSeen.After(devices[j].LastSeen)
		}
		return devices[i].Address < devices[j].Address
	})
	return devices
}
