package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"beaconscan/internal/model"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so stored timestamps sort correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps the SQLite journal that mirrors the beacon table and the set of
// discovered devices.
type Store struct {
	db *sql.DB
}

// Open initializes the database connection, creating directories as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InitSchema ensures baseline tables exist.
func (s *Store) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS beacon_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_address TEXT NOT NULL,
			device_name TEXT,
			rssi INTEGER NOT NULL,
			manufacturer_raw TEXT,
			manufacturer_captured_at TEXT,
			sensor_raw TEXT,
			sensor_captured_at TEXT,
			recorded_at TEXT NOT NULL,
			received_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		);`,
		`CREATE INDEX IF NOT EXISTS idx_beacon_records_address_time ON beacon_records(device_address, recorded_at);`,
		`CREATE TABLE IF NOT EXISTS discovered_beacons (
			address TEXT PRIMARY KEY,
			name TEXT,
			rssi INTEGER,
			first_seen TEXT NOT NULL,
			last_seen TEXT NOT NULL
		);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	return nil
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	return s.db.PingContext(ctx)
}

// InsertRecord persists one beacon record.
func (s *Store) InsertRecord(ctx context.Context, r model.BeaconDataRecord) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}

	recordedAt := r.Timestamp
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}

	mfrRaw, mfrAt := payloadColumns(r.ManufacturerData)
	sensorRaw, sensorAt := payloadColumns(r.SensorData)

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO beacon_records (device_address, device_name, rssi, manufacturer_raw, manufacturer_captured_at, sensor_raw, sensor_captured_at, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?);`,
		r.DeviceAddress,
		r.DeviceName,
		r.RSSI,
		mfrRaw,
		mfrAt,
		sensorRaw,
		sensorAt,
		recordedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert beacon record: %w", err)
	}

	return nil
}

// RecentRecords returns the most recent records ordered by recorded time descending.
func (s *Store) RecentRecords(ctx context.Context, limit int, since *time.Time) ([]model.BeaconDataRecord, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	if limit <= 0 {
		limit = 25
	}

	query := `SELECT device_address, device_name, rssi, manufacturer_raw, manufacturer_captured_at, sensor_raw, sensor_captured_at, recorded_at FROM beacon_records`
	var args []interface{}
	if since != nil {
		query += ` WHERE recorded_at > ?`
		args = append(args, since.UTC().Format(timeLayout))
	}
	query += ` ORDER BY recorded_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query+";", args...)
	if err != nil {
		return nil, fmt.Errorf("query recent beacon records: %w", err)
	}
	defer rows.Close()

	records := make([]model.BeaconDataRecord, 0, limit)

	for rows.Next() {
		var (
			address       string
			name          sql.NullString
			rssi          int
			mfrRaw        sql.NullString
			mfrAt         sql.NullString
			sensorRaw     sql.NullString
			sensorAt      sql.NullString
			recordedAtStr string
		)

		if err := rows.Scan(&address, &name, &rssi, &mfrRaw, &mfrAt, &sensorRaw, &sensorAt, &recordedAtStr); err != nil {
			return nil, fmt.Errorf("scan beacon record: %w", err)
		}

		recordedAt, err := time.Parse(time.RFC3339Nano, recordedAtStr)
		if err != nil {
			recordedAt, _ = time.Parse("2006-01-02T15:04:05Z07:00", recordedAtStr)
		}

		records = append(records, model.BeaconDataRecord{
			Timestamp:        recordedAt,
			DeviceAddress:    address,
			DeviceName:       name.String,
			RSSI:             rssi,
			ManufacturerData: payloadFromColumns(mfrRaw, mfrAt),
			SensorData:       payloadFromColumns(sensorRaw, sensorAt),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate beacon records: %w", err)
	}

	return records, nil
}

// UpsertDiscoveredBeacon records or refreshes a device seen during discovery.
// first_seen is kept from the existing row.
func (s *Store) UpsertDiscoveredBeacon(ctx context.Context, dev model.DeviceRecord) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}

	now := time.Now().UTC()
	firstSeen := dev.FirstSeen
	if firstSeen.IsZero() {
		firstSeen = now
	}
	lastSeen := dev.LastSeen
	if lastSeen.IsZero() {
		lastSeen = now
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO discovered_beacons (address, name, rssi, first_seen, last_seen)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(address)
		 DO UPDATE SET name = excluded.name,
				 rssi = excluded.rssi,
				 last_seen = excluded.last_seen;`,
		dev.Address,
		dev.Name,
		dev.RSSI,
		firstSeen.UTC().Format(timeLayout),
		lastSeen.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("upsert discovered beacon: %w", err)
	}
	return nil
}

// ListDiscoveredBeacons returns every known device, most recently seen first.
func (s *Store) ListDiscoveredBeacons(ctx context.Context) ([]model.DeviceRecord, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT address, name, rssi, first_seen, last_seen FROM discovered_beacons ORDER BY last_seen DESC, address ASC;`)
	if err != nil {
		return nil, fmt.Errorf("query discovered beacons: %w", err)
	}
	defer rows.Close()

	var devices []model.DeviceRecord

	for rows.Next() {
		var (
			address      string
			name         sql.NullString
			rssi         sql.NullInt64
			firstSeenStr string
			lastSeenStr  string
		)

		if err := rows.Scan(&address, &name, &rssi, &firstSeenStr, &lastSeenStr); err != nil {
			return nil, fmt.Errorf("scan discovered beacon: %w", err)
		}

		firstSeen, _ := time.Parse(time.RFC3339Nano, firstSeenStr)
		lastSeen, _ := time.Parse(time.RFC3339Nano, lastSeenStr)

		devices = append(devices, model.DeviceRecord{
			Address:   address,
			Name:      name.String,
			RSSI:      int(rssi.Int64),
			FirstSeen: firstSeen,
			LastSeen:  lastSeen,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate discovered beacons: %w", err)
	}

	return devices, nil
}

func payloadColumns(p *model.Payload) (sql.NullString, sql.NullString) {
	if p == nil {
		return sql.NullString{}, sql.NullString{}
	}
	return sql.NullString{String: p.RawData, Valid: true}, sql.NullString{String: p.Timestamp, Valid: true}
}

func payloadFromColumns(raw, at sql.NullString) *model.Payload {
	if !raw.Valid {
		return nil
	}
	return &model.Payload{RawData: raw.String, Timestamp: at.String}
}
