package store

import (
	"context"
	"errors"
	"time"

	"beaconscan/internal/model"
)

const writeTimeout = 2 * time.Second

// Journal adapts a Store to the sink mirror and device catalog roles.
type Journal struct {
	store *Store
}

// NewJournal wraps s.
func NewJournal(s *Store) *Journal {
	return &Journal{store: s}
}

// Name implements sink.Mirror.
func (j *Journal) Name() string { return "sqlite" }

// Mirror implements sink.Mirror.
func (j *Journal) Mirror(ctx context.Context, rec model.BeaconDataRecord) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return j.store.InsertRecord(ctx, rec)
}

// RecordDevices stores the registry snapshot taken after a discovery window.
func (j *Journal) RecordDevices(ctx context.Context, devices []model.DeviceRecord) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	var errs []error
	for _, dev := range devices {
		if err := j.store.UpsertDiscoveredBeacon(ctx, dev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
