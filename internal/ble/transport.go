// Package ble is the boundary to the platform Bluetooth stack.
package ble

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tinygo.org/x/bluetooth"

	"beaconscan/internal/model"
)

// ErrCharacteristicNotFound is returned when a connected device does not
// expose the requested characteristic.
var ErrCharacteristicNotFound = errors.New("characteristic not found")

// Scanner runs a discovery session until ctx is done, invoking handler once per
// observed advertisement. Scan returns only once handler can no longer be called.
type Scanner interface {
	Scan(ctx context.Context, handler func(model.Advertisement)) error
}

// Connector opens GATT connections keyed by device address.
type Connector interface {
	Connect(ctx context.Context, address string) (Conn, error)
}

// Transport is the full platform contract the orchestrator relies on.
type Transport interface {
	Scanner
	Connector
}

// Conn is an open connection to one device.
type Conn interface {
	// Read returns the value of the characteristic identified by a 128-bit UUID.
	Read(ctx context.Context, characteristic string) ([]byte, error)
	// Services lists every service and characteristic the device exposes.
	Services(ctx context.Context) ([]Service, error)
	Close() error
}

// Service describes one discovered GATT service.
type Service struct {
	UUID            string
	Characteristics []string
}

// NormalizeUUID parses a 128-bit UUID and returns its canonical lower-case form.
func NormalizeUUID(s string) (string, error) {
	u, err := bluetooth.ParseUUID(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("parse uuid %q: %w", s, err)
	}
	return strings.ToLower(u.String()), nil
}

// await runs fn on its own goroutine and gives up when ctx is done. A result
// that arrives after the caller gave up is handed to release, if set.
func await[T any](ctx context.Context, fn func() (T, error), release func(T)) (T, error) {
	type result struct {
		val T
		err error
	}

	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{val: v, err: err}
	}()

	select {
	case r := <-ch:
		return r.val, r.err
	case <-ctx.Done():
		if release != nil {
			go func() {
				if r := <-ch; r.err == nil {
					release(r.val)
				}
			}()
		}
		var zero T
		return zero, ctx.Err()
	}
}
