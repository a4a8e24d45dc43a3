package model

import "fmt"

// DiscoveryError reports a scan window that failed to open or close cleanly.
type DiscoveryError struct {
	Err error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery: %v", e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// ConnectionError reports a failed connection attempt to one device.
type ConnectionError struct {
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ReadError reports a characteristic read that did not complete.
type ReadError struct {
	Characteristic string
	Err            error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read characteristic %s: %v", e.Characteristic, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// PersistenceError reports a table write that could not complete. The record
// that triggered it is kept in memory and written by the next successful flush.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
