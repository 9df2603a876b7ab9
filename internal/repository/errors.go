// Package repository holds the sentinel errors shared by every storage backend.
package repository

import "errors"

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrStaleState is returned when a conditional write found the record in a
	// different state than expected
	ErrStaleState = errors.New("record state changed concurrently")

	// ErrActiveCallExists is returned when the pair already has a ringing or answered call
	ErrActiveCallExists = errors.New("active call already exists for pair")
)
