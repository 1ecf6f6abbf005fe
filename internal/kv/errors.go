package kv

import "errors"

var (
	// ErrDBNotOpen is returned when a DB is not open.
	ErrDBNotOpen = errors.New("db not open")

	// ErrDBOpen is returned when a DB is already open.
	ErrDBOpen = errors.New("db already open")

	// ErrKeyNotFound is returned when a key does not exist.
	ErrKeyNotFound = errors.New("key not found")
)
