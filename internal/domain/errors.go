package domain

import "errors"

var (
	// ErrConnectivity means the store could not be reached at startup. Fatal.
	ErrConnectivity = errors.New("store unreachable")
	// ErrValidation means a required send field is missing.
	ErrValidation = errors.New("validation failed")
	// ErrPersistence means an insert or query failed after startup.
	ErrPersistence = errors.New("persistence failed")
	// ErrEmptyResult means the store reported success but returned no record.
	ErrEmptyResult = errors.New("store returned no record")
	ErrNotJoined   = errors.New("connection has not joined a room")
)
