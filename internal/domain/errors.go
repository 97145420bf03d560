package domain

import "errors"

var (
	// ErrValidation marks malformed or disallowed input from a client.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a missing record.
	ErrNotFound = errors.New("not found")
	// ErrTransport marks a failed delivery to a connection.
	ErrTransport = errors.New("transport failure")
	// ErrStorage marks a failed persistence or blob operation.
	ErrStorage = errors.New("storage failure")
)
