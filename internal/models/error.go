package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound   = errors.New("resource not found")
	ErrConflict   = errors.New("resource already exists")
	ErrBadRequest = errors.New("bad request")

	// Event pipeline errors
	ErrInvalidEvent = errors.New("invalid login event")
	ErrMissingIP    = errors.New("login event has no ip")

	// Collaborator errors
	ErrModelLoad        = errors.New("anomaly model could not be loaded")
	ErrStoreUnavailable = errors.New("block store unavailable")
)
