package models

import "errors"

// Error kinds shared across the pipeline. Callers match them with errors.Is.
var (
	// ErrConfig marks invalid or overlapping date ranges and missing
	// configuration. Fatal to a run before any model work starts.
	ErrConfig = errors.New("configuration error")
	// ErrInsufficientData marks series too short for the requested window
	// or empty train/test slices.
	ErrInsufficientData = errors.New("insufficient data")
	ErrNotFound         = errors.New("not found")
	// ErrEmpty marks selections that cannot pick a winner.
	ErrEmpty = errors.New("empty result")
	// ErrMissingArtifact marks a registered run whose directory is gone.
	ErrMissingArtifact = errors.New("missing artifact")
	// ErrNotComputable marks metrics with no usable points.
	ErrNotComputable = errors.New("not computable")
)
