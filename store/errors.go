package store

import "errors"

var (
	// ErrJobNotFound indicates the job does not exist.
	ErrJobNotFound = errors.New("job not found")
)
