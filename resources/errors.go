package resources

import "errors"

var (
	// ErrInvalidConfig is returned for configuration errors. These are
	// never retried.
	ErrInvalidConfig = errors.New("invalid shard configuration")
	// ErrMissingCapability is returned the first time an operation needs a
	// capability, such as a network client, that is not available.
	ErrMissingCapability = errors.New("missing capability")
)
