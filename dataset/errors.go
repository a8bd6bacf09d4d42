package dataset

import "errors"

var (
	ErrInvalidSplit = errors.New("split must be 'train' or 'val'")
	ErrInvalidRank  = errors.New("invalid rank")
	// ErrMissingCapability is returned by the first Next when no columnar
	// reader is available.
	ErrMissingCapability = errors.New("missing capability")
	ErrMissingColumn     = errors.New("shard has no text column")
	ErrUnsupportedColumn = errors.New("unsupported text column")
)
