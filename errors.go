package token_stream

import "errors"

var (
	ErrInvalidOptions = errors.New("invalid stream options")
	ErrNoData         = errors.New("no documents in split")
	ErrDistributedEnv = errors.New("invalid distributed environment")
)
