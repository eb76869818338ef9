package domain

import "errors"

var (
	ErrInvalidRequest     = errors.New("invalid request")
	ErrRateLimitExceeded  = errors.New("rate limit exceeded")
	ErrUnknownPreset      = errors.New("unknown preset")
	ErrBackendUnavailable = errors.New("backend unavailable")
)
