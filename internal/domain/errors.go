package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrSigningFailed    = errors.New("signing failed")
	ErrUserRejected     = errors.New("user rejected the request")
	ErrLockHeld         = errors.New("lock already held")
	ErrSyncInProgress   = errors.New("sync already running")
	ErrInvalidCondition = errors.New("invalid condition")
	ErrInvalidMetadata  = errors.New("invalid metadata")
)
