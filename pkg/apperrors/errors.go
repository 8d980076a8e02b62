package apperrors

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrNoTenantScope    = errors.New("no tenant scope in context")
	ErrStoreUnavailable = errors.New("data store unavailable")
	ErrNoHistory        = errors.New("session has no turns")
	ErrTurnConflict     = errors.New("turn number already assigned")
)
