package domain

import "errors"

var (
	ErrValidation       = errors.New("validation error")
	ErrNotFound         = errors.New("not found")
	ErrDispatcherClosed = errors.New("dispatcher is closed")
)
