package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound  = errors.New("row not found")
	ErrDuplicate = errors.New("duplicate row")
)
