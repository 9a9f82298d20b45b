package store

import "errors"

var (
	ErrNotFound    = errors.New("not found")
	ErrAlreadyPaid = errors.New("purchase already paid")
	ErrNotPending  = errors.New("purchase is not pending")
)
