package app

import "errors"

var (
	ErrNoStore            = errors.New("cart store is not available")
	ErrInvalidInput       = errors.New("invalid input")
	ErrNotFound           = errors.New("not found")
	ErrMalformed          = errors.New("malformed cart record")
	ErrAlreadyInitialized = errors.New("cart store already initialized")
)
