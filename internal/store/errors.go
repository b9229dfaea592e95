package store

import "errors"

var (
	ErrAlreadyExists  = errors.New("session code already exists")
	ErrNotFound       = errors.New("session not found")
	ErrCodesExhausted = errors.New("could not generate a free session code")
)
