package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidFilter = errors.New("invalid filter")
	ErrInvalidInput  = errors.New("invalid input")
)
