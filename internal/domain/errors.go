package domain

import "errors"

var (
	ErrInvalidID           = errors.New("invalid id")
	ErrInvalidName         = errors.New("invalid name")
	ErrInvalidCanonicalURL = errors.New("invalid canonical url")
	ErrInvalidRecord       = errors.New("invalid record")
	ErrInvalidUpdateSource = errors.New("invalid update source")
)
