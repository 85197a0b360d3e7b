package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrSessionBusy     = errors.New("session is being handled elsewhere")
	ErrRegistryClosed  = errors.New("session registry closed")
)
