package models

import "errors"

var (
	ErrResendNotNeeded = errors.New("message does not need resending")
	ErrMissingToken    = errors.New("missing auth token")
	ErrInvalidToken    = errors.New("invalid auth token")
)
