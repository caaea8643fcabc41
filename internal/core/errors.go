package core

import "errors"

var (
	// ErrMissingCredential: no token in the handshake. Close code 4001.
	ErrMissingCredential = errors.New("missing credential")
	// ErrInvalidCredential: bad signature or expired. Close code 4002.
	ErrInvalidCredential = errors.New("invalid credential")

	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrAlreadyJoined    = errors.New("already joined to a room")
	ErrNotJoined        = errors.New("not joined to a room")
)
