package conn

import "errors"

var (
	ErrMissingToken   = errors.New("missing session token")
	ErrIdentityChange = errors.New("connection already active for another identity")
	ErrNotConnected   = errors.New("not connected")
	ErrUnauthorized   = errors.New("handshake rejected")
	ErrConnClosed     = errors.New("connection closed")
)
