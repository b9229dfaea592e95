package ws

import "errors"

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timed out")
	ErrNilEndpoint      = errors.New("nil endpoint")
)
