package network

import (
	"errors"
	"fmt"
)

// ErrConnectTimeout is returned when a connection does not open within the connect timeout
var ErrConnectTimeout = errors.New("timed out connecting to server")

// ErrNotReady is returned by Future.Result before the future completes
var ErrNotReady = errors.New("result not ready")

// ErrConnectionClosedByServer is returned when the connection is closed by the server
type ErrConnectionClosedByServer struct{}

func (e *ErrConnectionClosedByServer) Error() string {
	return "connection closed by server"
}

// ErrConnectionClosedByClient is returned when the connection is closed locally
type ErrConnectionClosedByClient struct{}

func (e *ErrConnectionClosedByClient) Error() string {
	return "connection closed by client"
}

// ConnectionError is returned when opening or keeping a connection fails.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
