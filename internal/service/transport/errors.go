package transport

import (
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ErrEmptyText is returned when text is blank; no request is made.
var ErrEmptyText = errors.New("text is empty")

// ConnectivityError means the backend could not be reached at all.
type ConnectivityError struct {
	Message string
	Err     error
}

func (e *ConnectivityError) Error() string { return fmt.Sprintf("connectivity: %v", e.Err) }
func (e *ConnectivityError) Unwrap() error { return e.Err }

// NetworkError is any other transport failure, such as a connection reset
// mid-response.
type NetworkError struct {
	Message string
	Err     error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network: %v", e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError is a non-2xx reply or a 2xx reply that could not be decoded.
// Message is the server's own message when it sent one.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// UserMessage returns the user-facing text carried by err, or "" when err is
// not one of this package's errors.
func UserMessage(err error) string {
	var (
		connErr   *ConnectivityError
		netErr    *NetworkError
		serverErr *ServerError
	)
	switch {
	case errors.As(err, &connErr):
		return connErr.Message
	case errors.As(err, &netErr):
		return netErr.Message
	case errors.As(err, &serverErr):
		return serverErr.Message
	}
	return ""
}

// isConnectivity reports whether err happened before a connection existed.
func isConnectivity(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return false
}
