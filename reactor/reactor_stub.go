//go:build !linux
// +build !linux

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package reactor

import (
	"net"

	"github.com/momentics/hioload-probe/api"
)

// New returns api.ErrNotSupported on this platform.
func New() (Reactor, error) {
	return nil, api.ErrNotSupported
}

// Listen returns api.ErrNotSupported on this platform.
func Listen(host string, port, backlog int) (int, *net.TCPAddr, error) {
	return -1, nil, api.ErrNotSupported
}

// Accept returns api.ErrNotSupported on this platform.
func Accept(lnfd int) (int, *net.TCPAddr, error) {
	return -1, nil, api.ErrNotSupported
}

// Write returns api.ErrNotSupported on this platform.
func Write(fd int, p []byte) (int, error) {
	return 0, api.ErrNotSupported
}

// SocketError returns api.ErrNotSupported on this platform.
func SocketError(fd int) error {
	return api.ErrNotSupported
}

// CloseFD returns api.ErrNotSupported on this platform.
func CloseFD(fd int) error {
	return api.ErrNotSupported
}

// Discard returns api.ErrNotSupported on this platform.
func Discard(fd int) (int, error) {
	return 0, api.ErrNotSupported
}

// ShutdownWrite returns api.ErrNotSupported on this platform.
func ShutdownWrite(fd int) error {
	return api.ErrNotSupported
}
