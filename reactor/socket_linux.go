//go:build linux
// +build linux

// File: reactor/socket_linux.go
// Author: momentics <momentics@gmail.com>
//
// Raw non-blocking IPv4 TCP sockets for the reactor loop.

package reactor

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// Listen creates a non-blocking IPv4 listening socket with SO_REUSEADDR set.
// An empty host binds all interfaces; port 0 picks an ephemeral port.
func Listen(host string, port, backlog int) (int, *net.TCPAddr, error) {
	var sa unix.SockaddrInet4
	sa.Port = port
	if host != "" {
		ip := net.ParseIP(host).To4()
		if ip == nil {
			return -1, nil, fmt.Errorf("listen: %q is not an IPv4 address", host)
		}
		copy(sa.Addr[:], ip)
	}
	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, nil, fmt.Errorf("socket create: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, nil, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, &sa); err != nil {
		unix.Close(fd)
		return -1, nil, fmt.Errorf("bind: %w", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, nil, fmt.Errorf("listen: %w", err)
	}
	bound, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return -1, nil, fmt.Errorf("getsockname: %w", err)
	}
	return fd, toTCPAddr(bound), nil
}

// Accept takes one pending connection off a listening socket. The new socket
// is non-blocking. ErrWouldBlock means the accept queue is empty.
func Accept(lnfd int) (int, *net.TCPAddr, error) {
	for {
		fd, sa, err := unix.Accept4(lnfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch err {
		case nil:
			_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
			return fd, toTCPAddr(sa), nil
		case unix.EINTR, unix.ECONNABORTED:
			continue
		case unix.EAGAIN:
			return -1, nil, ErrWouldBlock
		default:
			return -1, nil, fmt.Errorf("accept: %w", err)
		}
	}
}

// Write writes as much of p as the socket accepts without blocking.
// MSG_NOSIGNAL turns a write to a closed peer into EPIPE instead of SIGPIPE.
func Write(fd int, p []byte) (int, error) {
	for {
		n, err := unix.SendmsgN(fd, p, nil, nil, unix.MSG_NOSIGNAL)
		switch err {
		case nil:
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, ErrWouldBlock
		default:
			return 0, fmt.Errorf("write: %w", err)
		}
	}
}

// SocketError fetches and clears the pending error on fd (SO_ERROR).
func SocketError(fd int) error {
	v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return fmt.Errorf("getsockopt SO_ERROR: %w", err)
	}
	if v != 0 {
		return unix.Errno(v)
	}
	return nil
}

// Discard reads and drops whatever input is pending on a non-blocking fd.
// It returns the number of bytes dropped. Unread input at close time makes
// the kernel answer with RST instead of FIN.
func Discard(fd int) (int, error) {
	var buf [512]byte
	total := 0
	for {
		n, err := unix.Read(fd, buf[:])
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return total, nil
		case err != nil:
			return total, fmt.Errorf("read: %w", err)
		case n == 0:
			return total, nil
		}
		total += n
	}
}

// ShutdownWrite sends FIN once queued output has been transmitted.
func ShutdownWrite(fd int) error {
	if err := unix.Shutdown(fd, unix.SHUT_WR); err != nil && err != unix.ENOTCONN {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// CloseFD closes a socket descriptor.
func CloseFD(fd int) error {
	return unix.Close(fd)
}

func toTCPAddr(sa unix.Sockaddr) *net.TCPAddr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, net.IPv4len)
		copy(ip, a.Addr[:])
		return &net.TCPAddr{IP: ip, Port: a.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, a.Addr[:])
		return &net.TCPAddr{IP: ip, Port: a.Port}
	default:
		return &net.TCPAddr{}
	}
}
