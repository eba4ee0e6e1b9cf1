//go:build unix

package udp

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

func recvBufferSize(conn *net.UDPConn) (int, error) {
	return sockoptInt(conn, unix.SO_RCVBUF)
}

func sendBufferSize(conn *net.UDPConn) (int, error) {
	return sockoptInt(conn, unix.SO_SNDBUF)
}

// sockoptInt reads an integer SOL_SOCKET option. Linux reports twice the
// value that was set, to account for bookkeeping overhead.
func sockoptInt(conn *net.UDPConn, opt int) (int, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, fmt.Errorf("syscall conn: %w", err)
	}

	var (
		value  int
		optErr error
	)
	if err := raw.Control(func(fd uintptr) {
		value, optErr = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, opt)
	}); err != nil {
		return 0, fmt.Errorf("control: %w", err)
	}
	if optErr != nil {
		return 0, fmt.Errorf("getsockopt: %w", optErr)
	}
	return value, nil
}
