//go:build !unix

package udp

import (
	"errors"
	"net"
)

func recvBufferSize(*net.UDPConn) (int, error) {
	return 0, errors.ErrUnsupported
}

func sendBufferSize(*net.UDPConn) (int, error) {
	return 0, errors.ErrUnsupported
}
