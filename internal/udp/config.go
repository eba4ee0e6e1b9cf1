package udp

import (
	"fmt"
	"net"
	"strconv"
)

// Networks accepted by Config.Network.
const (
	NetworkUDP4 = "udp4"
	NetworkUDP6 = "udp6"
)

// Config holds configuration for the group socket.
type Config struct {
	// Network is udp4 or udp6. Empty means udp4.
	Network string

	// ListenAddress is the local address to bind. Empty binds all
	// interfaces.
	ListenAddress string

	// ListenPort is the local port to bind. 0 picks an ephemeral port.
	ListenPort int

	// RecvBufferSize and SendBufferSize set SO_RCVBUF and SO_SNDBUF when
	// non-zero.
	RecvBufferSize int
	SendBufferSize int

	// MaxDatagramSize is the largest payload read or sent.
	// Default is 65535.
	MaxDatagramSize int

	// ReadBatch is the number of datagrams read per system call where the
	// platform supports recvmmsg.
	ReadBatch int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Network:         NetworkUDP4,
		MaxDatagramSize: 65535,
		ReadBatch:       16,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.Network {
	case "", NetworkUDP4, NetworkUDP6:
	default:
		return fmt.Errorf("invalid network %q (must be %s or %s)", c.Network, NetworkUDP4, NetworkUDP6)
	}
	if c.ListenPort < 0 || c.ListenPort > 65535 {
		return fmt.Errorf("invalid listen port %d (must be 0-65535)", c.ListenPort)
	}
	if c.RecvBufferSize < 0 || c.SendBufferSize < 0 {
		return fmt.Errorf("buffer sizes must not be negative")
	}
	if c.MaxDatagramSize < 0 || c.MaxDatagramSize > 65535 {
		return fmt.Errorf("invalid max datagram size %d (must be 0-65535)", c.MaxDatagramSize)
	}
	if c.ReadBatch < 0 {
		return fmt.Errorf("read batch must not be negative")
	}
	return nil
}

// network returns the effective network name.
func (c Config) network() string {
	if c.Network == "" {
		return NetworkUDP4
	}
	return c.Network
}

// ListenAddr returns the host:port the socket binds.
func (c Config) ListenAddr() string {
	return net.JoinHostPort(c.ListenAddress, strconv.Itoa(c.ListenPort))
}

// loopback returns the default destination host for sends that omit an
// address.
func (c Config) loopback() string {
	if c.network() == NetworkUDP6 {
		return "::1"
	}
	return "127.0.0.1"
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Network == "" {
		c.Network = def.Network
	}
	if c.MaxDatagramSize == 0 {
		c.MaxDatagramSize = def.MaxDatagramSize
	}
	if c.ReadBatch == 0 {
		c.ReadBatch = def.ReadBatch
	}
	return c
}
