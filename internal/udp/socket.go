package udp

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/postalsys/udpgroup/internal/logging"
	"github.com/postalsys/udpgroup/internal/pathway"
	"github.com/postalsys/udpgroup/internal/recovery"
)

var (
	// ErrNotListening is returned by operations that need a bound socket.
	ErrNotListening = errors.New("socket is not listening")

	// ErrAlreadyListening is returned by a second Listen call.
	ErrAlreadyListening = errors.New("socket is already listening")

	// ErrSocketClosed is returned after Close.
	ErrSocketClosed = errors.New("socket closed")

	// ErrDatagramTooLarge is returned when a payload exceeds MaxDatagramSize.
	ErrDatagramTooLarge = errors.New("datagram too large")
)

// Handler receives each datagram read from the socket. payload is only
// valid for the duration of the call.
type Handler func(payload []byte, from *net.UDPAddr)

// Listener is notified of socket lifecycle changes. Methods are called
// without any socket lock held.
type Listener interface {
	// Listening is called once the socket is bound.
	Listening(addr *net.UDPAddr)

	// Connected is called when a default destination is set.
	Connected(remote *net.UDPAddr)

	// Closed is called once, when the socket is closed.
	Closed()

	// ReadError is called for read failures other than the socket closing.
	ReadError(err error)
}

// batchReader is satisfied by both ipv4.PacketConn and ipv6.PacketConn;
// ipv4.Message and ipv6.Message are the same type.
type batchReader interface {
	ReadBatch(ms []ipv4.Message, flags int) (int, error)
}

// Stats is a snapshot of socket counters.
type Stats struct {
	DatagramsReceived uint64 `json:"datagrams_received"`
	BytesReceived     uint64 `json:"bytes_received"`
	DatagramsSent     uint64 `json:"datagrams_sent"`
	BytesSent         uint64 `json:"bytes_sent"`
	ReadErrors        uint64 `json:"read_errors"`
	WriteErrors       uint64 `json:"write_errors"`
}

// Socket is a bound UDP socket shared by every pathway of a group.
type Socket struct {
	mu     sync.RWMutex
	conn   *net.UDPConn
	reader batchReader
	remote *net.UDPAddr

	config   Config
	listener Listener
	logger   *slog.Logger

	serving   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	wg        sync.WaitGroup

	datagramsReceived atomic.Uint64
	bytesReceived     atomic.Uint64
	datagramsSent     atomic.Uint64
	bytesSent         atomic.Uint64
	readErrors        atomic.Uint64
	writeErrors       atomic.Uint64
}

// NewSocket creates an unbound socket. listener may be nil.
func NewSocket(cfg Config, listener Listener, logger *slog.Logger) *Socket {
	return &Socket{
		config:   cfg.withDefaults(),
		listener: listener,
		logger:   logger.With(slog.String(logging.KeyComponent, "udp")),
	}
}

// Listen binds the socket and applies configured buffer sizes.
func (s *Socket) Listen() error {
	if s.closed.Load() {
		return ErrSocketClosed
	}
	if err := s.config.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		return ErrAlreadyListening
	}

	network := s.config.network()
	laddr, err := net.ResolveUDPAddr(network, s.config.ListenAddr())
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("resolve listen address: %w", err)
	}

	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen %s %s: %w", network, laddr, err)
	}

	if s.config.RecvBufferSize > 0 {
		if err := conn.SetReadBuffer(s.config.RecvBufferSize); err != nil {
			conn.Close()
			s.mu.Unlock()
			return fmt.Errorf("set receive buffer size: %w", err)
		}
	}
	if s.config.SendBufferSize > 0 {
		if err := conn.SetWriteBuffer(s.config.SendBufferSize); err != nil {
			conn.Close()
			s.mu.Unlock()
			return fmt.Errorf("set send buffer size: %w", err)
		}
	}

	s.conn = conn
	if network == NetworkUDP6 {
		s.reader = ipv6.NewPacketConn(conn)
	} else {
		s.reader = ipv4.NewPacketConn(conn)
	}
	addr := conn.LocalAddr().(*net.UDPAddr)
	s.mu.Unlock()

	s.logger.Info("socket listening",
		logging.KeyLocalAddr, addr.String(),
		logging.KeyNetwork, network)

	if s.listener != nil {
		s.listener.Listening(addr)
	}
	return nil
}

// Serve starts the read loop in a new goroutine. It may be called once.
func (s *Socket) Serve(handler Handler) error {
	s.mu.RLock()
	reader := s.reader
	s.mu.RUnlock()

	if s.closed.Load() {
		return ErrSocketClosed
	}
	if reader == nil {
		return ErrNotListening
	}
	if !s.serving.CompareAndSwap(false, true) {
		return errors.New("socket is already serving")
	}

	s.wg.Add(1)
	go s.readLoop(reader, handler)
	return nil
}

// readLoop reads datagrams in batches until the socket is closed.
func (s *Socket) readLoop(reader batchReader, handler Handler) {
	defer s.wg.Done()
	defer recovery.Recover(s.logger, "udp-read-loop", func(pe *recovery.PanicError) {
		if s.listener != nil {
			s.listener.ReadError(pe)
		}
	})

	msgs := make([]ipv4.Message, s.config.ReadBatch)
	for i := range msgs {
		msgs[i].Buffers = [][]byte{make([]byte, s.config.MaxDatagramSize)}
	}

	for {
		n, err := reader.ReadBatch(msgs, 0)
		if err != nil {
			if s.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.readErrors.Add(1)
			s.logger.Debug("read failed", logging.KeyError, err)
			if s.listener != nil {
				s.listener.ReadError(fmt.Errorf("read: %w", err))
			}
			continue
		}

		for i := 0; i < n; i++ {
			m := &msgs[i]
			from, ok := m.Addr.(*net.UDPAddr)
			if !ok {
				continue
			}
			s.datagramsReceived.Add(1)
			s.bytesReceived.Add(uint64(m.N))
			handler(m.Buffers[0][:m.N], from)
		}
	}
}

// Send writes payload to address:port. It implements pathway.Transport.
//
// port may be any integer type, an integral float, or a decimal string in
// 1..65535; anything else is rejected with an error wrapping
// pathway.ErrInvalidPort. A nil port uses the destination set by Connect.
// An empty address means the loopback address. Errors returned from Send
// are synchronous; the outcome of the write is passed to done.
func (s *Socket) Send(payload []byte, port any, address string, done func(error)) error {
	if s.closed.Load() {
		return ErrSocketClosed
	}

	s.mu.RLock()
	conn := s.conn
	remote := s.remote
	s.mu.RUnlock()

	if conn == nil {
		return ErrNotListening
	}
	if len(payload) > s.config.MaxDatagramSize {
		return fmt.Errorf("%w: %d > %d", ErrDatagramTooLarge, len(payload), s.config.MaxDatagramSize)
	}

	var dest *net.UDPAddr
	if port == nil {
		if remote == nil {
			return fmt.Errorf("port is required when no default destination is set: %w", pathway.ErrInvalidPort)
		}
		dest = remote
	} else {
		p, err := ParsePort(port)
		if err != nil {
			return err
		}
		if address == "" {
			address = s.config.loopback()
		}
		dest, err = net.ResolveUDPAddr(s.config.network(), net.JoinHostPort(address, strconv.Itoa(p)))
		if err != nil {
			s.complete(done, fmt.Errorf("resolve %s: %w", address, err))
			return nil
		}
	}

	n, err := conn.WriteToUDP(payload, dest)
	if err != nil {
		s.writeErrors.Add(1)
		s.complete(done, fmt.Errorf("write to %s: %w", dest, err))
		return nil
	}

	s.datagramsSent.Add(1)
	s.bytesSent.Add(uint64(n))
	s.complete(done, nil)
	return nil
}

func (s *Socket) complete(done func(error), err error) {
	if err != nil {
		s.logger.Debug("send failed", logging.KeyError, err)
	}
	if done != nil {
		done(err)
	}
}

// ParsePort validates a port argument. Accepted forms are integer types,
// integral floats, and decimal strings, all in 1..65535.
func ParsePort(port any) (int, error) {
	var n int
	switch p := port.(type) {
	case int:
		n = p
	case int8:
		n = int(p)
	case int16:
		n = int(p)
	case int32:
		n = int(p)
	case int64:
		if p > math.MaxInt32 || p < math.MinInt32 {
			return 0, fmt.Errorf("port %d: %w", p, pathway.ErrInvalidPort)
		}
		n = int(p)
	case uint:
		if p > 65535 {
			return 0, fmt.Errorf("port %d: %w", p, pathway.ErrInvalidPort)
		}
		n = int(p)
	case uint8:
		n = int(p)
	case uint16:
		n = int(p)
	case uint32:
		if p > 65535 {
			return 0, fmt.Errorf("port %d: %w", p, pathway.ErrInvalidPort)
		}
		n = int(p)
	case uint64:
		if p > 65535 {
			return 0, fmt.Errorf("port %d: %w", p, pathway.ErrInvalidPort)
		}
		n = int(p)
	case float32:
		return ParsePort(float64(p))
	case float64:
		if p != math.Trunc(p) || math.IsInf(p, 0) || math.IsNaN(p) {
			return 0, fmt.Errorf("port %v: %w", p, pathway.ErrInvalidPort)
		}
		if p < 1 || p > 65535 {
			return 0, fmt.Errorf("port %v: %w", p, pathway.ErrInvalidPort)
		}
		n = int(p)
	case string:
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return 0, fmt.Errorf("port %q: %w", p, pathway.ErrInvalidPort)
		}
		n = v
	default:
		return 0, fmt.Errorf("port of type %T: %w", port, pathway.ErrInvalidPort)
	}

	if n < 1 || n > 65535 {
		return 0, fmt.Errorf("port %d out of range: %w", n, pathway.ErrInvalidPort)
	}
	return n, nil
}

// Connect sets the default destination for sends that pass a nil port.
// The socket stays unconnected at the kernel level so datagrams from every
// pathway are still received.
func (s *Socket) Connect(address string, port int) error {
	if s.closed.Load() {
		return ErrSocketClosed
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port %d out of range: %w", port, pathway.ErrInvalidPort)
	}
	if address == "" {
		address = s.config.loopback()
	}

	remote, err := net.ResolveUDPAddr(s.config.network(), net.JoinHostPort(address, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("resolve %s: %w", address, err)
	}

	s.mu.Lock()
	if s.conn == nil {
		s.mu.Unlock()
		return ErrNotListening
	}
	s.remote = remote
	s.mu.Unlock()

	s.logger.Debug("default destination set", logging.KeyRemoteAddr, remote.String())

	if s.listener != nil {
		s.listener.Connected(remote)
	}
	return nil
}

// RemoteAddr returns the destination set by Connect, or nil.
func (s *Socket) RemoteAddr() *net.UDPAddr {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.remote
}

// Addr returns the bound local address, or nil before Listen.
func (s *Socket) Addr() *net.UDPAddr {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// RecvBufferSize returns the kernel receive buffer size.
func (s *Socket) RecvBufferSize() (int, error) {
	conn, err := s.boundConn()
	if err != nil {
		return 0, err
	}
	return recvBufferSize(conn)
}

// SetRecvBufferSize sets the kernel receive buffer size.
func (s *Socket) SetRecvBufferSize(n int) error {
	conn, err := s.boundConn()
	if err != nil {
		return err
	}
	if err := conn.SetReadBuffer(n); err != nil {
		return fmt.Errorf("set receive buffer size: %w", err)
	}
	return nil
}

// SendBufferSize returns the kernel send buffer size.
func (s *Socket) SendBufferSize() (int, error) {
	conn, err := s.boundConn()
	if err != nil {
		return 0, err
	}
	return sendBufferSize(conn)
}

// SetSendBufferSize sets the kernel send buffer size.
func (s *Socket) SetSendBufferSize(n int) error {
	conn, err := s.boundConn()
	if err != nil {
		return err
	}
	if err := conn.SetWriteBuffer(n); err != nil {
		return fmt.Errorf("set send buffer size: %w", err)
	}
	return nil
}

func (s *Socket) boundConn() (*net.UDPConn, error) {
	if s.closed.Load() {
		return nil, ErrSocketClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.conn == nil {
		return nil, ErrNotListening
	}
	return s.conn, nil
}

// Stats returns the socket counters.
func (s *Socket) Stats() Stats {
	return Stats{
		DatagramsReceived: s.datagramsReceived.Load(),
		BytesReceived:     s.bytesReceived.Load(),
		DatagramsSent:     s.datagramsSent.Load(),
		BytesSent:         s.bytesSent.Load(),
		ReadErrors:        s.readErrors.Load(),
		WriteErrors:       s.writeErrors.Load(),
	}
}

// IsListening reports whether the socket is bound and not closed.
func (s *Socket) IsListening() bool {
	if s.closed.Load() {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.conn != nil
}

// Close closes the socket and waits for the read loop to exit.
// Safe to call more than once.
func (s *Socket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)

		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()

		if conn != nil {
			err = conn.Close()
		}
		s.wg.Wait()

		s.logger.Info("socket closed")

		if s.listener != nil {
			s.listener.Closed()
		}
	})
	return err
}
