package udp

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/postalsys/udpgroup/internal/pathway"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingListener is a Listener that records lifecycle calls.
type recordingListener struct {
	mu         sync.Mutex
	listening  []*net.UDPAddr
	connected  []*net.UDPAddr
	closed     int
	readErrors []error
}

func (l *recordingListener) Listening(addr *net.UDPAddr) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listening = append(l.listening, addr)
}

func (l *recordingListener) Connected(remote *net.UDPAddr) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = append(l.connected, remote)
}

func (l *recordingListener) Closed() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed++
}

func (l *recordingListener) ReadError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.readErrors = append(l.readErrors, err)
}

func newTestSocket(t *testing.T, l Listener) *Socket {
	t.Helper()

	cfg := DefaultConfig()
	cfg.ListenAddress = "127.0.0.1"
	s := NewSocket(cfg, l, testLogger())
	if err := s.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newPeer(t *testing.T) *net.UDPConn {
	t.Helper()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type received struct {
	payload []byte
	from    *net.UDPAddr
}

func TestSocket_Listen(t *testing.T) {
	l := &recordingListener{}
	s := newTestSocket(t, l)

	addr := s.Addr()
	if addr == nil || addr.Port == 0 {
		t.Fatalf("Addr() = %v, want bound port", addr)
	}
	if !s.IsListening() {
		t.Error("IsListening() = false after Listen")
	}
	if len(l.listening) != 1 || l.listening[0].Port != addr.Port {
		t.Errorf("Listening notifications = %v", l.listening)
	}
	if err := s.Listen(); !errors.Is(err, ErrAlreadyListening) {
		t.Errorf("second Listen() error = %v, want ErrAlreadyListening", err)
	}
}

func TestSocket_ReadLoop(t *testing.T) {
	s := newTestSocket(t, nil)

	got := make(chan received, 4)
	err := s.Serve(func(payload []byte, from *net.UDPAddr) {
		dup := make([]byte, len(payload))
		copy(dup, payload)
		got <- received{payload: dup, from: from}
	})
	if err != nil {
		t.Fatalf("Serve() error = %v", err)
	}
	if err := s.Serve(func([]byte, *net.UDPAddr) {}); err == nil {
		t.Error("second Serve() should fail")
	}

	peer := newPeer(t)
	if _, err := peer.WriteToUDP([]byte("hello"), s.Addr()); err != nil {
		t.Fatalf("WriteToUDP() error = %v", err)
	}

	select {
	case r := <-got:
		if string(r.payload) != "hello" {
			t.Errorf("payload = %q, want hello", r.payload)
		}
		if r.from.Port != peer.LocalAddr().(*net.UDPAddr).Port {
			t.Errorf("from port = %d, want %d", r.from.Port, peer.LocalAddr().(*net.UDPAddr).Port)
		}
		if r.from.IP.String() != "127.0.0.1" {
			t.Errorf("from IP = %s, want 127.0.0.1", r.from.IP)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for datagram")
	}

	stats := s.Stats()
	if stats.DatagramsReceived != 1 || stats.BytesReceived != 5 {
		t.Errorf("Stats() = %+v, want 1 datagram of 5 bytes", stats)
	}
}

func TestSocket_Send(t *testing.T) {
	s := newTestSocket(t, nil)
	peer := newPeer(t)
	peerPort := peer.LocalAddr().(*net.UDPAddr).Port

	var doneErr error
	doneCalled := false
	err := s.Send([]byte("ping"), peerPort, "127.0.0.1", func(err error) {
		doneCalled = true
		doneErr = err
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !doneCalled || doneErr != nil {
		t.Errorf("done called=%v err=%v, want called with nil", doneCalled, doneErr)
	}

	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, from, err := peer.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("ReadFromUDP() error = %v", err)
	}
	if string(buf[:n]) != "ping" {
		t.Errorf("peer got %q, want ping", buf[:n])
	}
	if from.Port != s.Addr().Port {
		t.Errorf("datagram came from port %d, want %d", from.Port, s.Addr().Port)
	}

	if s.Stats().DatagramsSent != 1 {
		t.Errorf("DatagramsSent = %d, want 1", s.Stats().DatagramsSent)
	}
}

func TestSocket_Send_StringPortAndDefaultAddress(t *testing.T) {
	s := newTestSocket(t, nil)
	peer := newPeer(t)
	port := peer.LocalAddr().(*net.UDPAddr).Port

	if err := s.Send([]byte("x"), strconv.Itoa(port), "", nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 8)
	if _, _, err := peer.ReadFromUDP(buf); err != nil {
		t.Fatalf("ReadFromUDP() error = %v", err)
	}
}

func TestSocket_Send_InvalidPort(t *testing.T) {
	s := newTestSocket(t, nil)

	ports := []any{"peerA", "10.0.0.5_4000", 0, 70000, -1, 1.5, "", struct{}{}, nil}
	for _, p := range ports {
		if err := s.Send([]byte("x"), p, "127.0.0.1", nil); !errors.Is(err, pathway.ErrInvalidPort) {
			t.Errorf("Send(port %#v) error = %v, want ErrInvalidPort", p, err)
		}
	}
}

func TestSocket_Send_TooLarge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ListenAddress = "127.0.0.1"
	cfg.MaxDatagramSize = 8
	s := NewSocket(cfg, nil, testLogger())
	if err := s.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer s.Close()

	if err := s.Send(make([]byte, 9), 9, "127.0.0.1", nil); !errors.Is(err, ErrDatagramTooLarge) {
		t.Errorf("Send() error = %v, want ErrDatagramTooLarge", err)
	}
}

func TestSocket_Connect(t *testing.T) {
	l := &recordingListener{}
	s := newTestSocket(t, l)
	peer := newPeer(t)
	peerAddr := peer.LocalAddr().(*net.UDPAddr)

	if err := s.Connect("", peerAddr.Port); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if len(l.connected) != 1 || l.connected[0].Port != peerAddr.Port {
		t.Errorf("Connected notifications = %v", l.connected)
	}
	if s.RemoteAddr().Port != peerAddr.Port {
		t.Errorf("RemoteAddr() = %v", s.RemoteAddr())
	}

	if err := s.Send([]byte("default"), nil, "", nil); err != nil {
		t.Fatalf("Send(nil port) error = %v", err)
	}

	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16)
	n, _, err := peer.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("ReadFromUDP() error = %v", err)
	}
	if string(buf[:n]) != "default" {
		t.Errorf("peer got %q, want default", buf[:n])
	}

	if err := s.Connect("127.0.0.1", 0); !errors.Is(err, pathway.ErrInvalidPort) {
		t.Errorf("Connect(port 0) error = %v, want ErrInvalidPort", err)
	}
}

func TestSocket_NotListening(t *testing.T) {
	s := NewSocket(DefaultConfig(), nil, testLogger())

	if err := s.Send([]byte("x"), 9000, "127.0.0.1", nil); !errors.Is(err, ErrNotListening) {
		t.Errorf("Send() error = %v, want ErrNotListening", err)
	}
	if err := s.Serve(func([]byte, *net.UDPAddr) {}); !errors.Is(err, ErrNotListening) {
		t.Errorf("Serve() error = %v, want ErrNotListening", err)
	}
	if err := s.Connect("127.0.0.1", 9000); !errors.Is(err, ErrNotListening) {
		t.Errorf("Connect() error = %v, want ErrNotListening", err)
	}
	if _, err := s.RecvBufferSize(); !errors.Is(err, ErrNotListening) {
		t.Errorf("RecvBufferSize() error = %v, want ErrNotListening", err)
	}
	if s.Addr() != nil {
		t.Errorf("Addr() = %v, want nil", s.Addr())
	}
}

func TestSocket_Close(t *testing.T) {
	l := &recordingListener{}
	s := newTestSocket(t, l)
	if err := s.Serve(func([]byte, *net.UDPAddr) {}); err != nil {
		t.Fatalf("Serve() error = %v", err)
	}

	if err := s.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	s.Close()

	if l.closed != 1 {
		t.Errorf("Closed notifications = %d, want 1", l.closed)
	}
	if s.IsListening() {
		t.Error("IsListening() = true after Close")
	}
	if err := s.Send([]byte("x"), 9000, "127.0.0.1", nil); !errors.Is(err, ErrSocketClosed) {
		t.Errorf("Send() after Close error = %v, want ErrSocketClosed", err)
	}
	if err := s.Listen(); !errors.Is(err, ErrSocketClosed) {
		t.Errorf("Listen() after Close error = %v, want ErrSocketClosed", err)
	}
	if len(l.readErrors) != 0 {
		t.Errorf("closing reported read errors: %v", l.readErrors)
	}
}

func TestSocket_BufferSizes(t *testing.T) {
	s := newTestSocket(t, nil)

	if err := s.SetRecvBufferSize(64 * 1024); err != nil {
		t.Fatalf("SetRecvBufferSize() error = %v", err)
	}
	if err := s.SetSendBufferSize(64 * 1024); err != nil {
		t.Fatalf("SetSendBufferSize() error = %v", err)
	}

	recv, err := s.RecvBufferSize()
	if errors.Is(err, errors.ErrUnsupported) {
		t.Skip("buffer size queries unsupported on this platform")
	}
	if err != nil {
		t.Fatalf("RecvBufferSize() error = %v", err)
	}
	if recv <= 0 {
		t.Errorf("RecvBufferSize() = %d, want > 0", recv)
	}

	send, err := s.SendBufferSize()
	if err != nil {
		t.Fatalf("SendBufferSize() error = %v", err)
	}
	if send <= 0 {
		t.Errorf("SendBufferSize() = %d, want > 0", send)
	}
}

func TestParsePort(t *testing.T) {
	tests := []struct {
		input   any
		want    int
		wantErr bool
	}{
		{4000, 4000, false},
		{int64(53), 53, false},
		{uint16(65535), 65535, false},
		{float64(123), 123, false},
		{"4000", 4000, false},
		{" 80 ", 80, false},
		{0, 0, true},
		{65536, 0, true},
		{uint64(1 << 40), 0, true},
		{1.5, 0, true},
		{"peerA", 0, true},
		{"", 0, true},
		{[]byte("53"), 0, true},
	}

	for _, tt := range tests {
		got, err := ParsePort(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePort(%#v) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if err != nil && !errors.Is(err, pathway.ErrInvalidPort) {
			t.Errorf("ParsePort(%#v) error = %v, want ErrInvalidPort", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("ParsePort(%#v) = %d, want %d", tt.input, got, tt.want)
		}
	}
}
