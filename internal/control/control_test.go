package control

import (
	"context"
	"encoding/base64"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/postalsys/udpgroup/internal/group"
	"github.com/postalsys/udpgroup/internal/logging"
	"github.com/postalsys/udpgroup/internal/metrics"
	"github.com/postalsys/udpgroup/internal/pathway"
)

func newTestGroup(t *testing.T, descriptors ...pathway.Descriptor) *group.Group {
	t.Helper()

	cfg := group.DefaultConfig()
	cfg.Socket.ListenAddress = "127.0.0.1"

	g, err := group.New(cfg, logging.NopLogger(), metrics.NewMetricsWithRegistry(prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("group.New() error = %v", err)
	}
	t.Cleanup(func() { g.Close() })

	if err := g.Start(descriptors...); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return g
}

func newPeer(t *testing.T) (*net.UDPConn, int) {
	t.Helper()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, conn.LocalAddr().(*net.UDPAddr).Port
}

func readPeer(t *testing.T, peer *net.UDPConn) string {
	t.Helper()

	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1024)
	n, _, err := peer.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("ReadFromUDP() error = %v", err)
	}
	return string(buf[:n])
}

func startServer(t *testing.T, g Controller) *Client {
	t.Helper()

	cfg := DefaultServerConfig()
	cfg.SocketPath = filepath.Join(t.TempDir(), "control.sock")

	s := NewServer(cfg, g)
	if err := s.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	t.Cleanup(func() { s.Stop() })

	client := NewClient(cfg.SocketPath)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestNewServer(t *testing.T) {
	s := NewServer(ServerConfig{SocketPath: "x.sock"}, nil)
	if s == nil {
		t.Fatal("NewServer returned nil")
	}
	if s.cfg.SendTimeout != 5*time.Second {
		t.Errorf("SendTimeout = %v, want 5s", s.cfg.SendTimeout)
	}
}

func TestServer_StartStop(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "control.sock")

	cfg := ServerConfig{
		SocketPath:   socketPath,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	s := NewServer(cfg, newTestGroup(t))

	if err := s.Start(); err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	if !s.IsRunning() {
		t.Error("expected server to be running")
	}
	if _, err := os.Stat(socketPath); os.IsNotExist(err) {
		t.Error("socket file does not exist")
	}

	if err := s.Stop(); err != nil {
		t.Errorf("failed to stop: %v", err)
	}
	if s.IsRunning() {
		t.Error("expected server to be stopped")
	}
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Error("socket file still exists after stop")
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second stop failed: %v", err)
	}
}

func TestClient_StatusAndPathways(t *testing.T) {
	g := newTestGroup(t,
		pathway.Descriptor{RemoteAddress: "10.0.0.5", RemotePort: "4000", RemoteName: "peerA"},
		pathway.Descriptor{RemoteAddress: "10.0.0.6"},
	)
	client := startServer(t, g)
	ctx := context.Background()

	status, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !status.Running {
		t.Error("expected running=true")
	}
	if status.PathwayCount != 2 {
		t.Errorf("PathwayCount = %d, want 2", status.PathwayCount)
	}
	if status.ListenAddr != g.Addr().String() {
		t.Errorf("ListenAddr = %s, want %s", status.ListenAddr, g.Addr())
	}

	pathways, err := client.Pathways(ctx)
	if err != nil {
		t.Fatalf("Pathways() error = %v", err)
	}
	if len(pathways.Pathways) != 2 {
		t.Fatalf("len(Pathways) = %d, want 2", len(pathways.Pathways))
	}
	keys := map[string]bool{}
	for _, p := range pathways.Pathways {
		keys[p.Key] = true
	}
	if !keys["10.0.0.5_4000"] || !keys["10.0.0.6"] {
		t.Errorf("keys = %v, want 10.0.0.5_4000 and 10.0.0.6", keys)
	}
}

func TestClient_AddPathway(t *testing.T) {
	g := newTestGroup(t)
	client := startServer(t, g)
	ctx := context.Background()

	added, err := client.AddPathway(ctx, pathway.Descriptor{RemoteAddress: "localhost", RemotePort: "7000", RemoteName: "local"})
	if err != nil {
		t.Fatalf("AddPathway() error = %v", err)
	}
	if added.Key != "127.0.0.1_7000" {
		t.Errorf("Key = %s, want 127.0.0.1_7000", added.Key)
	}
	if added.Name != "local" {
		t.Errorf("Name = %s, want local", added.Name)
	}
	if added.ID == "" {
		t.Error("expected non-empty ID")
	}
	if len(g.Pathways()) != 1 {
		t.Errorf("len(Pathways()) = %d, want 1", len(g.Pathways()))
	}

	_, err = client.AddPathway(ctx, pathway.Descriptor{RemoteName: "nowhere"})
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadRequest {
		t.Errorf("AddPathway(no address) error = %v, want 400", err)
	}
}

func TestClient_Send(t *testing.T) {
	peer, port := newPeer(t)
	g := newTestGroup(t, pathway.Descriptor{RemoteAddress: "127.0.0.1", RemotePort: pathway.Port(strconv.Itoa(port)), RemoteName: "peer"})
	client := startServer(t, g)
	ctx := context.Background()

	tests := []struct {
		name string
		req  SendRequest
		want string
	}{
		{"by nickname", SendRequest{Pathway: "peer", Payload: "one"}, "one"},
		{"by key", SendRequest{Pathway: "127.0.0.1_" + strconv.Itoa(port), Payload: "two"}, "two"},
		{"by address", SendRequest{Address: "127.0.0.1", Port: port, Payload: "three"}, "three"},
		{"base64", SendRequest{Pathway: "peer", Payload: base64.StdEncoding.EncodeToString([]byte("four")), Encoding: EncodingBase64}, "four"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := client.Send(ctx, tt.req)
			if err != nil {
				t.Fatalf("Send() error = %v", err)
			}
			if resp.Bytes != len(tt.want) {
				t.Errorf("Bytes = %d, want %d", resp.Bytes, len(tt.want))
			}
			if got := readPeer(t, peer); got != tt.want {
				t.Errorf("peer received %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClient_SendErrors(t *testing.T) {
	g := newTestGroup(t, pathway.Descriptor{RemoteAddress: "10.0.0.6"})
	client := startServer(t, g)
	ctx := context.Background()

	tests := []struct {
		name string
		req  SendRequest
		code int
	}{
		{"unknown pathway", SendRequest{Pathway: "nobody", Payload: "x"}, http.StatusNotFound},
		{"pathway without port", SendRequest{Pathway: "10.0.0.6", Payload: "x"}, http.StatusBadRequest},
		{"no target", SendRequest{Payload: "x"}, http.StatusBadRequest},
		{"both targets", SendRequest{Pathway: "10.0.0.6", Port: 4000, Payload: "x"}, http.StatusBadRequest},
		{"bad base64", SendRequest{Port: 4000, Payload: "!!", Encoding: EncodingBase64}, http.StatusBadRequest},
		{"bad encoding", SendRequest{Port: 4000, Payload: "x", Encoding: "hex"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Send(ctx, tt.req)
			var se *StatusError
			if !errors.As(err, &se) {
				t.Fatalf("Send() error = %v, want *StatusError", err)
			}
			if se.Code != tt.code {
				t.Errorf("Code = %d, want %d (%s)", se.Code, tt.code, se.Message)
			}
		})
	}

	_, err := client.Send(ctx, SendRequest{Pathway: "nobody", Payload: "x"})
	if !IsNotFound(err) {
		t.Errorf("IsNotFound(%v) = false, want true", err)
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	s := NewServer(DefaultServerConfig(), newTestGroup(t))

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/status"},
		{http.MethodDelete, "/pathways"},
		{http.MethodGet, "/send"},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, nil)
		rec := httptest.NewRecorder()
		s.server.Handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: status = %d, want %d", tt.method, tt.path, rec.Code, http.StatusMethodNotAllowed)
		}
	}
}

func TestServer_AddPathwayRejectsNonObject(t *testing.T) {
	s := NewServer(DefaultServerConfig(), newTestGroup(t))

	for _, body := range []string{`"10.0.0.5"`, `[1,2]`, `{"remote_address": 5}`, `not json`} {
		req := httptest.NewRequest(http.MethodPost, "/pathways", strings.NewReader(body))
		rec := httptest.NewRecorder()
		s.server.Handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want %d", body, rec.Code, http.StatusBadRequest)
		}
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&pathway.UnknownPathwayError{Identifier: "x"}, http.StatusNotFound},
		{&pathway.ConfigError{Reason: "bad"}, http.StatusBadRequest},
		{group.ErrClosed, http.StatusServiceUnavailable},
		{&pathway.SendError{Destination: "1.2.3.4:5", Err: errors.New("boom")}, http.StatusBadGateway},
		{errors.New("other"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
