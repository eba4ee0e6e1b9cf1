// Package control provides a Unix socket control interface for udpgroup.
package control

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/postalsys/udpgroup/internal/group"
	"github.com/postalsys/udpgroup/internal/pathway"
	"github.com/postalsys/udpgroup/internal/udp"
)

// Controller is the part of a group the control interface drives.
type Controller interface {
	// IsRunning returns true if the group is bound and reading.
	IsRunning() bool

	// Stats returns group statistics.
	Stats() group.Stats

	// Pathways returns the registered pathways.
	Pathways() []pathway.Info

	// CreatePathway registers a pathway at runtime.
	CreatePathway(d pathway.Descriptor) (*pathway.Channel, string, error)

	// Send sends a payload to a pathway or explicit address.
	Send(payload []byte, target pathway.Target, done func(error)) error
}

// StatusResponse is the response for the status endpoint.
type StatusResponse struct {
	Running           bool   `json:"running"`
	ListenAddr        string `json:"listen_addr"`
	RemoteAddr        string `json:"remote_addr,omitempty"`
	Uptime            string `json:"uptime,omitempty"`
	PathwayCount      int    `json:"pathway_count"`
	KeyCount          int    `json:"key_count"`
	DatagramsReceived uint64 `json:"datagrams_received"`
	BytesReceived     uint64 `json:"bytes_received"`
	DatagramsSent     uint64 `json:"datagrams_sent"`
	BytesSent         uint64 `json:"bytes_sent"`
}

// PathwaysResponse is the response for the pathways endpoint.
type PathwaysResponse struct {
	Pathways []pathway.Info `json:"pathways"`
}

// AddPathwayResponse is returned after a pathway is created.
type AddPathwayResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Key  string `json:"key"`
}

// Payload encodings accepted by the send endpoint.
const (
	EncodingText   = "text"
	EncodingBase64 = "base64"
)

// SendRequest is the body of the send endpoint. Either Pathway or
// Address and Port must be set.
type SendRequest struct {
	Pathway  string `json:"pathway,omitempty"`
	Address  string `json:"address,omitempty"`
	Port     int    `json:"port,omitempty"`
	Payload  string `json:"payload"`
	Encoding string `json:"encoding,omitempty"`
}

// SendResponse is returned after a send completes.
type SendResponse struct {
	Bytes   int  `json:"bytes"`
	Pending bool `json:"pending,omitempty"`
}

// ErrorResponse is returned for any failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ServerConfig contains control server configuration.
type ServerConfig struct {
	// SocketPath is the path to the Unix socket file.
	SocketPath string

	// ReadTimeout for HTTP reads.
	ReadTimeout time.Duration

	// WriteTimeout for HTTP writes.
	WriteTimeout time.Duration

	// SendTimeout bounds how long a send request waits for completion.
	SendTimeout time.Duration
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		SocketPath:   "./udpgroup.sock",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		SendTimeout:  5 * time.Second,
	}
}

// maxBodySize caps request bodies; a UDP payload never exceeds 64KiB and
// base64 expands it by a third.
const maxBodySize = 128 << 10

// Server is a Unix socket HTTP server for control commands.
type Server struct {
	cfg      ServerConfig
	group    Controller
	server   *http.Server
	listener net.Listener
	running  atomic.Bool
}

// NewServer creates a new control server.
func NewServer(cfg ServerConfig, g Controller) *Server {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}

	s := &Server{
		cfg:   cfg,
		group: g,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/pathways", s.handlePathways)
	mux.HandleFunc("/send", s.handleSend)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// Start starts the control server.
func (s *Server) Start() error {
	// Remove existing socket file if it exists
	if err := os.Remove(s.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return err
	}

	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return err
	}
	s.listener = ln
	s.running.Store(true)

	go s.server.Serve(ln)

	return nil
}

// Stop stops the control server.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}

	if err := os.Remove(s.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// SocketPath returns the socket path.
func (s *Server) SocketPath() string {
	return s.cfg.SocketPath
}

// handleStatus handles the status endpoint.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}

	stats := s.group.Stats()
	writeJSON(w, http.StatusOK, StatusResponse{
		Running:           s.group.IsRunning(),
		ListenAddr:        stats.ListenAddr,
		RemoteAddr:        stats.RemoteAddr,
		Uptime:            stats.Uptime,
		PathwayCount:      stats.Pathways,
		KeyCount:          stats.Keys,
		DatagramsReceived: stats.Socket.DatagramsReceived,
		BytesReceived:     stats.Socket.BytesReceived,
		DatagramsSent:     stats.Socket.DatagramsSent,
		BytesSent:         stats.Socket.BytesSent,
	})
}

// handlePathways lists pathways on GET and adds one on POST.
func (s *Server) handlePathways(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, PathwaysResponse{Pathways: s.group.Pathways()})

	case http.MethodPost:
		var body any
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
			return
		}

		d, err := pathway.DescriptorFromValue(body)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		ch, name, err := s.group.CreatePathway(d)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}

		writeJSON(w, http.StatusCreated, AddPathwayResponse{
			ID:   ch.ID().String(),
			Name: name,
			Key:  ch.Key(),
		})

	default:
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	}
}

// handleSend sends one datagram and waits for the write to complete.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}

	var req SendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	payload, err := req.decodePayload()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	target, err := req.target()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result := make(chan error, 1)
	if err := s.group.Send(payload, target, func(err error) { result <- err }); err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	timer := time.NewTimer(s.cfg.SendTimeout)
	defer timer.Stop()

	select {
	case err := <-result:
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, SendResponse{Bytes: len(payload)})
	case <-timer.C:
		writeJSON(w, http.StatusAccepted, SendResponse{Bytes: len(payload), Pending: true})
	case <-r.Context().Done():
	}
}

func (req SendRequest) decodePayload() ([]byte, error) {
	switch req.Encoding {
	case "", EncodingText:
		return []byte(req.Payload), nil
	case EncodingBase64:
		b, err := base64.StdEncoding.DecodeString(req.Payload)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 payload: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown encoding %q (must be text or base64)", req.Encoding)
	}
}

func (req SendRequest) target() (pathway.Target, error) {
	switch {
	case req.Pathway != "" && (req.Address != "" || req.Port != 0):
		return pathway.Target{}, errors.New("pathway and address/port are mutually exclusive")
	case req.Pathway != "":
		return pathway.ToPathway(req.Pathway), nil
	case req.Port != 0:
		return pathway.ToAddress(req.Address, req.Port), nil
	default:
		return pathway.Target{}, errors.New("either pathway or port is required")
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pathway.ErrUnknownPathway):
		return http.StatusNotFound
	case errors.Is(err, pathway.ErrConfig),
		errors.Is(err, pathway.ErrMissingPort),
		errors.Is(err, pathway.ErrInvalidPort),
		errors.Is(err, udp.ErrDatagramTooLarge):
		return http.StatusBadRequest
	case errors.Is(err, group.ErrClosed),
		errors.Is(err, pathway.ErrRegistryClosed),
		errors.Is(err, udp.ErrNotListening),
		errors.Is(err, udp.ErrSocketClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, pathway.ErrSendFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, ErrorResponse{Error: err.Error()})
}
