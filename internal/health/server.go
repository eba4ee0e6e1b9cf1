// Package health provides health check HTTP endpoints for udpgroup.
package health

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/pprof"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/postalsys/udpgroup/internal/group"
	"github.com/postalsys/udpgroup/internal/pathway"
	"github.com/postalsys/udpgroup/internal/udp"
)

// StatsProvider provides group statistics.
type StatsProvider interface {
	// IsRunning returns true if the group is running.
	IsRunning() bool

	// Stats returns group statistics.
	Stats() group.Stats

	// Pathways returns the registered pathways.
	Pathways() []pathway.Info
}

// ServerConfig contains health server configuration.
type ServerConfig struct {
	// Address to listen on (e.g., ":8080")
	Address string

	// ReadTimeout for HTTP reads
	ReadTimeout time.Duration

	// WriteTimeout for HTTP writes
	WriteTimeout time.Duration

	// Gatherer serves /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      ":8080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server is an HTTP server for health check endpoints.
type Server struct {
	cfg      ServerConfig
	provider StatsProvider
	server   *http.Server
	listener net.Listener
	started  atomic.Bool
}

// NewServer creates a new health check server.
func NewServer(cfg ServerConfig, provider StatsProvider) *Server {
	s := &Server{
		cfg:      cfg,
		provider: provider,
	}

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", getOnly(s.handleHealth))
	mux.HandleFunc("/healthz", getOnly(s.handleHealthz))
	mux.HandleFunc("/ready", getOnly(s.handleReady))
	mux.HandleFunc("/pathways", getOnly(s.handlePathways))

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// pprof debug endpoints
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// Start starts the health check server.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	s.listener = ln
	s.started.Store(true)

	go s.server.Serve(ln)

	return nil
}

// Stop stops the health check server.
func (s *Server) Stop() error {
	if !s.started.Swap(false) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Address returns the server's listen address.
func (s *Server) Address() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	return s.started.Load()
}

// Handler returns the HTTP handler for embedding in other servers.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// HealthzResponse is the /healthz body.
type HealthzResponse struct {
	Status     string    `json:"status"`
	Running    bool      `json:"running"`
	ListenAddr string    `json:"listen_addr,omitempty"`
	Uptime     string    `json:"uptime,omitempty"`
	Pathways   int       `json:"pathways"`
	Keys       int       `json:"keys"`
	Socket     udp.Stats `json:"socket"`
}

// PathwaysResponse is the /pathways body.
type PathwaysResponse struct {
	Count    int            `json:"count"`
	Pathways []pathway.Info `json:"pathways"`
}

// getOnly rejects anything but GET.
func getOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(code)
	w.Write([]byte(body))
}

func (s *Server) groupRunning() bool {
	return s.provider != nil && s.provider.IsRunning()
}

// handleHealth answers 200 while the HTTP server itself is up.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusOK, "OK\n")
}

// handleHealthz reports group stats, or 503 when the socket is not bound.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !s.groupRunning() {
		writeJSON(w, http.StatusServiceUnavailable, HealthzResponse{Status: "unavailable"})
		return
	}

	stats := s.provider.Stats()
	writeJSON(w, http.StatusOK, HealthzResponse{
		Status:     "healthy",
		Running:    true,
		ListenAddr: stats.ListenAddr,
		Uptime:     stats.Uptime,
		Pathways:   stats.Pathways,
		Keys:       stats.Keys,
		Socket:     stats.Socket,
	})
}

// handleReady is 200 once the group is bound and reading.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.groupRunning() {
		writeText(w, http.StatusServiceUnavailable, "NOT READY\n")
		return
	}
	writeText(w, http.StatusOK, "READY\n")
}

// handlePathways lists registered pathways. Pathways exist before Start,
// so this does not require a bound socket.
func (s *Server) handlePathways(w http.ResponseWriter, r *http.Request) {
	if s.provider == nil {
		http.Error(w, "group not available", http.StatusServiceUnavailable)
		return
	}

	pathways := s.provider.Pathways()
	writeJSON(w, http.StatusOK, PathwaysResponse{Count: len(pathways), Pathways: pathways})
}
