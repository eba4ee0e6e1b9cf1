package group

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/postalsys/udpgroup/internal/logging"
	"github.com/postalsys/udpgroup/internal/metrics"
	"github.com/postalsys/udpgroup/internal/pathway"
	"github.com/postalsys/udpgroup/internal/recovery"
	"github.com/postalsys/udpgroup/internal/udp"
)

var (
	// ErrClosed is returned by operations on a closed group.
	ErrClosed = errors.New("group closed")

	// ErrAlreadyStarted is returned by a second Start call.
	ErrAlreadyStarted = errors.New("group already started")
)

// Config holds the group's socket and delivery settings.
type Config struct {
	Socket   udp.Config
	Delivery pathway.ChannelConfig
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Socket:   udp.DefaultConfig(),
		Delivery: pathway.DefaultChannelConfig(),
	}
}

// Stats is a snapshot of group state for status endpoints.
type Stats struct {
	Running    bool      `json:"running"`
	ListenAddr string    `json:"listen_addr,omitempty"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	Uptime     string    `json:"uptime,omitempty"`
	Pathways   int       `json:"pathways"`
	Keys       int       `json:"keys"`
	Refs       int       `json:"refs"`
	Socket     udp.Stats `json:"socket"`
}

// Group multiplexes one UDP socket across many pathways.
type Group struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	registry *pathway.Registry
	router   *pathway.Router
	resolver *pathway.Resolver
	socket   *udp.Socket

	obsMu     sync.RWMutex
	observers map[EventKind][]subscriber
	nextID    uint64

	refMu sync.Mutex
	refs  int
	zero  chan struct{}

	started   atomic.Bool
	running   atomic.Bool
	startedAt atomic.Int64
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a group. The socket is not bound until Start, so callers can
// Subscribe first and observe every event. m may be nil, in which case
// metrics are kept in a private registry.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) (*Group, error) {
	if err := cfg.Socket.Validate(); err != nil {
		return nil, fmt.Errorf("invalid socket config: %w", err)
	}
	if cfg.Delivery.QueueSize < 0 {
		return nil, fmt.Errorf("invalid delivery config: queue size %d", cfg.Delivery.QueueSize)
	}
	if m == nil {
		m = metrics.NewMetricsWithRegistry(prometheus.NewRegistry())
	}

	g := &Group{
		cfg:       cfg,
		logger:    logger.With(slog.String(logging.KeyComponent, "group")),
		metrics:   m,
		observers: make(map[EventKind][]subscriber),
		refs:      1,
		zero:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	h := hooks{g: g}
	g.registry = pathway.NewRegistry(cfg.Delivery, h, logger)
	g.router = pathway.NewRouter(g.registry)
	g.socket = udp.NewSocket(cfg.Socket, h, logger)
	g.resolver = pathway.NewResolver(g.registry, g.socket, h)

	return g, nil
}

// Subscribe registers fn for events of the given kind and returns a
// function that removes it. fn is called synchronously on the goroutine
// that produced the event.
func (g *Group) Subscribe(kind EventKind, fn func(Event)) (unsubscribe func()) {
	g.obsMu.Lock()
	g.nextID++
	id := g.nextID
	g.observers[kind] = append(g.observers[kind], subscriber{id: id, fn: fn})
	g.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.obsMu.Lock()
			defer g.obsMu.Unlock()

			subs := g.observers[kind]
			for i, s := range subs {
				if s.id == id {
					g.observers[kind] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
		})
	}
}

func (g *Group) hasSubscribers(kind EventKind) bool {
	g.obsMu.RLock()
	defer g.obsMu.RUnlock()

	return len(g.observers[kind]) > 0
}

func (g *Group) emit(ev Event) {
	ev.Time = time.Now()

	g.obsMu.RLock()
	subs := g.observers[ev.Kind]
	g.obsMu.RUnlock()

	for _, s := range subs {
		recovery.Call(g.logger, "subscriber:"+string(ev.Kind), func() { s.fn(ev) })
	}
}

func (g *Group) emitError(err error) {
	g.logger.Error("group error", logging.KeyError, err)
	g.emit(Event{Kind: EventError, Err: err})
}

// Start binds the socket, creates the given pathways, emits one pathways
// event with the results, and starts reading. Invalid descriptors are
// skipped; their errors are aggregated into the returned error after the
// group is already running with the valid ones.
func (g *Group) Start(descriptors ...pathway.Descriptor) error {
	if g.isClosed() {
		return ErrClosed
	}
	if !g.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	if err := g.socket.Listen(); err != nil {
		return fmt.Errorf("start group: %w", err)
	}

	results := make([]PathwayResult, 0, len(descriptors))
	var errs error
	for i, d := range descriptors {
		ch, name, err := g.registry.Create(d)
		if err != nil {
			err = fmt.Errorf("pathway %d (%s): %w", i, d.RemoteAddress, err)
			errs = multierr.Append(errs, err)
		}
		results = append(results, PathwayResult{Descriptor: d, Channel: ch, Name: name, Err: err})
	}

	g.emit(Event{Kind: EventPathways, Pathways: results, Err: errs})

	if err := g.socket.Serve(g.handleDatagram); err != nil {
		return multierr.Append(errs, fmt.Errorf("start read loop: %w", err))
	}

	g.startedAt.Store(time.Now().UnixNano())
	g.running.Store(true)

	g.logger.Info("group started",
		logging.KeyListenPort, g.Addr().Port,
		logging.KeyCount, g.registry.Len())

	if errs != nil {
		for _, err := range multierr.Errors(errs) {
			g.logger.Warn("pathway skipped", logging.KeyError, err)
		}
	}
	return errs
}

// handleDatagram routes one datagram. It runs on the read loop goroutine.
func (g *Group) handleDatagram(payload []byte, from *net.UDPAddr) {
	report := g.router.Dispatch(payload, from)

	g.metrics.RecordDatagramReceived(len(payload), report.Matched())
	for _, o := range report.Outcomes {
		g.metrics.RecordDelivery(o.Channel.Name(), o.Accepted)
	}

	if from != nil && g.logger.Enabled(context.Background(), slog.LevelDebug) {
		msg := "datagram routed"
		if report.Matched() == 0 {
			msg = "datagram matched no pathway"
		}
		g.logger.Debug(msg,
			logging.KeyAddress, from.IP.String(),
			logging.KeyPort, from.Port,
			logging.KeyMatched, report.Matched(),
			logging.KeyBytes, len(payload))
	}

	if g.hasSubscribers(EventMessage) {
		dup := make([]byte, len(payload))
		copy(dup, payload)
		g.emit(Event{Kind: EventMessage, Payload: dup, From: from, Matched: report.Matched()})
	}
}

// CreatePathway registers a pathway and returns its channel and display
// name. It may be called before or after Start.
func (g *Group) CreatePathway(d pathway.Descriptor) (*pathway.Channel, string, error) {
	if g.isClosed() {
		return nil, "", ErrClosed
	}
	return g.registry.Create(d)
}

// AddPathway is CreatePathway with a completion callback.
func (g *Group) AddPathway(d pathway.Descriptor, cb func(err error, ch *pathway.Channel, name string)) {
	ch, name, err := g.CreatePathway(d)
	if cb != nil {
		cb(err, ch, name)
	}
}

// Send sends payload to target. See pathway.Resolver.Send.
func (g *Group) Send(payload []byte, target pathway.Target, done func(error)) error {
	if err := g.resolver.Send(payload, target, done); err != nil {
		g.metrics.RecordSendFailure(failureReason(err))
		return err
	}
	return nil
}

// SendArgs sends using positional arguments. See pathway.Resolver.SendArgs.
func (g *Group) SendArgs(payload []byte, args ...any) error {
	if err := g.resolver.SendArgs(payload, args...); err != nil {
		g.metrics.RecordSendFailure(failureReason(err))
		return err
	}
	return nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, pathway.ErrUnknownPathway):
		return "unknown_pathway"
	case errors.Is(err, pathway.ErrMissingPort):
		return "missing_port"
	case errors.Is(err, pathway.ErrInvalidPort):
		return "invalid_port"
	case errors.Is(err, udp.ErrSocketClosed), errors.Is(err, udp.ErrNotListening):
		return "not_running"
	case errors.Is(err, udp.ErrDatagramTooLarge):
		return "too_large"
	case errors.Is(err, pathway.ErrSendFailed):
		return "write"
	default:
		return "other"
	}
}

// Addr returns the bound local address, or nil before Start.
func (g *Group) Addr() *net.UDPAddr {
	return g.socket.Addr()
}

// Connect sets the default destination used by SendArgs without a port.
func (g *Group) Connect(address string, port int) error {
	return g.socket.Connect(address, port)
}

// RecvBufferSize returns the socket receive buffer size.
func (g *Group) RecvBufferSize() (int, error) { return g.socket.RecvBufferSize() }

// SetRecvBufferSize sets the socket receive buffer size.
func (g *Group) SetRecvBufferSize(n int) error { return g.socket.SetRecvBufferSize(n) }

// SendBufferSize returns the socket send buffer size.
func (g *Group) SendBufferSize() (int, error) { return g.socket.SendBufferSize() }

// SetSendBufferSize sets the socket send buffer size.
func (g *Group) SetSendBufferSize(n int) error { return g.socket.SetSendBufferSize(n) }

// Ref acquires a reference that keeps Wait blocking.
func (g *Group) Ref() {
	g.refMu.Lock()
	defer g.refMu.Unlock()

	if g.refs == 0 {
		g.zero = make(chan struct{})
	}
	g.refs++
}

// Unref releases a reference. When the count reaches zero, Wait returns.
func (g *Group) Unref() {
	g.refMu.Lock()
	defer g.refMu.Unlock()

	if g.refs == 0 {
		return
	}
	g.refs--
	if g.refs == 0 {
		close(g.zero)
	}
}

// Wait blocks until the group is closed, its reference count reaches zero,
// or ctx is done.
func (g *Group) Wait(ctx context.Context) error {
	g.refMu.Lock()
	zero := g.zero
	g.refMu.Unlock()

	select {
	case <-g.done:
		return nil
	case <-zero:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the group is closed.
func (g *Group) Done() <-chan struct{} { return g.done }

// Pathways returns a snapshot of the registered pathways.
func (g *Group) Pathways() []pathway.Info {
	return g.registry.Pathways()
}

// IsRunning reports whether the group has started and is not closed.
func (g *Group) IsRunning() bool {
	return g.running.Load()
}

// Stats returns a snapshot of group state.
func (g *Group) Stats() Stats {
	g.refMu.Lock()
	refs := g.refs
	g.refMu.Unlock()

	s := Stats{
		Running:  g.IsRunning(),
		Pathways: g.registry.Len(),
		Keys:     g.registry.KeyCount(),
		Refs:     refs,
		Socket:   g.socket.Stats(),
	}
	if addr := g.socket.Addr(); addr != nil {
		s.ListenAddr = addr.String()
	}
	if remote := g.socket.RemoteAddr(); remote != nil {
		s.RemoteAddr = remote.String()
	}
	if ns := g.startedAt.Load(); ns != 0 {
		s.StartedAt = time.Unix(0, ns)
		s.Uptime = time.Since(s.StartedAt).Round(time.Second).String()
	}
	return s
}

// Close closes every pathway channel and the socket. The close event is
// emitted once. Safe to call more than once.
func (g *Group) Close() error {
	var err error
	g.closeOnce.Do(func() {
		g.running.Store(false)

		// Channels first so a read loop blocked on a full queue can exit.
		g.registry.Close()
		err = g.socket.Close()
		close(g.done)
	})
	return err
}

func (g *Group) isClosed() bool {
	select {
	case <-g.done:
		return true
	default:
		return false
	}
}

// hooks adapts registry, resolver, and socket notifications into group
// events and metrics.
type hooks struct {
	g *Group
}

func (h hooks) PathwayCreated(ch *pathway.Channel, message string) {
	h.g.metrics.RecordPathwayCreated()
	h.g.logger.Info("pathway created",
		logging.KeyPathway, ch.Name(),
		logging.KeyKey, ch.Key(),
		logging.KeyChannelID, ch.ID().String())
	h.g.emit(Event{Kind: EventInfo, Message: message, Channel: ch})
}

func (h hooks) PathwayAmbiguous(ch *pathway.Channel, message string) {
	h.g.metrics.RecordPathwayAmbiguous()
	h.g.logger.Warn("multiple pathways share a key",
		logging.KeyPathway, ch.Name(),
		logging.KeyKey, ch.Key())
	h.g.emit(Event{Kind: EventWarning, Message: message})
}

func (h hooks) Sent(mode string, bytes int) {
	h.g.metrics.RecordSend(mode, bytes)
}

func (h hooks) FallbackResolved(identifier, key string) {
	h.g.metrics.RecordFallback()
	h.g.logger.Debug("send resolved through pathway",
		logging.KeyPathway, identifier,
		logging.KeyKey, key)
}

func (h hooks) SendFailed(err error) {
	h.g.metrics.RecordSendFailure("write")
	h.g.emitError(err)
}

func (h hooks) Listening(addr *net.UDPAddr) {
	h.g.emit(Event{Kind: EventListening, Addr: addr})
}

func (h hooks) Connected(remote *net.UDPAddr) {
	h.g.emit(Event{Kind: EventConnect, Addr: remote})
}

func (h hooks) Closed() {
	var uptime time.Duration
	if ns := h.g.startedAt.Load(); ns != 0 {
		uptime = time.Since(time.Unix(0, ns)).Round(time.Second)
	}
	h.g.logger.Info("group closed", logging.KeyDuration, uptime)
	h.g.emit(Event{Kind: EventClose})
}

func (h hooks) ReadError(err error) {
	h.g.metrics.RecordReadError()
	h.g.emitError(err)
}
