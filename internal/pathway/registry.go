package pathway

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/postalsys/udpgroup/internal/logging"
)

// Listener receives registry notifications. Calls happen after the
// registry lock is released, on the goroutine that called Create.
type Listener interface {
	// PathwayCreated is called for every successful registration.
	PathwayCreated(ch *Channel, message string)

	// PathwayAmbiguous is called when a registration joins a key that
	// already had channels, so datagrams from that source fan out.
	PathwayAmbiguous(ch *Channel, message string)
}

// Info describes one registered pathway.
type Info struct {
	ID            uuid.UUID    `json:"id"`
	Name          string       `json:"name"`
	Key           string       `json:"key"`
	RemoteAddress string       `json:"remote_address"`
	RemotePort    string       `json:"remote_port,omitempty"`
	Nickname      string       `json:"nickname,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	Stats         ChannelStats `json:"stats"`
}

type entry struct {
	ch   *Channel
	desc Descriptor
}

// Registry owns the mapping from keys and nicknames to channels.
type Registry struct {
	mu        sync.RWMutex
	channels  map[string][]*Channel
	nicknames map[string]string
	entries   []entry
	closed    bool

	cfg      ChannelConfig
	listener Listener
	logger   *slog.Logger
}

// NewRegistry creates an empty registry. listener may be nil.
func NewRegistry(cfg ChannelConfig, listener Listener, logger *slog.Logger) *Registry {
	return &Registry{
		channels:  make(map[string][]*Channel),
		nicknames: make(map[string]string),
		cfg:       cfg,
		listener:  listener,
		logger:    logger.With(slog.String(logging.KeyComponent, "registry")),
	}
}

// Create registers a new pathway and returns its channel and display name.
func (r *Registry) Create(d Descriptor) (*Channel, string, error) {
	if err := d.Validate(); err != nil {
		return nil, "", err
	}

	key := d.Key()
	name := key
	if d.RemoteName != "" {
		name = d.RemoteName
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, "", ErrRegistryClosed
	}

	ch := newChannel(name, key, r.cfg)

	if d.RemoteName != "" {
		r.nicknames[d.RemoteName] = key
	}

	ambiguous := len(r.channels[key]) > 0
	r.channels[key] = append(r.channels[key], ch)
	r.entries = append(r.entries, entry{ch: ch, desc: d})
	r.mu.Unlock()

	r.logger.Debug("pathway registered",
		logging.KeyPathway, name,
		logging.KeyKey, key,
		logging.KeyNickname, d.RemoteName,
		logging.KeyChannelID, ch.ID().String(),
		logging.KeyPolicy, r.cfg.Policy.String(),
		"ambiguous", ambiguous)

	if r.listener != nil {
		dest := d.destinationText()
		r.listener.PathwayCreated(ch,
			fmt.Sprintf("Creating a pathway %s listening for messages from %s", name, dest))
		if ambiguous {
			r.listener.PathwayAmbiguous(ch,
				fmt.Sprintf("There are multiple pathways listening for messages from %s", dest))
		}
	}

	return ch, name, nil
}

// ChannelsFor returns the channels registered under key in registration
// order, or nil if there are none. The returned slice is a copy.
func (r *Registry) ChannelsFor(key string) []*Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.channels[key]
	if len(list) == 0 {
		return nil
	}
	out := make([]*Channel, len(list))
	copy(out, list)
	return out
}

// Resolve maps an identifier to a registered key. The identifier is tried
// as a key, then as a nickname, then as a key with a loopback alias in its
// address part.
func (r *Registry) Resolve(identifier string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.channels[identifier]; ok {
		return identifier, true
	}
	if key, ok := r.nicknames[identifier]; ok {
		return key, true
	}

	addr, port, _ := SplitKey(identifier)
	normalized := FormatKey(addr, port)
	if _, ok := r.channels[normalized]; ok {
		return normalized, true
	}
	return "", false
}

// Pathways returns a snapshot of every registered pathway in registration
// order.
func (r *Registry) Pathways() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, len(r.entries))
	for _, e := range r.entries {
		info := Info{
			ID:            e.ch.ID(),
			Name:          e.ch.Name(),
			Key:           e.ch.Key(),
			RemoteAddress: e.desc.address(),
			Nickname:      e.desc.RemoteName,
			CreatedAt:     e.ch.CreatedAt(),
			Stats:         e.ch.Stats(),
		}
		if e.desc.HasPort() {
			info.RemotePort = e.desc.port()
		}
		out = append(out, info)
	}
	return out
}

// Len returns the number of registered channels.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}

// KeyCount returns the number of distinct keys.
func (r *Registry) KeyCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.channels)
}

// Close closes every channel. Later Create calls fail with
// ErrRegistryClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	entries := r.entries
	r.mu.Unlock()

	for _, e := range entries {
		e.ch.Close()
	}
}
