package pathway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Policy decides what a channel does with a datagram when its queue is full.
type Policy int

const (
	// PolicyBlock makes the router wait for room, propagating backpressure
	// to the socket read loop.
	PolicyBlock Policy = iota
	// PolicyDropNewest discards the incoming datagram.
	PolicyDropNewest
	// PolicyDropOldest discards the oldest queued datagram to make room.
	PolicyDropOldest
)

// String returns the configuration name of the policy.
func (p Policy) String() string {
	switch p {
	case PolicyBlock:
		return "block"
	case PolicyDropNewest:
		return "drop_newest"
	case PolicyDropOldest:
		return "drop_oldest"
	default:
		return "unknown"
	}
}

// ParsePolicy parses a policy name as used in configuration files.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "block":
		return PolicyBlock, nil
	case "drop_newest":
		return PolicyDropNewest, nil
	case "drop_oldest":
		return PolicyDropOldest, nil
	default:
		return PolicyBlock, fmt.Errorf("unknown delivery policy %q (must be block, drop_newest, or drop_oldest)", s)
	}
}

// ChannelConfig controls per-channel queueing.
type ChannelConfig struct {
	// QueueSize is the number of datagrams a channel buffers.
	QueueSize int

	// Policy applies when the queue is full.
	Policy Policy

	// RateLimit caps accepted datagrams per second. 0 means unlimited.
	RateLimit float64

	// RateBurst is the limiter burst. Defaults to 1 when RateLimit is set.
	RateBurst int
}

// DefaultChannelConfig returns a ChannelConfig with sensible defaults.
func DefaultChannelConfig() ChannelConfig {
	return ChannelConfig{
		QueueSize: 256,
		Policy:    PolicyBlock,
	}
}

// ChannelStats is a snapshot of a channel's delivery counters.
type ChannelStats struct {
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
	Queued    int    `json:"queued"`
}

// Channel is a pathway's data-delivery endpoint. Every datagram it receives
// is a private copy owned by the consumer.
type Channel struct {
	id        uuid.UUID
	name      string
	key       string
	createdAt time.Time
	policy    Policy

	queue   chan []byte
	done    chan struct{}
	closing sync.Once
	limiter *rate.Limiter

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

func newChannel(name, key string, cfg ChannelConfig) *Channel {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = DefaultChannelConfig().QueueSize
	}

	c := &Channel{
		id:        uuid.New(),
		name:      name,
		key:       key,
		createdAt: time.Now(),
		policy:    cfg.Policy,
		queue:     make(chan []byte, cfg.QueueSize),
		done:      make(chan struct{}),
	}

	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return c
}

// ID returns the channel's unique identifier.
func (c *Channel) ID() uuid.UUID { return c.id }

// Name returns the display name: the nickname if one was given, else the key.
func (c *Channel) Name() string { return c.name }

// Key returns the key the channel is registered under.
func (c *Channel) Key() string { return c.key }

// CreatedAt returns when the channel was registered.
func (c *Channel) CreatedAt() time.Time { return c.createdAt }

// Messages returns the receive side of the channel's queue.
func (c *Channel) Messages() <-chan []byte { return c.queue }

// Done is closed when the channel is closed.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Recv returns the next datagram. Queued datagrams are still returned after
// Close; once drained, Recv returns ErrChannelClosed.
func (c *Channel) Recv(ctx context.Context) ([]byte, error) {
	select {
	case p := <-c.queue:
		return p, nil
	default:
	}

	select {
	case p := <-c.queue:
		return p, nil
	case <-c.done:
		select {
		case p := <-c.queue:
			return p, nil
		default:
			return nil, ErrChannelClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stats returns the channel's delivery counters.
func (c *Channel) Stats() ChannelStats {
	return ChannelStats{
		Delivered: c.delivered.Load(),
		Dropped:   c.dropped.Load(),
		Queued:    len(c.queue),
	}
}

// Close stops the channel from accepting datagrams and unblocks any router
// waiting on it. Safe to call more than once.
func (c *Channel) Close() {
	c.closing.Do(func() {
		close(c.done)
	})
}

// IsClosed reports whether Close has been called.
func (c *Channel) IsClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// write enqueues a payload the channel now owns. It reports whether the
// payload was accepted.
func (c *Channel) write(payload []byte) bool {
	if c.IsClosed() {
		c.dropped.Add(1)
		return false
	}

	if c.limiter != nil && !c.limiter.Allow() {
		c.dropped.Add(1)
		return false
	}

	switch c.policy {
	case PolicyDropNewest:
		select {
		case c.queue <- payload:
		default:
			c.dropped.Add(1)
			return false
		}

	case PolicyDropOldest:
		for {
			select {
			case c.queue <- payload:
				c.delivered.Add(1)
				return true
			default:
			}
			select {
			case <-c.queue:
				c.dropped.Add(1)
			default:
			}
		}

	default:
		select {
		case c.queue <- payload:
		case <-c.done:
			c.dropped.Add(1)
			return false
		}
	}

	c.delivered.Add(1)
	return true
}
