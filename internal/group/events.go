package group

import (
	"net"
	"time"

	"github.com/postalsys/udpgroup/internal/pathway"
)

// EventKind names an observable group event.
type EventKind string

// Event kinds.
const (
	EventMessage   EventKind = "message"
	EventPathways  EventKind = "pathways"
	EventInfo      EventKind = "info"
	EventWarning   EventKind = "warning"
	EventError     EventKind = "error"
	EventClose     EventKind = "close"
	EventConnect   EventKind = "connect"
	EventListening EventKind = "listening"
)

// Event is delivered to subscribers. Which fields are set depends on Kind:
//
//	message    Payload, From, Matched
//	pathways   Pathways, Err (aggregated failures, if any)
//	info       Message, Channel (when a pathway was created)
//	warning    Message
//	error      Err
//	connect    Addr (the default destination)
//	listening  Addr (the bound address)
//	close      nothing
type Event struct {
	Kind EventKind
	Time time.Time

	Message string
	Err     error

	Payload []byte
	From    *net.UDPAddr
	Matched int

	Addr *net.UDPAddr

	Channel  *pathway.Channel
	Pathways []PathwayResult
}

// PathwayResult is the outcome of creating one construction-time pathway.
type PathwayResult struct {
	Descriptor pathway.Descriptor
	Channel    *pathway.Channel
	Name       string
	Err        error
}

type subscriber struct {
	id uint64
	fn func(Event)
}
