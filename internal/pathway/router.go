package pathway

import (
	"net"
)

// Outcome records what happened to one copy of a routed datagram.
type Outcome struct {
	Channel  *Channel
	Accepted bool
}

// DeliveryReport summarizes the delivery of one datagram.
type DeliveryReport struct {
	Outcomes  []Outcome
	Delivered int
	Dropped   int
}

// Matched returns the number of channels the datagram was routed to.
func (r DeliveryReport) Matched() int { return len(r.Outcomes) }

// Router dispatches inbound datagrams to the channels of matching pathways.
// It holds no state of its own beyond the registry it reads.
type Router struct {
	registry *Registry
}

// NewRouter creates a router over the given registry.
func NewRouter(registry *Registry) *Router {
	return &Router{registry: registry}
}

// Route returns every channel that should receive a datagram from the given
// sender: channels under the address-only key first, then channels under the
// address+port key, each in registration order. Duplicates are not removed.
func (rt *Router) Route(address string, port int) []*Channel {
	address = Normalize(address)

	addressOnly := rt.registry.ChannelsFor(FormatKey(address, ""))
	addressPort := rt.registry.ChannelsFor(PortKey(address, port))

	if len(addressOnly) == 0 {
		return addressPort
	}
	return append(addressOnly, addressPort...)
}

// Deliver writes an independent copy of payload to each channel, in order.
// The caller keeps ownership of payload.
func (rt *Router) Deliver(payload []byte, channels []*Channel) DeliveryReport {
	report := DeliveryReport{Outcomes: make([]Outcome, 0, len(channels))}

	for _, ch := range channels {
		dup := make([]byte, len(payload))
		copy(dup, payload)

		ok := ch.write(dup)
		report.Outcomes = append(report.Outcomes, Outcome{Channel: ch, Accepted: ok})
		if ok {
			report.Delivered++
		} else {
			report.Dropped++
		}
	}

	return report
}

// Dispatch routes and delivers one datagram received from addr.
func (rt *Router) Dispatch(payload []byte, from *net.UDPAddr) DeliveryReport {
	if from == nil {
		return DeliveryReport{}
	}
	return rt.Deliver(payload, rt.Route(from.IP.String(), from.Port))
}
