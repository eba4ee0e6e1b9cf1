// Package pathway implements the pathway registry, inbound routing, and
// outbound address resolution that let one UDP socket serve many peers.
//
// A pathway is registered from a Descriptor (remote address, optional
// remote port, optional nickname) and gets its own Channel. Pathways are
// indexed by key:
//
//	10.0.0.5        address-only key, matches any source port
//	10.0.0.5_4000   address+port key
//
// Loopback aliases (127.0.0.1, 0.0.0.0, localhost) collapse to 127.0.0.1
// before a key is built, for registration, routing, and resolution alike.
//
// # Routing
//
// For a datagram from (A, P) the Router looks up both A and A_P and delivers
// a private copy of the payload to every channel found, address-only
// channels first. Several pathways may share a key; each gets a copy.
//
// # Delivery policy
//
// Each Channel has a bounded queue. When it is full the configured Policy
// applies: PolicyBlock waits (backpressure reaches the socket read loop),
// PolicyDropNewest discards the new datagram, PolicyDropOldest discards the
// oldest queued one. An optional rate limit drops datagrams above a fixed
// rate.
//
// # Sending
//
// The Resolver accepts either a tagged Target (ToAddress or ToPathway) or
// positional arguments. With positional arguments the transport is tried
// first and the pathway identifier is only recovered when the transport
// rejects the port with ErrInvalidPort.
//
// # Thread Safety
//
// Registry, Router, Resolver, and Channel are safe for concurrent use.
package pathway
