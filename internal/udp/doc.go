// Package udp provides the bound UDP socket a group multiplexes.
//
// A Socket wraps one *net.UDPConn and adds:
//   - a batched read loop (recvmmsg on Linux via golang.org/x/net) that
//     hands every datagram and its sender to a Handler
//   - a send primitive that validates the port argument and reports a
//     structurally invalid port as pathway.ErrInvalidPort
//   - buffer size tuning (SO_RCVBUF, SO_SNDBUF)
//   - lifecycle notifications: listening, connect, close
//
// # Lifecycle
//
//  1. NewSocket creates an unbound socket
//  2. Listen binds it and notifies Listening
//  3. Serve starts the read loop
//  4. Close unbinds, stops the read loop, and notifies Closed once
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. The Handler is called
// from the read loop goroutine only.
package udp
