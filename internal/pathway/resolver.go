package pathway

import (
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
)

// Transport is the socket primitive a Resolver hands concrete sends to.
type Transport interface {
	// Send validates port and address synchronously and then writes
	// payload. A structurally invalid port is reported as an error wrapping
	// ErrInvalidPort. The outcome of the write itself is passed to done,
	// which may be nil.
	Send(payload []byte, port any, address string, done func(error)) error
}

// SendObserver is told about send activity. All methods may be called from
// any goroutine that sends.
type SendObserver interface {
	// Sent is called once a send has been handed to the transport. mode is
	// SendModeDirect or SendModeResolved.
	Sent(mode string, bytes int)

	// FallbackResolved is called when a positional send recovered a
	// pathway identifier after the transport rejected the port.
	FallbackResolved(identifier, key string)

	// SendFailed is called with a *SendError for every failed write.
	SendFailed(err error)
}

// Send modes reported to SendObserver.Sent.
const (
	SendModeDirect   = "direct"
	SendModeResolved = "resolved"
)

// TargetKind tags how a Target names its destination.
type TargetKind int

const (
	// TargetAddress is an explicit address and port.
	TargetAddress TargetKind = iota
	// TargetPathway is a pathway key or nickname resolved through the registry.
	TargetPathway
)

// Target is the destination of an outbound send.
type Target struct {
	Kind    TargetKind
	Address string
	Port    int
	Pathway string
}

// ToAddress targets an explicit address and port.
func ToAddress(address string, port int) Target {
	return Target{Kind: TargetAddress, Address: address, Port: port}
}

// ToPathway targets a registered pathway by key or nickname.
func ToPathway(identifier string) Target {
	return Target{Kind: TargetPathway, Pathway: identifier}
}

func (t Target) String() string {
	if t.Kind == TargetPathway {
		return "pathway " + t.Pathway
	}
	return net.JoinHostPort(t.Address, strconv.Itoa(t.Port))
}

// Resolver turns send requests into concrete transport sends.
type Resolver struct {
	registry  *Registry
	transport Transport
	observer  SendObserver
}

// NewResolver creates a resolver. observer may be nil.
func NewResolver(registry *Registry, transport Transport, observer SendObserver) *Resolver {
	return &Resolver{
		registry:  registry,
		transport: transport,
		observer:  observer,
	}
}

// Lookup resolves a pathway key or nickname to a concrete address and port.
func (r *Resolver) Lookup(identifier string) (string, int, error) {
	key, ok := r.registry.Resolve(identifier)
	if !ok {
		return "", 0, &UnknownPathwayError{Identifier: identifier}
	}

	address, portStr, hasPort := SplitKey(key)
	port, err := strconv.Atoi(portStr)
	if !hasPort || err != nil {
		return "", 0, &MissingPortError{Identifier: identifier, Key: key}
	}
	return address, port, nil
}

// Send sends payload to target. Explicit addresses go straight to the
// transport and transport errors are returned as-is. Pathway targets are
// resolved first; resolution errors are returned, while transport errors
// after resolution are reported to the observer and done instead.
func (r *Resolver) Send(payload []byte, target Target, done func(error)) error {
	switch target.Kind {
	case TargetAddress:
		return r.transport.Send(payload, target.Port, target.Address,
			r.completion(SendModeDirect, len(payload), target.Address, target.Port, done))

	case TargetPathway:
		address, port, err := r.Lookup(target.Pathway)
		if err != nil {
			return err
		}
		r.sendResolved(payload, address, port, done)
		return nil

	default:
		return fmt.Errorf("unknown target kind %d", target.Kind)
	}
}

// SendArgs sends using positional arguments:
//
//	(port, address?, done?)
//	(offset, length, port, address?, done?)
//
// The arguments are first passed to the transport unchanged. If the
// transport rejects the port as structurally invalid, the argument that was
// meant as a pathway identifier is recovered and resolved instead.
func (r *Resolver) SendArgs(payload []byte, args ...any) error {
	call, err := parseArgs(payload, args)
	if err != nil {
		return err
	}

	err = r.transport.Send(call.payload, call.port, call.address,
		r.completion(SendModeDirect, len(call.payload), call.address, call.port, call.done))
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrInvalidPort) {
		return err
	}

	// A numeric port out of range leaves no identifier to resolve.
	identifier, ok := recoverIdentifier(call.positional)
	if !ok {
		return err
	}
	address, port, lookupErr := r.Lookup(identifier)
	if lookupErr != nil {
		return lookupErr
	}

	if r.observer != nil {
		key, _ := r.registry.Resolve(identifier)
		r.observer.FallbackResolved(identifier, key)
	}

	r.sendResolved(call.payload, address, port, call.done)
	return nil
}

func (r *Resolver) sendResolved(payload []byte, address string, port int, done func(error)) {
	if err := r.transport.Send(payload, port, address,
		r.completion(SendModeResolved, len(payload), address, port, done)); err != nil {
		r.fail(address, port, err, done)
	}
}

// completion wraps done so write failures become *SendError and reach the
// observer, and only completed writes are counted as sent.
func (r *Resolver) completion(mode string, n int, address string, port any, done func(error)) func(error) {
	return func(err error) {
		if err != nil {
			r.fail(address, port, err, done)
			return
		}
		r.sent(mode, n)
		if done != nil {
			done(nil)
		}
	}
}

func (r *Resolver) fail(address string, port any, err error, done func(error)) {
	var sendErr *SendError
	if !errors.As(err, &sendErr) {
		sendErr = &SendError{
			Destination: net.JoinHostPort(address, fmt.Sprint(port)),
			Err:         err,
		}
	}
	if r.observer != nil {
		r.observer.SendFailed(sendErr)
	}
	if done != nil {
		done(sendErr)
	}
}

func (r *Resolver) sent(mode string, n int) {
	if r.observer != nil {
		r.observer.Sent(mode, n)
	}
}

type sendCall struct {
	payload    []byte
	port       any
	address    string
	done       func(error)
	positional []any
}

// parseArgs interprets positional send arguments. The offset/length form is
// selected when the first two arguments are both integers.
func parseArgs(payload []byte, args []any) (sendCall, error) {
	call := sendCall{payload: payload}

	if n := len(args); n > 0 {
		switch fn := args[n-1].(type) {
		case func(error):
			call.done = fn
			args = args[:n-1]
		case nil:
			args = args[:n-1]
		}
	}
	call.positional = args

	rest := args
	if len(args) >= 2 {
		offset, okOffset := asInt(args[0])
		length, okLength := asInt(args[1])
		if okOffset && okLength {
			if offset < 0 || length < 0 || offset+length > len(payload) {
				return sendCall{}, fmt.Errorf("offset %d and length %d out of range for %d byte payload", offset, length, len(payload))
			}
			call.payload = payload[offset : offset+length]
			rest = args[2:]
		}
	}

	if len(rest) > 0 {
		call.port = rest[0]
	}
	if len(rest) > 1 {
		addr, ok := rest[1].(string)
		if !ok {
			return sendCall{}, fmt.Errorf("address must be a string, got %T", rest[1])
		}
		call.address = addr
	}

	return call, nil
}

// recoverIdentifier finds the pathway identifier among positional send
// arguments: the first argument when it is a non-numeric string, otherwise
// the third (the port position of the offset/length form).
func recoverIdentifier(args []any) (string, bool) {
	if len(args) == 0 {
		return "", false
	}
	if s, ok := args[0].(string); ok && !isNumeric(s) {
		return s, true
	}
	if isNumeric(args[0]) && len(args) > 2 {
		if s, ok := args[2].(string); ok {
			return s, true
		}
	}
	return "", false
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	default:
		return 0, false
	}
}

func isNumeric(v any) bool {
	if _, ok := asInt(v); ok {
		return true
	}
	switch n := v.(type) {
	case float32:
		return !math.IsInf(float64(n), 0) && !math.IsNaN(float64(n))
	case float64:
		return !math.IsInf(n, 0) && !math.IsNaN(n)
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return err == nil && !math.IsInf(f, 0) && !math.IsNaN(f)
	default:
		return false
	}
}
