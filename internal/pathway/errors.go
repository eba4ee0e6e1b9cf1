package pathway

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig is matched by every *ConfigError.
	ErrConfig = errors.New("invalid pathway configuration")

	// ErrUnknownPathway is matched by every *UnknownPathwayError.
	ErrUnknownPathway = errors.New("unknown pathway")

	// ErrMissingPort is matched by every *MissingPortError.
	ErrMissingPort = errors.New("pathway has no port")

	// ErrSendFailed is matched by every *SendError.
	ErrSendFailed = errors.New("send failed")

	// ErrInvalidPort is reported by a Transport when the port argument is
	// structurally invalid. It is the only error that triggers fallback
	// resolution.
	ErrInvalidPort = errors.New("invalid port argument")

	// ErrChannelClosed is returned when receiving from a closed channel.
	ErrChannelClosed = errors.New("pathway channel closed")

	// ErrRegistryClosed is returned when creating a pathway after Close.
	ErrRegistryClosed = errors.New("pathway registry closed")
)

// ConfigError reports a malformed pathway descriptor.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "pathway config: " + e.Reason
	}
	return fmt.Sprintf("pathway config: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

// UnknownPathwayError reports an identifier with no registry entry.
type UnknownPathwayError struct {
	Identifier string
}

func (e *UnknownPathwayError) Error() string {
	return fmt.Sprintf("the pathway named %s has not been defined for this group", e.Identifier)
}

func (e *UnknownPathwayError) Is(target error) bool { return target == ErrUnknownPathway }

// MissingPortError reports a pathway registered without a usable port,
// which therefore cannot be used as a send target.
type MissingPortError struct {
	Identifier string
	Key        string
}

func (e *MissingPortError) Error() string {
	return fmt.Sprintf("a port is required in order to send: pathway %s resolves to %s", e.Identifier, e.Key)
}

func (e *MissingPortError) Is(target error) bool { return target == ErrMissingPort }

// SendError wraps a transport failure during a send.
type SendError struct {
	Destination string
	Err         error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s: %v", e.Destination, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

func (e *SendError) Is(target error) bool { return target == ErrSendFailed }
