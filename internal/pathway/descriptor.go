package pathway

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Port is a pathway's remote port: a decimal number, the wildcard marker,
// or empty. It decodes from either a JSON number or a JSON string.
type Port string

// UnmarshalJSON accepts 4000, "4000" and "*".
func (p *Port) UnmarshalJSON(data []byte) error {
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*p = Port(n.String())
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("remote_port must be a number or string: %w", err)
	}
	*p = Port(s)
	return nil
}

// UnmarshalYAML accepts 4000, "4000" and "*".
func (p *Port) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: remote_port must be a number or string", value.Line)
	}
	*p = Port(value.Value)
	return nil
}

// Descriptor is the caller-supplied description of a pathway.
type Descriptor struct {
	RemoteAddress string `yaml:"remote_address" json:"remote_address"`
	RemotePort    Port   `yaml:"remote_port,omitempty" json:"remote_port,omitempty"`
	RemoteName    string `yaml:"remote_name,omitempty" json:"remote_name,omitempty"`
}

// Validate checks the descriptor and returns a *ConfigError on failure.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.RemoteAddress) == "" {
		return &ConfigError{
			Field:  "remote_address",
			Reason: "pathway must be added using a descriptor with remote_address",
		}
	}

	port := strings.TrimSpace(string(d.RemotePort))
	if port == "" || port == Wildcard {
		return nil
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return &ConfigError{
			Field:  "remote_port",
			Reason: fmt.Sprintf("invalid port %q (must be 0-65535 or %q)", port, Wildcard),
		}
	}
	return nil
}

// Key returns the canonical lookup key for the descriptor.
func (d Descriptor) Key() string {
	return FormatKey(d.address(), d.port())
}

// HasPort reports whether the descriptor names a concrete remote port.
func (d Descriptor) HasPort() bool {
	return d.port() != ""
}

func (d Descriptor) address() string {
	return strings.TrimSpace(d.RemoteAddress)
}

// port returns the remote port in the form inbound keys use, or "" for
// the wildcard. Forms such as "04000" and "+4000" become "4000"; any
// spelling of zero is the wildcard.
func (d Descriptor) port() string {
	port := strings.TrimSpace(string(d.RemotePort))
	if port == "" || port == Wildcard {
		return ""
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return port
	}
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}

// destinationText describes the descriptor's matching criteria for
// info and warning notifications.
func (d Descriptor) destinationText() string {
	if d.HasPort() {
		return fmt.Sprintf("remote address %s and remote port %s", d.address(), d.port())
	}
	return "remote address " + d.address()
}

// DescriptorFromValue converts a decoded JSON value into a Descriptor.
// It fails with a *ConfigError if v is not an object or lacks
// remote_address.
func DescriptorFromValue(v any) (Descriptor, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return Descriptor{}, &ConfigError{
			Reason: fmt.Sprintf("pathway must be added using an object with remote_address property, got %T", v),
		}
	}

	var d Descriptor
	switch addr := m["remote_address"].(type) {
	case string:
		d.RemoteAddress = addr
	case nil:
	default:
		return Descriptor{}, &ConfigError{Field: "remote_address", Reason: fmt.Sprintf("must be a string, got %T", addr)}
	}

	switch port := m["remote_port"].(type) {
	case nil:
	case string:
		d.RemotePort = Port(port)
	case float64:
		if port != float64(int(port)) {
			return Descriptor{}, &ConfigError{Field: "remote_port", Reason: fmt.Sprintf("not an integer: %v", port)}
		}
		d.RemotePort = Port(strconv.Itoa(int(port)))
	case json.Number:
		d.RemotePort = Port(port.String())
	default:
		return Descriptor{}, &ConfigError{Field: "remote_port", Reason: fmt.Sprintf("must be a number or string, got %T", port)}
	}

	switch name := m["remote_name"].(type) {
	case nil:
	case string:
		d.RemoteName = name
	default:
		return Descriptor{}, &ConfigError{Field: "remote_name", Reason: fmt.Sprintf("must be a string, got %T", name)}
	}

	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}
