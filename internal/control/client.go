package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/postalsys/udpgroup/internal/pathway"
)

// Client is a control socket client.
type Client struct {
	socketPath string
	httpClient *http.Client
}

// NewClient creates a new control client.
func NewClient(socketPath string) *Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}

	return &Client{
		socketPath: socketPath,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   10 * time.Second,
		},
	}
}

// Status retrieves the group status.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var status StatusResponse
	if err := c.do(ctx, http.MethodGet, "/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Pathways retrieves the registered pathways.
func (c *Client) Pathways(ctx context.Context) (*PathwaysResponse, error) {
	var pathways PathwaysResponse
	if err := c.do(ctx, http.MethodGet, "/pathways", nil, &pathways); err != nil {
		return nil, err
	}
	return &pathways, nil
}

// AddPathway registers a pathway on the running group.
func (c *Client) AddPathway(ctx context.Context, d pathway.Descriptor) (*AddPathwayResponse, error) {
	var added AddPathwayResponse
	if err := c.do(ctx, http.MethodPost, "/pathways", d, &added); err != nil {
		return nil, err
	}
	return &added, nil
}

// Send sends a datagram through the running group.
func (c *Client) Send(ctx context.Context, req SendRequest) (*SendResponse, error) {
	var sent SendResponse
	if err := c.do(ctx, http.MethodPost, "/send", req, &sent); err != nil {
		return nil, err
	}
	return &sent, nil
}

// do performs a request against the control socket and decodes the JSON
// response into out.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	// Use a dummy host since we're connecting via Unix socket
	url := "http://localhost" + path

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err == nil && e.Error != "" {
			return &StatusError{Code: resp.StatusCode, Message: e.Error}
		}
		return &StatusError{Code: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Close closes the client.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("control: %d: %s", e.Code, e.Message)
}

// IsNotFound reports whether err is a 404 from the control server.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}
