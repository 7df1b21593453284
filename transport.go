package crmclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
)

// HTTPClient is the transport contract the Scheduler dispatches through.
// It exposes exactly one capability — POST a JSON body, get back a status
// code and a decoded JSON body — so that any transport (the default
// *http.Client-backed one, a test double, a session-reusing client the
// caller constructed) can stand in for it.
//
// Implementations must wrap transport-level failures in ErrConnection,
// ErrPayload, or ErrTimeout (or return an *HTTPStatusError for non-2xx
// statuses) so the Scheduler's classifier can distinguish retriable from
// fatal failures without depending on implementation-specific error types.
type HTTPClient interface {
	Post(ctx context.Context, url string, body any) (status int, decoded map[string]any, err error)

	// Close releases any resources the client holds (connection pools,
	// idle sockets). Called by the Scheduler when its session refcount
	// drops to zero, unless the caller supplied the client themselves.
	Close() error
}

// defaultHTTPClient is the HTTPClient realization backed by *http.Client,
// used unless the caller supplies their own session via WithHTTPClient.
type defaultHTTPClient struct {
	client *http.Client
}

// newDefaultHTTPClient builds a *http.Client with sane pooling defaults and
// the requested TLS posture, matching the "ssl" config knob.
func newDefaultHTTPClient(ssl bool, timeout time.Duration) *defaultHTTPClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !ssl {
		if transport.TLSClientConfig == nil {
			transport.TLSClientConfig = &tls.Config{}
		}
		transport.TLSClientConfig.InsecureSkipVerify = true
	}

	return &defaultHTTPClient{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
	}
}

func (c *defaultHTTPClient) Post(ctx context.Context, url string, body any) (int, map[string]any, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrPayload, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("%w: %v", ErrPayload, err)
	}

	var decoded map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return resp.StatusCode, nil, fmt.Errorf("%w: %v", ErrPayload, err)
		}
	}

	if resp.StatusCode >= 300 {
		return resp.StatusCode, decoded, &HTTPStatusError{Status: resp.StatusCode}
	}

	return resp.StatusCode, decoded, nil
}

func (c *defaultHTTPClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// classifyTransportError maps a raw net/http error into one of the
// package's sentinel transport errors.
func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrConnection, err)
}
