// Package nodeclient implements the typed HTTP client for a single cluster
// node's management API. Every call is independently timeout-bounded and
// authenticated by the cluster's pre-shared secret.
package nodeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// UnavailableError is the single taxonomy value all transport failures,
// timeouts, and non-2xx responses normalize to. Callers decide whether it
// is fatal (fresh provisioning) or swallowable (best-effort cleanup).
type UnavailableError struct {
	Op         string
	Endpoint   string
	StatusCode int // zero when the failure happened before a response
	Err        error
}

func (e *UnavailableError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("nodeclient: %s on %s: unexpected status %d", e.Op, e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("nodeclient: %s on %s: %v", e.Op, e.Endpoint, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// ServerStatus is a node's self-reported runtime descriptor.
type ServerStatus struct {
	ContainerName string `json:"container_name"`
	Status        string `json:"status"`
	Protocol      string `json:"protocol"`
}

// CreatedPeer is the node's response to a provisioning call. The node is
// the sole authority for key generation and IP allocation; the private key
// appears here once and is never stored in clear.
type CreatedPeer struct {
	PublicKey   string `json:"public_key"`
	PrivateKey  string `json:"private_key"`
	AllocatedIP string `json:"allocated_ip"`
	Endpoint    string `json:"endpoint"`
	Config      string `json:"config"`
	Protocol    string `json:"protocol"`
}

// RemotePeer is a read-only peer view returned by node queries.
type RemotePeer struct {
	ID          string `json:"id"`
	PublicKey   string `json:"public_key"`
	AllocatedIP string `json:"allocated_ip"`
	Endpoint    string `json:"endpoint"`
	AppType     string `json:"app_type"`
	Protocol    string `json:"protocol"`
}

// Client talks to one cluster node.
type Client struct {
	endpoint string
	apiKey   string
	timeout  time.Duration
	http     *http.Client
}

// New creates a Client for the node at endpoint (host[:port] or full URL)
// authenticated with apiKey. Calls time out after timeout.
func New(endpoint, apiKey string, timeout time.Duration) *Client {
	base := strings.TrimRight(endpoint, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		endpoint: base,
		apiKey:   apiKey,
		timeout:  timeout,
		http:     &http.Client{},
	}
}

// Endpoint returns the normalized base URL of the node.
func (c *Client) Endpoint() string { return c.endpoint }

// APIKey returns the shared secret the client was built with.
func (c *Client) APIKey() string { return c.apiKey }

// GetServerStatus queries the node's self-reported container descriptor.
func (c *Client) GetServerStatus(ctx context.Context) (*ServerStatus, error) {
	var status ServerStatus
	if err := c.do(ctx, "get server status", http.MethodGet, "/api/v1/server/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// RestartServer asks the node to restart its container. The node applies
// the restart asynchronously; success only acknowledges the request.
func (c *Client) RestartServer(ctx context.Context) error {
	return c.do(ctx, "restart server", http.MethodPost, "/api/v1/server/restart", nil, nil)
}

// CreatePeer asks the node to allocate a key pair, an IP, and a ready
// configuration blob for a new peer.
func (c *Client) CreatePeer(ctx context.Context, appType, protocol string) (*CreatedPeer, error) {
	body := map[string]string{
		"app_type": appType,
		"protocol": protocol,
	}
	var created CreatedPeer
	if err := c.do(ctx, "create peer", http.MethodPost, "/api/v1/peers/", body, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// DeletePeer asks the node to remove the peer holding publicKey. Callers on
// best-effort paths treat a failure as "maybe already gone" and log it.
func (c *Client) DeletePeer(ctx context.Context, publicKey string) error {
	body := map[string]string{"public_key": publicKey}
	return c.do(ctx, "delete peer", http.MethodDelete, "/api/v1/peers/", body, nil)
}

// GetPeer queries one peer by its node-side id.
func (c *Client) GetPeer(ctx context.Context, id string) (*RemotePeer, error) {
	var peer RemotePeer
	if err := c.do(ctx, "get peer", http.MethodGet, "/api/v1/peers/"+id, nil, &peer); err != nil {
		return nil, err
	}
	return &peer, nil
}

// ListPeers queries all peers the node currently hosts.
func (c *Client) ListPeers(ctx context.Context) ([]RemotePeer, error) {
	var peers []RemotePeer
	if err := c.do(ctx, "list peers", http.MethodGet, "/api/v1/peers/", nil, &peers); err != nil {
		return nil, err
	}
	return peers, nil
}

// do executes one API call with the client's timeout and auth header,
// normalizing every failure into *UnavailableError.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &UnavailableError{Op: op, Endpoint: c.endpoint, Err: err}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(callCtx, method, c.endpoint+path, reader)
	if err != nil {
		return &UnavailableError{Op: op, Endpoint: c.endpoint, Err: err}
	}
	req.Header.Set("X-API-Key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &UnavailableError{Op: op, Endpoint: c.endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &UnavailableError{Op: op, Endpoint: c.endpoint, StatusCode: resp.StatusCode}
	}

	if out == nil {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &UnavailableError{Op: op, Endpoint: c.endpoint, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
