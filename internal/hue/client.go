package hue

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/amimof/huego"
)

const appKeyHeader = "hue-application-key"

// BridgeInfo identifies the bridge a session is connected to.
type BridgeInfo struct {
	Name       string `json:"name"`
	BridgeID   string `json:"bridge_id"`
	ModelID    string `json:"model_id"`
	SwVersion  string `json:"sw_version"`
	APIVersion string `json:"api_version"`
}

// Client is a thin CLIP v2 HTTP client. It keeps no state besides the
// connection settings.
type Client struct {
	address    string
	token      string
	httpClient *http.Client
	v1         *huego.Bridge
}

// NewClient creates a client. The bridge serves a self-signed certificate,
// so TLS verification is disabled.
func NewClient(address, token string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}

	return &Client{
		address: address,
		token:   token,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		v1: huego.New(address, token),
	}
}

// Address returns the bridge address.
func (c *Client) Address() string {
	return c.address
}

// Close closes idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

func (c *Client) url(path string) string {
	return fmt.Sprintf("https://%s%s", c.address, path)
}

func (c *Client) resourcePath(rtype ResourceType, id string) string {
	if id == "" {
		return "/clip/v2/resource/" + string(rtype)
	}
	return fmt.Sprintf("/clip/v2/resource/%s/%s", rtype, id)
}

// Request performs an authenticated request against the bridge.
func (c *Client) Request(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set(appKeyHeader, c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient.Do(req)
}

type envelope struct {
	Errors []HueError      `json:"errors"`
	Data   json.RawMessage `json:"data"`
}

// do runs a request and decodes the CLIP v2 envelope. Auth failures map to
// ErrUnauthorized, non-2xx statuses to *BridgeRejected, and everything the
// network or decoder throws to *TransportError.
func (c *Client) do(ctx context.Context, op, method, path string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s: encode body: %w", op, err)
		}
		reader = bytes.NewReader(raw)
	}

	resp, err := c.Request(ctx, method, path, reader)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}

	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			if resp.StatusCode >= 300 {
				return nil, &BridgeRejected{Status: resp.StatusCode, Errors: []HueError{{Description: string(raw)}}}
			}
			return nil, &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
		}
	}

	if resp.StatusCode >= 300 {
		return nil, &BridgeRejected{Status: resp.StatusCode, Errors: env.Errors}
	}

	return env.Data, nil
}

// Check verifies the bridge is reachable and accepts the application key.
func (c *Client) Check(ctx context.Context) error {
	_, err := c.do(ctx, "check bridge", http.MethodGet, c.resourcePath(TypeBridge, ""), nil)
	return err
}

// Enumerate lists every resource of one type.
func (c *Client) Enumerate(ctx context.Context, rtype ResourceType) ([]Resource, error) {
	data, err := c.do(ctx, "enumerate "+string(rtype), http.MethodGet, c.resourcePath(rtype, ""), nil)
	if err != nil {
		return nil, err
	}

	var resources []Resource
	if len(data) == 0 {
		return resources, nil
	}
	if err := json.Unmarshal(data, &resources); err != nil {
		return nil, &TransportError{Op: "enumerate " + string(rtype), Err: err}
	}
	return resources, nil
}

// Send applies a command.
func (c *Client) Send(ctx context.Context, cmd Command) error {
	if cmd.ResourceID == "" {
		return errors.New("send: command has no resource id")
	}
	_, err := c.do(ctx, "update "+cmd.String(), http.MethodPut, c.resourcePath(cmd.ResourceType, cmd.ResourceID), cmd.Body)
	return err
}

// Info reads the bridge identity through the v1 config endpoint.
func (c *Client) Info() (BridgeInfo, error) {
	cfg, err := c.v1.GetConfig()
	if err != nil {
		return BridgeInfo{}, err
	}
	return BridgeInfo{
		Name:       cfg.Name,
		BridgeID:   cfg.BridgeID,
		ModelID:    cfg.ModelID,
		SwVersion:  cfg.SwVersion,
		APIVersion: cfg.APIVersion,
	}, nil
}
