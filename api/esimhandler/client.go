package esimhandler

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ruteri/esim-operator-registry/api"
)

// Client talks to a registry server. Every call authenticates with the
// configured basic-auth credential.
type Client struct {
	baseURL  string
	user     string
	password string
	http     *http.Client
}

type ClientConfig struct {
	BaseURL  string
	User     string
	Password string

	// InsecureSkipVerify accepts self-signed server certificates.
	InsecureSkipVerify bool
	Timeout            time.Duration
}

// APIError is returned for non-2xx responses. Body holds the raw response.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("registry returned %d", e.StatusCode)
	}
	return fmt.Sprintf("registry returned %d (%s): %s", e.StatusCode, e.Status, e.Message)
}

func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		user:     cfg.User,
		password: cfg.Password,
		http:     &http.Client{Transport: transport, Timeout: timeout},
	}
}

func (c *Client) RegisterIdentity(ctx context.Context, req api.RegisterIdentityRequest) (*api.RegisterIdentityResponse, error) {
	var resp api.RegisterIdentityResponse
	err := c.do(ctx, http.MethodPost, "/register_identity", req, &resp)
	return &resp, err
}

func (c *Client) Devices(ctx context.Context) (*api.DevicesResponse, error) {
	var resp api.DevicesResponse
	err := c.do(ctx, http.MethodGet, "/devices", nil, &resp)
	return &resp, err
}

// RequestOperatorChange submits a signed change. On a partial completion the
// decoded response is returned together with the APIError.
func (c *Client) RequestOperatorChange(ctx context.Context, req api.OperatorChangeRequest) (*api.OperatorChangeResponse, error) {
	var resp api.OperatorChangeResponse
	err := c.do(ctx, http.MethodPost, "/request_operator_change", req, &resp)
	return &resp, err
}

func (c *Client) OperatorHistory(ctx context.Context, eid string) (*api.HistoryResponse, error) {
	var resp api.HistoryResponse
	err := c.do(ctx, http.MethodGet, "/operator_history/"+url.PathEscape(eid), nil, &resp)
	return &resp, err
}

func (c *Client) PendingMirrors(ctx context.Context) (*api.PendingMirrorsResponse, error) {
	var resp api.PendingMirrorsResponse
	err := c.do(ctx, http.MethodGet, "/ledger/pending", nil, &resp)
	return &resp, err
}

func (c *Client) ResubmitMirror(ctx context.Context, id int64) (*api.ResubmitResponse, error) {
	var resp api.ResubmitResponse
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/ledger/pending/%d/resubmit", id), nil, &resp)
	return &resp, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("could not encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("could not initialize request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.SetBasicAuth(c.user, c.password)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("could not reach registry: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("could not read response: %w", err)
	}

	decodeErr := json.Unmarshal(raw, out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: raw}
		var status api.StatusResponse
		if json.Unmarshal(raw, &status) == nil {
			apiErr.Status = status.Status
			apiErr.Message = status.Message
		}
		return apiErr
	}

	if decodeErr != nil {
		return fmt.Errorf("could not parse response: %w", decodeErr)
	}
	return nil
}
