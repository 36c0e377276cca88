// Package backupapi is the Go client of the PG Backup Manager REST API.
package backupapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/Kurdzik/PG-backup-manager/pkg/version"
)

const (
	defaultServerURLString = "http://127.0.0.1:8080/api/v1"
	userAgent              = "pg-backup-manager-client"
	apiKeyHeader           = "x-api-key"
)

// Client is the client for interacting with the PG Backup Manager API server.
type Client struct {
	client    *http.Client
	retrying  *http.Client // GET only, nil without WithRetries
	retries   int
	ServerURL *url.URL
	apiKey    string
	token     string

	userAgent string

	logger *zap.Logger
}

// NewClient creates a Client with given options.
func NewClient(opts ...ClientOption) (*Client, error) {
	serverUrl, _ := url.Parse(defaultServerURLString)
	c := &Client{
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
		ServerURL: serverUrl,
		userAgent: userAgent + "/" + version.Version(),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.retries > 0 {
		rc := retryablehttp.NewClient()
		rc.HTTPClient = c.client
		rc.RetryMax = c.retries
		rc.RetryWaitMin = 200 * time.Millisecond
		rc.RetryWaitMax = 2 * time.Second
		rc.Logger = nil
		// hand the last answer back so checkResponse can read the error body
		rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
		c.retrying = rc.StandardClient()
	}

	return c, nil
}

// ClientOption provides mechanism to configure Client.
type ClientOption func(c *Client) error

// WithHTTPClient sets the underlying HTTP client for Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) error {
		if client == nil {
			return errors.New("nil HTTP client")
		}
		c.client = client
		return nil
	}
}

// WithServerURL sets the server url for Client, including the /api/v1 prefix.
func WithServerURL(serverURL string) ClientOption {
	return func(c *Client) error {
		su, err := url.Parse(serverURL)
		if err != nil {
			return err
		}
		if su.Scheme == "" || su.Host == "" {
			return fmt.Errorf("server url %q must be absolute", serverURL)
		}
		c.ServerURL = su
		return nil
	}
}

// WithAPIKey sets the value of the x-api-key header.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) error {
		c.apiKey = key
		return nil
	}
}

// WithToken sets the bearer token sent with every request.
func WithToken(token string) ClientOption {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) error {
		c.logger = l
		return nil
	}
}

// WithRetries retries GET requests up to n times on connection errors and
// 5xx answers. Requests that change state are never retried.
func WithRetries(n int) ClientOption {
	return func(c *Client) error {
		if n < 0 {
			return errors.New("retries must not be negative")
		}
		c.retries = n
		return nil
	}
}

// SetToken replaces the bearer token, e.g. after Login.
func (c *Client) SetToken(token string) {
	c.token = token
}

func (c *Client) urlStringFromRelPath(relPath string, query url.Values) (string, error) {
	if c.ServerURL.Path != "" && c.ServerURL.Path != "/" {
		relPath = path.Join(c.ServerURL.Path, relPath)
	}
	relURL, err := url.Parse(relPath)
	if err != nil {
		return "", err
	}
	if len(query) > 0 {
		relURL.RawQuery = query.Encode()
	}

	u := c.ServerURL.ResolveReference(relURL)
	return u.String(), nil
}

// NewRequest create new http request
func (c *Client) NewRequest(method, relPath string, body interface{}) (*http.Request, error) {
	return c.newRequest(context.Background(), method, relPath, nil, body)
}

func (c *Client) newRequest(ctx context.Context, method, relPath string, query url.Values, body interface{}) (*http.Request, error) {
	buf := new(bytes.Buffer)
	if body != nil {
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return nil, err
		}
	}

	reqURl, err := c.urlStringFromRelPath(relPath, query)
	if err != nil {
		return nil, err
	}
	return http.NewRequestWithContext(ctx, method, reqURl, buf)
}

// Do makes an http request.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if req.Method == http.MethodGet && c.retrying != nil {
		return c.retrying.Do(req)
	}
	return c.client.Do(req)
}

// call sends a JSON request and decodes a successful response into out.
func (c *Client) call(ctx context.Context, method, relPath string, query url.Values, body, out interface{}) error {
	req, err := c.newRequest(ctx, method, relPath, query, body)
	if err != nil {
		return err
	}
	start := time.Now()
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	c.logger.Debug("api call", zap.String("method", method), zap.String("url", req.URL.String()),
		zap.Int("status", resp.StatusCode), zap.Duration("took", time.Since(start)))

	if err := checkResponse(resp); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, relPath, err)
	}
	return nil
}

// APIError is a failure reported by the server.
type APIError struct {
	StatusCode int
	Message    string
	Kind       string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.StatusCode)
}

// Unwrap lets callers test the error class with errdefs.IsNotFound and friends.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusBadRequest:
		return errdefs.ErrInvalidArgument
	case http.StatusUnauthorized:
		return errdefs.ErrUnauthenticated
	case http.StatusForbidden:
		return errdefs.ErrPermissionDenied
	case http.StatusNotFound:
		return errdefs.ErrNotFound
	case http.StatusConflict:
		return errdefs.ErrConflict
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return errdefs.ErrUnavailable
	}
	return errdefs.ErrUnknown
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode < http.StatusBadRequest {
		return nil
	}
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	buf, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(buf, &body); err == nil {
		apiErr.Message = body.Message
		apiErr.Kind = body.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(buf))
	}
	return apiErr
}
