// Package sdk provides the client-side library for the INOK REST API.
//
// [Client] is the single choke point for network I/O against the backend. It
// owns the bearer token, attaches it to every request, decodes the uniform
// [schema.Envelope] on success, and turns every failure into an [*APIError].
// A 401 answer clears the token (and the persisted user snapshot), sends the
// front-end to its login screen through the configured [Navigator], and
// returns an error matching [ErrReauthenticate].
//
// The client never displays anything. Presentation of failures is left to
// the caller (see internal/notify), and no call is ever retried.
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/inok-dev/inok-console/pkg/schema"
)

// maxBodySize bounds how much of a response body is read.
const maxBodySize = 8 << 20

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// BaseURL is the root of the INOK API (e.g. "http://localhost:8000/api").
	BaseURL string
	// HTTPClient is used for all requests. If nil, http.DefaultClient is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
	// Storage persists the token and user snapshot. If nil, the token lives
	// in memory only.
	Storage Storage
	// Navigator is invoked once per 401 response. Optional.
	Navigator Navigator
}

// Client is the API gateway client. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	storage    Storage
	navigator  Navigator

	// writeMu serializes token writes, so the in-memory token and the
	// persisted one change together.
	writeMu   sync.Mutex
	mu        sync.RWMutex // Protects token and listeners
	token     string
	listeners []func()
}

// NewClient creates a client for the API at config.BaseURL.
func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("sdk: BaseURL is required")
	}
	u, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("sdk: invalid BaseURL %q: %w", config.BaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("sdk: BaseURL %q must be http or https", config.BaseURL)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
		storage:    config.Storage,
		navigator:  config.Navigator,
	}, nil
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// Storage returns the persisted storage the client writes the token to.
func (c *Client) Storage() Storage { return c.storage }

// Token returns the current bearer token, or "" when none is set.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken updates the in-memory token and synchronizes it to storage.
// An empty token clears it, deletes the persisted user snapshot, and notifies
// the listeners registered with OnTokenCleared.
func (c *Client) SetToken(token string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.setToken(token)
}

// clearIf clears the token only while it is still sent. A 401 answering a
// request made with an older token must not end a newer session.
func (c *Client) clearIf(sent string) (bool, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.Token() != sent {
		return false, nil
	}
	return true, c.setToken("")
}

// setToken MUST be called while holding c.writeMu.
func (c *Client) setToken(token string) error {
	c.mu.Lock()
	had := c.token != ""
	c.token = token
	listeners := append([]func(){}, c.listeners...)
	c.mu.Unlock()

	if token != "" {
		if c.storage != nil {
			if err := c.storage.Set(TokenKey, token); err != nil {
				return fmt.Errorf("sdk: persisting token: %w", err)
			}
		}
		return nil
	}

	var errs []error
	if c.storage != nil {
		if err := c.storage.Delete(TokenKey); err != nil && !errors.Is(err, ErrKeyNotFound) {
			errs = append(errs, fmt.Errorf("sdk: deleting token: %w", err))
		}
		if err := c.storage.Delete(UserKey); err != nil && !errors.Is(err, ErrKeyNotFound) {
			errs = append(errs, fmt.Errorf("sdk: deleting user snapshot: %w", err))
		}
	}
	if had {
		for _, fn := range listeners {
			fn()
		}
	}
	return errors.Join(errs...)
}

// RestoreToken hydrates the in-memory token from storage and returns it.
// A missing token is not an error.
func (c *Client) RestoreToken() (string, error) {
	if c.storage == nil {
		return c.Token(), nil
	}
	token, err := c.storage.Get(TokenKey)
	if errors.Is(err, ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("sdk: reading persisted token: %w", err)
	}
	c.writeMu.Lock()
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	c.writeMu.Unlock()
	return token, nil
}

// OnTokenCleared registers fn to run whenever a present token is cleared,
// whether by SetToken("") or by a 401 response. fn runs while token writes
// are held and must not call SetToken.
func (c *Client) OnTokenCleared(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// RequestOption customizes a single call.
type RequestOption func(*requestOptions)

type requestOptions struct {
	header    http.Header
	query     url.Values
	noCascade bool
	noToken   bool
}

// WithHeader sets a header on the request, overriding the defaults.
func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) {
		if o.header == nil {
			o.header = http.Header{}
		}
		o.header.Set(key, value)
	}
}

// WithQuery appends query parameters to the request URL.
func WithQuery(q url.Values) RequestOption {
	return func(o *requestOptions) {
		o.query = q
	}
}

// WithoutAuthCascade treats a 401 as an ordinary failed response: the token
// is kept and no navigation happens. Used by the credential endpoints, where
// 401 means "wrong password" rather than "session expired".
func WithoutAuthCascade() RequestOption {
	return func(o *requestOptions) {
		o.noCascade = true
	}
}

// WithoutToken sends the request anonymously even when a token is set.
func WithoutToken() RequestOption {
	return func(o *requestOptions) {
		o.noToken = true
	}
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, path string, opts ...RequestOption) (*schema.Envelope[json.RawMessage], error) {
	return c.Do(ctx, http.MethodGet, path, nil, opts...)
}

// Post issues a POST request with body encoded as JSON.
func (c *Client) Post(ctx context.Context, path string, body any, opts ...RequestOption) (*schema.Envelope[json.RawMessage], error) {
	return c.Do(ctx, http.MethodPost, path, body, opts...)
}

// Put issues a PUT request with body encoded as JSON.
func (c *Client) Put(ctx context.Context, path string, body any, opts ...RequestOption) (*schema.Envelope[json.RawMessage], error) {
	return c.Do(ctx, http.MethodPut, path, body, opts...)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, path string, opts ...RequestOption) (*schema.Envelope[json.RawMessage], error) {
	return c.Do(ctx, http.MethodDelete, path, nil, opts...)
}

// Do performs one request and applies the response contract. body may be nil.
func (c *Client) Do(ctx context.Context, method, path string, body any, opts ...RequestOption) (*schema.Envelope[json.RawMessage], error) {
	var o requestOptions
	for _, opt := range opts {
		opt(&o)
	}

	requestURL := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(o.query) > 0 {
		requestURL += "?" + o.query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("sdk: encoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("sdk: creating request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	var sent string
	if !o.noToken {
		sent = c.Token()
	}
	if sent != "" {
		request.Header.Set("Authorization", "Bearer "+sent)
	}
	for key, values := range o.header {
		request.Header[key] = values
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		c.logger.Warn("api request failed", "method", method, "path", path, "error", err)
		return nil, &APIError{Kind: KindTransport, Method: method, Path: path, Message: err.Error(), Err: err}
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusUnauthorized && !o.noCascade {
		io.Copy(io.Discard, io.LimitReader(response.Body, maxBodySize))
		return nil, c.expire(method, path, sent)
	}

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, maxBodySize))
	if err != nil {
		return nil, &APIError{Kind: KindTransport, Method: method, Path: path, Status: response.StatusCode, Message: err.Error(), Err: err}
	}

	if response.StatusCode < 200 || response.StatusCode > 299 {
		apiErr := &APIError{
			Kind:    KindResponse,
			Method:  method,
			Path:    path,
			Status:  response.StatusCode,
			Message: errorMessage(response.StatusCode, responseBody),
		}
		c.logger.Debug("api request rejected", "method", method, "path", path, "status", response.StatusCode, "message", apiErr.Message)
		return nil, apiErr
	}

	var envelope schema.Envelope[json.RawMessage]
	if len(bytes.TrimSpace(responseBody)) > 0 {
		if err := json.Unmarshal(responseBody, &envelope); err != nil {
			return nil, &APIError{
				Kind:    KindDecode,
				Method:  method,
				Path:    path,
				Status:  response.StatusCode,
				Message: fmt.Sprintf("invalid response from %s %s", method, path),
				Err:     err,
			}
		}
	}
	return &envelope, nil
}

// expire runs the 401 path: clear the token the request was sent with,
// navigate once, and build the reauthenticate error. When the token changed
// while the request was in flight, the newer session is left alone.
func (c *Client) expire(method, path, sent string) error {
	cleared, err := c.clearIf(sent)
	if err != nil {
		c.logger.Error("clearing expired session", "error", err)
	}
	if cleared {
		c.logger.Info("api session expired", "method", method, "path", path)
		if c.navigator != nil {
			c.navigator.ToLogin()
		}
	} else {
		c.logger.Debug("stale 401 ignored, token changed in flight", "method", method, "path", path)
	}
	return &APIError{
		Kind:    KindUnauthorized,
		Method:  method,
		Path:    path,
		Status:  http.StatusUnauthorized,
		Message: ErrReauthenticate.Error(),
	}
}

// errorMessage extracts "message" from a JSON error body, falling back to a
// message derived from the status code.
func errorMessage(status int, body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   any    `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if s, ok := payload.Error.(string); ok && s != "" {
			return s
		}
	}
	return fmt.Sprintf("request failed with status %d", status)
}
