package cloudapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultTimeout = 30 * time.Second
	// maxErrorBody bounds how much of a failed response is kept on the error value.
	maxErrorBody = 2048
)

// Request describes a single call against a cloud control-plane endpoint.
type Request struct {
	URL         string
	Query       url.Values
	Header      http.Header
	ContentType string
	Body        []byte
}

// JSON builds a request whose body is v encoded as JSON.
func JSON(rawURL string, v any) (Request, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Request{}, fmt.Errorf("marshal request body: %w", err)
	}
	return Request{URL: rawURL, ContentType: "application/json", Body: data}, nil
}

// Form builds a request whose body is the url-encoded form of values.
func Form(rawURL string, values url.Values) Request {
	return Request{
		URL:         rawURL,
		ContentType: "application/x-www-form-urlencoded",
		Body:        []byte(values.Encode()),
	}
}

// WithHeader returns a copy of r with key set to value.
func (r Request) WithHeader(key, value string) Request {
	h := r.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set(key, value)
	r.Header = h
	return r
}

// Response is a fully-read successful HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the JSON body into dest.
func (r *Response) Decode(dest any) error {
	if r == nil {
		return errors.New("nil response")
	}
	if err := json.Unmarshal(r.Body, dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// APIError reports a transport failure or a non-2xx response.
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
	}
	if e.Body != "" {
		return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
}

func (e *APIError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports whether err is an APIError carrying a 404 status.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client issues requests and normalises every outcome into (response, error).
// A non-nil error is always an *APIError; a non-nil response always has a 2xx status.
type Client struct {
	http   *http.Client
	logger zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger attaches a logger used for per-request debug lines.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New constructs a Client whose transport is instrumented with OpenTelemetry.
func New(opts ...Option) *Client {
	c := &Client{
		http: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, req Request) (*Response, error) {
	return c.do(ctx, http.MethodGet, req)
}

// Post issues a POST request.
func (c *Client) Post(ctx context.Context, req Request) (*Response, error) {
	return c.do(ctx, http.MethodPost, req)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, req Request) (*Response, error) {
	return c.do(ctx, http.MethodDelete, req)
}

func (c *Client) do(ctx context.Context, method string, r Request) (*Response, error) {
	target := r.URL
	if len(r.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + r.Query.Encode()
	}
	// Query strings may carry tokens; keep them out of errors and logs.
	display := r.URL

	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, &APIError{Method: method, URL: display, Err: fmt.Errorf("create request: %w", err)}
	}
	for key, values := range r.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if r.ContentType != "" {
		req.Header.Set("Content-Type", r.ContentType)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &APIError{Method: method, URL: display, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("method", method).
		Str("url", display).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("cloud api request")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{
			Method:     method,
			URL:        display,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(data)),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Method: method, URL: display, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}
