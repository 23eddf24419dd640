// Package api is the REST client for the messaging backend. Every path is
// relative to a fixed prefix (/api/messaging by default); bodies are JSON
// except for media upload and CSV/backup downloads.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chatdesk/chatdesk/console/internal/domain/service"
	"github.com/chatdesk/chatdesk/console/internal/infrastructure/monitoring"
	apperrors "github.com/chatdesk/chatdesk/console/pkg/errors"
)

// DefaultPrefix is the API prefix the backend mounts every route under.
const DefaultPrefix = "/api/messaging"

// RequestIDHeader carries a per-request id for correlating client and server logs.
const RequestIDHeader = "X-Request-ID"

// Client talks to the messaging backend.
type Client struct {
	baseURL    string
	prefix     string
	token      string
	cookie     string
	httpClient *http.Client
	logger     *zap.Logger
	metrics    *monitoring.Metrics
	policy     service.UploadPolicy

	onUnauthorized func(err error)
}

// Option configures the client
type Option func(*Client)

// NewClient creates a client for baseURL, e.g. http://localhost:5000.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		prefix:  DefaultPrefix,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: zap.NewNop(),
		policy: service.NewUploadPolicy(0, nil),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithPrefix overrides the API prefix.
func WithPrefix(prefix string) Option {
	return func(c *Client) {
		if prefix != "" {
			c.prefix = "/" + strings.Trim(prefix, "/")
		}
	}
}

// WithToken sends a bearer token on every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithCookie sends a raw session cookie (name=value) on every request.
func WithCookie(cookie string) Option {
	return func(c *Client) {
		c.cookie = cookie
	}
}

// WithTimeout sets the HTTP client timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger.With(zap.String("component", "api"))
		}
	}
}

// WithMetrics records every call on m.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithUploadPolicy sets the client-side upload constraints.
func WithUploadPolicy(p service.UploadPolicy) Option {
	return func(c *Client) {
		c.policy = p
	}
}

// WithUnauthorizedHandler registers fn to run whenever the backend answers 401.
func WithUnauthorizedHandler(fn func(err error)) Option {
	return func(c *Client) {
		c.onUnauthorized = fn
	}
}

// BaseURL returns the backend origin.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Prefix returns the API prefix.
func (c *Client) Prefix() string {
	return c.prefix
}

// Policy returns the upload constraints enforced before sending.
func (c *Client) Policy() service.UploadPolicy {
	return c.policy
}

// URL builds the absolute URL of an API path.
func (c *Client) URL(path string, query url.Values) string {
	u := c.baseURL + c.prefix + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// getJSON / sendJSON are the common request shapes.

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, c.URL(path, query), nil, "", out)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.do(ctx, method, c.URL(path, nil), body, contentType, out)
}

// do performs one request and decodes a JSON response into out (when non-nil).
func (c *Client) do(ctx context.Context, method, rawURL string, body io.Reader, contentType string, out any) error {
	resp, err := c.open(ctx, method, rawURL, body, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("decode %s %s: %w", method, rawURL, err)
	}
	return nil
}

// open performs one request and returns a 2xx response with its body still
// open. Non-2xx responses are turned into AppErrors.
func (c *Client) open(ctx context.Context, method, rawURL string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	requestID := uuid.NewString()
	c.setHeaders(req, requestID)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		c.metrics.ObserveAPI(method, req.URL.Path, 0, elapsed)
		c.logger.Debug("Request failed",
			zap.String("method", method),
			zap.String("path", req.URL.Path),
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%s %s: %w", method, req.URL.Path, err)
	}
	c.metrics.ObserveAPI(method, req.URL.Path, resp.StatusCode, elapsed)
	c.logger.Debug("Request",
		zap.String("method", method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", elapsed),
		zap.String("request_id", requestID),
	)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	appErr := apperrors.FromStatus(resp.StatusCode, errorMessage(resp))
	if appErr.Code == apperrors.CodeUnauthorized && c.onUnauthorized != nil {
		c.onUnauthorized(appErr)
	}
	return nil, appErr
}

func (c *Client) setHeaders(req *http.Request, requestID string) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, requestID)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}
}

// errorMessage extracts {"error": "..."} from a failed response, falling back
// to the status text.
func errorMessage(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	if text := strings.TrimSpace(string(data)); text != "" && len(text) < 200 && !strings.HasPrefix(text, "<") {
		return text
	}
	return strings.ToLower(http.StatusText(resp.StatusCode))
}

// download streams a 2xx body into w and returns the attachment filename.
func (c *Client) download(ctx context.Context, rawURL string, w io.Writer) (string, error) {
	resp, err := c.open(ctx, http.MethodGet, rawURL, nil, "")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if _, err := io.Copy(w, resp.Body); err != nil {
		return "", fmt.Errorf("read download: %w", err)
	}
	return attachmentName(resp.Header.Get("Content-Disposition")), nil
}

func attachmentName(disposition string) string {
	if disposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return params["filename"]
}

// result is the {"success": true} acknowledgement most mutations return.
type result struct {
	Success bool   `json:"success"`
	ID      int64  `json:"id,omitempty"`
	Error   string `json:"error,omitempty"`
}

func idPath(format string, id int64) string {
	return fmt.Sprintf(format, id)
}
