package loupe

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
)

// API routes relative to the client's base URL.
const (
	SchemaPath   = "/api/v1/schema"
	PreviewPath  = "/api/v1/preview"
	HandlersPath = "/api/v1/handlers/"
	LivePath     = "/api/v1/ws"
)

// maxResponseSize bounds response bodies read from the backend.
const maxResponseSize = 32 << 20

// Client speaks the backend REST contract. Schema and render calls are
// retried on not-ready answers; handler calls are not.
type Client struct {
	base       string
	http       *http.Client
	clock      clockz.Clock
	retries    int
	retryDelay time.Duration
	onRetry    func(op string, attempt int)
}

// NewClient creates a client for the backend mounted at base, e.g.
// "http://localhost:8080" or "http://host/prefix".
func NewClient(base string) *Client {
	return &Client{
		base:       strings.TrimRight(base, "/"),
		http:       http.DefaultClient,
		clock:      clockz.RealClock,
		retries:    DefaultRetries,
		retryDelay: DefaultRetryDelay,
	}
}

// HTTPClient sets the underlying HTTP client.
func (c *Client) HTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

// Clock sets the clock used for retry delays.
func (c *Client) Clock(clock clockz.Clock) *Client {
	c.clock = clock
	return c
}

// Retries sets how many extra attempts follow a not-ready answer.
func (c *Client) Retries(n int) *Client {
	c.retries = n
	return c
}

// RetryDelay sets the fixed delay between not-ready attempts.
func (c *Client) RetryDelay(d time.Duration) *Client {
	c.retryDelay = d
	return c
}

// OnRetry sets a callback invoked before every retried attempt.
func (c *Client) OnRetry(fn func(op string, attempt int)) *Client {
	c.onRetry = fn
	return c
}

// Base returns the base URL.
func (c *Client) Base() string {
	return c.base
}

// LiveURL returns the WebSocket URL of the push channel.
func (c *Client) LiveURL() string {
	u, err := url.Parse(c.base + LivePath)
	if err != nil {
		return c.base + LivePath
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	return u.String()
}

// FetchSchema loads the primary schema.
func (c *Client) FetchSchema(ctx context.Context) (Schema, error) {
	var schema Schema
	err := c.retry(ctx, "schema", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+SchemaPath, nil)
		if err != nil {
			return &Error{Kind: KindTransport, Op: "schema", Err: err}
		}
		body, err := c.do(req, "schema")
		if err != nil {
			return err
		}
		schema, err = DecodeSchema(body)
		return err
	})
	return schema, err
}

// renderResponse accepts both current and legacy property names.
type renderResponse struct {
	Title       string  `json:"title"`
	Img         string  `json:"img"`
	WebP        string  `json:"webp"`
	ImgType     string  `json:"img_type"`
	ImageFormat string  `json:"imageFormat"`
	Error       *string `json:"error"`
}

// Render submits cfg as multipart form data, one part per entry, and
// decodes the preview. An embedded render error is returned in the result,
// not as an error.
func (c *Client) Render(ctx context.Context, cfg Config) (PreviewResult, error) {
	var result PreviewResult
	err := c.retry(ctx, "render", func(ctx context.Context) error {
		payload, contentType, err := encodeForm(cfg)
		if err != nil {
			return &Error{Kind: KindTransport, Op: "render", Err: err}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+PreviewPath, payload)
		if err != nil {
			return &Error{Kind: KindTransport, Op: "render", Err: err}
		}
		req.Header.Set("Content-Type", contentType)

		body, err := c.do(req, "render")
		if err != nil {
			return err
		}
		result, err = decodePreview(body)
		return err
	})
	return result, err
}

func decodePreview(body []byte) (PreviewResult, error) {
	var resp renderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return PreviewResult{}, &Error{Kind: KindDecode, Op: "render", Err: err}
	}

	encoded := resp.Img
	if encoded == "" {
		encoded = resp.WebP
	}
	image, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return PreviewResult{}, &Error{Kind: KindDecode, Op: "render", Err: fmt.Errorf("image: %w", err)}
	}

	format := resp.ImgType
	if format == "" {
		format = resp.ImageFormat
	}
	result := PreviewResult{
		Title:  resp.Title,
		Image:  image,
		Format: ParseImageFormat(format),
	}
	if resp.Error != nil {
		result.Error = *resp.Error
	}
	return result, nil
}

type handlerRequest struct {
	ID    string `json:"id"`
	Param string `json:"param"`
}

// CallHandler invokes a named backend handler for fieldID.
func (c *Client) CallHandler(ctx context.Context, handler, fieldID, param string) (json.RawMessage, error) {
	op := "handler " + handler
	data, err := json.Marshal(handlerRequest{ID: fieldID, Param: param})
	if err != nil {
		return nil, &Error{Kind: KindHandler, Op: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.base+HandlersPath+url.PathEscape(handler), bytes.NewReader(data))
	if err != nil {
		return nil, &Error{Kind: KindHandler, Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req, op)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

func (c *Client) retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	onRetry := func(attempt int) {
		capitan.Emit(ctx, RequestRetried,
			KeyURL.Field(c.base),
			KeyOp.Field(op),
			KeyAttempt.Field(attempt),
		)
		if c.onRetry != nil {
			c.onRetry(op, attempt)
		}
	}
	return retryNotReady(ctx, c.clock, c.retries, c.retryDelay, onRetry, fn)
}

// do sends req and returns the body of a 2xx response. Non-2xx responses
// become *Error with the backend's message when it sent one.
func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &Error{Kind: KindTransport, Op: op, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(op, resp.StatusCode, body)
	}
	return body, nil
}

func encodeForm(cfg Config) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, id := range cfg.IDs() {
		if err := w.WriteField(id, cfg[id].Value); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
