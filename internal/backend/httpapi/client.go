package httpapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/kadirbelkuyu/tablescope/internal/backend"
	"github.com/kadirbelkuyu/tablescope/pkg/logger"
)

const maxBodySize = 16 << 20

type Options struct {
	BaseURL string
	// TokenSource supplies the bearer credential. The client never mints or
	// refreshes tokens itself; it only attaches whatever the source returns.
	TokenSource oauth2.TokenSource
	Timeout     time.Duration
	Transport   http.RoundTripper
	Logger      *logger.Logger
}

// Client talks to the REST record backend.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	log     *logger.Logger
}

func New(opts Options) (*Client, error) {
	raw := strings.TrimSpace(opts.BaseURL)
	if raw == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base URL must use http or https, got %q", base.Scheme)
	}
	base.Path = strings.TrimRight(base.Path, "/")

	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if opts.TokenSource != nil {
		transport = &oauth2.Transport{
			Source: oauth2.ReuseTokenSource(nil, opts.TokenSource),
			Base:   transport,
		}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}

	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: timeout, Transport: transport},
		log:     log,
	}, nil
}

// BaseURL returns the normalized backend address.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

func (c *Client) Schema(ctx context.Context) ([]byte, error) {
	body, status, err := c.send(ctx, http.MethodGet, "/system/schema", nil, nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, &backend.StatusError{Method: http.MethodGet, Path: "/system/schema", Status: status, Body: decode(body)}
	}
	return body, nil
}

func (c *Client) List(ctx context.Context, table string, page, perPage int) (any, error) {
	if page < 1 {
		page = 1
	}
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", strconv.Itoa(backend.ClampPerPage(perPage)))
	return c.call(ctx, http.MethodGet, tablePath(table)+"/", query, nil)
}

func (c *Client) Count(ctx context.Context, table string) (any, error) {
	return c.call(ctx, http.MethodGet, tablePath(table)+"/count", nil, nil)
}

func (c *Client) Get(ctx context.Context, table, id string) (any, error) {
	return c.call(ctx, http.MethodGet, tablePath(table)+"/"+url.PathEscape(id), nil, nil)
}

func (c *Client) Create(ctx context.Context, table string, payload map[string]any) (any, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return c.call(ctx, http.MethodPost, tablePath(table)+"/", nil, data)
}

func (c *Client) Delete(ctx context.Context, table, id string) error {
	_, err := c.call(ctx, http.MethodDelete, tablePath(table)+"/"+url.PathEscape(id), nil, nil)
	return err
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, http.MethodGet, "/system/health", nil, nil)
	return err
}

// EditableResources reads /system/editable-resources. Backends without the
// endpoint answer 404, which is reported as "no information".
func (c *Client) EditableResources(ctx context.Context) ([]string, error) {
	payload, err := c.call(ctx, http.MethodGet, "/system/editable-resources", nil, nil)
	if err != nil {
		if backend.IsStatus(err, http.StatusNotFound) {
			return nil, nil
		}
		return nil, err
	}

	object, ok := payload.(map[string]any)
	if !ok {
		return nil, nil
	}
	list, ok := object["resources"].([]any)
	if !ok {
		return nil, nil
	}
	resources := make([]string, 0, len(list))
	for _, entry := range list {
		if name, ok := entry.(string); ok {
			resources = append(resources, name)
		}
	}
	return resources, nil
}

func (c *Client) call(ctx context.Context, method, path string, query url.Values, body []byte) (any, error) {
	raw, status, err := c.send(ctx, method, path, query, body)
	if err != nil {
		return nil, err
	}
	payload := decode(raw)
	if status < 200 || status > 299 {
		return nil, &backend.StatusError{Method: method, Path: path, Status: status, Body: payload}
	}
	return payload, nil
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, int, error) {
	target := c.baseURL.String() + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	entry := c.log.WithField("request_id", requestID).WithField("method", method).WithField("path", path)
	started := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		entry.WithError(err).Debug("request failed")
		return nil, 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, 0, fmt.Errorf("%s %s: failed to read response: %w", method, path, err)
	}

	entry.WithField("status", resp.StatusCode).
		WithField("elapsed", time.Since(started).Round(time.Millisecond)).
		Debug("request completed")

	return data, resp.StatusCode, nil
}

// decode keeps numbers as json.Number so identifiers survive unchanged. Bodies
// that are not JSON are returned as plain strings.
func decode(data []byte) any {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil
	}
	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()
	var payload any
	if err := decoder.Decode(&payload); err != nil {
		return string(trimmed)
	}
	return payload
}

// tablePath escapes a table slug for use as a URL path segment.
func tablePath(table string) string {
	return "/" + url.PathEscape(table)
}
