// Package apiclient is the single HTTP adapter every store talks through. It
// attaches the current bearer token, decodes JSON responses, turns failures
// into *Error values and tears the session down on 401/403.
package apiclient

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
	"time"

	"areahood/internal/observability"
)

const (
	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 8 << 20

	msgTimedOut      = "request timed out"
	msgCanceled      = "request canceled"
	msgRequestFailed = "request failed"
)

// Session supplies the bearer token and is told when the server rejects it.
type Session interface {
	Token() string
	Teardown(ctx context.Context)
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	UserAgent  string
}

// Request describes one API call. Path is relative to the base URL.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
}

// Client sends requests to the AreaHood REST API.
type Client struct {
	base      *url.URL
	timeout   time.Duration
	http      *http.Client
	userAgent string
	session   Session
}

// New creates a client. session may be nil for anonymous use.
func New(opts Options, session Session) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", opts.BaseURL)
	}
	c := &Client{
		base:      base,
		timeout:   opts.Timeout,
		http:      opts.HTTPClient,
		userAgent: opts.UserAgent,
		session:   session,
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.userAgent == "" {
		c.userAgent = "areahood-client/1"
	}
	return c, nil
}

// BaseURL returns the API root the client was configured with.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, path string, query url.Values, fallback string) (any, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query}, fallback)
}

// Post issues a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any, fallback string) (any, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body}, fallback)
}

// Put issues a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body any, fallback string) (any, error) {
	return c.Do(ctx, Request{Method: http.MethodPut, Path: path, Body: body}, fallback)
}

// Patch issues a PATCH request with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body any, fallback string) (any, error) {
	return c.Do(ctx, Request{Method: http.MethodPatch, Path: path, Body: body}, fallback)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, path string, fallback string) (any, error) {
	return c.Do(ctx, Request{Method: http.MethodDelete, Path: path}, fallback)
}

// Do sends req and returns the decoded JSON body (nil for empty responses).
// fallback is used as the error message when the server gives none.
func (c *Client) Do(ctx context.Context, req Request, fallback string) (any, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	route := RouteOf(req.Path)

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	token := c.token()
	httpReq, err := c.newRequest(reqCtx, req, token)
	if err != nil {
		return nil, &Error{Message: orDefault(fallback, msgRequestFailed), Err: err}
	}

	span, reqCtx := observability.StartHTTPClientSpan(reqCtx, httpReq, route)
	defer span.End()
	httpReq = httpReq.WithContext(reqCtx)

	done := observability.TrackRequest(req.Method, route)
	resp, err := c.http.Do(httpReq)
	if err != nil {
		done(0)
		apiErr := transportError(ctx, reqCtx, err, fallback)
		span.SetError(apiErr)
		c.logRequest(ctx, req.Method, route, 0, apiErr)
		return nil, apiErr
	}
	defer resp.Body.Close()

	body, readErr := decodeBody(resp.Body)
	done(resp.StatusCode)
	span.SetStatusCode(resp.StatusCode)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if readErr != nil {
			apiErr := &Error{Status: resp.StatusCode, Message: orDefault(fallback, msgRequestFailed), Err: readErr}
			span.SetError(apiErr)
			c.logRequest(ctx, req.Method, route, resp.StatusCode, apiErr)
			return nil, apiErr
		}
		c.logRequest(ctx, req.Method, route, resp.StatusCode, nil)
		return body, nil
	}

	apiErr := &Error{
		Status:  resp.StatusCode,
		Message: orDefault(serverMessage(body), orDefault(fallback, msgRequestFailed)),
	}
	span.SetError(apiErr)
	c.logRequest(ctx, req.Method, route, resp.StatusCode, apiErr)

	// Only a rejection of the current token ends the session.
	if IsUnauthorized(apiErr) && c.session != nil && c.session.Token() == token {
		observability.ForcedLogouts.WithLabelValues(fmt.Sprint(resp.StatusCode)).Inc()
		c.session.Teardown(context.WithoutCancel(ctx))
	}
	return nil, apiErr
}

func (c *Client) token() string {
	if c.session == nil {
		return ""
	}
	return c.session.Token()
}

func (c *Client) newRequest(ctx context.Context, req Request, token string) (*http.Request, error) {
	u := c.base.JoinPath(strings.TrimLeft(req.Path, "/"))
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	if id := observability.ExtractCorrelationID(ctx); id != "" {
		httpReq.Header.Set("X-Correlation-ID", id)
	}
	return httpReq, nil
}

func (c *Client) logRequest(ctx context.Context, method, route string, status int, err error) {
	attrs := []any{
		slog.String("method", method),
		slog.String("route", route),
		slog.Int("status", status),
	}
	if id := observability.ExtractCorrelationID(ctx); id != "" {
		attrs = append(attrs, slog.String("correlation_id", id))
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	observability.GlobalLogger.DebugContext(ctx, "api request", attrs...)
}

// transportError classifies a failure that produced no response. parent is
// the caller's context, reqCtx the one bounded by the client timeout.
func transportError(parent, reqCtx context.Context, err error, fallback string) *Error {
	switch {
	case errors.Is(parent.Err(), context.Canceled):
		return &Error{Message: msgCanceled, Err: parent.Err()}
	case errors.Is(reqCtx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return &Error{Message: msgTimedOut, Err: context.DeadlineExceeded}
	}
	msg := err.Error()
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		msg = urlErr.Err.Error()
	}
	return &Error{Message: orDefault(msg, orDefault(fallback, msgRequestFailed)), Err: err}
}

func decodeBody(r io.Reader) (any, error) {
	raw, err := io.ReadAll(io.LimitReader(r, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var body any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decode response body: %w", err)
	}
	return body, nil
}

// collections whose following path segment is an identifier.
var collections = map[string]bool{"posts": true, "users": true, "groups": true, "comments": true}

// RouteOf replaces identifier segments so paths can be used as metric labels:
// "posts/42/like" becomes "/posts/:id/like".
func RouteOf(path string) string {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	for i := 1; i < len(segs); i++ {
		if collections[segs[i-1]] && segs[i] != "me" {
			segs[i] = ":id"
		}
	}
	return "/" + strings.Join(segs, "/")
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
