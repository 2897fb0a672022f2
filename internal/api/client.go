// Package api is the REST client for the chat endpoints of the club backend.
package api

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
	"strconv"
	"strings"
	"time"

	"github.com/johndosdos/clubchat/internal/model"
	"github.com/johndosdos/clubchat/internal/session"
)

const (
	messagesPath = "/api/chat/messages"
	mePath       = "/api/auth/me"
)

// StatusError is a non-2xx reply. Detail is the backend's "detail" field
// when the body carries one.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

func IsForbidden(err error) bool    { return StatusCode(err) == http.StatusForbidden }
func IsNotFound(err error) bool     { return StatusCode(err) == http.StatusNotFound }
func IsUnauthorized(err error) bool { return StatusCode(err) == http.StatusUnauthorized }

type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
	logger  *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http = &http.Client{Timeout: d} }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New returns a client for the backend rooted at baseURL, authenticating
// every request with the bearer token.
func New(baseURL, token string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("internal/api: invalid base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("internal/api: unsupported scheme %q", u.Scheme)
	}

	c := &Client{
		baseURL: u,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// ListMessages returns up to limit recent messages, oldest first. before,
// when set, pages back from that message id.
func (c *Client) ListMessages(ctx context.Context, limit int, before string) ([]model.Message, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if before != "" {
		q.Set("before", before)
	}

	var msgs []model.Message
	if err := c.do(ctx, http.MethodGet, messagesPath, q, nil, &msgs); err != nil {
		return nil, err
	}

	return msgs, nil
}

type sendRequest struct {
	Content string `json:"content"`
}

// SendMessage persists content and returns the stored message. The backend
// broadcasts the same message as a new_message event.
func (c *Client) SendMessage(ctx context.Context, content string) (model.Message, error) {
	var msg model.Message
	if err := c.do(ctx, http.MethodPost, messagesPath, nil, sendRequest{Content: content}, &msg); err != nil {
		return model.Message{}, err
	}

	return msg, nil
}

// DeleteMessage deletes a message. Only its author or an admin may do so.
func (c *Client) DeleteMessage(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, messagesPath+"/"+url.PathEscape(id), nil, nil, nil)
}

// Me returns the signed-in user's profile.
func (c *Client) Me(ctx context.Context) (session.Profile, error) {
	var p session.Profile
	if err := c.do(ctx, http.MethodGet, mePath, nil, nil, &p); err != nil {
		return session.Profile{}, err
	}

	return p, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	u.RawQuery = query.Encode()

	var body io.Reader
	if in != nil {
		p, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("internal/api: could not encode request: %w", err)
		}
		body = bytes.NewReader(p)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("internal/api: failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("internal/api: %s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	c.logger.DebugContext(ctx, "api request",
		"method", method,
		"path", path,
		"status", res.StatusCode,
		"elapsed", time.Since(start))

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return decodeStatusError(res, method, path)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("internal/api: could not decode %s %s response: %w", method, path, err)
	}

	return nil
}

func decodeStatusError(res *http.Response, method, path string) error {
	se := &StatusError{Method: method, Path: path, StatusCode: res.StatusCode}

	p, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil || len(p) == 0 {
		return se
	}

	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(p, &body); err != nil || len(body.Detail) == 0 {
		se.Detail = strings.TrimSpace(string(p))
		return se
	}

	// FastAPI validation errors carry a list instead of a string.
	var detail string
	if err := json.Unmarshal(body.Detail, &detail); err != nil {
		detail = string(body.Detail)
	}
	se.Detail = detail

	return se
}
