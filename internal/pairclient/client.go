// Package pairclient talks to a pairing relay over HTTP and watches a session
// until it reaches a terminal state.
package pairclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/openclaw/pairing-relay-go/internal/errors"
	"github.com/openclaw/pairing-relay-go/internal/httputil"
	"github.com/openclaw/pairing-relay-go/internal/service"
	"github.com/openclaw/pairing-relay-go/internal/telemetry"
)

const defaultClientTimeout = 10 * time.Second

type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

func WithUserAgent(ua string) ClientOption {
	return func(c *Client) { c.userAgent = ua }
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   defaultClientTimeout,
			Transport: telemetry.Transport(nil),
		},
		userAgent: "pairclient",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) CreateSession(ctx context.Context, initiatorRef string, ttl time.Duration) (*service.CreateSessionResult, error) {
	body := map[string]any{}
	if initiatorRef != "" {
		body["initiatorRef"] = initiatorRef
	}
	if ttl > 0 {
		body["ttlSeconds"] = int(ttl / time.Second)
	}

	var result service.CreateSessionResult
	if err := c.do(ctx, http.MethodPost, "/v1/pairing/sessions", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetStatus satisfies StatusFetcher.
func (c *Client) GetStatus(ctx context.Context, code string) (*service.SessionStatusResult, error) {
	var result service.SessionStatusResult
	if err := c.do(ctx, http.MethodGet, "/v1/pairing/sessions/"+url.PathEscape(code), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Claim(ctx context.Context, code, responderRef string) error {
	body := map[string]any{}
	if responderRef != "" {
		body["responderRef"] = responderRef
	}
	return c.do(ctx, http.MethodPost, "/v1/pairing/sessions/"+url.PathEscape(code)+"/claim", body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeError turns an error response back into an AppError so callers can
// branch on the same codes the server uses.
func decodeError(resp *http.Response) error {
	var body httputil.ErrorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)

	code := body.Code
	if code == "" {
		code = httputil.CodeFromStatus(resp.StatusCode)
	}
	message := body.Error
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	appErr := apperrors.New(code, message)
	if body.Details != nil {
		appErr = appErr.WithDetails(body.Details)
	}
	return appErr
}
