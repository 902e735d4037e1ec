package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sethvargo/go-retry"
)

const (
	defaultTimeout       = 15 * time.Second
	defaultRetryInterval = 500 * time.Millisecond
	defaultMaxRetries    = 2
)

// Client talks to the chattrix REST backend. All methods return structured
// errors; none of them panic or retry non-idempotent requests.
type Client struct {
	baseURL       *url.URL
	httpc         *http.Client
	token         string
	retryInterval time.Duration
	maxRetries    uint64
}

type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) { c.httpc = httpc }
}

// WithRetry overrides the idempotent-GET retry policy.
func WithRetry(interval time.Duration, maxRetries uint64) Option {
	return func(c *Client) {
		c.retryInterval = interval
		c.maxRetries = maxRetries
	}
}

func NewClient(baseURL, token string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid base URL %q", baseURL)
	}

	c := &Client{
		baseURL:       u,
		httpc:         &http.Client{Timeout: defaultTimeout},
		token:         token,
		retryInterval: defaultRetryInterval,
		maxRetries:    defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// envelope is the backend response wrapper: a data payload plus an optional
// continuation cursor for paginated endpoints.
type envelope struct {
	Data           json.RawMessage `json:"data"`
	PaginationNext string          `json:"pagination-next"`
}

func (c *Client) resolve(path string) string {
	ref, err := url.Parse(strings.TrimPrefix(path, "/"))
	if err != nil {
		return c.baseURL.String() + path
	}
	return c.baseURL.ResolveReference(ref).String()
}

func (c *Client) do(req *http.Request) (*envelope, error) {
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", req.Method, req.URL.Path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s response", req.URL.Path)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		err = errors.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
		if resp.StatusCode >= http.StatusInternalServerError {
			// Server-side failures are worth another attempt on GETs.
			return nil, retry.RetryableError(err)
		}
		return nil, err
	}

	env := &envelope{}
	if len(body) == 0 {
		return env, nil
	}
	if err := json.Unmarshal(body, env); err != nil {
		return nil, errors.Wrapf(err, "decoding %s response", req.URL.Path)
	}
	return env, nil
}

// get issues an idempotent GET with a bounded constant-backoff retry for
// transport and 5xx failures.
func (c *Client) get(ctx context.Context, path string) (*envelope, error) {
	var env *envelope
	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewConstant(c.retryInterval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(path), nil)
		if reqErr != nil {
			return reqErr
		}
		var doErr error
		env, doErr = c.do(req)
		if doErr != nil && !isStatusError(doErr) {
			// Transport errors (refused, reset, timeout) are retryable.
			log.Printf("GET %s failed, will retry: %v", path, doErr)
			return retry.RetryableError(doErr)
		}
		return doErr
	})
	if err != nil {
		return nil, err
	}
	return env, nil
}

func isStatusError(err error) bool {
	return strings.Contains(err.Error(), ": status ")
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) (*envelope, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrap(err, "encoding request body")
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolve(path), body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req)
}

func decodeData(env *envelope, out any) error {
	if len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return errors.Wrap(err, "decoding data payload")
	}
	return nil
}
