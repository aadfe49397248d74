// Package invoker is the calling-side client for the vault invocation
// endpoint. It retries transport failures with exponential backoff; an
// error inside a delivered envelope is the caller's to handle and is
// never retried.
package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/piivault/piivault/internal/logging"
	"github.com/piivault/piivault/internal/server/dispatch"
)

const (
	DefaultMaxRetries = 2
	DefaultBaseDelay  = 200 * time.Millisecond
)

type Invoker struct {
	endpoint   string
	client     *http.Client
	logger     logging.Logger
	maxRetries uint64
	baseDelay  time.Duration
}

// Option customizes an Invoker.
type Option func(*Invoker)

func WithHTTPClient(c *http.Client) Option {
	return func(i *Invoker) { i.client = c }
}

func WithMaxRetries(n uint64) Option {
	return func(i *Invoker) { i.maxRetries = n }
}

func WithBaseDelay(d time.Duration) Option {
	return func(i *Invoker) { i.baseDelay = d }
}

// New creates an Invoker for the given endpoint URL, e.g.
// "http://vault:8080/invoke".
func New(endpoint string, logger logging.Logger, opts ...Option) *Invoker {
	i := &Invoker{
		endpoint:   endpoint,
		client:     &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With("module", "invoker"),
		maxRetries: DefaultMaxRetries,
		baseDelay:  DefaultBaseDelay,
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// Invoke sends one operation request and returns the response envelope.
// Transport failures and non-200 HTTP statuses are retried; a delivered
// envelope is returned as-is, whatever its statusCode says.
func (i *Invoker) Invoke(ctx context.Context, req *dispatch.Request) (*dispatch.Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	var resp *dispatch.Response
	attempt := 0

	backoff := retry.WithMaxRetries(i.maxRetries, retry.NewExponential(i.baseDelay))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		r, err := i.post(ctx, payload)
		if err != nil {
			i.logger.Warn(ctx, "invocation attempt failed",
				"operation", req.Operation, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("invoking %s: %w", req.Operation, err)
	}

	return resp, nil
}

func (i *Invoker) post(ctx context.Context, payload []byte) (*dispatch.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, i.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := i.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected HTTP status %d", httpResp.StatusCode)
	}

	var resp dispatch.Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}

	return &resp, nil
}
