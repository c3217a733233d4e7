package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"switchboard/internal/domain"
)

// Retry policy for transient failures. Delegation is treated as idempotent;
// remote application errors are surfaced immediately and never retried.
const (
	baseRetryDelay = 500 * time.Millisecond
	maxRetryDelay  = 4 * time.Second
)

// Options tune a Client. Zero values take defaults.
type Options struct {
	CallTimeout     time.Duration // per-attempt timeout (default 30s)
	MaxRetries      int           // retries after the first attempt (default 3)
	MaxIdleConns    int           // pooled connections for this endpoint (default 10)
	IdleConnTimeout time.Duration // default 120s
}

func (o Options) withDefaults() Options {
	if o.CallTimeout <= 0 {
		o.CallTimeout = 30 * time.Second
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.MaxIdleConns <= 0 {
		o.MaxIdleConns = 10
	}
	if o.IdleConnTimeout <= 0 {
		o.IdleConnTimeout = 120 * time.Second
	}
	return o
}

// Client speaks the task.delegate envelope to one remote agent endpoint
// over a pooled HTTP connection. Create clients through a Pool so each
// endpoint gets exactly one.
type Client struct {
	endpoint string
	opts     Options
	httpc    *http.Client
	logger   *slog.Logger
	nextID   atomic.Uint64
}

// NewClient creates a client for one endpoint with its own connection pool.
func NewClient(endpoint string, opts Options, logger *slog.Logger) *Client {
	opts = opts.withDefaults()
	return &Client{
		endpoint: endpoint,
		opts:     opts,
		logger:   logger,
		httpc: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        opts.MaxIdleConns,
				MaxIdleConnsPerHost: opts.MaxIdleConns,
				IdleConnTimeout:     opts.IdleConnTimeout,
				ForceAttemptHTTP2:   true,
			},
		},
	}
}

// Delegate sends one task to the remote agent and returns its textual
// result. Transient failures (timeout, connection refused) are retried with
// exponential backoff and jitter; everything else is surfaced immediately.
func (c *Client) Delegate(ctx context.Context, endpoint, task, correlationID string) (string, error) {
	if endpoint == "" {
		endpoint = c.endpoint
	}

	var lastErr error
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := retryBackoff(attempt - 1)
			c.logger.Info("retrying delegation after transient failure",
				"endpoint", endpoint, "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", domain.NewCommError(domain.CommTimeout, endpoint, "cancelled during backoff", ctx.Err())
			}
		}

		text, err := c.call(ctx, endpoint, task, correlationID)
		if err == nil {
			return text, nil
		}
		lastErr = err

		var ce *domain.CommunicationError
		if !errors.As(err, &ce) || !ce.Transient() {
			return "", err
		}
	}
	return "", lastErr
}

// call performs a single request/response exchange.
func (c *Client) call(ctx context.Context, endpoint, task, correlationID string) (string, error) {
	params, err := json.Marshal(DelegateParams{TaskText: task, CorrelationID: correlationID})
	if err != nil {
		return "", domain.NewCommError(domain.CommProtocolError, endpoint, "encode params", err)
	}
	id := c.nextID.Add(1)
	body, err := json.Marshal(Request{Method: MethodDelegate, Params: params, ID: id})
	if err != nil {
		return "", domain.NewCommError(domain.CommProtocolError, endpoint, "encode request", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", domain.NewCommError(domain.CommProtocolError, endpoint, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Correlation-ID", correlationID)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", classifyDialError(endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", domain.NewCommError(domain.CommProtocolError, endpoint,
			fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", classifyDialError(endpoint, err)
	}

	var envelope Response
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", domain.NewCommError(domain.CommProtocolError, endpoint, "decode response", err)
	}
	if envelope.Error != nil {
		return "", domain.NewCommError(domain.CommRemoteError, endpoint,
			fmt.Sprintf("code %d: %s", envelope.Error.Code, envelope.Error.Message), nil)
	}
	if envelope.Result == nil {
		return "", domain.NewCommError(domain.CommProtocolError, endpoint, "response has neither result nor error", nil)
	}
	if envelope.ID != id {
		return "", domain.NewCommError(domain.CommProtocolError, endpoint,
			fmt.Sprintf("correlation mismatch: sent id %d, got %d", id, envelope.ID), nil)
	}
	return envelope.Result.Text, nil
}

// CloseIdle drops pooled connections. In-flight calls finish under their own
// per-call timeout.
func (c *Client) CloseIdle() {
	c.httpc.CloseIdleConnections()
}

// classifyDialError maps low-level transport errors onto the communication
// taxonomy so the retry loop can tell transient from fatal.
func classifyDialError(endpoint string, err error) *domain.CommunicationError {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewCommError(domain.CommTimeout, endpoint, "call deadline exceeded", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.NewCommError(domain.CommTimeout, endpoint, "network timeout", err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return domain.NewCommError(domain.CommConnectionRefused, endpoint, opErr.Op+" failed", err)
	}
	if errors.Is(err, context.Canceled) {
		return domain.NewCommError(domain.CommTimeout, endpoint, "call cancelled", err)
	}
	// url.Error wrapping something we did not recognize: assume connection trouble.
	return domain.NewCommError(domain.CommConnectionRefused, endpoint, "request failed", err)
}

// retryBackoff computes exponential backoff with jitter.
func retryBackoff(attempt int) time.Duration {
	delay := baseRetryDelay * time.Duration(1<<uint(attempt))
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	// Add 0-25% jitter.
	jitter := time.Duration(rand.Int63n(int64(delay/4) + 1))
	return delay + jitter
}

var _ domain.Delegator = (*Client)(nil)
