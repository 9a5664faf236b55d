// Package callback delivers custom resource results to the orchestrator's
// pre-signed response URL.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-lambda-go/cfn"

	"github.com/xpeteliu/cis545-group-project/internal/logging"
	"github.com/xpeteliu/cis545-group-project/internal/retry"
)

// MaxReasonLength is the longest Reason the orchestrator accepts.
const MaxReasonLength = 4096

// DefaultAttemptTimeout bounds a single PUT when no timeout is configured.
const DefaultAttemptTimeout = 10 * time.Second

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Transport PUTs result envelopes to response URLs.
type Transport struct {
	client         HTTPDoer
	policy         *retry.Policy
	attemptTimeout time.Duration
	logger         *slog.Logger
}

// Option configures a Transport.
type Option func(*Transport)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c HTTPDoer) Option {
	return func(t *Transport) {
		t.client = c
	}
}

// WithRetryPolicy sets the retry policy for transient delivery failures.
func WithRetryPolicy(p *retry.Policy) Option {
	return func(t *Transport) {
		t.policy = p
	}
}

// WithAttemptTimeout bounds each individual PUT.
func WithAttemptTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.attemptTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = l
	}
}

// NewTransport returns a Transport using http.DefaultClient and the
// default retry policy unless overridden.
func NewTransport(opts ...Option) *Transport {
	t := &Transport{
		client:         http.DefaultClient,
		policy:         retry.DefaultPolicy(),
		attemptTimeout: DefaultAttemptTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = logging.Logger()
	}
	return t
}

// StatusError is a non-2xx answer from the response URL.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("callback rejected with HTTP %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether the status is worth retrying.
func (e *StatusError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Send delivers resp to url. Transient failures are retried with backoff
// until the retry policy or ctx runs out.
func (t *Transport) Send(ctx context.Context, url string, resp *cfn.Response) error {
	if url == "" {
		return errors.New("callback: empty response URL")
	}

	body, err := Encode(resp)
	if err != nil {
		return err
	}

	err = retry.Do(ctx, t.policy, func(attempt int) error {
		if attempt > 0 {
			t.logger.Warn("retrying callback delivery",
				"request_id", resp.RequestID,
				"attempt", attempt+1,
			)
		}
		return t.put(ctx, url, body)
	}, shouldRetry(ctx))
	if err != nil {
		return fmt.Errorf("failed to deliver %s result for request %s: %w", resp.Status, resp.RequestID, err)
	}

	t.logger.Info("callback delivered",
		"request_id", resp.RequestID,
		"status", string(resp.Status),
		"physical_resource_id", resp.PhysicalResourceID,
	)
	return nil
}

func (t *Transport) put(ctx context.Context, url string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, t.attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build callback request: %w", err)
	}
	// Pre-signed response URLs are signed without a content type.
	req.Header.Set("Content-Type", "")
	req.ContentLength = int64(len(body))

	res, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
	return &StatusError{StatusCode: res.StatusCode, Body: string(bytes.TrimSpace(snippet))}
}

// shouldRetry classifies delivery failures. An attempt that hit its own
// timeout is retried as long as the invocation context is still live.
func shouldRetry(ctx context.Context) func(error) bool {
	return func(err error) bool {
		var se *StatusError
		if errors.As(err, &se) {
			return se.Transient()
		}
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return true
		}
		return retry.IsTransientError(err)
	}
}

// Encode renders the envelope as JSON, truncating an oversized Reason.
func Encode(resp *cfn.Response) ([]byte, error) {
	if resp == nil {
		return nil, errors.New("callback: nil response")
	}
	out := *resp
	out.Reason = TruncateReason(out.Reason)

	body, err := json.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode callback body: %w", err)
	}
	return body, nil
}

// TruncateReason shortens reason to at most MaxReasonLength bytes without
// splitting a UTF-8 sequence.
func TruncateReason(reason string) string {
	if len(reason) <= MaxReasonLength {
		return reason
	}
	const marker = "... (truncated)"
	cut := MaxReasonLength - len(marker)
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut] + marker
}
