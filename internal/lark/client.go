package lark

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Retry and pacing constants.
const (
	maxRetries      = 3
	baseBackoff     = 1 * time.Second
	backoffFactor   = 2
	defaultGateGap  = 200 * time.Millisecond
	requestTimeout  = 30 * time.Second
	transferTimeout = 120 * time.Second
	userAgent       = "larksync/0.1"
)

// DefaultBaseURL is the production open API origin.
const DefaultBaseURL = "https://open.feishu.cn"

// TokenSource supplies bearer tokens for outbound requests. Defined at the
// consumer per Go convention "accept interfaces, return structs"; the auth
// layer provides the real implementation. Token returns the user token when
// one is configured, else the tenant token. Refresh is invoked once when the
// API signals token expiry; after it returns nil the next Token call must
// yield a fresh credential.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) error
}

// RateGate enforces a minimum spacing between outbound request starts.
// It is a single mutex-guarded timestamp: a caller that arrives early sleeps
// for the remaining slice. Many workers may be blocked on it at once; the
// gate serializes request starts, not CPU work.
type RateGate struct {
	mu       sync.Mutex
	last     time.Time
	interval time.Duration
}

// NewRateGate creates a gate with the given minimum interval.
// A zero or negative interval disables pacing.
func NewRateGate(interval time.Duration) *RateGate {
	return &RateGate{interval: interval}
}

// Wait blocks until at least the gate interval has elapsed since the
// previous Wait returned, or the context is canceled.
func (g *RateGate) Wait(ctx context.Context) error {
	if g.interval <= 0 {
		return nil
	}

	g.mu.Lock()

	now := time.Now()
	next := g.last.Add(g.interval)

	if next.After(now) {
		wait := next.Sub(now)
		g.last = next
		g.mu.Unlock()

		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	}

	g.last = now
	g.mu.Unlock()

	return nil
}

// Client is an HTTP client for the open API. It owns request construction,
// authentication headers, the process-wide rate gate, retry with exponential
// backoff, and envelope decoding.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	gate       *RateGate
	logger     *slog.Logger

	// sleepFunc waits between retries. Tests override it to avoid delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates an API client. baseURL is typically DefaultBaseURL.
// gateInterval is the minimum spacing between request starts; pass 0 to
// disable pacing (tests only).
func NewClient(baseURL string, httpClient *http.Client, token TokenSource, gateInterval time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		token:      token,
		gate:       NewRateGate(gateInterval),
		logger:     logger,
		sleepFunc:  timeSleep,
	}
}

// envelope is the common response wrapper: {code, msg, data}.
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// doJSON executes a JSON request and decodes the envelope data into out.
// body is marshaled when non-nil; out may be nil when the caller only needs
// success/failure. Retries transport errors, retryable HTTP statuses, and
// the rate-limit envelope code with 1s/2s/4s backoff, honoring Retry-After.
// A token-expired code triggers one TokenSource.Refresh before retrying.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var payload []byte

	if body != nil {
		var err error

		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("lark: marshaling %s %s body: %w", method, path, err)
		}
	}

	build := func() (io.Reader, string) {
		if payload == nil {
			return nil, ""
		}

		return bytes.NewReader(payload), "application/json; charset=utf-8"
	}

	return c.doRetry(ctx, method, path, build, out)
}

// bodyFactory builds a fresh request body per attempt, so retries never
// reuse a consumed reader. The second return value is the Content-Type.
type bodyFactory func() (io.Reader, string)

// doRetry is the shared retry loop for doJSON and multipart uploads.
func (c *Client) doRetry(ctx context.Context, method, path string, build bodyFactory, out any) error {
	refreshed := false

	var attempt int

	for {
		env, status, err := c.doOnce(ctx, method, path, build)

		switch {
		case err != nil:
			if ctx.Err() != nil {
				return fmt.Errorf("lark: request canceled: %w", ctx.Err())
			}

			if attempt < maxRetries {
				backoff := calcBackoff(attempt)
				c.logger.Warn("retrying after transport error",
					slog.String("method", method),
					slog.String("path", path),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return fmt.Errorf("lark: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return fmt.Errorf("lark: %s %s failed after %d retries: %w", method, path, maxRetries, err)

		case env.Code == codeOK:
			if out != nil && len(env.Data) > 0 {
				if decErr := json.Unmarshal(env.Data, out); decErr != nil {
					return fmt.Errorf("lark: decoding %s %s response: %w", method, path, decErr)
				}
			}

			return nil

		case isTokenExpiredCode(env.Code) && !refreshed:
			c.logger.Info("access token expired, refreshing",
				slog.String("path", path),
				slog.Int("code", env.Code),
			)

			if refreshErr := c.token.Refresh(ctx); refreshErr != nil {
				return fmt.Errorf("lark: token refresh failed: %w", refreshErr)
			}

			refreshed = true

			continue

		case (isRetryableCode(env.Code) || isRetryableStatus(status)) && attempt < maxRetries:
			backoff := env.retryAfter
			if backoff <= 0 {
				backoff = calcBackoff(attempt)
			}

			c.logger.Warn("retrying after API error",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("code", env.Code),
				slog.Int("status", status),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
				return fmt.Errorf("lark: request canceled: %w", sleepErr)
			}

			attempt++

			continue

		default:
			if attempt > 0 {
				c.logger.Error("request failed after retries",
					slog.String("method", method),
					slog.String("path", path),
					slog.Int("code", env.Code),
					slog.Int("attempts", attempt+1),
				)
			}

			return &APIError{
				Code:       env.Code,
				HTTPStatus: status,
				Msg:        env.Msg,
				Err:        classifyCode(env.Code, status),
			}
		}
	}
}

// attemptEnvelope carries the decoded envelope plus any Retry-After hint.
type attemptEnvelope struct {
	envelope
	retryAfter time.Duration
}

// doOnce executes a single paced, authenticated HTTP request and decodes
// the response envelope. Transport-level failures return a non-nil error;
// API-level failures are reported via the envelope code.
func (c *Client) doOnce(ctx context.Context, method, path string, build bodyFactory) (attemptEnvelope, int, error) {
	if err := c.gate.Wait(ctx); err != nil {
		return attemptEnvelope{}, 0, err
	}

	body, contentType := build()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return attemptEnvelope{}, 0, fmt.Errorf("creating request: %w", err)
	}

	tok, err := c.token.Token(ctx)
	if err != nil {
		return attemptEnvelope{}, 0, fmt.Errorf("obtaining token: %w", err)
	}

	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	req.Header.Set("User-Agent", userAgent)

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return attemptEnvelope{}, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return attemptEnvelope{}, resp.StatusCode, fmt.Errorf("reading response body: %w", err)
	}

	var env attemptEnvelope
	if err := json.Unmarshal(raw, &env.envelope); err != nil {
		// Non-envelope bodies on 5xx are treated as transport-level failures
		// so the retry loop handles them.
		if isRetryableStatus(resp.StatusCode) {
			return attemptEnvelope{}, resp.StatusCode, fmt.Errorf("HTTP %d: %s", resp.StatusCode, firstLine(raw))
		}

		return attemptEnvelope{}, resp.StatusCode, fmt.Errorf("decoding response envelope: %w", err)
	}

	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if seconds, convErr := strconv.Atoi(ra); convErr == nil && seconds > 0 {
			env.retryAfter = time.Duration(seconds) * time.Second
		}
	}

	c.logger.Debug("request complete",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Int("code", env.Code),
	)

	return env, resp.StatusCode, nil
}

// calcBackoff returns the delay before the given retry attempt: 1s, 2s, 4s.
func calcBackoff(attempt int) time.Duration {
	d := baseBackoff
	for i := 0; i < attempt; i++ {
		d *= backoffFactor
	}

	return d
}

// firstLine truncates a response body for error messages.
func firstLine(b []byte) string {
	const maxLen = 200

	s := string(b)
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		s = s[:i]
	}

	if len(s) > maxLen {
		s = s[:maxLen]
	}

	return s
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
