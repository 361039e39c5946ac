package affinity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var (
	ErrOutOfRange  = errors.New("affinity score out of range")
	ErrUnavailable = errors.New("affinity service unavailable")
)

const (
	minScore = 1
	maxScore = 5
)

type scoreRequest struct {
	Issue     string   `json:"patient_issue"`
	History   []string `json:"patient_history"`
	Specialty string   `json:"caregiver_specialty"`
}

type scoreResponse struct {
	Score int `json:"score"`
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.httpClient = c }
}

// WithRateLimit caps outgoing calls at rps with the given burst.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(cl *Client) { cl.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithMaxRetries sets how many times a 5xx or 429 answer is retried.
func WithMaxRetries(n int) ClientOption {
	return func(cl *Client) { cl.maxRetries = n }
}

func WithRetryDelay(d time.Duration) ClientOption {
	return func(cl *Client) { cl.retryDelay = d }
}

func WithLogger(l zerolog.Logger) ClientOption {
	return func(cl *Client) { cl.logger = l }
}

// WithObserver is called once per Score with the outcome and latency.
func WithObserver(fn func(outcome string, elapsed time.Duration)) ClientOption {
	return func(cl *Client) { cl.observe = fn }
}

// Client asks a remote advisory service for affinity scores.
type Client struct {
	url        string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	retryDelay time.Duration
	logger     zerolog.Logger
	observe    func(string, time.Duration)
}

func NewClient(url string, opts ...ClientOption) *Client {
	c := &Client{
		url:        url,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(5), 10),
		maxRetries: 2,
		retryDelay: 200 * time.Millisecond,
		logger:     zerolog.Nop(),
		observe:    func(string, time.Duration) {},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Score returns the service's judgement for one patient and specialty.
func (c *Client) Score(ctx context.Context, issue string, history []string, specialty string) (int, error) {
	start := time.Now()
	score, err := c.score(ctx, issue, history, specialty)
	outcome := "ok"
	switch {
	case errors.Is(err, ErrOutOfRange):
		outcome = "out_of_range"
	case err != nil:
		outcome = "error"
	}
	c.observe(outcome, time.Since(start))
	return score, err
}

func (c *Client) score(ctx context.Context, issue string, history []string, specialty string) (int, error) {
	if history == nil {
		history = []string{}
	}
	payload, err := json.Marshal(scoreRequest{Issue: issue, History: history, Specialty: specialty})
	if err != nil {
		return 0, err
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Debug().Int("attempt", attempt).Err(lastErr).Msg("retrying affinity request")
			t := time.NewTimer(c.retryDelay * time.Duration(attempt))
			select {
			case <-ctx.Done():
				t.Stop()
				return 0, ctx.Err()
			case <-t.C:
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, fmt.Errorf("affinity rate limit: %w", err)
		}

		score, retry, err := c.do(ctx, payload)
		if err == nil {
			return score, nil
		}
		if !retry {
			return 0, err
		}
		lastErr = err
	}
	return 0, lastErr
}

// do performs one request and reports whether a failure is worth retrying.
func (c *Client) do(ctx context.Context, payload []byte) (int, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return 0, false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, false, ctx.Err()
		}
		return 0, true, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return 0, true, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, false, fmt.Errorf("affinity request rejected: status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var out scoreResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		return 0, false, fmt.Errorf("decode affinity response: %w", err)
	}
	if out.Score < minScore || out.Score > maxScore {
		return 0, false, fmt.Errorf("%w: %d", ErrOutOfRange, out.Score)
	}
	return out.Score, false, nil
}
