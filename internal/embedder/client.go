// Package embedder wraps single encode calls to the embedding provider with
// permit acquisition, bounded retry with backoff, and L2 normalization.
package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/drivesift/drivesift/internal/ratelimit"
)

const (
	defaultMaxAttempts    = 4
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 15 * time.Second

	// Rough estimates used at permit acquisition; the actual usage reported
	// by the provider corrects the books at release.
	charsPerToken        = 4
	imageTokenEstimate   = 768
	defaultBudgetRetries = 5
)

// Captioner describes a frame image in text. When configured, image encoding
// captions the frame and embeds the caption.
type Captioner interface {
	Caption(ctx context.Context, imagePath string) (string, error)
}

// Options tune the client. Zero values fall back to defaults.
type Options struct {
	MaxAttempts    int           // provider retries per call
	BudgetRetries  int           // permit acquisition attempts
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Captioner      Captioner // optional caption-then-embed image path
}

// Client is the rate-governed embedding client. Every encode call holds one
// permit from acquisition to release, on every exit path.
type Client struct {
	provider Provider
	limiter  *ratelimit.Limiter
	log      *slog.Logger
	opts     Options

	sleep func(ctx context.Context, d time.Duration) error
}

func NewClient(provider Provider, limiter *ratelimit.Limiter, log *slog.Logger, opts Options) *Client {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.BudgetRetries <= 0 {
		opts.BudgetRetries = defaultBudgetRetries
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	return &Client{
		provider: provider,
		limiter:  limiter,
		log:      log.With("component", "embedder"),
		opts:     opts,
		sleep:    sleepCtx,
	}
}

// Model reports the provider model name written alongside stored vectors.
func (c *Client) Model() string { return c.provider.Model() }

// EncodeText embeds a text query and returns the L2-normalized vector.
func (c *Client) EncodeText(ctx context.Context, text string) ([]float32, error) {
	est := len(text) / charsPerToken
	if est < 1 {
		est = 1
	}
	return c.encode(ctx, ratelimit.OpEmbedText, est, EmbedInput{Text: text})
}

// EncodeImage embeds one frame image. With a captioner configured the frame
// is described first and the caption is embedded, keeping frame and query
// vectors in one text-embedding space.
func (c *Client) EncodeImage(ctx context.Context, imagePath string) ([]float32, error) {
	if c.opts.Captioner != nil {
		caption, err := c.opts.Captioner.Caption(ctx, imagePath)
		if err != nil {
			return nil, fmt.Errorf("caption %s: %w", imagePath, err)
		}
		return c.EncodeText(ctx, caption)
	}
	return c.encode(ctx, ratelimit.OpEmbedImage, imageTokenEstimate, EmbedInput{ImagePath: imagePath})
}

func (c *Client) encode(ctx context.Context, op ratelimit.Op, estTokens int, input EmbedInput) ([]float32, error) {
	permit, err := c.acquire(ctx, op, estTokens)
	if err != nil {
		return nil, err
	}

	actual := estTokens
	defer func() { permit.Release(actual) }()

	res, err := c.callWithRetry(ctx, input)
	if err != nil {
		return nil, err
	}
	if res.Tokens > 0 {
		actual = res.Tokens
	}
	return normalize(res.Vector), nil
}

// acquire asks the limiter for a permit, backing off between denials. The
// limiter never sleeps; the waiting happens here, cancellable via ctx.
func (c *Client) acquire(ctx context.Context, op ratelimit.Op, estTokens int) (*ratelimit.Permit, error) {
	for attempt := 0; attempt < c.opts.BudgetRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.backoff(attempt)); err != nil {
				return nil, err
			}
		}
		if permit, ok := c.limiter.Acquire(op, estTokens); ok {
			return permit, nil
		}
		c.log.Debug("permit denied", "op", string(op), "attempt", attempt+1)
	}
	return nil, fmt.Errorf("%w: %s after %d attempts", ErrBudgetExceeded, op, c.opts.BudgetRetries)
}

func (c *Client) callWithRetry(ctx context.Context, input EmbedInput) (*EmbedResult, error) {
	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := c.sleep(ctx, c.backoff(attempt-1)); err != nil {
				return nil, err
			}
		}
		res, err := c.provider.Embed(ctx, input)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !retryable(err) {
			return nil, err
		}
		c.log.Warn("provider call failed, retrying", "attempt", attempt, "error", err)
	}
	return nil, fmt.Errorf("provider failed after %d attempts: %w", c.opts.MaxAttempts, lastErr)
}

// backoff computes an exponential delay with +/-25% jitter.
func (c *Client) backoff(attempt int) time.Duration {
	d := float64(c.opts.InitialBackoff) * math.Pow(2, float64(attempt-1))
	if d > float64(c.opts.MaxBackoff) {
		d = float64(c.opts.MaxBackoff)
	}
	jitter := d * 0.25 * (rand.Float64()*2 - 1)
	return time.Duration(d + jitter)
}

// normalize scales v to unit L2 length so downstream cosine similarity is a
// plain dot product. A zero vector is returned unchanged.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
