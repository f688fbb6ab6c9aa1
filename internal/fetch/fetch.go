// Package fetch copies remote granule assets to local files.
//
// Each href scheme (https, s3, file) is served by an Opener. The Client adds
// retries with exponential backoff and writes every asset through a temp
// file, so a local path either holds a complete asset or does not exist.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jaa/hls-scaling/internal/fileops"
	"github.com/jaa/hls-scaling/internal/retry"
)

var ErrNotFound = errors.New("fetch: asset not found")

// Opener streams one remote object. Implementations make a single attempt;
// the Client owns retries.
type Opener interface {
	Open(ctx context.Context, href *url.URL) (io.ReadCloser, error)
}

type Options struct {
	// RetryAttempts is the number of retries after the first attempt.
	// Default: 2
	RetryAttempts int

	// RetryBackoff is the delay before the first retry.
	// Default: 5s
	RetryBackoff time.Duration

	// RetryMaxBackoff caps the exponential backoff.
	// Default: 30s
	RetryMaxBackoff time.Duration
}

func DefaultOptions() Options {
	return Options{
		RetryAttempts:   2,
		RetryBackoff:    5 * time.Second,
		RetryMaxBackoff: 30 * time.Second,
	}
}

// Error is the terminal failure of one asset fetch.
type Error struct {
	Href     string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.Href, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func isPermanent(err error) bool {
	return retry.IsPermanent(err) || errors.Is(err, ErrNotFound)
}

type Client struct {
	openers map[string]Opener
	opts    Options
	logger  zerolog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewClient(opts Options, logger zerolog.Logger) *Client {
	if opts.RetryAttempts < 0 {
		opts.RetryAttempts = 0
	}
	return &Client{
		openers: map[string]Opener{},
		opts:    opts,
		logger:  logger,
		sleep:   retry.Sleep,
	}
}

// Register serves hrefs with the given schemes through opener.
func (c *Client) Register(opener Opener, schemes ...string) {
	for _, scheme := range schemes {
		c.openers[strings.ToLower(scheme)] = opener
	}
}

// Fetch copies href to dst and returns the number of bytes written.
func (c *Client) Fetch(ctx context.Context, href string, dst string) (int64, error) {
	parsed, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return 0, &Error{Href: href, Attempts: 0, Err: retry.Permanent(err)}
	}
	opener, ok := c.openers[strings.ToLower(parsed.Scheme)]
	if !ok {
		return 0, &Error{Href: href, Attempts: 0, Err: retry.Permanent(fmt.Errorf("unsupported scheme %q", parsed.Scheme))}
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= c.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt)
			c.logger.Warn().Err(lastErr).Str("href", href).Int("attempt", attempt+1).Dur("backoff", delay).Msg("retrying asset fetch")
			if err := c.sleep(ctx, delay); err != nil {
				return 0, &Error{Href: href, Attempts: attempts, Err: lastErr}
			}
		}
		attempts++

		n, err := c.fetchOnce(ctx, opener, parsed, dst)
		if err == nil {
			c.logger.Debug().Str("href", href).Str("path", dst).Int64("bytes", n).Msg("asset fetched")
			return n, nil
		}
		lastErr = err
		if isPermanent(err) || ctx.Err() != nil {
			break
		}
	}
	return 0, &Error{Href: href, Attempts: attempts, Err: lastErr}
}

func (c *Client) fetchOnce(ctx context.Context, opener Opener, href *url.URL, dst string) (int64, error) {
	body, err := opener.Open(ctx, href)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	tmp, err := fileops.CreateTemp(dst)
	if err != nil {
		return 0, retry.Permanent(err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	n, err := io.Copy(tmp, body)
	if err != nil {
		return 0, fmt.Errorf("copy body: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return 0, retry.Permanent(fmt.Errorf("sync %s: %w", tmpName, err))
	}
	if err := tmp.Close(); err != nil {
		return 0, retry.Permanent(fmt.Errorf("close %s: %w", tmpName, err))
	}
	if err := fileops.ReplaceFileSafely(tmpName, dst); err != nil {
		return 0, retry.Permanent(err)
	}
	committed = true
	return n, nil
}

func (c *Client) backoff(attempt int) time.Duration {
	backoff := c.opts.RetryBackoff * time.Duration(1<<uint(attempt-1))
	if c.opts.RetryMaxBackoff > 0 && backoff > c.opts.RetryMaxBackoff {
		backoff = c.opts.RetryMaxBackoff
	}
	// jitter between 0.5x and 1.5x
	return time.Duration(float64(backoff) * (0.5 + rand.Float64()))
}

// New returns a Client serving http(s), s3 and file hrefs.
func New(opts Options, httpOpts HTTPOptions, s3Opts S3Options, logger zerolog.Logger) (*Client, error) {
	client := NewClient(opts, logger)
	client.Register(NewHTTPOpener(httpOpts), "http", "https")
	s3, err := NewS3Opener(s3Opts)
	if err != nil {
		return nil, err
	}
	client.Register(s3, "s3")
	client.Register(FileOpener{}, "file")
	return client, nil
}
