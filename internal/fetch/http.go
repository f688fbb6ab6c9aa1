package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/jaa/hls-scaling/internal/auth"
	"github.com/jaa/hls-scaling/internal/retry"
)

type HTTPOptions struct {
	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 16
	MaxIdleConnsPerHost int

	// Timeout bounds one request including the body transfer.
	// Default: 10m
	Timeout time.Duration

	Credentials auth.EarthdataCredentials
	UserAgent   string
}

func DefaultHTTPOptions() HTTPOptions {
	return HTTPOptions{
		MaxIdleConnsPerHost: 16,
		Timeout:             10 * time.Minute,
		UserAgent:           "hlsscale",
	}
}

// HTTPOpener fetches https hrefs. A bearer token is sent on every request;
// a netrc login is answered only when the server redirects to the
// Earthdata login host, whose session cookie is then kept in a jar.
type HTTPOpener struct {
	client *http.Client
	opts   HTTPOptions
}

func NewHTTPOpener(opts HTTPOptions) *HTTPOpener {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		MaxIdleConns:        opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:     90 * time.Second,
	}
	jar, _ := cookiejar.New(nil)
	creds := opts.Credentials

	client := &http.Client{
		Transport: transport,
		Timeout:   opts.Timeout,
		Jar:       jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("stopped after %d redirects", len(via))
			}
			if req.URL.Hostname() == auth.EarthdataHost && creds.Token == "" && creds.Username != "" {
				req.SetBasicAuth(creds.Username, creds.Password)
			}
			return nil
		},
	}
	return &HTTPOpener{client: client, opts: opts}
}

func (o *HTTPOpener) Open(ctx context.Context, href *url.URL) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, href.String(), nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	if o.opts.UserAgent != "" {
		req.Header.Set("User-Agent", o.opts.UserAgent)
	}
	if token := o.opts.Credentials.Token; token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return fmt.Errorf("%w: %s", ErrNotFound, resp.Status)
	}
	return retry.CheckStatus(resp)
}
