// Package retry holds the failure classification shared by the catalog
// client and the asset fetchers.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as a failure another attempt cannot fix.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Code   int
	Status string
	// Body is the start of the response body, when the server sent one.
	Body string
}

func (e *StatusError) Error() string {
	if e.Code == http.StatusTooManyRequests || e.Code == http.StatusRequestTimeout || e.Code >= 500 {
		return "server error: " + e.Status
	}
	if e.Body == "" {
		return "unexpected status: " + e.Status
	}
	return fmt.Sprintf("unexpected status: %s: %s", e.Status, e.Body)
}

// CheckStatus returns nil for 2xx responses. Throttling, request timeouts
// and 5xx are retryable; every other status is permanent.
func CheckStatus(resp *http.Response) error {
	code := resp.StatusCode
	if code >= 200 && code < 300 {
		return nil
	}
	statusErr := &StatusError{Code: code, Status: resp.Status}
	if code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500 {
		return statusErr
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	statusErr.Body = strings.TrimSpace(string(snippet))
	return Permanent(statusErr)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
