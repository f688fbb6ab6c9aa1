package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/jaa/hls-scaling/internal/auth"
	"github.com/jaa/hls-scaling/internal/fileops"
)

func newTestClient(opts HTTPOptions) *Client {
	client := NewClient(Options{RetryAttempts: 2, RetryBackoff: time.Millisecond, RetryMaxBackoff: time.Millisecond}, zerolog.Nop())
	client.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	client.Register(NewHTTPOpener(opts), "http", "https")
	client.Register(FileOpener{}, "file")
	return client
}

func TestFetchHTTPWritesAsset(t *testing.T) {
	var header atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header.Store(r.Header.Get("Authorization"))
		fmt.Fprint(w, "band-data")
	}))
	defer server.Close()

	opts := DefaultHTTPOptions()
	opts.Credentials.Token = "edl-token"
	client := newTestClient(opts)

	dst := filepath.Join(t.TempDir(), "input_dir", "B02.tif")
	n, err := client.Fetch(context.Background(), server.URL+"/HLSS30.020/B02.tif", dst)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if n != int64(len("band-data")) {
		t.Fatalf("unexpected byte count %d", n)
	}
	payload, err := os.ReadFile(dst)
	if err != nil || string(payload) != "band-data" {
		t.Fatalf("unexpected payload %q (%v)", payload, err)
	}
	if got := header.Load(); got != "Bearer edl-token" {
		t.Fatalf("expected bearer token, got %v", got)
	}
	assertOnlyFile(t, filepath.Dir(dst), "B02.tif")
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer server.Close()

	dst := filepath.Join(t.TempDir(), "B03.tif")
	if _, err := newTestClient(DefaultHTTPOptions()).Fetch(context.Background(), server.URL+"/B03.tif", dst); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestFetchGivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer server.Close()

	dst := filepath.Join(t.TempDir(), "B04.tif")
	_, err := newTestClient(DefaultHTTPOptions()).Fetch(context.Background(), server.URL+"/B04.tif", dst)
	var fetchErr *Error
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected fetch.Error, got %v", err)
	}
	if fetchErr.Attempts != 3 || calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d (server saw %d)", fetchErr.Attempts, calls.Load())
	}
	if _, statErr := os.Stat(dst); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("failed fetch must not leave a file, stat err: %v", statErr)
	}
	assertOnlyFile(t, filepath.Dir(dst))
}

func TestFetchDoesNotRetryNotFound(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	_, err := newTestClient(DefaultHTTPOptions()).Fetch(context.Background(), server.URL+"/missing.tif", filepath.Join(t.TempDir(), "missing.tif"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}

func TestFetchStopsRetryingWhenCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(DefaultHTTPOptions())
	ctx, cancel := context.WithCancel(context.Background())
	client.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	_, err := client.Fetch(ctx, server.URL+"/B05.tif", filepath.Join(t.TempDir(), "B05.tif"))
	var fetchErr *Error
	if !errors.As(err, &fetchErr) || fetchErr.Attempts != 1 {
		t.Fatalf("expected one attempt before cancellation, got %v", err)
	}
}

func TestFetchRejectsUnknownScheme(t *testing.T) {
	_, err := newTestClient(DefaultHTTPOptions()).Fetch(context.Background(), "gopher://example.com/B02.tif", filepath.Join(t.TempDir(), "B02.tif"))
	if err == nil || !strings.Contains(err.Error(), "unsupported scheme") {
		t.Fatalf("expected unsupported scheme error, got %v", err)
	}
}

func TestFetchFileHref(t *testing.T) {
	src := filepath.Join(t.TempDir(), "mirror", "B06.tif")
	if err := os.MkdirAll(filepath.Dir(src), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(src, []byte("mirror"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	client := newTestClient(DefaultHTTPOptions())
	dst := filepath.Join(t.TempDir(), "B06.tif")
	if _, err := client.Fetch(context.Background(), "file://"+src, dst); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	payload, err := os.ReadFile(dst)
	if err != nil || string(payload) != "mirror" {
		t.Fatalf("unexpected payload %q (%v)", payload, err)
	}

	if _, err := client.Fetch(context.Background(), "file://"+src+".missing", dst+".2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing file, got %v", err)
	}
}

func TestHTTPOpenerSendsBasicAuthOnlyToEarthdata(t *testing.T) {
	var sawAuth atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, _, ok := r.BasicAuth(); ok {
			sawAuth.Store(true)
		}
		fmt.Fprint(w, "ok")
	}))
	defer server.Close()

	opts := DefaultHTTPOptions()
	opts.Credentials = auth.EarthdataCredentials{Username: "scientist", Password: "s3cret"}
	client := newTestClient(opts)
	if _, err := client.Fetch(context.Background(), server.URL+"/B07.tif", filepath.Join(t.TempDir(), "B07.tif")); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if sawAuth.Load() {
		t.Fatalf("netrc credentials must only be sent to %s", auth.EarthdataHost)
	}
}

func TestS3OpenerFetchesObject(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/lp-prod-protected/HLSL30.020/B02.tif" {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			return
		}
		w.Header().Set("Last-Modified", time.Date(2021, 8, 8, 0, 0, 0, 0, time.UTC).Format(http.TimeFormat))
		w.Header().Set("ETag", `"abc"`)
		w.Header().Set("Content-Length", "7")
		w.Header().Set("Content-Type", "image/tiff")
		fmt.Fprint(w, "s3-band")
	}))
	defer server.Close()

	s3, err := NewS3Opener(S3Options{
		Endpoint:  strings.TrimPrefix(server.URL, "http://"),
		Region:    "us-west-2",
		PathStyle: true,
		Creds:     credentials.NewStaticV4("key", "secret", ""),
	})
	if err != nil {
		t.Fatalf("new s3 opener: %v", err)
	}
	client := newTestClient(DefaultHTTPOptions())
	client.Register(s3, "s3")

	dst := filepath.Join(t.TempDir(), "B02.tif")
	if _, err := client.Fetch(context.Background(), "s3://lp-prod-protected/HLSL30.020/B02.tif", dst); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	payload, err := os.ReadFile(dst)
	if err != nil || string(payload) != "s3-band" {
		t.Fatalf("unexpected payload %q (%v)", payload, err)
	}

	_, err = client.Fetch(context.Background(), "s3://lp-prod-protected/HLSL30.020/B03.tif", dst+".missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNewS3OpenerRejectsScheme(t *testing.T) {
	if _, err := NewS3Opener(S3Options{Endpoint: "https://s3.us-west-2.amazonaws.com"}); err == nil {
		t.Fatalf("expected endpoint with scheme to be rejected")
	}
}

func assertOnlyFile(t *testing.T, dir string, names ...string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	got := []string{}
	for _, entry := range entries {
		if strings.Contains(entry.Name(), fileops.TempMarker) {
			t.Fatalf("temp file left behind: %s", entry.Name())
		}
		got = append(got, entry.Name())
	}
	if len(got) != len(names) {
		t.Fatalf("unexpected directory contents %v, want %v", got, names)
	}
}
