package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCheckStatusClassifiesResponses(t *testing.T) {
	tests := []struct {
		name      string
		code      int
		body      string
		wantNil   bool
		permanent bool
		want      string
	}{
		{name: "ok", code: http.StatusOK, wantNil: true},
		{name: "no content", code: http.StatusNoContent, wantNil: true},
		{name: "throttled", code: http.StatusTooManyRequests, want: "server error"},
		{name: "request timeout", code: http.StatusRequestTimeout, want: "server error"},
		{name: "bad gateway", code: http.StatusBadGateway, want: "server error"},
		{name: "bad request with body", code: http.StatusBadRequest, body: "bbox is invalid", permanent: true, want: "bbox is invalid"},
		{name: "forbidden", code: http.StatusForbidden, permanent: true, want: "unexpected status"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.code)
				fmt.Fprint(w, tc.body)
			}))
			defer server.Close()

			resp, err := http.Get(server.URL)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			defer resp.Body.Close()

			err = CheckStatus(resp)
			if tc.wantNil {
				if err != nil {
					t.Fatalf("expected nil, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected an error")
			}
			if IsPermanent(err) != tc.permanent {
				t.Fatalf("expected permanent=%v for %v", tc.permanent, err)
			}
			var statusErr *StatusError
			if !errors.As(err, &statusErr) || statusErr.Code != tc.code {
				t.Fatalf("expected StatusError with code %d, got %v", tc.code, err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in %v", tc.want, err)
			}
		})
	}
}

func TestPermanentWrapsAndNilPassesThrough(t *testing.T) {
	if Permanent(nil) != nil {
		t.Fatal("expected nil for nil error")
	}
	base := errors.New("boom")
	err := fmt.Errorf("open: %w", Permanent(base))
	if !IsPermanent(err) {
		t.Fatal("expected wrapped permanent error to be detected")
	}
	if !errors.Is(err, base) {
		t.Fatal("expected the cause to stay reachable")
	}
	if IsPermanent(base) {
		t.Fatal("plain error must not be permanent")
	}
}

func TestSleepStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := Sleep(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("sleep ignored the canceled context")
	}
	if err := Sleep(context.Background(), 0); err != nil {
		t.Fatalf("expected nil for zero delay, got %v", err)
	}
}
