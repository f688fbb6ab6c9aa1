package auth

import (
	"errors"
	"testing"
)

func noKeychain(name string, args ...string) ([]byte, error) {
	return nil, errors.New("not found")
}

func TestEarthdataResolverPrefersEnvToken(t *testing.T) {
	resolver := EarthdataResolver{
		Getenv: func(key string) string {
			if key == "EARTHDATA_TOKEN" {
				return " edl-token "
			}
			return ""
		},
		ReadFile: func(path string) ([]byte, error) {
			return nil, errors.New("should not read netrc")
		},
		Command: func(name string, args ...string) ([]byte, error) {
			return nil, errors.New("should not read keychain")
		},
	}

	creds, err := resolver.Resolve()
	if err != nil {
		t.Fatalf("resolve credentials: %v", err)
	}
	if creds.Token != "edl-token" || creds.Source != "EARTHDATA_TOKEN" {
		t.Fatalf("unexpected credentials: %+v", creds)
	}
}

func TestEarthdataResolverUsesKeychain(t *testing.T) {
	resolver := EarthdataResolver{
		Getenv: func(string) string { return "" },
		Command: func(name string, args ...string) ([]byte, error) {
			return []byte("keychain-token\n"), nil
		},
		ReadFile: func(path string) ([]byte, error) {
			return nil, errors.New("should not read netrc")
		},
	}
	creds, err := resolver.Resolve()
	if err != nil {
		t.Fatalf("resolve credentials: %v", err)
	}
	if creds.Token != "keychain-token" {
		t.Fatalf("unexpected credentials: %+v", creds)
	}
}

func TestEarthdataResolverFallsBackToNetrc(t *testing.T) {
	netrc := `machine example.com login other password nope
machine urs.earthdata.nasa.gov
  login scientist
  password s3cret
default login anon password anon
`
	var readPath string
	resolver := EarthdataResolver{
		Getenv:  func(string) string { return "" },
		Command: noKeychain,
		HomeDir: func() (string, error) { return "/home/scientist", nil },
		ReadFile: func(path string) ([]byte, error) {
			readPath = path
			return []byte(netrc), nil
		},
	}

	creds, err := resolver.Resolve()
	if err != nil {
		t.Fatalf("resolve credentials: %v", err)
	}
	if readPath != "/home/scientist/.netrc" {
		t.Fatalf("unexpected netrc path %q", readPath)
	}
	if creds.Username != "scientist" || creds.Password != "s3cret" || creds.Empty() {
		t.Fatalf("unexpected credentials: %+v", creds)
	}
}

func TestEarthdataResolverHonorsNETRC(t *testing.T) {
	resolver := EarthdataResolver{
		Getenv: func(key string) string {
			if key == "NETRC" {
				return "/etc/hls/netrc"
			}
			return ""
		},
		Command: noKeychain,
		ReadFile: func(path string) ([]byte, error) {
			if path != "/etc/hls/netrc" {
				t.Fatalf("unexpected netrc path %q", path)
			}
			return []byte("default login anon password anon\n"), nil
		},
	}
	creds, err := resolver.Resolve()
	if err != nil {
		t.Fatalf("resolve credentials: %v", err)
	}
	if creds.Username != "anon" {
		t.Fatalf("expected default entry, got %+v", creds)
	}
}

func TestEarthdataResolverNotFound(t *testing.T) {
	resolver := EarthdataResolver{
		Getenv:   func(string) string { return "" },
		Command:  noKeychain,
		HomeDir:  func() (string, error) { return "/home/none", nil },
		ReadFile: func(string) ([]byte, error) { return []byte("machine example.com login a password b\n"), nil },
	}
	if _, err := resolver.Resolve(); !errors.Is(err, ErrEarthdataCredentialsNotFound) {
		t.Fatalf("expected ErrEarthdataCredentialsNotFound, got %v", err)
	}

	resolver.ReadFile = func(string) ([]byte, error) { return []byte("machine urs.earthdata.nasa.gov login\n"), nil }
	if _, err := resolver.Resolve(); err == nil || errors.Is(err, ErrEarthdataCredentialsNotFound) {
		t.Fatalf("expected parse error for truncated netrc, got %v", err)
	}
}
