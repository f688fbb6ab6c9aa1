package auth

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// EarthdataHost is the NASA login host that LP DAAC redirects to.
const EarthdataHost = "urs.earthdata.nasa.gov"

var ErrEarthdataCredentialsNotFound = errors.New("earthdata credentials not found")

const (
	earthdataKeychainService = "hlsscale.earthdata"
	earthdataKeychainAccount = "token"
)

// EarthdataCredentials holds either a bearer token or a netrc login.
type EarthdataCredentials struct {
	Token    string
	Username string
	Password string
	Source   string
}

func (c EarthdataCredentials) Empty() bool {
	return c.Token == "" && (c.Username == "" || c.Password == "")
}

type commandRunner func(name string, args ...string) ([]byte, error)

type EarthdataResolver struct {
	Getenv   func(string) string
	ReadFile func(string) ([]byte, error)
	HomeDir  func() (string, error)
	Command  commandRunner
}

func ResolveEarthdataCredentials() (EarthdataCredentials, error) {
	return EarthdataResolver{
		Getenv:   os.Getenv,
		ReadFile: os.ReadFile,
		HomeDir:  os.UserHomeDir,
		Command:  runCommandOutput,
	}.Resolve()
}

// Resolve looks for a token in HLSSCALE_EARTHDATA_TOKEN, EARTHDATA_TOKEN and
// the login keychain, then for a urs.earthdata.nasa.gov entry in the netrc
// file named by NETRC or ~/.netrc.
func (r EarthdataResolver) Resolve() (EarthdataCredentials, error) {
	getenv := r.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	for _, key := range []string{"HLSSCALE_EARTHDATA_TOKEN", "EARTHDATA_TOKEN"} {
		if token := strings.TrimSpace(getenv(key)); token != "" {
			return EarthdataCredentials{Token: token, Source: key}, nil
		}
	}

	command := r.Command
	if command == nil {
		command = runCommandOutput
	}
	if token := keychainCredential(command, earthdataKeychainService, earthdataKeychainAccount); token != "" {
		return EarthdataCredentials{Token: token, Source: "keychain"}, nil
	}

	readFile := r.ReadFile
	if readFile == nil {
		readFile = os.ReadFile
	}
	netrcPath := strings.TrimSpace(getenv("NETRC"))
	if netrcPath == "" {
		homeDir := r.HomeDir
		if homeDir == nil {
			homeDir = os.UserHomeDir
		}
		home, err := homeDir()
		if err != nil {
			return EarthdataCredentials{}, ErrEarthdataCredentialsNotFound
		}
		netrcPath = filepath.Join(home, ".netrc")
	}
	payload, err := readFile(netrcPath)
	if err != nil {
		return EarthdataCredentials{}, ErrEarthdataCredentialsNotFound
	}

	login, password, err := parseNetrc(payload, EarthdataHost)
	if err != nil {
		return EarthdataCredentials{}, fmt.Errorf("parse netrc %s: %w", netrcPath, err)
	}
	if login == "" || password == "" {
		return EarthdataCredentials{}, ErrEarthdataCredentialsNotFound
	}
	return EarthdataCredentials{Username: login, Password: password, Source: netrcPath}, nil
}

// parseNetrc returns the login and password of the machine entry for host.
// A default entry is used when no machine matches.
func parseNetrc(payload []byte, host string) (string, string, error) {
	scanner := bufio.NewScanner(bytes.NewReader(payload))
	scanner.Split(bufio.ScanWords)

	type entry struct{ login, password string }
	var (
		current  *entry
		matched  *entry
		fallback *entry
	)
	for scanner.Scan() {
		switch token := scanner.Text(); token {
		case "machine":
			if !scanner.Scan() {
				return "", "", fmt.Errorf("machine without a name")
			}
			current = &entry{}
			if scanner.Text() == host && matched == nil {
				matched = current
			}
		case "default":
			current = &entry{}
			if fallback == nil {
				fallback = current
			}
		case "login", "password", "account":
			if !scanner.Scan() {
				return "", "", fmt.Errorf("%s without a value", token)
			}
			if current == nil {
				continue
			}
			switch token {
			case "login":
				current.login = scanner.Text()
			case "password":
				current.password = scanner.Text()
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", "", err
	}
	if matched != nil {
		return matched.login, matched.password, nil
	}
	if fallback != nil {
		return fallback.login, fallback.password, nil
	}
	return "", "", nil
}

func keychainCredential(command commandRunner, service string, account string) string {
	raw, err := command(
		"security",
		"find-generic-password",
		"-s", service,
		"-a", account,
		"-w",
	)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

func runCommandOutput(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).Output()
}
