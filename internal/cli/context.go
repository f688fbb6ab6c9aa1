package cli

import "io"

type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

type IOStreams struct {
	In     io.Reader
	Out    io.Writer
	ErrOut io.Writer
}

type GlobalOptions struct {
	RequestPath string
	JSON        bool
	Quiet       bool
	Verbose     bool
}

type AppContext struct {
	Build BuildInfo
	IO    IOStreams
	Opts  GlobalOptions
	// Getenv defaults to os.Getenv; tests replace it.
	Getenv func(string) string
}
