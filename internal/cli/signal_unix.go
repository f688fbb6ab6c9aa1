//go:build !windows

package cli

import (
	"os"
	"syscall"
)

// SIGHUP counts as an interrupt so a study started in a closed terminal
// still stops scheduling cleanly.
func interruptSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP}
}
