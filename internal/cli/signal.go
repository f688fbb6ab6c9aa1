package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
)

// interruptContexts returns a scheduling context canceled by the first
// interrupt and an abort context canceled by the second.
func interruptContexts(parent context.Context, notices io.Writer) (context.Context, context.Context, func()) {
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, interruptSignals()...)
	stop, abort, release := watchInterrupts(parent, signals, notices)
	return stop, abort, func() {
		signal.Stop(signals)
		release()
	}
}

func watchInterrupts(parent context.Context, signals <-chan os.Signal, notices io.Writer) (context.Context, context.Context, func()) {
	if parent == nil {
		parent = context.Background()
	}
	stop, cancelStop := context.WithCancel(parent)
	abort, cancelAbort := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		received := 0
		for {
			select {
			case <-done:
				return
			case <-signals:
				received++
				if received == 1 {
					fmt.Fprintln(notices, "WARN: interrupt received; finishing in-flight work (interrupt again to abort it)")
					cancelStop()
					continue
				}
				fmt.Fprintln(notices, "WARN: second interrupt; aborting in-flight work")
				cancelAbort()
				return
			}
		}
	}()

	return stop, abort, func() {
		close(done)
		cancelStop()
		cancelAbort()
	}
}
