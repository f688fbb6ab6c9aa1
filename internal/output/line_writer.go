package output

import (
	"io"
	"sync"
)

// LineWriter serializes whole lines from many concurrent producers onto one
// destination. Each producer writes through its own Prefixed writer, so
// lines from different granules never interleave mid-line.
type LineWriter struct {
	mu  sync.Mutex
	dst io.Writer
}

func NewLineWriter(dst io.Writer) *LineWriter {
	return &LineWriter{dst: dst}
}

func (w *LineWriter) writeLine(line []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.dst.Write(line)
	return err
}

// Prefixed returns a writer that prepends prefix to every line. Call Flush
// once the producer is done to emit a trailing partial line.
func (w *LineWriter) Prefixed(prefix string) *PrefixWriter {
	return &PrefixWriter{parent: w, prefix: prefix, buf: make([]byte, 0, 256)}
}

type PrefixWriter struct {
	parent *LineWriter
	prefix string

	mu  sync.Mutex
	buf []byte
}

func (p *PrefixWriter) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, c := range b {
		switch c {
		case '\n', '\r':
			if err := p.flushLineLocked(); err != nil {
				return 0, err
			}
		default:
			p.buf = append(p.buf, c)
		}
	}
	return len(b), nil
}

func (p *PrefixWriter) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushLineLocked()
}

func (p *PrefixWriter) flushLineLocked() error {
	if len(p.buf) == 0 {
		return nil
	}
	line := make([]byte, 0, len(p.prefix)+len(p.buf)+1)
	line = append(line, p.prefix...)
	line = append(line, p.buf...)
	line = append(line, '\n')
	p.buf = p.buf[:0]
	return p.parent.writeLine(line)
}
