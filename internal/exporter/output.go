package exporter

import (
	"bytes"
	"strings"
	"sync"
)

// diagnosticLines is how many trailing stderr lines are kept in Result.Diagnostics.
const diagnosticLines = 20

// maxLineBytes caps how much of a single output line is kept. The rest of an
// overlong line is discarded so memory stays bounded.
const maxLineBytes = 64 * 1024

// lineWriter splits everything written to it into lines and calls fn for each
// non-blank one. Write never fails, so the child process is never blocked on a
// full pipe.
type lineWriter struct {
	mu        sync.Mutex
	fn        func(string)
	buf       []byte
	truncated bool
}

func newLineWriter(fn func(string)) *lineWriter {
	return &lineWriter{fn: fn}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := len(p)
	for len(p) > 0 {
		chunk := p
		i := bytes.IndexByte(p, '\n')
		if i >= 0 {
			chunk = p[:i]
		}
		room := maxLineBytes - len(w.buf)
		if len(chunk) > room {
			chunk = chunk[:room]
			w.truncated = true
		}
		w.buf = append(w.buf, chunk...)
		if i < 0 {
			break
		}
		w.emit()
		p = p[i+1:]
	}
	return n, nil
}

// Flush emits a trailing line that had no newline.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.emit()
}

// emit must be called with w.mu held.
func (w *lineWriter) emit() {
	line := strings.TrimSpace(string(w.buf))
	if w.truncated && line != "" {
		line += " ...(truncated)"
	}
	w.buf = w.buf[:0]
	w.truncated = false
	if line != "" {
		w.fn(line)
	}
}

// tail keeps the last n lines it was given.
type tail struct {
	mu    sync.Mutex
	n     int
	lines []string
}

func newTail(n int) *tail {
	return &tail{n: n}
}

func (t *tail) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.n {
		t.lines = t.lines[len(t.lines)-t.n:]
	}
}

func (t *tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}

// Redact returns a copy of args with the value following --token masked down
// to its first five characters.
func Redact(args []string) []string {
	out := make([]string, len(args))
	copy(out, args)
	for i := 0; i < len(out)-1; i++ {
		if out[i] != "--token" {
			continue
		}
		tok := out[i+1]
		if len(tok) > 5 {
			out[i+1] = tok[:5] + "***"
		} else {
			out[i+1] = "***"
		}
		i++
	}
	return out
}
