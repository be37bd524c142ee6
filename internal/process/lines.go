package process

import (
	"bytes"
	"sync"
)

// maxLine caps a buffered partial line; longer runs are emitted as-is so a
// child that never prints a newline cannot grow the buffer without bound.
const maxLine = 64 * 1024

// lineWriter splits a byte stream into lines for classification. Chunks are
// not line-aligned, so partial lines are held until the newline arrives.
type lineWriter struct {
	mu   sync.Mutex
	buf  []byte
	emit func(string)
}

func newLineWriter(emit func(string)) *lineWriter {
	return &lineWriter{emit: emit}
}

func (w *lineWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, b...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(string(bytes.TrimRight(w.buf[:i], "\r")))
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) >= maxLine {
		w.emit(string(w.buf))
		w.buf = nil
	}
	return len(b), nil
}

// Flush emits any trailing partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(string(bytes.TrimRight(w.buf, "\r")))
		w.buf = nil
	}
}
