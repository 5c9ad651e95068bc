package engine

import (
	"bytes"
	"sync"
)

// lineWriter splits task output into lines and hands each complete line to emit.
// Tasks may write from several goroutines.
type lineWriter struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	emit   func(line string)
	closed bool
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		// the task already returned
		return len(p), nil
	}
	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := string(bytes.TrimRight(w.buf.Next(i+1), "\r\n"))
		w.emit(line)
	}
	return len(p), nil
}

// close emits a trailing partial line and discards later writes
func (w *lineWriter) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	if w.buf.Len() > 0 {
		line := string(bytes.TrimRight(w.buf.Bytes(), "\r\n"))
		w.buf.Reset()
		w.emit(line)
	}
}
