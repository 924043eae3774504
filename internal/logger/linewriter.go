package logger

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
)

// maxLine caps a buffered partial line; longer output is flushed in pieces.
const maxLine = 64 * 1024

// LineWriter forwards child process output to a slog.Logger, one record per
// line, tagged with the process name and stream.
type LineWriter struct {
	log   *slog.Logger
	level slog.Level

	mu  sync.Mutex
	buf []byte
}

func NewLineWriter(log *slog.Logger, process, stream string, level slog.Level) *LineWriter {
	return &LineWriter{
		log:   log.With("process", process, "stream", stream),
		level: level,
	}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) > maxLine {
		w.emit(w.buf)
		w.buf = nil
	}
	return len(p), nil
}

// Close flushes a trailing line that had no newline.
func (w *LineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(w.buf)
		w.buf = nil
	}
	return nil
}

func (w *LineWriter) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return
	}
	w.log.Log(context.Background(), w.level, string(line))
}
