package fhirtest

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
)

// Logs collects the records written through the default slog logger.
type Logs struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (l *Logs) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.Write(p)
}

// Messages returns the msg of every record in the order they were logged.
func (l *Logs) Messages(t testing.TB) []string {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []string
	dec := json.NewDecoder(bytes.NewReader(l.buf.Bytes()))
	for dec.More() {
		var rec struct {
			Msg string `json:"msg"`
		}
		if err := dec.Decode(&rec); err != nil {
			t.Fatalf("decode log record: %v", err)
		}
		out = append(out, rec.Msg)
	}
	return out
}

// CaptureLogs sends the default logger to a JSON buffer until the test ends.
func CaptureLogs(t testing.TB, level slog.Level) *Logs {
	t.Helper()
	logs := &Logs{}
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(logs, &slog.HandlerOptions{Level: level})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return logs
}
