package httpmw

import (
	"context"
	"net/http"
	"sync"

	"github.com/keithlinneman/pagesite/internal/log"
)

type logLine struct {
	level string
	msg   string
	err   error
	kv    map[string]any
}

// spyLogger records every call, including fields added with With
type spyLogger struct {
	mu     *sync.Mutex
	lines  *[]logLine
	fields []any
}

func newSpyLogger() *spyLogger {
	return &spyLogger{mu: &sync.Mutex{}, lines: &[]logLine{}}
}

func (s *spyLogger) With(kv ...any) log.Logger {
	f := append(append([]any{}, s.fields...), kv...)
	return &spyLogger{mu: s.mu, lines: s.lines, fields: f}
}

func (s *spyLogger) record(level string, err error, msg string, kv []any) {
	all := append(append([]any{}, s.fields...), kv...)
	m := map[string]any{}
	for i := 0; i+1 < len(all); i += 2 {
		if k, ok := all[i].(string); ok {
			m[k] = all[i+1]
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	*s.lines = append(*s.lines, logLine{level: level, msg: msg, err: err, kv: m})
}

func (s *spyLogger) Debug(_ context.Context, msg string, kv ...any) { s.record("debug", nil, msg, kv) }
func (s *spyLogger) Info(_ context.Context, msg string, kv ...any)  { s.record("info", nil, msg, kv) }
func (s *spyLogger) Warn(_ context.Context, msg string, kv ...any)  { s.record("warn", nil, msg, kv) }
func (s *spyLogger) Error(_ context.Context, err error, msg string, kv ...any) {
	s.record("error", err, msg, kv)
}
func (s *spyLogger) Sync() error { return nil }

func (s *spyLogger) all() []logLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]logLine(nil), *s.lines...)
}

func okHandler(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(body))
	})
}
