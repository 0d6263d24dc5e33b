package httpmw

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/keithlinneman/pagesite/internal/log"
)

// Recover turns a handler panic into a 500 and an error log line with the
// stack. onPanic, when set, runs after logging. http.ErrAbortHandler is
// re-panicked so net/http can drop the connection as asked.
func Recover(base log.Logger, onPanic func()) Middleware {
	if base == nil {
		base = log.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}

				ctx := r.Context()
				base.Error(ctx, fmt.Errorf("panic: %v", rec), "recovered from panic",
					"stack", string(debug.Stack()),
					"request_id", RequestIDFromContext(ctx),
					"url.path", r.URL.Path,
				)
				if onPanic != nil {
					onPanic()
				}

				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.Header().Set("Cache-Control", "no-store")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte("internal server error\n"))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
