package http

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
)

// RecoverMiddleware turns a panicking handler into a generic 500 envelope.
// The panic value is logged with the request logger and never sent to the client.
func RecoverMiddleware() func(http.Handler) http.Handler {
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

				zerolog.Ctx(r.Context()).Error().
					Stack().
					Err(fmt.Errorf("panic: %v", rec)).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Msg("Recovered from handler panic")

				WriteError(w, http.StatusInternalServerError, "internal server error", CodeInternal)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
