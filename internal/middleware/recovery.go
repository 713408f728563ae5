package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"bling-wix-sync/pkg/apierror"

	"golang.org/x/exp/slog"
)

// NewRecovery creates a middleware that turns panics into 500 responses.
func NewRecovery(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Error("panic recovered",
						slog.String("panic", fmt.Sprint(err)),
						slog.String("path", r.URL.Path),
						slog.String("request_id", GetRequestID(r.Context())),
						slog.String("stack", string(debug.Stack())))

					writeError(w, apierror.InternalError("internal server error"))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
