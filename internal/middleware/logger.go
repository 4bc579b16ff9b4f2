package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/mwork/ledger-api/internal/pkg/logger"
)

// transmissionHeader identifies one PayPal delivery attempt
const transmissionHeader = "Paypal-Transmission-Id"

// Logger logs every request once it completes. 5xx logs at error, 4xx at warn.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		l := logger.FromContext(r.Context())
		event := l.WithLevel(levelFor(status)).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("ip", r.RemoteAddr).
			Int64("bytes_in", r.ContentLength).
			Int("bytes_out", ww.BytesWritten())

		if id := r.Header.Get(transmissionHeader); id != "" {
			event = event.Str("transmission_id", id)
		}
		event.Msg("HTTP Request")
	})
}

func levelFor(status int) zerolog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return zerolog.ErrorLevel
	case status >= http.StatusBadRequest:
		return zerolog.WarnLevel
	default:
		return zerolog.InfoLevel
	}
}
