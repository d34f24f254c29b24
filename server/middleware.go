package server

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hubenschmidt/blogrec/core"
	"github.com/hubenschmidt/blogrec/logging"
	"github.com/hubenschmidt/blogrec/monitor"
)

// requestLogger attaches a request-scoped logger and logs each completed request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := middleware.GetReqID(r.Context())
		reqLogger := s.logger.With().Str("request_id", reqID).Logger()
		w.Header().Set(middleware.RequestIDHeader, reqID)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(logging.WithContext(r.Context(), reqLogger)))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		event := reqLogger.Info()
		if status >= http.StatusInternalServerError {
			event = reqLogger.Error()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("latency", time.Since(start)).
			Msg("request")
	})
}

// metrics records request counts and latency by route pattern.
func metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		monitor.TrackActiveRequest(true)
		defer monitor.TrackActiveRequest(false)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		monitor.RecordAPIRequest(r.Method, route, strconv.Itoa(status), time.Since(start))
	})
}

// requireAPIKey rejects requests whose X-API-Key does not match the configured
// secret. An unset secret rejects everything.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	want := []byte(s.cfg.APIKey)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get(HeaderAPIKey))
		if len(want) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
			monitor.AuthFailures.Inc()
			s.writeError(w, r, fmt.Errorf("%w: invalid or missing API key", core.ErrUnauthorized))
			return
		}
		next.ServeHTTP(w, r)
	})
}
