package api

import (
	"log/slog"
	"net/http"
	"time"
)

// loggingTransport logs each request with method, path, status and duration.
// Headers are never logged.
type loggingTransport struct {
	next   http.RoundTripper
	logger *slog.Logger
}

func newLoggingTransport(next http.RoundTripper, logger *slog.Logger) http.RoundTripper {
	if lt, ok := next.(*loggingTransport); ok {
		return lt
	}
	if next == nil {
		next = http.DefaultTransport
	}
	return &loggingTransport{next: next, logger: logger}
}

func (t *loggingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.next.RoundTrip(r)

	attrs := []slog.Attr{
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Duration("duration", time.Since(start)),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		t.logger.LogAttrs(r.Context(), slog.LevelWarn, "api request failed", attrs...)
		return nil, err
	}
	attrs = append(attrs, slog.Int("status", resp.StatusCode))

	switch {
	case resp.StatusCode >= 500:
		t.logger.LogAttrs(r.Context(), slog.LevelError, "api request", attrs...)
	case resp.StatusCode >= 400:
		t.logger.LogAttrs(r.Context(), slog.LevelWarn, "api request", attrs...)
	default:
		t.logger.LogAttrs(r.Context(), slog.LevelDebug, "api request", attrs...)
	}
	return resp, nil
}
