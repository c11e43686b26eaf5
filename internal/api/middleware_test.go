package api

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
)

func TestLoggingMiddleware_LogsRequestID(t *testing.T) {
	// Given: A logger we can inspect and a handler behind RequestID + logging
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	handler := middleware.RequestID(LoggingMiddleware(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		})))

	// When: A request passes through
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	// Then: The status reaches the client and the log line carries a
	// request ID for correlation
	if rec.Code != http.StatusTeapot {
		t.Errorf("expected status passed through, got %d", rec.Code)
	}
	line := buf.String()
	if !strings.Contains(line, `"status":418`) {
		t.Errorf("expected captured status in log, got %s", line)
	}
	if !strings.Contains(line, `"request_id":"`) || strings.Contains(line, `"request_id":""`) {
		t.Errorf("expected a non-empty request_id in log, got %s", line)
	}
}
