package web

import (
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/warehouse-dq/internal/logging"
)

// requestLogger returns the request-scoped logger with method and path.
func requestLogger(r *http.Request) *slog.Logger {
	return logging.WithFields(r.Context(), "method", r.Method, "path", r.URL.Path)
}

// logRequestError logs a failed request. Client errors log at warn, server
// errors at error.
func logRequestError(r *http.Request, err error, status int, code string) {
	logger := requestLogger(r)
	if status >= http.StatusInternalServerError {
		logger.Error("request error", "status", status, "code", code, "error", err)
		return
	}
	logger.Warn("request rejected", "status", status, "code", code, "error", err)
}
