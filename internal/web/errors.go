package web

// errors.go turns service errors into HTTP responses.
//
// Every error is:
//   - logged server-side with the technical detail and request id
//   - mapped through core.MapError to a coded, user-facing message
//   - written as JSON for /api routes and as an HTML page otherwise
//
// Status codes follow the error type, not the message:
//
//	ValidationError            400
//	SchemaError, not found     404
//	duplicate rule, busy       409
//	too many runs, rate limit  429
//	TimeoutError               504
//	anything else              500

import (
	"errors"
	"net/http"
	"strings"

	"github.com/JonMunkholm/warehouse-dq/internal/core"
	"github.com/JonMunkholm/warehouse-dq/internal/web/templates"
)

var errRateLimited = errors.New("rate limit exceeded")

// ErrorResponse is the JSON body of every API error.
type ErrorResponse struct {
	Error    string          `json:"error"`
	Message  string          `json:"message"`
	Action   string          `json:"action,omitempty"`
	Code     string          `json:"code"`
	Failures []ObjectFailure `json:"failures,omitempty"`
}

// ObjectFailure is one failed object of a maintenance batch.
type ObjectFailure struct {
	Object string `json:"object"`
	Code   string `json:"code"`
	Error  string `json:"error"`
}

// statusFor picks the HTTP status for err.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrRuleNotFound), errors.Is(err, core.ErrSchema):
		return http.StatusNotFound
	case errors.Is(err, core.ErrDuplicateRule), errors.Is(err, core.ErrMaintenanceBusy):
		return http.StatusConflict
	case errors.Is(err, core.ErrTooManyRuns), errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, core.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// fail responds with the status derived from err.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	respondError(w, r, err, statusFor(err))
}

// respondError logs err and writes the mapped message in the format the
// client expects.
func respondError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	userMsg := core.MapError(err)
	logRequestError(r, err, statusCode, userMsg.Code)

	if !wantsJSON(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(statusCode)
		_ = templates.ErrorPage(userMsg.Message, userMsg.Action, userMsg.Code).Render(r.Context(), w)
		return
	}

	writeJSONStatus(w, statusCode, ErrorResponse{
		Error:    userMsg.Message,
		Message:  userMsg.Message,
		Action:   userMsg.Action,
		Code:     userMsg.Code,
		Failures: objectFailures(err),
	})
}

// objectFailures lists per-object errors of a maintenance batch, if err is
// one.
func objectFailures(err error) []ObjectFailure {
	var be *core.BatchError
	if !errors.As(err, &be) {
		return nil
	}
	out := make([]ObjectFailure, len(be.Failures))
	for i, f := range be.Failures {
		out[i] = ObjectFailure{
			Object: f.Object,
			Code:   core.MapError(f.Err).Code,
			Error:  f.Err.Error(),
		}
	}
	return out
}

// wantsJSON checks if the client prefers a JSON response.
func wantsJSON(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return true
	}
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return true
	}
	return strings.Contains(r.Header.Get("Content-Type"), "application/json")
}
