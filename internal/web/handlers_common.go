package web

// Shared request parsing for the API handlers.

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/warehouse-dq/internal/core"
)

// maxBodySize caps JSON request bodies.
const maxBodySize = 1 << 20

func badRequest(field, format string, args ...any) error {
	return &core.ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// decodeJSON decodes a single JSON object from the body into v, rejecting
// unknown fields and trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("body", "request body is empty")
		}
		return badRequest("body", "%v", err)
	}
	if dec.More() {
		return badRequest("body", "unexpected data after JSON object")
	}
	return nil
}

// ruleID parses the {id} URL parameter.
func ruleID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, badRequest("id", "%q is not a rule id", raw)
	}
	return id, nil
}

// parseIntParam parses a non-negative integer query parameter, returning 0
// when it is absent.
func parseIntParam(r *http.Request, name string) (int, error) {
	val := r.URL.Query().Get(name)
	if val == "" {
		return 0, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 0 {
		return 0, badRequest(name, "%q is not a non-negative integer", val)
	}
	return i, nil
}

// parseTimeParam accepts RFC 3339 timestamps or plain dates (UTC midnight).
func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	val := r.URL.Query().Get(name)
	if val == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, val); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, val); err == nil {
		return t, nil
	}
	return time.Time{}, badRequest(name, "%q is not an RFC 3339 timestamp or YYYY-MM-DD date", val)
}

// parseHistoryFilter reads table, metric, status, from, to, limit and offset.
func parseHistoryFilter(r *http.Request) (core.HistoryFilter, error) {
	q := r.URL.Query()
	f := core.HistoryFilter{
		TableName:  q.Get("table"),
		MetricName: q.Get("metric"),
		Status:     q.Get("status"),
	}

	var err error
	if f.From, err = parseTimeParam(r, "from"); err != nil {
		return f, err
	}
	if f.To, err = parseTimeParam(r, "to"); err != nil {
		return f, err
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return f, badRequest("to", "must not be before from")
	}
	if f.Limit, err = parseIntParam(r, "limit"); err != nil {
		return f, err
	}
	if f.Offset, err = parseIntParam(r, "offset"); err != nil {
		return f, err
	}
	return f, nil
}
