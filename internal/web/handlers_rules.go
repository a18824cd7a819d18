package web

import (
	"net/http"
	"strconv"

	"github.com/JonMunkholm/warehouse-dq/internal/core"
)

// handleListRules returns every rule, or only active ones with ?active=true.
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	activeOnly := false
	if v := r.URL.Query().Get("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			fail(w, r, badRequest("active", "%q is not a boolean", v))
			return
		}
		activeOnly = b
	}

	var (
		rules []core.ValidationRule
		err   error
	)
	if activeOnly {
		rules, err = s.service.ListActiveRules(r.Context())
	} else {
		rules, err = s.service.ListRules(r.Context())
	}
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, rules)
}

// handleAddRule registers a rule and returns it.
func (s *Server) handleAddRule(w http.ResponseWriter, r *http.Request) {
	var in core.NewRule
	if err := decodeJSON(w, r, &in); err != nil {
		fail(w, r, err)
		return
	}

	id, err := s.service.AddRule(r.Context(), in)
	if err != nil {
		fail(w, r, err)
		return
	}

	rule, err := s.service.GetRule(r.Context(), id)
	if err != nil {
		// The insert succeeded; report the id even if the read-back did not.
		requestLogger(r).Warn("rule read-back failed", "rule_id", id, "error", err)
		writeJSONStatus(w, http.StatusCreated, map[string]int64{"id": id})
		return
	}
	writeJSONStatus(w, http.StatusCreated, rule)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id, err := ruleID(r)
	if err != nil {
		fail(w, r, err)
		return
	}

	rule, err := s.service.GetRule(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, rule)
}

func (s *Server) handleDeactivateRule(w http.ResponseWriter, r *http.Request) {
	id, err := ruleID(r)
	if err != nil {
		fail(w, r, err)
		return
	}

	if err := s.service.DeactivateRule(r.Context(), id); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRunRule evaluates one rule and returns its recorded outcome. A FAIL
// outcome is still a 200: the request succeeded, the data did not.
func (s *Server) handleRunRule(w http.ResponseWriter, r *http.Request) {
	id, err := ruleID(r)
	if err != nil {
		fail(w, r, err)
		return
	}

	rec, err := s.service.RunRuleByID(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, rec)
}

// handleRunBatch evaluates every active rule under the run limiter.
func (s *Server) handleRunBatch(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.RunBatch(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}

	requestLogger(r).Info("rule batch finished",
		"run_id", report.RunID,
		"total", report.Summary.Total,
		"failed", report.Summary.Failed,
		"warned", report.Summary.Warned,
	)
	writeJSON(w, report)
}
