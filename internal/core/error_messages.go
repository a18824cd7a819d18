package core

// error_messages.go maps internal errors to coded messages for API clients
// and the dqrun CLI.
//
// # Quality Errors (DQ001-DQ099)
//
//	DQ001 - Invalid input: a rule or history record failed validation
//	DQ002 - Unknown identifier: schema, table or column is not in the catalog
//	DQ003 - Query failed: the database rejected a rule or profiling query
//	DQ004 - Query timed out: statement_timeout or the request deadline fired
//	DQ005 - Rule not found
//	DQ006 - Maintenance busy: another refresh or analyze holds the schema lock
//	DQ007 - Too many runs: every rule-batch slot is taken
//	DQ008 - Duplicate rule name
//
// # Database Errors (DB004-DB007)
//
//	DB004 - Connection refused
//	DB005 - Connection reset
//	DB006 - Timeout
//	DB007 - Deadlock
//
// # Rate Limiting (RATE001)
//
// # Default Error (ERR000)
//
// Typed errors are matched first with errors.Is. Anything else falls back to
// case-insensitive substring patterns, first match wins. ERR000 means the
// technical error is only in the server log.

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

var typedMessages = []struct {
	target error
	msg    UserMessage
}{
	{ErrValidation, UserMessage{
		Message: "The request is invalid",
		Action:  "Check the rule or record fields and resubmit",
		Code:    "DQ001",
	}},
	{ErrSchema, UserMessage{
		Message: "Schema, table or column not found",
		Action:  "Check the identifier spelling and that the object exists",
		Code:    "DQ002",
	}},
	{ErrTimeout, UserMessage{
		Message: "The query timed out",
		Action:  "Narrow the rule or raise DQ_RULE_TIMEOUT",
		Code:    "DQ004",
	}},
	{ErrExecution, UserMessage{
		Message: "The database rejected the query",
		Action:  "Check the rule SQL against the table definition",
		Code:    "DQ003",
	}},
	{ErrRuleNotFound, UserMessage{
		Message: "Rule not found",
		Action:  "List rules to find a valid id",
		Code:    "DQ005",
	}},
	{ErrDuplicateRule, UserMessage{
		Message: "A rule with this name already exists",
		Action:  "Choose a different rule name or deactivate the existing rule",
		Code:    "DQ008",
	}},
	{ErrMaintenanceBusy, UserMessage{
		Message: "Maintenance is already running for this schema",
		Action:  "Wait for the current run to finish",
		Code:    "DQ006",
	}},
	{ErrTooManyRuns, UserMessage{
		Message: "Too many rule runs in progress",
		Action:  "Please wait a moment and try again",
		Code:    "DQ007",
	}},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "deadline exceeded",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, tm := range typedMessages {
		if errors.Is(err, tm.target) {
			return tm.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something other than ERR000.
// Validation and schema errors carry their own detail, which callers may
// show verbatim when this is true.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
