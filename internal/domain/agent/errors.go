package agent

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrConsultationNotOwned = errors.New("consultation does not belong to this patient")
	ErrEmptyMessage         = errors.New("message is required")
	ErrTurnInProgress       = errors.New("a previous message in this consultation is still being processed")
	ErrAssistantUnavailable = errors.New("assistant is unavailable, try again later")
)

// Tool error codes returned to the policy.
const (
	CodeInvalidIdentifier  = "invalid_identifier"
	CodeSchedulingConflict = "scheduling_conflict"
	CodeDateParse          = "date_parse"
	CodePastStart          = "past_start"
	CodePrecondition       = "precondition"
	CodeInvalidArguments   = "invalid_arguments"
	CodeNotFound           = "not_found"
	CodeUnknownTool        = "unknown_tool"
	CodeToolFailed         = "tool_failed"
)

// ToolError is a recoverable failure reported back to the policy as the
// tool's result. It never ends the turn.
type ToolError struct {
	Code    string
	Message string
	Details map[string]interface{}
}

func (e *ToolError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func toolErr(code, format string, args ...interface{}) *ToolError {
	return &ToolError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *ToolError) with(key string, v interface{}) *ToolError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = v
	return e
}

func (e *ToolError) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{
		"success": false,
		"error":   e.Code,
		"message": e.Message,
	}
	for k, v := range e.Details {
		out[k] = v
	}
	return json.Marshal(out)
}
