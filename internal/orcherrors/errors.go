// Package orcherrors defines the typed error family used throughout the
// orchestrator, following the teacher's *XxxError{Component, Action,
// Message, Err} convention (see context.ConversationError,
// tools.ToolRegistryError).
package orcherrors

import "fmt"

// ValidationError reports a malformed request: bad tool arguments, an
// invalid plan, a malformed session id.
type ValidationError struct {
	Component string
	Action    string
	Message   string
	Err       error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s failed validation: %s: %v", e.Component, e.Action, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s failed validation: %s", e.Component, e.Action, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func NewValidationError(component, action, message string, err error) *ValidationError {
	return &ValidationError{Component: component, Action: action, Message: message, Err: err}
}

// ToolError reports a tool invocation failure surfaced to the
// orchestration loop (distinct from a validation failure: the tool ran
// and returned an error, or could not be dispatched).
type ToolError struct {
	Component string
	Action    string
	Message   string
	Err       error
}

func (e *ToolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Component, e.Action, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Component, e.Action, e.Message)
}

func (e *ToolError) Unwrap() error { return e.Err }

func NewToolError(component, action, message string, err error) *ToolError {
	return &ToolError{Component: component, Action: action, Message: message, Err: err}
}

// TimeoutError reports an approval, assistance, or LLM-call wait that
// expired without a response (§4.1 "Approval timeout", "Assistance
// timeout").
type TimeoutError struct {
	Component string
	Action    string
	Message   string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: %s timed out: %s", e.Component, e.Action, e.Message)
}

func NewTimeoutError(component, action, message string) *TimeoutError {
	return &TimeoutError{Component: component, Action: action, Message: message}
}

// StoppedError reports that a workflow was cancelled cooperatively via a
// stop signal (§5 concurrency model), not a failure.
type StoppedError struct {
	Component string
	Message   string
}

func (e *StoppedError) Error() string {
	return fmt.Sprintf("%s: stopped: %s", e.Component, e.Message)
}

func NewStoppedError(component, message string) *StoppedError {
	return &StoppedError{Component: component, Message: message}
}
