package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrConfiguration  = errors.New("configuration error")
	ErrConnectivity   = errors.New("model endpoint unreachable")
	ErrDocumentAccess = errors.New("document not accessible")
	ErrParse          = errors.New("model response could not be parsed")
	ErrTimeout        = errors.New("processing timed out")
)

// ConnectivityKind narrows a connectivity failure for remediation hints.
type ConnectivityKind string

const (
	ConnectivityAuth     ConnectivityKind = "auth"
	ConnectivityNotFound ConnectivityKind = "not_found"
	ConnectivityTimeout  ConnectivityKind = "timeout"
	ConnectivityUnknown  ConnectivityKind = "unknown"
)

// PipelineError is a classified failure surfaced to API callers.
// Kind is one of the sentinel errors above and is matched with errors.Is.
type PipelineError struct {
	Kind    error
	Message string
	Help    string
	Details map[string]any
	Err     error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *PipelineError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// NewPipelineError creates a PipelineError of the given kind.
func NewPipelineError(kind error, msg string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Message: msg, Err: err}
}

// WithHelp sets the remediation hint.
func (e *PipelineError) WithHelp(help string) *PipelineError {
	e.Help = help
	return e
}

// WithDetails sets structured diagnostics.
func (e *PipelineError) WithDetails(details map[string]any) *PipelineError {
	e.Details = details
	return e
}
