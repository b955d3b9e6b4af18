// Package apperr defines the error kinds shared by the orchestrator, the
// worktree manager and the reconciliation engine.
//
// Operations return (value, error). When the error originates in this module
// it is an *Error carrying a Kind, so a caller can decide per call whether a
// failure aborts the current operation or is logged and skipped:
//
//	if err := mgr.Remove(ctx, repo, path); err != nil {
//		if apperr.Is(err, apperr.ExternalProcess) { ... }
//	}
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	As     = errors.As
	Unwrap = errors.Unwrap
	Join   = errors.Join
)

// Kind classifies a failure.
type Kind int

const (
	Unknown Kind = iota
	Validation
	NotFound
	ExternalProcess
	Provider
	Connectivity
	FileSystem
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case NotFound:
		return "not_found"
	case ExternalProcess:
		return "external_process"
	case Provider:
		return "provider"
	case Connectivity:
		return "connectivity"
	case FileSystem:
		return "filesystem"
	default:
		return "unknown"
	}
}

// ProviderReason refines a Provider error by HTTP status.
type ProviderReason string

const (
	ReasonAuth     ProviderReason = "auth"
	ReasonNotFound ProviderReason = "notfound"
	ReasonGeneric  ProviderReason = "generic"
)

// Error is the concrete error type returned across package boundaries.
type Error struct {
	Kind    Kind
	Reason  ProviderReason // Provider errors only
	Op      string         // e.g. "worktree.create"
	Message string
	Hint    string // remediation shown by front-ends
	Output  string // raw subprocess diagnostics
	Status  int    // HTTP status for Provider errors
	Err     error
}

func (e *Error) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	if out := strings.TrimSpace(e.Output); out != "" {
		sb.WriteString(": ")
		sb.WriteString(out)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithHint returns e with a remediation hint attached.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// NewValidation reports invalid input such as a duplicate id or bad index.
func NewValidation(op, format string, args ...any) *Error {
	return &Error{Kind: Validation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// NewNotFound reports an absent task, project or registry entry.
func NewNotFound(op, resource, id string) *Error {
	return &Error{Kind: NotFound, Op: op, Message: fmt.Sprintf("%s %q not found", resource, id)}
}

// NewExternalProcess wraps a subprocess failure and keeps its raw output.
func NewExternalProcess(op, message string, output []byte, err error) *Error {
	return &Error{Kind: ExternalProcess, Op: op, Message: message, Output: string(output), Err: err}
}

// NewFileSystem wraps a directory or file operation failure.
func NewFileSystem(op, message string, err error) *Error {
	return &Error{Kind: FileSystem, Op: op, Message: message, Err: err}
}

// NewConnectivity wraps a transport-level failure talking to the provider.
func NewConnectivity(op string, err error) *Error {
	return &Error{
		Kind:    Connectivity,
		Op:      op,
		Message: "could not reach provider",
		Hint:    "check your network connection",
		Err:     err,
	}
}

// NewProvider maps an HTTP status to a Provider error.
func NewProvider(op string, status int, body string) *Error {
	e := &Error{Kind: Provider, Op: op, Status: status}
	switch status {
	case 401:
		e.Reason = ReasonAuth
		e.Message = "provider rejected credentials (401)"
		e.Hint = "set GITHUB_TOKEN or run `gh auth login`"
	case 404:
		e.Reason = ReasonNotFound
		e.Message = "provider resource not found (404)"
	default:
		e.Reason = ReasonGeneric
		e.Message = fmt.Sprintf("provider returned status %d", status)
	}
	if body = strings.TrimSpace(body); body != "" {
		e.Output = body
	}
	return e
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsProviderAuth reports whether err is a Provider error caused by rejected
// credentials.
func IsProviderAuth(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == Provider && e.Reason == ReasonAuth
}

// IsProviderNotFound reports whether err is a Provider 404.
func IsProviderNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == Provider && e.Reason == ReasonNotFound
}

// HintOf returns the remediation hint of the first *Error in err's chain.
func HintOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Hint
	}
	return ""
}
