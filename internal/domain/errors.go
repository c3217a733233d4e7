package domain

import (
	"errors"
	"fmt"
	"time"
)

// Category sentinels. Wrap with NewDomainError to attach operation context.
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrDuplicate    = fmt.Errorf("duplicate")
	ErrTimeout      = fmt.Errorf("operation timed out")
	ErrInvalidInput = fmt.Errorf("invalid input")

	// Routing / delegation errors.
	ErrAgentNotFound = fmt.Errorf("agent not found")
	ErrCircuitOpen   = fmt.Errorf("circuit open")
	ErrRateLimited   = fmt.Errorf("rate limit exceeded")
	ErrUnavailable   = fmt.Errorf("agent unavailable")
)

// CommKind classifies a CommunicationError for retry decisions and monitoring.
type CommKind string

const (
	CommTimeout           CommKind = "timeout"
	CommConnectionRefused CommKind = "connection_refused"
	CommProtocolError     CommKind = "protocol_error"
	CommRemoteError       CommKind = "remote_error"
)

// CommunicationError is a failed exchange with a remote agent. Timeout and
// connection_refused are transient and retried by the transport; protocol and
// remote errors are surfaced immediately.
type CommunicationError struct {
	Kind   CommKind
	Agent  string // agent name when known, else endpoint
	Detail string
	Err    error // underlying cause, may be nil for remote errors
}

func (e *CommunicationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("communication error (%s) with %s: %s", e.Kind, e.Agent, e.Detail)
	}
	return fmt.Sprintf("communication error (%s) with %s", e.Kind, e.Agent)
}

func (e *CommunicationError) Unwrap() error { return e.Err }

// Transient reports whether the transport may retry this failure.
func (e *CommunicationError) Transient() bool {
	return e.Kind == CommTimeout || e.Kind == CommConnectionRefused
}

// NewCommError creates a CommunicationError.
func NewCommError(kind CommKind, agent, detail string, err error) *CommunicationError {
	return &CommunicationError{Kind: kind, Agent: agent, Detail: detail, Err: err}
}

// IsCommunicationError reports whether err wraps a CommunicationError.
func IsCommunicationError(err error) bool {
	var ce *CommunicationError
	return errors.As(err, &ce)
}

// RateLimitError is returned when a per-key call budget is exhausted. It
// carries enough detail for the caller to back off intelligently.
type RateLimitError struct {
	Key       string
	Limit     int
	Remaining int
	ResetAt   time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %q (%d/min), resets at %s",
		e.Key, e.Limit, e.ResetAt.Format(time.RFC3339))
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// WorkflowPartialFailure reports that some workflow steps failed. Step-level
// detail is always preserved, never collapsed into one opaque failure.
type WorkflowPartialFailure struct {
	WorkflowID string
	Failed     []StepResult
}

func (e *WorkflowPartialFailure) Error() string {
	return fmt.Sprintf("workflow %s: %d step(s) failed", e.WorkflowID, len(e.Failed))
}

// FallbackExhausted is returned when every candidate in a fallback chain
// failed. Attempts holds one entry per candidate, in attempt order.
type FallbackExhausted struct {
	Task     string
	Attempts []FallbackAttempt
}

// FallbackAttempt records one failed candidate in a fallback chain.
type FallbackAttempt struct {
	Agent string
	Err   error
}

func (e *FallbackExhausted) Error() string {
	return fmt.Sprintf("all %d fallback candidates failed", len(e.Attempts))
}

func (e *FallbackExhausted) Unwrap() error { return ErrUnavailable }

// DomainError wraps a sentinel error with operation context.
type DomainError struct {
	Op     string // operation name (e.g. "Registry.FindByName")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeDuplicate     ErrorCode = "DUPLICATE"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeInvalidInput  ErrorCode = "INVALID_INPUT"
	CodeAgentNotFound ErrorCode = "AGENT_NOT_FOUND"
	CodeCircuitOpen   ErrorCode = "CIRCUIT_OPEN"
	CodeRateLimited   ErrorCode = "RATE_LIMITED"
	CodeUnavailable   ErrorCode = "AGENT_UNAVAILABLE"

	CodeCommTimeout       ErrorCode = "COMM_TIMEOUT"
	CodeCommConnRefused   ErrorCode = "COMM_CONNECTION_REFUSED"
	CodeCommProtocol      ErrorCode = "COMM_PROTOCOL_ERROR"
	CodeCommRemote        ErrorCode = "COMM_REMOTE_ERROR"
	CodeWorkflowPartial   ErrorCode = "WORKFLOW_PARTIAL_FAILURE"
	CodeFallbackExhausted ErrorCode = "FALLBACK_EXHAUSTED"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:      CodeNotFound,
	ErrDuplicate:     CodeDuplicate,
	ErrTimeout:       CodeTimeout,
	ErrInvalidInput:  CodeInvalidInput,
	ErrAgentNotFound: CodeAgentNotFound,
	ErrCircuitOpen:   CodeCircuitOpen,
	ErrRateLimited:   CodeRateLimited,
	ErrUnavailable:   CodeUnavailable,
}

var commCodeMap = map[CommKind]ErrorCode{
	CommTimeout:           CodeCommTimeout,
	CommConnectionRefused: CodeCommConnRefused,
	CommProtocolError:     CodeCommProtocol,
	CommRemoteError:       CodeCommRemote,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps structured errors and walks the chain with errors.Is.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	var ce *CommunicationError
	if errors.As(err, &ce) {
		if code, ok := commCodeMap[ce.Kind]; ok {
			return code
		}
	}
	var pf *WorkflowPartialFailure
	if errors.As(err, &pf) {
		return CodeWorkflowPartial
	}
	var fe *FallbackExhausted
	if errors.As(err, &fe) {
		return CodeFallbackExhausted
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeUnknown
}
