package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestCommunicationErrorTransient(t *testing.T) {
	tests := []struct {
		kind CommKind
		want bool
	}{
		{CommTimeout, true},
		{CommConnectionRefused, true},
		{CommProtocolError, false},
		{CommRemoteError, false},
	}
	for _, tt := range tests {
		ce := NewCommError(tt.kind, "billing", "", nil)
		if got := ce.Transient(); got != tt.want {
			t.Errorf("Transient(%s) = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestErrorCodeOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorCode
	}{
		{ErrAgentNotFound, CodeAgentNotFound},
		{NewDomainError("op", ErrCircuitOpen, "billing"), CodeCircuitOpen},
		{fmt.Errorf("wrapped: %w", ErrRateLimited), CodeRateLimited},
		{NewCommError(CommTimeout, "billing", "", nil), CodeCommTimeout},
		{NewCommError(CommRemoteError, "billing", "boom", nil), CodeCommRemote},
		{&WorkflowPartialFailure{WorkflowID: "w1"}, CodeWorkflowPartial},
		{&FallbackExhausted{}, CodeFallbackExhausted},
		{errors.New("mystery"), CodeUnknown},
		{nil, CodeUnknown},
	}
	for _, tt := range tests {
		if got := ErrorCodeOf(tt.err); got != tt.want {
			t.Errorf("ErrorCodeOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestRateLimitErrorUnwrap(t *testing.T) {
	err := &RateLimitError{Key: "billing", Limit: 10, ResetAt: time.Now()}
	if !errors.Is(err, ErrRateLimited) {
		t.Error("RateLimitError should unwrap to ErrRateLimited")
	}
}

func TestDomainErrorMessage(t *testing.T) {
	err := NewDomainError("Registry.FindByName", ErrAgentNotFound, "billing")
	want := "Registry.FindByName: billing: agent not found"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, ErrAgentNotFound) {
		t.Error("DomainError should unwrap to its sentinel")
	}
}
