package domain

import "context"

// InboundMessage is one user message entering the router.
type InboundMessage struct {
	Content   string `json:"content"`
	SessionID string `json:"session_id,omitempty"`
}

// ReplyKind tells the caller how a reply was produced.
type ReplyKind string

const (
	ReplyLocal         ReplyKind = "local"           // handled by the local handler
	ReplyDelegated     ReplyKind = "delegated"       // handled by a remote agent
	ReplyAgentNotFound ReplyKind = "agent_not_found" // explicit delegation to an unknown name
	ReplyUnavailable   ReplyKind = "unavailable"     // remote agent could not be reached
	ReplyRateLimited   ReplyKind = "rate_limited"
)

// OutboundMessage is the router's answer to one inbound message.
type OutboundMessage struct {
	Content   string    `json:"content"`
	Kind      ReplyKind `json:"kind"`
	Agent     string    `json:"agent,omitempty"` // set when a remote agent was involved
	SessionID string    `json:"session_id,omitempty"`
}

// Classification is an opaque topic label with the classifier's confidence.
type Classification struct {
	Label      string
	Confidence float64
}

// Classifier produces a topic label from free text. Internals are external
// to this system; any implementation can be plugged in.
type Classifier interface {
	Classify(ctx context.Context, text string) (Classification, error)
}

// LocalHandler processes a task in-process when no remote agent applies.
type LocalHandler interface {
	Handle(ctx context.Context, task string) (string, error)
}

// Delegator sends a task to a remote agent endpoint and returns the agent's
// textual result. Implemented by the transport layer.
type Delegator interface {
	Delegate(ctx context.Context, endpoint, task, correlationID string) (string, error)
}
