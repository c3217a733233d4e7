package transport

import "encoding/json"

// MethodDelegate is the single RPC method of the task-delegation contract.
// Any service implementing this envelope is interoperable.
const MethodDelegate = "task.delegate"

// DelegateParams is the payload of a task.delegate request.
type DelegateParams struct {
	TaskText      string `json:"task_text"`
	CorrelationID string `json:"correlation_id"`
}

// Request is the envelope sent to a remote agent.
type Request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	ID     uint64          `json:"id"`
}

// ResponseResult carries the agent's textual answer.
type ResponseResult struct {
	Text string `json:"text"`
}

// ResponseError is an application-level error reported by the remote agent.
// It is never retried by the transport.
type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Response is the envelope returned by a remote agent: exactly one of
// Result or Error is set.
type Response struct {
	Result *ResponseResult `json:"result,omitempty"`
	Error  *ResponseError  `json:"error,omitempty"`
	ID     uint64          `json:"id"`
}
