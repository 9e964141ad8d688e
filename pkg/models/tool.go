package models

import "time"

// DefaultToolError is used when a failed result carries no error text.
const DefaultToolError = "Tool execution failed with unknown error"

// ToolResult is the recorded outcome of one tool call.
type ToolResult struct {
	ToolName      string            `json:"tool_name"`
	Success       bool              `json:"success"`
	Data          string            `json:"data,omitempty"`
	Error         string            `json:"error,omitempty"`
	ExecutionTime time.Duration     `json:"execution_time"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Normalize enforces the invariant that a failure always carries an error.
func (r ToolResult) Normalize() ToolResult {
	if !r.Success && r.Error == "" {
		r.Error = DefaultToolError
	}
	return r
}

// SuccessResult builds a successful result.
func SuccessResult(name, data string, elapsed time.Duration) ToolResult {
	return ToolResult{ToolName: name, Success: true, Data: data, ExecutionTime: elapsed}
}

// FailureResult builds a failed result.
func FailureResult(name, errMsg string, elapsed time.Duration) ToolResult {
	return ToolResult{ToolName: name, Error: errMsg, ExecutionTime: elapsed}.Normalize()
}
