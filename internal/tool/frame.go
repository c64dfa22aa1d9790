// Package tool implements the typed tool runtime: descriptors and their
// registry, per-invocation execution contexts, the Frame stream a handler
// produces, and the runner that drives a handler while enforcing the
// one-terminal-frame contract.
package tool

import "github.com/cantondev/canton-mcp-server/internal/mcp"

// FrameType discriminates the variants streamed during a tool call.
type FrameType string

const (
	FrameProgress   FrameType = "progress"
	FrameLog        FrameType = "log"
	FrameStructured FrameType = "structured"
	FrameError      FrameType = "error"
)

// Log levels accepted by Context.Log.
const (
	LevelDebug   = "debug"
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// ErrCodeCancelled is the terminal error code emitted when a call is
// cancelled cooperatively.
const ErrCodeCancelled = "cancelled"

// Frame is one unit streamed over SSE during a tool call. Exactly one
// terminal frame (structured or error) is emitted per call.
type Frame struct {
	Type FrameType

	// Progress fields.
	Current int
	Total   int

	// Log fields. Message is shared with Progress and Error.
	Level   string
	Message string

	// Structured fields. Result keys are snake_case internally and
	// translated to camelCase at the wire boundary.
	Result  map[string]any
	Summary string

	// Error fields.
	Code string
	Data map[string]any
}

// Terminal reports whether no further frames may follow this one.
func (f Frame) Terminal() bool {
	return f.Type == FrameStructured || f.Type == FrameError
}

// Wire returns the JSON object sent as one SSE event, with result keys
// translated to camelCase.
func (f Frame) Wire() map[string]any {
	switch f.Type {
	case FrameProgress:
		obj := map[string]any{"type": "progress", "current": f.Current, "total": f.Total}
		if f.Message != "" {
			obj["message"] = f.Message
		}
		return obj
	case FrameLog:
		return map[string]any{"type": "log", "level": f.Level, "message": f.Message}
	case FrameStructured:
		obj := map[string]any{"type": "structured", "result": mcp.KeysToCamel(f.Result)}
		if f.Summary != "" {
			obj["summary"] = f.Summary
		}
		return obj
	case FrameError:
		obj := map[string]any{"type": "error", "code": f.Code, "message": f.Message}
		if len(f.Data) > 0 {
			obj["data"] = mcp.KeysToCamel(f.Data)
		}
		return obj
	}
	return map[string]any{"type": string(f.Type)}
}
