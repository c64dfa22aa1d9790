// Package tools holds the built-in tool catalogue: the echo smoke-test tool
// and the Canton DAML authoring helpers. Handlers receive snake_case
// arguments already validated against the input schema and emit frames
// through the tool context.
package tools

import "github.com/cantondev/canton-mcp-server/internal/tool"

// RegisterAll registers every built-in tool. Called once at startup;
// registration errors are programming mistakes and abort boot.
func RegisterAll(reg *tool.Registry) error {
	for _, d := range []tool.Descriptor{
		echoDescriptor(),
		validateDescriptor(),
		debugDescriptor(),
		suggestDescriptor(),
	} {
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// strArg returns the string argument named key, or "" when absent.
func strArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// strSliceArg returns the []string argument named key. JSON arrays decode as
// []any, so elements are filtered to strings.
func strSliceArg(args map[string]any, key string) []string {
	raw, _ := args[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
