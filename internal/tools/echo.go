package tools

import "github.com/cantondev/canton-mcp-server/internal/tool"

func echoDescriptor() tool.Descriptor {
	return tool.Descriptor{
		Name:        "echo",
		Description: "Echo a test message back to verify server connectivity",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"user_input": map[string]any{
					"type":        "string",
					"description": "Test message to echo back",
				},
			},
			"required": []string{"user_input"},
		},
		OutputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"output_data": map[string]any{"type": "string"},
			},
		},
		Pricing: tool.Free(),
		Handler: func(ctx *tool.Context) error {
			ctx.Structured(map[string]any{
				"output_data": strArg(ctx.Args, "user_input"),
			}, "echoed input")
			return nil
		},
	}
}
