package tools

import (
	"strings"

	"github.com/cantondev/canton-mcp-server/internal/tool"
)

func debugDescriptor() tool.Descriptor {
	return tool.Descriptor{
		Name:        "debug_authorization_failure",
		Description: "Debug DAML authorization errors with detailed analysis and suggested fixes",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"error_message": map[string]any{
					"type":        "string",
					"description": "The authorization error message",
				},
				"daml_code": map[string]any{
					"type":        "string",
					"description": "The DAML code that caused the error (optional)",
				},
				"context": map[string]any{
					"type":        "string",
					"description": "Additional context about the error (optional)",
				},
			},
			"required": []string{"error_message"},
		},
		Pricing: tool.Free(),
		Handler: debugAuthorization,
	}
}

// debugAuthorization matches the error message against the common Canton
// authorization failure classes and suggests fixes for each match.
func debugAuthorization(ctx *tool.Context) error {
	errMsg := strArg(ctx.Args, "error_message")
	lower := strings.ToLower(errMsg)

	var analysis, fixes []string

	if strings.Contains(lower, "missing authorization") {
		analysis = append(analysis, "Authorization missing - likely signatory or observer issue")
		fixes = append(fixes,
			"Check that all required signatories are present",
			"Verify observer permissions for data access")
	}
	if strings.Contains(lower, "signatory") {
		analysis = append(analysis, "Signatory-related authorization failure")
		fixes = append(fixes,
			"Ensure all signatories have signed the transaction",
			"Check signatory definitions in template")
	}
	if strings.Contains(lower, "observer") {
		analysis = append(analysis, "Observer-related authorization failure")
		fixes = append(fixes,
			"Verify observer permissions",
			"Check if observer disclosure is properly configured")
	}

	_, codeProvided := ctx.Args["daml_code"]

	ctx.Structured(map[string]any{
		"error_message":      errMsg,
		"analysis":           emptyIfNil(analysis),
		"suggested_fixes":    emptyIfNil(fixes),
		"daml_code_provided": codeProvided,
		"context":            strArg(ctx.Args, "context"),
	}, "authorization analysis complete")
	return nil
}
