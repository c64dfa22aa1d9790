package tools_test

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/cantondev/canton-mcp-server/internal/tool"
	"github.com/cantondev/canton-mcp-server/internal/tools"
)

func registry(t *testing.T) *tool.Registry {
	t.Helper()
	reg := tool.NewRegistry()
	if err := tools.RegisterAll(reg); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	return reg
}

// run executes a builtin with the given snake_case args and returns its
// frames and outcome.
func run(t *testing.T, name string, args map[string]any) ([]tool.Frame, tool.Outcome) {
	t.Helper()
	reg := registry(t)
	d, err := reg.Lookup(name)
	if err != nil {
		t.Fatalf("lookup %s: %v", name, err)
	}
	if err := d.ValidateArgs(args); err != nil {
		t.Fatalf("args rejected: %v", err)
	}

	tctx := tool.NewContext(context.Background(), name, args, nil, nil)
	var got []tool.Frame
	outcome := tool.NewRunner(zap.NewNop()).Run(d, tctx, func(f tool.Frame) error {
		got = append(got, f)
		return nil
	})
	return got, outcome
}

func terminal(t *testing.T, frames []tool.Frame) map[string]any {
	t.Helper()
	last := frames[len(frames)-1]
	if last.Type != tool.FrameStructured {
		t.Fatalf("terminal frame = %+v", last)
	}
	return last.Result
}

func TestRegisterAllCatalogue(t *testing.T) {
	reg := registry(t)
	want := []string{"echo", "validate_daml_business_logic", "debug_authorization_failure", "suggest_authorization_pattern"}
	list := reg.List()
	if len(list) != len(want) {
		t.Fatalf("catalogue = %d tools, want %d", len(list), len(want))
	}
	for i, name := range want {
		if list[i].Name != name {
			t.Errorf("tool %d = %s, want %s", i, list[i].Name, name)
		}
	}
}

func TestEcho(t *testing.T) {
	frames, outcome := run(t, "echo", map[string]any{"user_input": "hi"})
	if !outcome.Success {
		t.Fatalf("outcome = %+v", outcome)
	}
	result := terminal(t, frames)
	if result["output_data"] != "hi" {
		t.Errorf("result = %#v", result)
	}
}

func TestValidateCleanCode(t *testing.T) {
	frames, outcome := run(t, "validate_daml_business_logic", map[string]any{
		"business_intent": "track iou transfers",
		"daml_code":       "template Iou with owner: Party where signatory owner",
	})
	if !outcome.Success {
		t.Fatalf("outcome = %+v", outcome)
	}
	result := terminal(t, frames)
	if result["valid"] != true {
		t.Errorf("result = %#v", result)
	}
	issues, _ := result["issues"].([]string)
	if len(issues) != 0 {
		t.Errorf("issues = %v", issues)
	}
}

func TestValidateFlagsMissingStructure(t *testing.T) {
	frames, _ := run(t, "validate_daml_business_logic", map[string]any{
		"business_intent":       "data disclosure workflow",
		"daml_code":             "just some text",
		"security_requirements": []any{"multi-party signoff"},
	})
	result := terminal(t, frames)
	if result["valid"] != false {
		t.Fatalf("junk code validated: %#v", result)
	}
	issues, _ := result["issues"].([]string)
	// Missing template, missing signatory, and the unmet multi-party
	// requirement.
	if len(issues) != 3 {
		t.Errorf("issues = %v", issues)
	}
	suggestions, _ := result["suggestions"].([]string)
	if len(suggestions) != 2 {
		t.Errorf("suggestions = %v", suggestions)
	}
}

func TestValidateEmitsProgress(t *testing.T) {
	frames, _ := run(t, "validate_daml_business_logic", map[string]any{
		"business_intent": "x",
		"daml_code":       "template T where signatory p",
	})
	progress := 0
	for _, f := range frames {
		if f.Type == tool.FrameProgress {
			progress++
		}
	}
	if progress != 3 {
		t.Errorf("progress frames = %d, want 3", progress)
	}
}

func TestDebugAuthorizationPatterns(t *testing.T) {
	frames, outcome := run(t, "debug_authorization_failure", map[string]any{
		"error_message": "missing authorization from signatory Alice",
		"daml_code":     "template T",
	})
	if !outcome.Success {
		t.Fatalf("outcome = %+v", outcome)
	}
	result := terminal(t, frames)
	analysis, _ := result["analysis"].([]string)
	if len(analysis) != 2 {
		t.Errorf("analysis = %v", analysis)
	}
	if result["daml_code_provided"] != true {
		t.Errorf("daml_code_provided = %v", result["daml_code_provided"])
	}
}

func TestDebugUnrecognizedError(t *testing.T) {
	frames, _ := run(t, "debug_authorization_failure", map[string]any{
		"error_message": "segmentation fault",
	})
	result := terminal(t, frames)
	analysis, _ := result["analysis"].([]string)
	if len(analysis) != 0 {
		t.Errorf("analysis = %v", analysis)
	}
	if result["daml_code_provided"] != false {
		t.Errorf("daml_code_provided = %v", result["daml_code_provided"])
	}
}

func TestSuggestMatchesWorkflows(t *testing.T) {
	frames, _ := run(t, "suggest_authorization_pattern", map[string]any{
		"workflow_description": "payment approval workflow",
		"security_level":       "enterprise",
	})
	result := terminal(t, frames)
	patterns, _ := result["suggested_patterns"].([]any)
	if len(patterns) != 2 {
		t.Fatalf("patterns = %v", patterns)
	}
	notes, _ := result["implementation_notes"].([]string)
	if len(notes) != 3 {
		t.Errorf("enterprise notes = %v", notes)
	}
	if result["security_level"] != "enterprise" {
		t.Errorf("security_level = %v", result["security_level"])
	}
}

func TestSuggestDefaultsSecurityLevel(t *testing.T) {
	frames, _ := run(t, "suggest_authorization_pattern", map[string]any{
		"workflow_description": "something unrelated",
	})
	result := terminal(t, frames)
	if result["security_level"] != "basic" {
		t.Errorf("security_level = %v", result["security_level"])
	}
	patterns, _ := result["suggested_patterns"].([]any)
	if len(patterns) != 0 {
		t.Errorf("patterns = %v", patterns)
	}
}

func TestSuggestPricingScalesWithSecurityLevel(t *testing.T) {
	reg := registry(t)
	d, err := reg.Lookup("suggest_authorization_pattern")
	if err != nil {
		t.Fatal(err)
	}
	cases := map[string]float64{
		"basic":      0.05,
		"enhanced":   0.15,
		"enterprise": 0.25,
		"":           0.05,
	}
	for level, want := range cases {
		args := map[string]any{"workflow_description": "x"}
		if level != "" {
			args["security_level"] = level
		}
		if got := d.Pricing.Price(args); got != want {
			t.Errorf("price(%q) = %v, want %v", level, got, want)
		}
	}
}

func TestBuiltinPricing(t *testing.T) {
	reg := registry(t)

	echo, _ := reg.Lookup("echo")
	if echo.Pricing.Kind != tool.PricingFree {
		t.Errorf("echo pricing = %v", echo.Pricing.Kind)
	}
	validate, _ := reg.Lookup("validate_daml_business_logic")
	if validate.Pricing.Kind != tool.PricingFixed || validate.Pricing.PriceUSD != 0.10 {
		t.Errorf("validate pricing = %+v", validate.Pricing)
	}
	debug, _ := reg.Lookup("debug_authorization_failure")
	if debug.Pricing.Kind != tool.PricingFree {
		t.Errorf("debug pricing = %v", debug.Pricing.Kind)
	}
}
