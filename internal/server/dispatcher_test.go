package server_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cantondev/canton-mcp-server/internal/content"
	"github.com/cantondev/canton-mcp-server/internal/mcp"
	"github.com/cantondev/canton-mcp-server/internal/request"
	"github.com/cantondev/canton-mcp-server/internal/server"
	"github.com/cantondev/canton-mcp-server/internal/tool"
)

// ── Test setup ────────────────────────────────────────────────────────────

func testDispatcher(t *testing.T) (*server.Dispatcher, *request.Manager) {
	t.Helper()

	reg := tool.NewRegistry()
	err := reg.Register(tool.Descriptor{
		Name:        "echo",
		Description: "echo back",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"user_input": map[string]any{"type": "string"},
			},
			"required": []string{"user_input"},
		},
		Pricing: tool.Fixed(0.10),
		Handler: func(ctx *tool.Context) error {
			ctx.Structured(map[string]any{"output_data": ctx.Args["user_input"]}, "")
			return nil
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	dir := t.TempDir()
	promptDir := filepath.Join(dir, "prompts")
	if err := os.MkdirAll(promptDir, 0o755); err != nil {
		t.Fatal(err)
	}
	promptJSON := `{"name":"review","description":"review code","arguments":[{"name":"code","required":true}],"template":"Review this: {{code}}"}`
	if err := os.WriteFile(filepath.Join(promptDir, "review.json"), []byte(promptJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	resDir := filepath.Join(dir, "resources")
	if err := os.MkdirAll(resDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(resDir, "guide.md"), []byte("# Guide"), 0o644); err != nil {
		t.Fatal(err)
	}

	cont, err := content.NewRegistry(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("content registry: %v", err)
	}

	requests := request.NewManager(zap.NewNop())
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	d := server.NewDispatcher(reg, cont, requests, level, "1.2.3", zap.NewNop())
	return d, requests
}

func call(t *testing.T, d *server.Dispatcher, method string, params any) mcp.Response {
	t.Helper()
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			t.Fatal(err)
		}
		raw = b
	}
	resp, err := d.Handle(mcp.Request{JSONRPC: "2.0", ID: []byte(`1`), Method: method, Params: raw})
	if err != nil {
		t.Fatalf("Handle(%s): %v", method, err)
	}
	return resp
}

func resultMap(t *testing.T, resp mcp.Response) map[string]any {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	m, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("result is %T, want map", resp.Result)
	}
	return m
}

// ── Tests ─────────────────────────────────────────────────────────────────

func TestInitialize(t *testing.T) {
	d, _ := testDispatcher(t)
	resp := call(t, d, "initialize", map[string]any{
		"protocolVersion": "2025-06-18",
		"clientInfo":      map[string]any{"name": "test-client", "version": "0.1"},
	})
	result := resultMap(t, resp)

	if result["protocolVersion"] != mcp.ProtocolVersion {
		t.Errorf("protocolVersion = %v, want %v", result["protocolVersion"], mcp.ProtocolVersion)
	}
	info, _ := result["serverInfo"].(map[string]any)
	if info["name"] != mcp.ServerName || info["version"] != "1.2.3" {
		t.Errorf("serverInfo = %#v", info)
	}
	caps, _ := result["capabilities"].(map[string]any)
	for _, want := range []string{"tools", "resources", "prompts", "logging"} {
		if _, ok := caps[want]; !ok {
			t.Errorf("missing capability %q", want)
		}
	}
}

func TestPing(t *testing.T) {
	d, _ := testDispatcher(t)
	resp := call(t, d, "ping", nil)
	if resp.Error != nil {
		t.Fatalf("ping error: %+v", resp.Error)
	}
}

func TestToolsListAdvertsPricingAndCamelSchema(t *testing.T) {
	d, _ := testDispatcher(t)
	result := resultMap(t, call(t, d, "tools/list", nil))

	entries, _ := result["tools"].([]map[string]any)
	if len(entries) != 1 {
		t.Fatalf("tools = %#v, want 1 entry", result["tools"])
	}
	entry := entries[0]
	if entry["name"] != "echo" {
		t.Errorf("name = %v", entry["name"])
	}

	advert, _ := entry["pricing_advert"].(map[string]any)
	if advert["model"] != "fixed" || advert["priceUsd"] != 0.10 {
		t.Errorf("pricing_advert = %#v", advert)
	}

	schema, _ := entry["inputSchema"].(map[string]any)
	props, _ := schema["properties"].(map[string]any)
	if _, ok := props["userInput"]; !ok {
		t.Errorf("inputSchema not camelCase on the wire: %#v", props)
	}
}

func TestToolsCallIsStreaming(t *testing.T) {
	d, _ := testDispatcher(t)
	_, err := d.Handle(mcp.Request{JSONRPC: "2.0", ID: []byte(`1`), Method: "tools/call"})
	if err != server.ErrStreaming {
		t.Fatalf("err = %v, want ErrStreaming", err)
	}
}

func TestUnknownMethod(t *testing.T) {
	d, _ := testDispatcher(t)
	resp := call(t, d, "no/such/method", nil)
	if resp.Error == nil || resp.Error.Code != mcp.CodeMethodNotFound {
		t.Fatalf("error = %+v, want method-not-found", resp.Error)
	}
}

func TestResourcesListAndRead(t *testing.T) {
	d, _ := testDispatcher(t)

	list := resultMap(t, call(t, d, "resources/list", nil))
	resources, _ := list["resources"].([]content.Resource)
	if len(resources) != 1 {
		t.Fatalf("resources = %#v", list["resources"])
	}

	read := resultMap(t, call(t, d, "resources/read", map[string]any{"uri": resources[0].URI}))
	contents, _ := read["contents"].([]map[string]any)
	if len(contents) != 1 || contents[0]["text"] != "# Guide" {
		t.Errorf("contents = %#v", read["contents"])
	}

	missing := call(t, d, "resources/read", map[string]any{"uri": "canton://docs/nope"})
	if missing.Error == nil || missing.Error.Code != mcp.CodeMethodNotFound {
		t.Errorf("missing resource error = %+v", missing.Error)
	}
}

func TestPromptsGetSubstitutesArguments(t *testing.T) {
	d, _ := testDispatcher(t)

	resp := call(t, d, "prompts/get", map[string]any{
		"name":      "review",
		"arguments": map[string]string{"code": "template Foo"},
	})
	result := resultMap(t, resp)
	messages, _ := result["messages"].([]map[string]any)
	if len(messages) != 1 {
		t.Fatalf("messages = %#v", result["messages"])
	}
	body, _ := messages[0]["content"].(map[string]any)
	if body["text"] != "Review this: template Foo" {
		t.Errorf("text = %v", body["text"])
	}

	missing := call(t, d, "prompts/get", map[string]any{"name": "review"})
	if missing.Error == nil || missing.Error.Code != mcp.CodeInvalidParams {
		t.Errorf("missing required arg error = %+v", missing.Error)
	}
}

func TestSetLevelAcceptsMCPNames(t *testing.T) {
	d, _ := testDispatcher(t)

	resp := call(t, d, "logging/setLevel", map[string]any{"level": "warning"})
	if resp.Error != nil {
		t.Fatalf("setLevel warning: %+v", resp.Error)
	}

	bad := call(t, d, "logging/setLevel", map[string]any{"level": "loud"})
	if bad.Error == nil || bad.Error.Code != mcp.CodeInvalidParams {
		t.Errorf("bad level error = %+v", bad.Error)
	}
}

func TestCancelNotificationFlipsRequest(t *testing.T) {
	d, requests := testDispatcher(t)

	key := request.Key("sess-1", "42")
	tracked := requests.Register(key, "42", "tools/call")

	d.HandleNotification("sess-1", mcp.Request{
		JSONRPC: "2.0",
		Method:  "notifications/cancelled",
		Params:  []byte(`{"requestId":42,"reason":"user abort"}`),
	})

	if !tracked.Cancelled() {
		t.Fatal("request not cancelled")
	}
	if tracked.CancelReason() != "user abort" {
		t.Errorf("reason = %q", tracked.CancelReason())
	}

	// Unknown ids are dropped silently.
	d.HandleNotification("sess-1", mcp.Request{
		JSONRPC: "2.0",
		Method:  "notifications/cancelled",
		Params:  []byte(`{"requestId":"ghost"}`),
	})
}
