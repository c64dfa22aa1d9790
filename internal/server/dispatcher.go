package server

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cantondev/canton-mcp-server/internal/content"
	"github.com/cantondev/canton-mcp-server/internal/mcp"
	"github.com/cantondev/canton-mcp-server/internal/request"
	"github.com/cantondev/canton-mcp-server/internal/tool"
)

// ErrStreaming is returned by Handle for methods that must be answered with
// an SSE stream (tools/call); the transport owns that path.
var ErrStreaming = errors.New("method requires a streaming response")

// Dispatcher routes decoded JSON-RPC envelopes for every non-streaming MCP
// method. tools/call is recognized but delegated back to the transport.
type Dispatcher struct {
	tools    *tool.Registry
	content  *content.Registry
	requests *request.Manager
	level    zap.AtomicLevel
	version  string
	logger   *zap.Logger
}

// NewDispatcher wires the dispatcher to its registries. level is the
// process-wide zap level adjusted by logging/setLevel.
func NewDispatcher(tools *tool.Registry, cont *content.Registry, requests *request.Manager, level zap.AtomicLevel, version string, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		tools:    tools,
		content:  cont,
		requests: requests,
		level:    level,
		version:  version,
		logger:   logger,
	}
}

// HandleNotification processes a request without an id. No response is ever
// produced; unknown notification methods are dropped, per MCP convention.
// session scopes cancellation keys to the originating client connection.
func (d *Dispatcher) HandleNotification(session string, req mcp.Request) {
	switch req.Method {
	case "notifications/initialized":
		d.logger.Debug("client initialized")
	case "notifications/cancelled", "notifications/cancel":
		var params struct {
			RequestID json.RawMessage `json:"requestId"`
			Reason    string          `json:"reason"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil || len(params.RequestID) == 0 {
			return
		}
		key := request.Key(session, mcp.IDKey(params.RequestID))
		d.requests.Cancel(key, params.Reason)
	default:
		d.logger.Debug("ignoring unknown notification", zap.String("method", req.Method))
	}
}

// Handle routes a request expecting a single JSON response. It returns
// ErrStreaming for tools/call.
func (d *Dispatcher) Handle(req mcp.Request) (mcp.Response, error) {
	switch req.Method {
	case "initialize":
		return d.handleInitialize(req), nil
	case "ping":
		return mcp.NewResponse(req.ID, map[string]any{}), nil
	case "tools/list":
		return d.handleToolsList(req), nil
	case "tools/call":
		return mcp.Response{}, ErrStreaming
	case "resources/list":
		return d.handleResourcesList(req), nil
	case "resources/read":
		return d.handleResourcesRead(req), nil
	case "prompts/list":
		return d.handlePromptsList(req), nil
	case "prompts/get":
		return d.handlePromptsGet(req), nil
	case "logging/setLevel":
		return d.handleSetLevel(req), nil
	default:
		return mcp.NewError(req.ID, mcp.CodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method), nil), nil
	}
}

func (d *Dispatcher) handleInitialize(req mcp.Request) mcp.Response {
	var params struct {
		ProtocolVersion string `json:"protocolVersion"`
		ClientInfo      struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"clientInfo"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return mcp.NewError(req.ID, mcp.CodeInvalidParams, "invalid initialize params", nil)
		}
	}
	if params.ClientInfo.Name != "" {
		d.logger.Info("client connected",
			zap.String("client", params.ClientInfo.Name),
			zap.String("client_version", params.ClientInfo.Version))
	}
	return mcp.NewResponse(req.ID, map[string]any{
		"protocolVersion": mcp.ProtocolVersion,
		"serverInfo":      map[string]any{"name": mcp.ServerName, "version": d.version},
		"capabilities": map[string]any{
			"tools":     map[string]any{"listChanged": false},
			"resources": map[string]any{"subscribe": false, "listChanged": false},
			"prompts":   map[string]any{"listChanged": false},
			"logging":   map[string]any{},
		},
	})
}

func (d *Dispatcher) handleToolsList(req mcp.Request) mcp.Response {
	descs := d.tools.List()
	entries := make([]map[string]any, 0, len(descs))
	for _, desc := range descs {
		entry := map[string]any{
			"name":           desc.Name,
			"description":    desc.Description,
			"inputSchema":    mcp.SchemaToWire(desc.InputSchema),
			"pricing_advert": desc.Pricing.Advert(),
		}
		if desc.OutputSchema != nil {
			entry["outputSchema"] = mcp.SchemaToWire(desc.OutputSchema)
		}
		entries = append(entries, entry)
	}
	return mcp.NewResponse(req.ID, map[string]any{"tools": entries})
}

func (d *Dispatcher) handleResourcesList(req mcp.Request) mcp.Response {
	return mcp.NewResponse(req.ID, map[string]any{"resources": d.content.Resources()})
}

func (d *Dispatcher) handleResourcesRead(req mcp.Request) mcp.Response {
	var params struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.URI == "" {
		return mcp.NewError(req.ID, mcp.CodeInvalidParams, "resources/read requires a uri", nil)
	}
	res, err := d.content.ReadResource(params.URI)
	if err != nil {
		return mcp.NewError(req.ID, mcp.CodeMethodNotFound, "resource not found", map[string]any{"uri": params.URI})
	}
	return mcp.NewResponse(req.ID, map[string]any{
		"contents": []map[string]any{{
			"uri":      res.URI,
			"mimeType": res.MimeType,
			"text":     res.Text,
		}},
	})
}

func (d *Dispatcher) handlePromptsList(req mcp.Request) mcp.Response {
	return mcp.NewResponse(req.ID, map[string]any{"prompts": d.content.Prompts()})
}

func (d *Dispatcher) handlePromptsGet(req mcp.Request) mcp.Response {
	var params struct {
		Name      string            `json:"name"`
		Arguments map[string]string `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return mcp.NewError(req.ID, mcp.CodeInvalidParams, "prompts/get requires a name", nil)
	}
	prompt, text, err := d.content.RenderPrompt(params.Name, params.Arguments)
	if err != nil {
		if errors.Is(err, content.ErrPromptNotFound) {
			return mcp.NewError(req.ID, mcp.CodeMethodNotFound, "prompt not found", map[string]any{"name": params.Name})
		}
		return mcp.NewError(req.ID, mcp.CodeInvalidParams, err.Error(), nil)
	}
	return mcp.NewResponse(req.ID, map[string]any{
		"description": prompt.Description,
		"messages": []map[string]any{{
			"role":    "user",
			"content": map[string]any{"type": "text", "text": text},
		}},
	})
}

func (d *Dispatcher) handleSetLevel(req mcp.Request) mcp.Response {
	var params struct {
		Level string `json:"level"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Level == "" {
		return mcp.NewError(req.ID, mcp.CodeInvalidParams, "logging/setLevel requires a level", nil)
	}
	name := params.Level
	if name == "warning" { // MCP name for zap's "warn"
		name = "warn"
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return mcp.NewError(req.ID, mcp.CodeInvalidParams, fmt.Sprintf("unknown log level %q", params.Level), nil)
	}
	d.level.SetLevel(lvl)
	d.logger.Info("log level changed", zap.String("level", params.Level))
	return mcp.NewResponse(req.ID, map[string]any{})
}
