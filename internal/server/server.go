// Package server is the HTTP transport: the POST /mcp endpoint (single JSON
// or SSE depending on the routed method), health and info endpoints, and the
// tools/call pipeline that ties together payment gating, streaming
// execution, telemetry, and settlement.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cantondev/canton-mcp-server/internal/config"
	"github.com/cantondev/canton-mcp-server/internal/content"
	"github.com/cantondev/canton-mcp-server/internal/dcap"
	"github.com/cantondev/canton-mcp-server/internal/mcp"
	"github.com/cantondev/canton-mcp-server/internal/payment"
	"github.com/cantondev/canton-mcp-server/internal/request"
	"github.com/cantondev/canton-mcp-server/internal/tool"
)

// maxBodySize caps inbound JSON-RPC envelopes at 1 MB.
const maxBodySize = 1 << 20

// headerSession scopes request ids to a client connection.
const headerSession = "Mcp-Session-Id"

// Server owns the gin engine and the per-call pipeline.
type Server struct {
	cfg        *config.Config
	version    string
	logger     *zap.Logger
	tools      *tool.Registry
	requests   *request.Manager
	gate       *payment.Gate
	emitter    *dcap.Emitter // nil when telemetry is disabled
	runner     *tool.Runner
	dispatcher *Dispatcher
	engine     *gin.Engine
}

// New assembles the transport over its collaborators. emitter may be nil.
func New(cfg *config.Config, version string, tools *tool.Registry, cont *content.Registry,
	requests *request.Manager, gate *payment.Gate, emitter *dcap.Emitter,
	level zap.AtomicLevel, logger *zap.Logger) *Server {

	s := &Server{
		cfg:        cfg,
		version:    version,
		logger:     logger,
		tools:      tools,
		requests:   requests,
		gate:       gate,
		emitter:    emitter,
		runner:     tool.NewRunner(logger.Named("runner")),
		dispatcher: NewDispatcher(tools, cont, requests, level, version, logger.Named("mcp")),
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(prometheusMiddleware())
	engine.Use(rateLimiter(cfg.RateLimitRPS, cfg.RateLimitRPS*2))
	engine.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Content-Type", "Accept",
			payment.HeaderPayment, payment.HeaderInternalKey, headerSession},
		ExposeHeaders: []string{payment.HeaderPaymentResponse, headerSession},
	}))

	engine.POST("/mcp", s.handleMCP)
	engine.GET("/health", s.handleHealth)
	engine.GET("/mcp-info", s.handleInfo)
	engine.GET("/metrics", metricsHandler())
	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	s.engine = engine
	return s
}

// Handler exposes the HTTP handler for serving and tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("mcp server listening", zap.Int("port", s.cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen on :%d: %w", s.cfg.Port, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleInfo(c *gin.Context) {
	rails := make([]string, 0, 2)
	for _, rail := range s.gate.Rails() {
		rails = append(rails, rail.Scheme())
	}
	c.JSON(http.StatusOK, gin.H{
		"name":            mcp.ServerName,
		"version":         s.version,
		"protocolVersion": mcp.ProtocolVersion,
		"transport":       "streamable-http",
		"endpoint":        s.cfg.ServerURL,
		"tools":           s.tools.Len(),
		"paymentRails":    rails,
	})
}

// handleMCP decodes the JSON-RPC envelope and routes it. Malformed envelopes
// are HTTP 400; everything after routing follows the status policy of the
// individual method.
func (s *Server) handleMCP(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodySize))
	if err != nil {
		c.JSON(http.StatusBadRequest, mcp.NewError(nil, mcp.CodeParseError, "unreadable request body", nil))
		return
	}

	var req mcp.Request
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, mcp.NewError(nil, mcp.CodeParseError, "parse error", nil))
		return
	}
	if req.Method == "" {
		c.JSON(http.StatusBadRequest, mcp.NewError(req.ID, mcp.CodeInvalidRequest, "missing method", nil))
		return
	}

	session := c.GetHeader(headerSession)
	if req.Method == "initialize" && session == "" {
		// Streamable-HTTP session assignment: the client echoes this header
		// on every subsequent request, scoping its request ids.
		c.Header(headerSession, uuid.NewString())
	}

	if req.IsNotification() {
		s.dispatcher.HandleNotification(session, req)
		c.Status(http.StatusAccepted)
		return
	}

	resp, err := s.dispatcher.Handle(req)
	if err == nil {
		c.JSON(http.StatusOK, resp)
		return
	}
	if errors.Is(err, ErrStreaming) {
		s.handleToolsCall(c, session, req)
		return
	}
	c.JSON(http.StatusInternalServerError, mcp.NewError(req.ID, mcp.CodeInternalError, "internal error", nil))
}

// handleToolsCall runs the full priced-call pipeline: resolve and validate,
// enforce the payment gate, stream frames over SSE, then emit telemetry and
// settle. Anything that fails before the stream opens may change the HTTP
// status; after that, failures are frames.
func (s *Server) handleToolsCall(c *gin.Context, session string, req mcp.Request) {
	var params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		c.JSON(http.StatusOK, mcp.NewError(req.ID, mcp.CodeInvalidParams, "tools/call requires a tool name", nil))
		return
	}

	desc, err := s.tools.Lookup(params.Name)
	if err != nil {
		c.JSON(http.StatusOK, mcp.NewError(req.ID, mcp.CodeMethodNotFound,
			fmt.Sprintf("tool %q not found", params.Name), map[string]any{"tool": params.Name}))
		return
	}

	args, _ := mcp.KeysToSnake(params.Arguments).(map[string]any)
	if args == nil {
		args = map[string]any{}
	}
	if err := desc.ValidateArgs(args); err != nil {
		c.JSON(http.StatusOK, mcp.NewError(req.ID, mcp.CodeInvalidParams, err.Error(), nil))
		return
	}

	key := request.Key(session, mcp.IDKey(req.ID))
	tracked := s.requests.Register(key, mcp.IDKey(req.ID), req.Method)

	// Payment pre-flight. No handler code runs and no perf record is
	// emitted unless this passes.
	tracked.SetState(request.StateVerifying)
	price := desc.Pricing.Price(args)
	info, gateErr := s.gate.Check(c.Request.Context(), desc.Name, price, c.Request.Header)
	if gateErr != nil {
		s.requests.Complete(key, request.StateFailed)
		var required *payment.RequiredError
		if errors.As(gateErr, &required) {
			reason := "missing"
			if c.GetHeader(payment.HeaderPayment) != "" {
				reason = "rejected"
			}
			paymentRejectionsTotal.WithLabelValues(reason).Inc()
			c.JSON(http.StatusPaymentRequired, required.Body)
			return
		}
		paymentRejectionsTotal.WithLabelValues("malformed").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": gateErr.Error()})
		return
	}

	var view *tool.PaymentView
	if info != nil {
		view = &tool.PaymentView{
			Rail:         info.Rail,
			RequiredUSD:  info.RequiredUSD,
			AmountAtomic: info.AmountAtomic,
			Currency:     info.Currency,
			Payer:        info.Payer,
		}
	}

	stream, err := openSSE(c.Writer)
	if err != nil {
		s.requests.Complete(key, request.StateFailed)
		c.JSON(http.StatusInternalServerError, mcp.NewError(req.ID, mcp.CodeInternalError, "streaming unsupported", nil))
		return
	}

	tracked.SetState(request.StateExecuting)
	tctx := tool.NewContext(c.Request.Context(), desc.Name, args, view, tracked.Cancelled)
	outcome := s.runner.Run(desc, tctx, func(f tool.Frame) error {
		return stream.WriteEvent(f.Wire())
	})

	s.finish(c.Request.Context(), key, desc, args, info, outcome)
}

// finish runs the post-stream sequence in its fixed order: lifecycle
// transition, metrics, telemetry emit, then settlement. Telemetry precedes
// settlement so failed and cancelled runs are visible regardless of the
// settlement outcome.
func (s *Server) finish(ctx context.Context, key string, desc tool.Descriptor, args map[string]any, info *payment.Info, outcome tool.Outcome) {
	terminal := request.StateCompleted
	metricOutcome := "success"
	switch {
	case outcome.Cancelled:
		terminal = request.StateCancelled
		metricOutcome = "cancelled"
	case !outcome.Success:
		terminal = request.StateFailed
		metricOutcome = "error"
	}

	toolExecutionsTotal.WithLabelValues(desc.Name, metricOutcome).Inc()
	toolDurationSeconds.WithLabelValues(desc.Name).Observe(outcome.Duration.Seconds())
	s.logger.Info("tool call finished",
		zap.String("tool", desc.Name),
		zap.String("outcome", metricOutcome),
		zap.Duration("duration", outcome.Duration))

	if s.emitter != nil {
		rec := dcap.PerfRecord{
			Tool:      desc.Name,
			ExecMS:    outcome.Duration.Milliseconds(),
			Success:   outcome.Success,
			Cancelled: outcome.Cancelled,
			Ctx:       dcap.PerfContext{Args: args},
		}
		if info != nil {
			cost := info.RequiredUSD
			rec.CostPaid = &cost
			rec.Currency = info.Currency
			rec.Payer = info.Payer
		}
		s.emitter.EmitPerf(rec)
	}

	if info != nil && outcome.Success {
		if tracked, ok := s.requests.Get(key); ok {
			tracked.SetState(request.StateSettling)
		}
		// Settle off the request path: the result was already streamed, so
		// a slow facilitator must not hold the client's connection open.
		go func() {
			s.settle(ctx, desc.Name, info)
			s.requests.Complete(key, terminal)
		}()
		return
	}
	s.requests.Complete(key, terminal)
}

// settle captures a verified payment exactly once. Failures are logged and
// counted; the client's result was already delivered and is never revoked.
func (s *Server) settle(ctx context.Context, toolName string, info *payment.Info) {
	// The request context may already be done once the stream closed; give
	// settlement its own deadline.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	res, err := s.gate.Settle(sctx, info)
	if err != nil || res.Result != payment.SettleSettled {
		settlementsTotal.WithLabelValues(info.Rail, "failed").Inc()
		s.logger.Error("payment settlement failed",
			zap.String("tool", toolName),
			zap.String("rail", info.Rail),
			zap.String("reason", res.Reason),
			zap.Error(err))
		return
	}
	settlementsTotal.WithLabelValues(info.Rail, "settled").Inc()
	s.logger.Info("payment settled",
		zap.String("tool", toolName),
		zap.String("rail", info.Rail),
		zap.Float64("usd", info.RequiredUSD),
		zap.String("tx_ref", res.TxRef))
}

// Catalogue builds the discovery records advertised over DCAP.
func (s *Server) Catalogue() []dcap.DiscoveryRecord {
	auth := dcap.ConnectorAuth{Type: "none"}
	if s.gate.Enabled() {
		auth.Type = "x402"
		for _, rail := range s.gate.Rails() {
			req := rail.Requirement("", 0)
			auth.Details = append(auth.Details, dcap.RailDetail{
				Scheme:  req.Scheme,
				Network: req.Network,
				Asset:   req.Asset,
				PayTo:   req.PayTo,
			})
		}
	}

	connector := dcap.Connector{
		Transport: dcap.ConnectorTransport{Type: "sse", Endpoint: s.cfg.ServerURL},
		Auth:      auth,
		MCP: dcap.ConnectorMCP{
			ProtocolVersion: mcp.ProtocolVersion,
			ServerName:      mcp.ServerName,
			ServerVersion:   s.version,
		},
	}

	descs := s.tools.List()
	records := make([]dcap.DiscoveryRecord, 0, len(descs))
	for _, desc := range descs {
		records = append(records, dcap.DiscoveryRecord{
			Tool:        desc.Name,
			Description: desc.Description,
			Pricing:     desc.Pricing.Advert(),
			Connector:   connector,
		})
	}
	return records
}
