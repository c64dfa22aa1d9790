package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cantondev/canton-mcp-server/internal/config"
	"github.com/cantondev/canton-mcp-server/internal/content"
	"github.com/cantondev/canton-mcp-server/internal/dcap"
	"github.com/cantondev/canton-mcp-server/internal/payment"
	"github.com/cantondev/canton-mcp-server/internal/request"
	"github.com/cantondev/canton-mcp-server/internal/server"
	"github.com/cantondev/canton-mcp-server/internal/tool"
	"github.com/cantondev/canton-mcp-server/internal/tools"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "canton-mcp",
	Short: "Canton MCP server",
	Long: `canton-mcp serves Canton DAML development tools over the Model Context
Protocol with streamable-HTTP transport, x402 payment gating, and DCAP
network telemetry.

Configuration is read from environment variables (MCP_*, X402_*, CANTON_*,
DCAP_*); see the README for the full list.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return serve()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the server version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("canton-mcp %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func serve() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// logging/setLevel adjusts this level at runtime.
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = level
	logger, err := zcfg.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return run(ctx, cfg, level, logger)
}

func run(ctx context.Context, cfg *config.Config, level zap.AtomicLevel, logger *zap.Logger) error {
	// ── Tool catalogue ───────────────────────────────────────────────────────
	registry := tool.NewRegistry()
	if err := tools.RegisterAll(registry); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}
	logger.Info("tool catalogue ready", zap.Int("tools", registry.Len()))

	// ── Resources and prompts ────────────────────────────────────────────────
	cont, err := content.NewRegistry(cfg.ContentDir, logger.Named("content"))
	if err != nil {
		return fmt.Errorf("load content from %s: %w", cfg.ContentDir, err)
	}
	if err := cont.Watch(ctx.Done()); err != nil {
		logger.Warn("content hot-reload unavailable", zap.Error(err))
	}

	// ── Payment rails ────────────────────────────────────────────────────────
	var rails []payment.Facilitator
	if cfg.X402.Enabled {
		rails = append(rails, payment.NewEVMFacilitator(payment.EVMConfig{
			FacilitatorURL: cfg.X402.FacilitatorURL,
			WalletAddress:  cfg.X402.WalletAddress,
			Network:        cfg.X402.Network,
			Asset:          cfg.X402.Token,
		}))
	}
	if cfg.Canton.Enabled {
		rails = append(rails, payment.NewCantonFacilitator(payment.CantonConfig{
			FacilitatorURL: cfg.Canton.FacilitatorURL,
			PayeeParty:     cfg.Canton.PayeeParty,
			Network:        cfg.Canton.Network,
		}))
	}
	gate := payment.NewGate(rails, cfg.X402.InternalAPIKey, logger.Named("gate"))
	if gate.Enabled() {
		logger.Info("payment gate enabled", zap.Int("rails", len(rails)))
	} else {
		logger.Info("payment gate disabled, all tools free")
	}

	// ── Telemetry ────────────────────────────────────────────────────────────
	var emitter *dcap.Emitter
	if cfg.DCAP.Enabled {
		emitter, err = dcap.NewEmitter(dcap.Config{
			Addr:       cfg.DCAP.Addr,
			Port:       cfg.DCAP.Port,
			ServerID:   cfg.DCAP.ServerID,
			ServerName: cfg.DCAP.ServerName,
		}, logger.Named("dcap"))
		if err != nil {
			return fmt.Errorf("start dcap emitter: %w", err)
		}
		defer emitter.Close() //nolint:errcheck
	}

	// ── HTTP transport ───────────────────────────────────────────────────────
	requests := request.NewManager(logger.Named("requests"))
	srv := server.New(cfg, version, registry, cont, requests, gate, emitter, level, logger)

	if emitter != nil {
		emitter.StartDiscovery(ctx, cfg.DCAP.DiscoverInterval, srv.Catalogue)
	}

	return srv.Run(ctx)
}
