package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/rhuss/codegate/pkg/config"
	"github.com/rhuss/codegate/pkg/engine"
	"github.com/rhuss/codegate/pkg/mcpserver"
	"github.com/rhuss/codegate/pkg/steps/natspub"
	transporthttp "github.com/rhuss/codegate/pkg/transport/http"
)

type serveOptions struct {
	port    int
	origins []string
}

func newServeCommand(global *globalOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and MCP server",
		Long: `Serve runs the session API under /v1, the step stream over websockets
and, unless disabled, the MCP endpoint a reasoning loop uses to propose
code. Approval is only available on the HTTP API.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.load()
			if err != nil {
				return err
			}
			if opts.port != 0 {
				cfg.Server.Port = opts.port
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, "Listen port (overrides server.port)")
	cmd.Flags().StringSliceVar(&opts.origins, "allow-origin", nil, "Origin host patterns allowed to open the step stream")

	return cmd
}

func serve(ctx context.Context, cfg *config.Config, opts *serveOptions) error {
	engineOpts := []engine.Option{engine.WithTracer(otel.Tracer("github.com/rhuss/codegate"))}

	if cfg.NATS.URL != "" {
		pub, err := natspub.Connect(natspub.Config{
			URL:           cfg.NATS.URL,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			Name:          "codegate-" + version,
		})
		if err != nil {
			return fmt.Errorf("connecting to NATS: %w", err)
		}
		defer pub.Close()
		slog.Info("step fan-out enabled", "nats_url", cfg.NATS.URL, "subject_prefix", cfg.NATS.SubjectPrefix)
		engineOpts = append(engineOpts, engine.WithStepPublisher(pub))
	}

	eng, cleanup, err := newEngine(ctx, cfg, engineOpts...)
	if err != nil {
		return err
	}
	defer cleanup()

	authMiddleware, err := buildAuth(cfg)
	if err != nil {
		return err
	}

	handlerOpts := transporthttp.Options{
		Logger:         slog.Default(),
		Auth:           authMiddleware,
		OriginPatterns: opts.origins,
	}
	if cfg.Metrics.Enabled {
		handlerOpts.MetricsPath = cfg.Metrics.Path
	}
	if cfg.Server.EnableMCP {
		handlerOpts.MCP = mcpserver.Handler(mcpserver.New(eng, version))
	}

	server := transporthttp.NewServer(
		transporthttp.NewHandler(eng, handlerOpts),
		transporthttp.WithAddr(fmt.Sprintf(":%d", cfg.Server.Port)),
		transporthttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
	)

	slog.Info("starting codegate",
		"version", version,
		"port", cfg.Server.Port,
		"backend", cfg.Harness.Backend,
		"archive", cfg.Archive.Type,
		"auth", cfg.Auth.Type,
		"mcp", cfg.Server.EnableMCP,
	)
	if err := server.Run(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	slog.Info("codegate stopped")
	return nil
}
