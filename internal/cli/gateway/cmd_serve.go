package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/config"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/logging"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		host       string
		port       int
		dataDir    string
		logLevel   string
		prettyLog  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP gateway",
		Long: `Run the MCP gateway: the origin validator, protocol dispatcher, and admin
control plane behind a single HTTP listener.

Routes:
  /mcp                  - Streamable HTTP MCP endpoint (component I)
  /admin/*, /auth/*     - Admin control plane (component K)
  /.well-known/jwks.json - published signing keys

The gateway runs until interrupted (SIGINT/SIGTERM), then shuts down the
HTTP server and closes the database handle; live sessions are not closed
one by one.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.NewWithComponent(logging.Config{Level: logLevel, Pretty: prettyLog}, "gateway")

			loader := config.NewLayeredLoader()
			cfg, err := loader.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if host != "" {
				cfg.Host = host
			}
			if port != 0 {
				cfg.Port = port
			}
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d, closeDeps, err := openDeps(ctx, cfg, logger)
			if closeDeps != nil {
				defer func() {
					if err := closeDeps(); err != nil {
						logger.Warn().Err(err).Msg("error closing database")
					}
				}()
			}
			if err != nil {
				return fmt.Errorf("wire dependencies: %w", err)
			}

			gw := buildGateway(d, logger)
			adminSrv := buildAdmin(d, logger)

			mux := http.NewServeMux()
			mux.Handle("/mcp", gw)
			mux.Handle("/", adminSrv)

			// Streamable HTTP MCP clients and the live admin event feed both
			// benefit from multiplexed request/response streams without
			// requiring TLS in front of the gateway; h2c serves HTTP/2 over
			// plaintext for that case and falls back to HTTP/1.1 transparently
			// for anything that doesn't upgrade.
			addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
			h2s := &http2.Server{}
			srv := &http.Server{
				Addr:              addr,
				Handler:           h2c.NewHandler(mux, h2s),
				ReadHeaderTimeout: cfg.UnaryTimeout,
				IdleTimeout:       cfg.SSEIdleTimeout,
			}

			serveErr := make(chan error, 1)
			go func() {
				logger.Info().Str("addr", addr).Msg("gateway listening")
				serveErr <- srv.ListenAndServe()
			}()

			select {
			case err := <-serveErr:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("serve: %w", err)
				}
			case <-ctx.Done():
				logger.Info().Msg("shutting down gateway")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Warn().Err(err).Msg("graceful shutdown failed")
				}
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to YAML config file")
	cmd.Flags().StringVar(&host, "host", "", "Bind host (overrides config)")
	cmd.Flags().IntVar(&port, "port", 0, "Bind port (overrides config)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Data directory (overrides config)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&prettyLog, "pretty-log", true, "Use human-readable console log output")

	return cmd
}
