package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/config"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/logging"
)

func newTokenCmd() *cobra.Command {
	var (
		configPath string
		dataDir    string
		ttl        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token <email>",
		Short: "Mint an access token for a local user, bypassing HTTP login",
		Long: `Mint an access token for an existing user without going through the
/auth/login/local endpoint. Useful for scripting and break-glass access
when the admin UI itself is unreachable.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email := args[0]
			logger := logging.NewWithComponent(logging.Config{Level: "warn", Pretty: false}, "gateway-token")

			loader := config.NewLayeredLoader()
			cfg, err := loader.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if dataDir != "" {
				cfg.DataDir = dataDir
			}

			ctx := context.Background()
			d, closeDeps, err := openDeps(ctx, cfg, logger)
			if closeDeps != nil {
				defer func() { _ = closeDeps() }()
			}
			if err != nil {
				return fmt.Errorf("wire dependencies: %w", err)
			}

			u, err := d.users.FindByEmail(ctx, email)
			if err != nil {
				return fmt.Errorf("look up user: %w", err)
			}
			if u == nil {
				return fmt.Errorf("no user with email %q", email)
			}

			token, err := d.issuer.Issue(u, ttl)
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}

			cmd.Println(token)
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to YAML config file")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Data directory (overrides config)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")

	return cmd
}
