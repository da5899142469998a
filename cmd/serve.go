package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/anttp-gateway/internal/config"
)

func newServeCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the gateway",
		Long: `Starts the HTTP listener (pass-through and WebSocket channel) and, when
metrics.addr is set, the operations listener. Configuration comes from the
optional file, ANTGW_* environment variables and the legacy PORT,
ANTPP_ENDPOINT and CINEMA_MODE variables.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			gw, err := newGateway(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize gateway: %w", err)
			}
			if err := gw.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("run gateway: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	return cmd
}
