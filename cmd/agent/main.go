// agent is the device-side lock agent: go run ./cmd/agent run --config agent.yaml
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"device-lock-control-plane/internal/agent"
	"device-lock-control-plane/internal/config"
	"device-lock-control-plane/internal/logging"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "agent",
		Short:        "Device lock agent",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML config file (AGENT_* environment variables take precedence)")
	cmd.AddCommand(
		newProvisionCommand(opts),
		newRunCommand(opts),
		newStatusCommand(opts),
		newUnenrollCommand(opts),
	)
	return cmd
}

// open loads configuration and builds the agent. The caller closes it.
func (o *rootOptions) open(ctx context.Context) (*agent.Agent, *zap.Logger, error) {
	cfg, err := config.LoadAgent(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.New(cfg.Debug)
	a, err := agent.New(ctx, cfg, agent.Options{Logger: logger})
	if err != nil {
		_ = logger.Sync()
		return nil, nil, fmt.Errorf("start agent: %w", err)
	}
	return a, logger, nil
}
