package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// defaultConfigPath is used when neither --config nor CONNECTD_CONFIG is set.
const defaultConfigPath = "configs/config.yaml"

// configEnv names the environment variable that overrides the config path.
const configEnv = "CONNECTD_CONFIG"

type rootOptions struct {
	configPath string
}

// newRootCmd builds the command tree. Running the root command without a
// subcommand starts the service.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "connectd",
		Short: "UniFi Connect display control service",
		Long: `connectd polls a UniFi controller for Connect displays, keeps their state,
and accepts commands over MQTT and a REST API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts.resolveConfigPath())
		},
	}
	root.Version = version
	root.SetVersionTemplate(fmt.Sprintf("connectd %s (commit %s, built %s)\n", version, commit, date))

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file path (env: "+configEnv+", default: "+defaultConfigPath+")")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newModelsCmd())
	root.AddCommand(newTokenCmd(opts))

	return root
}

// resolveConfigPath returns the config path from the flag, the environment
// or the default, in that order.
func (o *rootOptions) resolveConfigPath() string {
	if o.configPath != "" {
		return o.configPath
	}
	if path := os.Getenv(configEnv); path != "" {
		return path
	}
	return defaultConfigPath
}
