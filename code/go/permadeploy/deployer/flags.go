package main

import (
	"context"

	"github.com/permadeploy/deployer/code/go/permadeploy/core/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	configDir      string
	logDir         string
	deploymentMode string
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "permadeploy",
		Short:         "Deploy folders to permanent storage",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := setupConfig(configDir, deploymentMode); err != nil {
				return err
			}
			setupLogging()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			common.SetupRootContext(ctx)
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&configDir, "config_dir", "", "directory holding permadeploy.yaml (default ./config or .)")
	flags.StringVar(&logDir, "log_dir", "./log", "log directory")
	flags.StringVar(&deploymentMode, "deployment_mode", "production", "development or production")
	flags.String("log_level", "", "override logging.level")
	flags.Bool("console", false, "also log to stderr")
	_ = viper.BindPFlag("logging.level", flags.Lookup("log_level"))
	_ = viper.BindPFlag("logging.console", flags.Lookup("console"))

	cmd.AddCommand(
		newDeployCommand(),
		newPlanCommand(),
		newCacheCommand(),
		newHistoryCommand(),
		newVersionCommand(),
	)
	return cmd
}
