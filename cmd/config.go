package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"db-resilience/internal/config"
	"db-resilience/internal/display"
	appErrors "db-resilience/internal/errors"
)

// createConfigCommand creates the config command group
func createConfigCommand(opts *rootOptions) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Generate, check and document the configuration file",
	}

	configCmd.AddCommand(
		createConfigInitCommand(),
		createConfigEnvCommand(),
		createConfigValidateCommand(opts),
	)
	return configCmd
}

func createConfigInitCommand() *cobra.Command {
	var (
		output string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented example configuration",
		Long: `Write a complete example configuration. Without --output the example is
printed to standard output.

Examples:
  db-resilience config init > db-resilience.yaml
  db-resilience config init --output /etc/db-resilience/db-resilience.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.GenerateExample()
			if err != nil {
				return appErrors.NewConfigError("failed to generate example configuration", err)
			}
			if output == "" {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}

			if _, err := os.Stat(output); err == nil && !force {
				return appErrors.NewConflictError(fmt.Sprintf("%s already exists, use --force to overwrite it", output))
			}
			if err := os.WriteFile(output, data, 0600); err != nil {
				return appErrors.NewConfigError("failed to write configuration file", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "file to write instead of standard output")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func createConfigEnvCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "List the environment variables that override the configuration file",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range config.EnvironmentVariables() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	}
}

func createConfigValidateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration without connecting anywhere",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			out, err := opts.printer(cmd, cfg)
			if err != nil {
				return err
			}

			items := []string{
				fmt.Sprintf("database: %s %s:%d/%s", cfg.Database.Driver, cfg.Database.Host, cfg.Database.Port, cfg.Database.Namespace()),
				fmt.Sprintf("state: %s", cfg.State.Type),
				fmt.Sprintf("provider: %s", cfg.Provider.Type),
				fmt.Sprintf("backup policies: %d", len(cfg.Backup.Policies)),
				fmt.Sprintf("drill configurations: %d", len(cfg.Drills.Configurations)),
				fmt.Sprintf("compliance targets: %d", len(cfg.Compliance.Targets)),
				fmt.Sprintf("notification channels: %v", cfg.NotifyChannels()),
			}
			if err := out.Render(display.ListView("Configuration", "SETTING", items)); err != nil {
				return err
			}
			out.Success("Configuration is valid")
			return nil
		},
	}
}
