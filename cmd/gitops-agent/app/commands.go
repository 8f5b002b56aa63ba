// Package app provides the command line interface of the GitOps agent.
package app

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/gitops-agent/internal/config"
	"github.com/stacklok/gitops-agent/internal/versions"
)

const defaultServerURL = "http://localhost:8080"

// NewRootCmd creates a new root command for the agent.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "gitops-agent",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Short:             "GitOps deployment agent for Home Assistant",
		Long: `gitops-agent keeps a Home Assistant configuration directory in sync with its git
repository. It pulls on webhook, validates the configuration, reloads only the
affected subsystems and provisions secrets from an external provider.`,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			viper.SetEnvPrefix(config.EnvPrefix)
			viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
			viper.AutomaticEnv()
		},
		Run: func(cmd *cobra.Command, _ []string) {
			if err := cmd.Help(); err != nil {
				slog.Error("Error displaying help", "error", err)
			}
		},
	}

	rootCmd.PersistentFlags().String("server", defaultServerURL, "Base URL of a running agent (status and history commands)")
	if err := viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server")); err != nil {
		slog.Error("Error binding server flag", "error", err)
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newCheckJournalCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versions.GetVersionInfo()
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return err
			}

			if format == formatJSON {
				output, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to format version info as JSON: %w", err)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(output))
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "gitops-agent %s (commit %s, built %s, %s, %s)\n",
				info.Version, info.Commit, info.BuildDate, info.GoVersion, info.Platform)
			return err
		},
	}
	cmd.Flags().String("format", "", "Output format (json)")
	return cmd
}
