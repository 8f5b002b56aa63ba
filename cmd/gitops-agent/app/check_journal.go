package app

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/gitops-agent/internal/config"
	"github.com/stacklok/gitops-agent/internal/journal"
)

// ErrInterruptedDeployment is returned by check-journal --fail-on-interrupted
var ErrInterruptedDeployment = errors.New("interrupted deployment found")

func newCheckJournalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check-journal",
		Short: "Report a deployment interrupted by a crash or restart",
		Long: `Read the deployment journal named by the configuration file and report an
attempt that started but never recorded an outcome. The agent performs the same
check on startup; this command is meant for init containers and scripts.`,
		RunE: runCheckJournal,
	}
	cmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
	cmd.Flags().StringP("output", "o", formatText, "Output format (text, json, yaml)")
	cmd.Flags().Bool("fail-on-interrupted", false, "Exit with an error when an interrupted deployment is found")
	return cmd
}

func runCheckJournal(cmd *cobra.Command, _ []string) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	if configPath == "" {
		configPath = viper.GetString("config")
	}
	if configPath == "" {
		return errors.New("a configuration file is required (--config)")
	}
	format, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	failOnInterrupted, err := cmd.Flags().GetBool("fail-on-interrupted")
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	interrupted, err := journal.NewFileJournal(cfg.Journal.Path).CheckOnStartup(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read journal: %w", err)
	}

	out := cmd.OutOrStdout()
	if handled, err := writeStructured(out, format, map[string]any{"interrupted": interrupted}); handled {
		if err != nil {
			return err
		}
	} else if interrupted == nil {
		if _, err := fmt.Fprintln(out, "No interrupted deployment"); err != nil {
			return err
		}
	} else {
		if _, err := fmt.Fprintf(out, "Interrupted deployment %s of %s (%s) started at %s\n",
			orDash(interrupted.AttemptID), orDash(shortSHA(interrupted.CommitSHA)),
			orDash(truncate(interrupted.CommitMessage, 72)), formatTime(interrupted.Timestamp)); err != nil {
			return err
		}
	}

	if interrupted != nil && failOnInterrupted {
		return ErrInterruptedDeployment
	}
	return nil
}
