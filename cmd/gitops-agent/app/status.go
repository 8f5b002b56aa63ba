package app

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	v1 "github.com/stacklok/gitops-agent/internal/api/v1"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the deployment status of a running agent",
		RunE:  runStatus,
	}
	cmd.Flags().StringP("output", "o", formatText, "Output format (text, json, yaml)")
	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	format, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}

	var status v1.StatusResponse
	if err := getJSON(cmd.Context(), "/api/v1/status", &status); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if handled, err := writeStructured(out, format, status); handled {
		return err
	}

	deployment := status.Deployment
	table := tablewriter.NewWriter(out)
	table.Header("FIELD", "VALUE")
	rows := [][]string{
		{"Status", string(deployment.Status)},
		{"Attempt", orDash(deployment.AttemptID)},
		{"Trigger", orDash(deployment.Trigger)},
		{"Updated", formatTime(deployment.Timestamp)},
		{"Commit", orDash(shortSHA(status.Commit.SHA))},
		{"Message", orDash(truncate(status.Commit.Message, 72))},
		{"Reloaded", orDash(strings.Join(deployment.ReloadDomains, ", "))},
		{"Restart required", strconv.FormatBool(deployment.RestartRequired)},
		{"Update available", strconv.FormatBool(status.UpdateAvailable)},
		{"Secrets enabled", strconv.FormatBool(status.SecretsEnabled)},
		{"Conditions", strconv.Itoa(status.Conditions)},
	}
	if deployment.Error != "" {
		rows = append(rows, []string{"Error", deployment.Error})
	}
	if err := table.Bulk(rows); err != nil {
		return fmt.Errorf("failed to render status: %w", err)
	}
	return table.Render()
}
