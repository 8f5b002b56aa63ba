package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	v1 "github.com/stacklok/gitops-agent/internal/api/v1"
)

// columns other than the commit message take roughly this much of a terminal line
const historyFixedWidth = 80

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent deployments of a running agent",
		RunE:  runHistory,
	}
	cmd.Flags().StringP("output", "o", formatText, "Output format (text, json, yaml)")
	cmd.Flags().IntP("limit", "n", 20, "Maximum number of deployments to list")
	return cmd
}

func runHistory(cmd *cobra.Command, _ []string) error {
	format, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}
	if limit <= 0 {
		return fmt.Errorf("limit must be positive, got %d", limit)
	}

	var resp v1.DeploymentsResponse
	if err := getJSON(cmd.Context(), fmt.Sprintf("/api/v1/deployments?limit=%d", limit), &resp); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if handled, err := writeStructured(out, format, resp); handled {
		return err
	}

	if len(resp.Deployments) == 0 {
		_, err := fmt.Fprintln(out, "No deployments recorded")
		return err
	}

	messageWidth := 0
	if width := terminalWidth(out); width > 0 {
		messageWidth = max(width-historyFixedWidth, 16)
	}

	table := tablewriter.NewWriter(out)
	table.Header("STARTED", "TRIGGER", "STATUS", "COMMIT", "DURATION", "RELOADED", "MESSAGE")
	for _, rec := range resp.Deployments {
		message := rec.CommitMessage
		if rec.Error != "" {
			message = rec.Error
		}
		row := []string{
			formatTime(rec.StartedAt),
			orDash(rec.Trigger),
			rec.Status,
			orDash(shortSHA(rec.CommitSHA)),
			rec.Duration().Round(100 * time.Millisecond).String(),
			orDash(strings.Join(rec.ReloadedDomains, ",")),
			orDash(truncate(message, messageWidth)),
		}
		if err := table.Append(row); err != nil {
			return fmt.Errorf("failed to render history: %w", err)
		}
	}
	return table.Render()
}
