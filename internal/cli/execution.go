package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/harun/otto/pkg/execution"
	"github.com/harun/otto/pkg/session"
	"github.com/spf13/cobra"
)

var executionCmd = &cobra.Command{
	Use:     "execution",
	Aliases: []string{"exec"},
	Short:   "Inspect and retry executions",
}

var executionShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show an execution's status and session statistics",
	Args:  cobra.ExactArgs(1),
	RunE:  runExecutionShow,
}

var executionRetryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Retry a failed execution on a new session",
	Args:  cobra.ExactArgs(1),
	RunE:  runExecutionRetry,
}

func init() {
	executionCmd.AddCommand(executionShowCmd)
	executionCmd.AddCommand(executionRetryCmd)
	rootCmd.AddCommand(executionCmd)
}

func runExecutionShow(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	return printExecution(cmd, a, args[0])
}

func runExecutionRetry(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	sessionID, err := a.executions.Retry(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	cmd.Printf("Retrying on session %s\n", sessionID)
	if err := a.drain(a.stepTimeout()); err != nil {
		return err
	}
	return printExecution(cmd, a, args[0])
}

func printExecution(cmd *cobra.Command, a *app, id string) error {
	ctx := cmd.Context()
	e, err := a.executions.Get(ctx, id)
	if err != nil {
		return err
	}

	cmd.Printf("Execution: %s\n", e.ID)
	cmd.Printf("Task: %s\n", e.Task)
	if e.TargetKind != "" {
		cmd.Printf("Target: %s - %s\n", e.TargetKind, e.Target)
	}
	cmd.Printf("Status: %s\n", e.Status)
	if e.Reason != "" {
		cmd.Printf("Reason: %s\n", e.Reason)
	}

	sess, err := session.NewRepository(a.store).Load(ctx, e.SessionID)
	if err != nil {
		return err
	}
	cmd.Printf("Session: %s\n", sess.ID)
	if sess.Reason != "" {
		cmd.Printf("Last error: %s\n", sess.Reason)
	}
	if reply := lastReply(sess); reply != "" {
		cmd.Printf("Last reply: %s\n", reply)
	}

	stats := sess.Stats()
	cmd.Printf("LLM calls: %d\n", stats.LLMCalls)
	cmd.Printf("Tokens: %d (max %d)\n", stats.TotalTokens, stats.MaxTokens)
	cmd.Printf("Cost: $%.4f\n", stats.Cost)
	if stats.Duration > 0 {
		cmd.Printf("Duration: %s\n", formatDuration(time.Duration(stats.Duration*float64(time.Second))))
	}
	if len(stats.Tools) > 0 {
		names := make([]string, 0, len(stats.Tools))
		for name := range stats.Tools {
			names = append(names, name)
		}
		sort.Strings(names)
		cmd.Println("Tools:")
		for _, name := range names {
			ts := stats.Tools[name]
			cmd.Printf("- %s: called %d, errors %d, empty %d\n", name, ts.Called, ts.Errors, ts.Empty)
		}
	}

	if e.Status == execution.StatusWaiting {
		printPendingRequests(cmd, a, sess.ID)
	}
	return nil
}

func printPendingRequests(cmd *cobra.Command, a *app, sessionID string) {
	requests, err := a.permissions.ForSession(cmd.Context(), sessionID)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Failed to list permission requests")
		return
	}
	cmd.Println("Waiting for:")
	for _, r := range requests {
		if r.IsDecided() {
			continue
		}
		cmd.Printf("- %s (tool use %s): otto permission grant %s\n", r.ID, r.ToolUseID, r.ID)
	}
}

func lastReply(sess *session.Session) string {
	item := sess.LastAgentItem()
	if item == nil {
		return ""
	}
	text := strings.TrimSpace(item.Text())
	if len(text) > 200 {
		text = text[:200] + "..."
	}
	return text
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
