package cli

import (
	"encoding/json"
	"fmt"

	"github.com/harun/otto/pkg/permission"
	"github.com/harun/otto/pkg/toolexecutor"
	"github.com/spf13/cobra"
)

var permissionCmd = &cobra.Command{
	Use:   "permission",
	Short: "Decide permission requests",
}

var permissionGrantCmd = &cobra.Command{
	Use:   "grant <request-id>",
	Short: "Grant a tool use, optionally overriding its arguments",
	Args:  cobra.ExactArgs(1),
	RunE:  runPermissionDecision(permission.StatusGranted),
}

var permissionDenyCmd = &cobra.Command{
	Use:   "deny <request-id>",
	Short: "Deny a tool use",
	Args:  cobra.ExactArgs(1),
	RunE:  runPermissionDecision(permission.StatusDenied),
}

var assignCmd = &cobra.Command{
	Use:   "assign <user> <ref-kind> <ref-id>",
	Short: "Notify a user about permission requests related to a document",
	Long: `Assign a user to a document. The user is notified about permission requests
whose task, tool, target, execution or session is the assigned document.`,
	Args: cobra.ExactArgs(3),
	RunE: runAssign,
}

var permissionOpts struct {
	override string
	as       string
	detach   bool
}

func init() {
	permissionGrantCmd.Flags().StringVar(&permissionOpts.override, "override", "", "JSON object replacing some of the tool's arguments")
	for _, c := range []*cobra.Command{permissionGrantCmd, permissionDenyCmd} {
		c.Flags().StringVar(&permissionOpts.as, "as", "", "user recorded as the decider")
		c.Flags().BoolVar(&permissionOpts.detach, "detach", false, "leave the resumed execution for a worker")
		permissionCmd.AddCommand(c)
	}
	rootCmd.AddCommand(permissionCmd)
	rootCmd.AddCommand(assignCmd)
}

func runPermissionDecision(decision permission.Status) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		override, err := parseOverride(permissionOpts.override)
		if err != nil {
			return err
		}

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		if permissionOpts.as != "" {
			ctx = toolexecutor.WithActor(ctx, permissionOpts.as)
		}
		if permissionOpts.detach {
			a.executions.SetQueue(nil)
		}

		msg, err := a.permissions.Acknowledge(ctx, args[0], decision, override)
		if err != nil {
			return err
		}
		cmd.Println(msg)

		if permissionOpts.detach || msg == permission.MessageAlreadyAcknowledged {
			return nil
		}
		if err := a.drain(a.stepTimeout()); err != nil {
			return err
		}
		req, err := a.permissions.Get(ctx, args[0])
		if err != nil {
			return err
		}
		e, err := a.executions.ForSession(ctx, req.SessionID)
		if err != nil {
			return err
		}
		return printExecution(cmd, a, e.ID)
	}
}

func parseOverride(value string) (map[string]interface{}, error) {
	if value == "" {
		return nil, nil
	}
	var override map[string]interface{}
	if err := json.Unmarshal([]byte(value), &override); err != nil {
		return nil, fmt.Errorf("override must be a JSON object: %w", err)
	}
	return override, nil
}

func runAssign(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	assignment, err := a.permissions.Assign(cmd.Context(), args[0], args[1], args[2])
	if err != nil {
		return err
	}
	cmd.Printf("Assigned %s to %s %s (%s)\n", assignment.User, assignment.RefKind, assignment.RefID, assignment.ID)
	return nil
}
