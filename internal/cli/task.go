package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/harun/otto/pkg/task"
	"github.com/harun/otto/pkg/toolexecutor"
	"github.com/spf13/cobra"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage and run tasks",
}

var taskLoadCmd = &cobra.Command{
	Use:   "load <file>",
	Short: "Load tool and task definitions from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskLoad,
}

var taskRunCmd = &cobra.Command{
	Use:   "run <task>",
	Short: "Start an execution of a task",
	Long: `Start an execution of a task and run it until it succeeds, fails or waits
for a permission decision. With --detach the execution is left for a worker.`,
	Args: cobra.ExactArgs(1),
	RunE: runTaskRun,
}

var taskRunOpts struct {
	target string
	doc    string
	input  []string
	model  string
	as     string
	detach bool
}

func init() {
	taskRunCmd.Flags().StringVar(&taskRunOpts.target, "target", "", "target document as kind:id")
	taskRunCmd.Flags().StringVar(&taskRunOpts.doc, "doc", "", "JSON file with the target document")
	taskRunCmd.Flags().StringArrayVar(&taskRunOpts.input, "input", nil, "input replacing the resolved context (repeatable)")
	taskRunCmd.Flags().StringVar(&taskRunOpts.model, "model", "", "model overriding the task's")
	taskRunCmd.Flags().StringVar(&taskRunOpts.as, "as", "", "user the execution runs as")
	taskRunCmd.Flags().BoolVar(&taskRunOpts.detach, "detach", false, "enqueue for a worker instead of running here")

	taskCmd.AddCommand(taskLoadCmd)
	taskCmd.AddCommand(taskRunCmd)
	rootCmd.AddCommand(taskCmd)
}

func runTaskLoad(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	defs, err := task.LoadFile(args[0])
	if err != nil {
		return err
	}
	report, err := a.catalog.Apply(cmd.Context(), defs)
	if err != nil {
		return err
	}

	cmd.Printf("Loaded %d tools and %d tasks from %s\n", report.Tools, report.Tasks, args[0])
	for slug, reason := range report.InvalidTools {
		cmd.Printf("- tool %s is not valid: %s\n", slug, strings.ReplaceAll(reason, "\n", "; "))
	}
	return nil
}

func runTaskRun(cmd *cobra.Command, args []string) error {
	target, err := parseTarget(taskRunOpts.target)
	if err != nil {
		return err
	}
	if taskRunOpts.doc != "" {
		data, err := os.ReadFile(taskRunOpts.doc)
		if err != nil {
			return fmt.Errorf("failed to read target document: %w", err)
		}
		target.Doc = data
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	t, err := a.catalog.GetTask(ctx, args[0])
	if err != nil {
		return err
	}
	if taskRunOpts.as != "" {
		ctx = toolexecutor.WithActor(ctx, taskRunOpts.as)
	}
	if taskRunOpts.detach {
		a.executions.SetQueue(nil)
	}

	id, err := a.executions.Start(ctx, task.StartRequest{
		Task:   t,
		Target: target,
		Event:  task.EventManual,
		Input:  taskRunOpts.input,
		Model:  taskRunOpts.model,
	})
	if err != nil {
		return err
	}
	if !taskRunOpts.detach {
		if err := a.drain(a.stepTimeout()); err != nil {
			return err
		}
	}
	return printExecution(cmd, a, id)
}

// parseTarget reads "kind:id". An empty value means no target.
func parseTarget(value string) (task.Target, error) {
	if value == "" {
		return task.Target{}, nil
	}
	kind, id, ok := strings.Cut(value, ":")
	if !ok || kind == "" || id == "" {
		return task.Target{}, fmt.Errorf("target must look like kind:id, got %q", value)
	}
	return task.Target{Kind: kind, ID: id}, nil
}
