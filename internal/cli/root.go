package cli

import (
	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X ...cli.version=..."
var version = "0.1.0"

// globalFlags are shared by every command
var globalFlags struct {
	configFile string
	envFile    string
	logLevel   string
}

var rootCmd = &cobra.Command{
	Use:   "otto",
	Short: "Otto - LLM task execution",
	Long: `Otto runs tasks through a language model. The model calls scripted tools
on the task's target; tools that need permission wait for a human decision.

Run "otto worker" to process executions, then start them with "otto task run"
or by posting document events to the worker's webhook.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&globalFlags.configFile, "config", "", "config file (default is $HOME/.otto/otto.yaml)")
	flags.StringVar(&globalFlags.envFile, "env-file", ".env", "dotenv file read before the environment; empty skips it")
	flags.StringVar(&globalFlags.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.SetVersionTemplate("{{.Name}} version {{.Version}}\n")
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}
