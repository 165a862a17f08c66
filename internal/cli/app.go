package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/harun/otto/internal/config"
	"github.com/harun/otto/internal/logger"
	"github.com/harun/otto/internal/observability"
	"github.com/harun/otto/internal/tracing"
	"github.com/harun/otto/pkg/commandqueue"
	"github.com/harun/otto/pkg/events"
	"github.com/harun/otto/pkg/execution"
	"github.com/harun/otto/pkg/llm"
	"github.com/harun/otto/pkg/lock"
	"github.com/harun/otto/pkg/notify"
	"github.com/harun/otto/pkg/permission"
	"github.com/harun/otto/pkg/sandbox"
	"github.com/harun/otto/pkg/store"
	"github.com/harun/otto/pkg/task"
	"github.com/harun/otto/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// app wires the components every command works with
type app struct {
	cfg    *config.Config
	log    *logger.Logger
	logger zerolog.Logger

	store       store.Store
	bus         *events.Bus
	catalog     *task.Catalog
	runner      toolexecutor.Runner
	permissions *permission.Coordinator
	executions  *execution.Service
	queue       *commandqueue.Queue
	dispatcher  *task.Dispatcher
}

// newApp loads configuration and builds the app. The --log-level flag
// overrides the configured level only when given.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.NewLoader(globalFlags.configFile).WithEnvFile(globalFlags.envFile).Load()
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = globalFlags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return buildApp(cfg)
}

func buildApp(cfg *config.Config) (a *app, err error) {
	lg, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		Secrets:   configuredSecrets(cfg),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	a = &app{cfg: cfg, log: lg, logger: lg.GetZerolog()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry("otto"); err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
	}
	if err := observability.InitAuditLogger(filepath.Join(cfg.DataDir, "audit.log")); err != nil {
		return nil, fmt.Errorf("failed to initialize audit log: %w", err)
	}

	a.store, err = store.NewSQLite(store.SQLiteConfig{Path: cfg.Database.Path, Logger: lg.Component("store")})
	if err != nil {
		return nil, err
	}
	a.bus = events.NewBus(lg.Component("events"))
	a.catalog = task.NewCatalog(a.store)

	locker, err := lock.NewFileLocker(lock.Config{
		Dir:     filepath.Join(cfg.DataDir, "locks"),
		Timeout: time.Duration(cfg.Lock.TimeoutSeconds) * time.Second,
		Logger:  lg.Component("lock"),
	})
	if err != nil {
		return nil, err
	}

	sandboxCfg := sandbox.DefaultConfig()
	sandboxCfg.Python = cfg.Sandbox.Python
	sandboxCfg.Timeout = time.Duration(cfg.Sandbox.TimeoutSeconds) * time.Second
	runner, err := sandbox.NewPythonRunner(sandboxCfg, lg.Component("sandbox"))
	if err != nil {
		return nil, err
	}
	a.runner = runner

	pricing := make(map[string]llm.Price, len(cfg.LLM.Pricing))
	for model, p := range cfg.LLM.Pricing {
		pricing[model] = llm.Price{Input: p.Input, Output: p.Output}
	}
	interactor, err := llm.NewInteractor(llm.Config{
		Logger:       lg.Component("llm"),
		APIKeys:      cfg.LLM.APIKeys,
		Pricing:      pricing,
		DefaultModel: cfg.LLM.DefaultModel,
		MaxTokens:    cfg.LLM.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	a.permissions = permission.New(permission.Config{
		Store:     a.store,
		Sink:      notify.Multi{notify.NewLogSink(lg.Component("notify")), notify.NewBusSink(a.bus)},
		Publisher: a.bus,
		Locker:    locker,
		Logger:    lg.Component("permission"),
	})

	a.executions = execution.New(execution.Config{
		Store:                a.store,
		Catalog:              a.catalog,
		Interactor:           interactor,
		Tools:                toolexecutor.New(toolexecutor.Config{Runner: runner, Timeout: sandboxCfg.Timeout, Logger: lg.Component("tools")}),
		Runner:               runner,
		Permissions:          a.permissions,
		Locker:               locker,
		Publisher:            a.bus,
		Logger:               lg.Component("execution"),
		MaxLLMCalls:          cfg.Execution.MaxLLMCalls,
		FailOnNoOutputTokens: cfg.Execution.FailOnNoOutputTokens,
		Timeout:              time.Duration(cfg.Execution.TimeoutMinutes) * time.Minute,
	})
	a.permissions.SetResumer(a.executions)

	a.queue = commandqueue.New(commandqueue.Config{
		Handler:     a.executions.Handle,
		Concurrency: cfg.Queue.Concurrency,
		Logger:      lg.Component("queue"),
	})
	a.executions.SetQueue(a.queue)

	a.dispatcher = task.NewDispatcher(task.DispatcherConfig{
		Catalog: a.catalog,
		Runner:  runner,
		Starter: a.executions,
		Logger:  lg.Component("dispatcher"),
	})
	return a, nil
}

// stepTimeout bounds how long a command waits for its steps
func (a *app) stepTimeout() time.Duration {
	if a.cfg.Execution.TimeoutMinutes > 0 {
		return time.Duration(a.cfg.Execution.TimeoutMinutes)*time.Minute + drainTimeout
	}
	return 24 * time.Hour
}

// drain waits for queued steps started by this process
func (a *app) drain(timeout time.Duration) error {
	if !a.queue.WaitForActive(timeout) {
		return fmt.Errorf("steps still running after %s", timeout)
	}
	return nil
}

// Close releases everything buildApp opened
func (a *app) Close() {
	if a.queue != nil {
		_ = a.queue.Close()
	}
	if a.bus != nil {
		_ = a.bus.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close store")
		}
	}
	if audit := observability.GetAuditLogger(); audit != nil {
		_ = audit.Close()
	}
	if a.cfg.Tracing.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracing.ShutdownOpenTelemetry(ctx)
	}
	_ = a.log.Close()
}

// configuredSecrets lists values the log redactor must mask verbatim
func configuredSecrets(cfg *config.Config) []string {
	secrets := []string{cfg.Webhook.Secret}
	for _, key := range cfg.LLM.APIKeys {
		secrets = append(secrets, key)
	}
	return secrets
}
