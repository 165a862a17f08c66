package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/harun/otto/internal/observability"
	"github.com/harun/otto/pkg/cron"
	"github.com/harun/otto/pkg/task"
	"github.com/harun/otto/pkg/webhook"
	"github.com/spf13/cobra"
)

const drainTimeout = 30 * time.Second

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the execution worker",
	Long: `Run the execution worker in the foreground. The worker runs queued execution
steps, triggers tasks from document events, sweeps stale executions, reloads
task definitions, accepts document events over HTTP and serves prometheus
metrics.`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	pidFile := getPIDFilePath(a.cfg.DataDir)
	if isRunning(pidFile) {
		return fmt.Errorf("worker is already running (PID file: %s)", pidFile)
	}
	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer os.Remove(pidFile)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.dispatcher.Listen(ctx, a.bus); err != nil {
		return fmt.Errorf("failed to listen for documents: %w", err)
	}

	if a.cfg.Tasks.Watch {
		watcher, err := startTaskWatcher(a)
		if err != nil {
			return err
		}
		defer watcher.Stop()
	}

	sweeper, err := cron.New(cron.Config{
		Executions: a.executions,
		Decisions:  a.permissions,
		Queue:      a.queue,
		Schedule:   a.cfg.Sweeper.Schedule,
		StaleAfter: time.Duration(a.cfg.Sweeper.StaleAfterMinutes) * time.Minute,
		Logger:     a.log.Component("sweeper"),
	})
	if err != nil {
		return err
	}
	if err := sweeper.Start(); err != nil {
		return err
	}
	defer sweeper.Stop()

	if a.cfg.Metrics.Addr != "" {
		srv := startMetricsServer(a)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if a.cfg.Webhook.Addr != "" {
		hook, err := startWebhookServer(a)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = hook.Stop(shutdownCtx)
		}()
	}

	a.logger.Info().Int("pid", os.Getpid()).Int("concurrency", a.cfg.Queue.Concurrency).Msg("Worker started")
	<-ctx.Done()
	a.logger.Info().Msg("Worker stopping")

	if err := a.drain(drainTimeout); err != nil {
		a.logger.Warn().Err(err).Msg("Shutting down with steps in flight")
	}
	return nil
}

func startTaskWatcher(a *app) (*task.Watcher, error) {
	if err := os.MkdirAll(a.cfg.Tasks.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create tasks directory: %w", err)
	}
	logger := a.log.Component("tasks")
	watcher, err := task.NewWatcher(a.catalog, logger, func(path string, report *task.LoadReport, err error) {
		if err != nil {
			logger.Error().Err(err).Str("path", path).Msg("Failed to load definitions")
			return
		}
		logDefinitions(a, path, report)
	})
	if err != nil {
		return nil, err
	}
	if err := watcher.Watch(a.cfg.Tasks.Dir); err != nil {
		_ = watcher.Stop()
		return nil, err
	}
	return watcher, nil
}

func startMetricsServer(a *app) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	srv := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Str("addr", srv.Addr).Msg("Metrics server failed")
		}
	}()
	a.logger.Info().Str("addr", srv.Addr).Msg("Serving metrics")
	return srv
}

func startWebhookServer(a *app) (*webhook.Server, error) {
	logger := a.log.Component("webhook")
	srv, err := webhook.NewServer(webhook.ServerOptions{
		Addr:              a.cfg.Webhook.Addr,
		Secret:            a.cfg.Webhook.Secret,
		SignatureHeader:   a.cfg.Webhook.SignatureHeader,
		MaxRequestsPerMin: a.cfg.Webhook.MaxRequestsPerMin,
	}, a.bus, logger)
	if err != nil {
		return nil, err
	}
	if a.cfg.Webhook.Secret == "" {
		logger.Warn().Msg("Webhook secret not set, accepting unsigned document events")
	}

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error().Err(err).Msg("Webhook server failed")
		}
	}()
	return srv, nil
}

func logDefinitions(a *app, path string, report *task.LoadReport) {
	a.logger.Info().Str("path", path).Int("tools", report.Tools).Int("tasks", report.Tasks).Msg("Definitions loaded")
	for slug, reason := range report.InvalidTools {
		a.logger.Warn().Str("tool", slug).Str("reason", reason).Msg("Tool is not valid")
	}
}

func getPIDFilePath(dataDir string) string {
	return filepath.Join(dataDir, "otto-worker.pid")
}

func isRunning(pidFile string) bool {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return false
	}

	pid, err := strconv.Atoi(string(data))
	if err != nil || pid <= 0 {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix, FindProcess always succeeds, so probe with signal 0
	return process.Signal(syscall.Signal(0)) == nil
}
