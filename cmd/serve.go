package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/cronbox/internal/bootstrap"
	"github.com/nextlevelbuilder/cronbox/internal/config"
	"github.com/nextlevelbuilder/cronbox/internal/cron"
	"github.com/nextlevelbuilder/cronbox/internal/gateway"
	"github.com/nextlevelbuilder/cronbox/internal/gateway/methods"
	"github.com/nextlevelbuilder/cronbox/pkg/protocol"
)

func serveCmd() *cobra.Command {
	var stdio bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler loop",
		Long: `Runs the scheduling loop against the configured store.

With --stdio the process also answers RPC frames (one JSON request per
line on stdin, one response per line on stdout), which is how an
embedding runtime drives job management while the loop runs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(stdio)
		},
	}
	cmd.Flags().BoolVar(&stdio, "stdio", false, "answer RPC frames on stdin/stdout")
	return cmd
}

func runServe(stdio bool) error {
	cfg := loadConfig()
	setupLogging(cfg)

	store, err := bootstrap.OpenStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	svc := cron.NewService(store, serviceOptions(cfg))
	sch := cron.NewScheduler(svc, cfg.TickInterval())

	router := gateway.NewMethodRouter()
	methods.NewCronMethods(svc).Register(router)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sch.Start(ctx)

	watcher := startConfigWatcher(svc, sch)
	if watcher != nil {
		defer watcher.Stop()
	}

	slog.Info("cronbox serving", "backend", cfg.Store.Backend, "tick", cfg.TickInterval(), "stdio", stdio)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	if stdio {
		done := make(chan struct{})
		go func() {
			serveStdio(ctx, router)
			close(done)
		}()
		select {
		case <-sig:
		case <-done: // stdin closed, the embedding process went away
		}
	} else {
		<-sig
	}

	slog.Info("shutting down")
	sch.Stop()
	return nil
}

// serveStdio answers newline-delimited request frames until stdin closes.
func serveStdio(ctx context.Context, router *gateway.MethodRouter) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	enc := json.NewEncoder(os.Stdout)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req protocol.RequestFrame
		if err := json.Unmarshal(line, &req); err != nil {
			enc.Encode(protocol.NewErrorResponse("", protocol.ErrInvalidRequest, "malformed frame: "+err.Error()))
			continue
		}
		enc.Encode(router.Handle(ctx, &req))
	}
	if err := scanner.Err(); err != nil {
		slog.Error("stdio read failed", "error", err)
	}
}

// serviceOptions maps config to service options. The default executor logs
// the payload; the embedding runtime replaces it via SetExecutor.
func serviceOptions(cfg *config.Config) cron.Options {
	return cron.Options{
		Executor: cron.ExecutorFunc(logExecutor),
		Retry: &cron.RetryConfig{
			MaxRetries: cfg.Scheduler.MaxRetries,
			BaseDelay:  time.Duration(cfg.Scheduler.RetryBaseMS) * time.Millisecond,
			MaxDelay:   time.Duration(cfg.Scheduler.RetryMaxMS) * time.Millisecond,
		},
		ExecTimeout:            cfg.ExecTimeout(),
		MaxConsecutiveFailures: cfg.Scheduler.MaxConsecutiveFailures,
	}
}

func logExecutor(ctx context.Context, job *cron.Job) (string, error) {
	text := job.Payload.Text
	if job.Payload.Kind == cron.PayloadAgentTurn {
		text = job.Payload.Message
	}
	slog.Info("job fired", "id", job.ID, "name", job.Name, "payload", job.Payload.Kind, "text", text)
	return "delivered: " + text, nil
}

// startConfigWatcher hot-reloads scheduler tuning on config file changes.
// Store backend changes need a restart; only loop and retry knobs apply live.
func startConfigWatcher(svc *cron.Service, sch *cron.Scheduler) *config.Watcher {
	path := resolveConfigPath()
	if _, err := os.Stat(config.ExpandHome(path)); err != nil {
		return nil
	}

	watcher, err := config.NewWatcher(path)
	if err != nil {
		slog.Warn("config watcher unavailable", "error", err)
		return nil
	}
	watcher.OnChange(func(next *config.Config) {
		svc.SetRetryConfig(cron.RetryConfig{
			MaxRetries: next.Scheduler.MaxRetries,
			BaseDelay:  time.Duration(next.Scheduler.RetryBaseMS) * time.Millisecond,
			MaxDelay:   time.Duration(next.Scheduler.RetryMaxMS) * time.Millisecond,
		})
		sch.SetInterval(next.TickInterval())
		slog.Info("scheduler tuning reloaded", "tick", next.TickInterval())
	})
	if err := watcher.Start(); err != nil {
		slog.Warn("config watcher failed to start", "error", err)
		return nil
	}
	return watcher
}
