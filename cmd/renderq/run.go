package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/CZERTAINLY/renderq/internal/log"
	"github.com/CZERTAINLY/renderq/internal/model"
	"github.com/CZERTAINLY/renderq/internal/queue"
	"github.com/CZERTAINLY/renderq/internal/service"
	"github.com/CZERTAINLY/renderq/internal/walk"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func doRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	attrs := slog.Group("renderq",
		slog.String("cmd", "run"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	exe := executable()
	paths, err := walk.Collect(ctx, args...)
	if err != nil {
		return fmt.Errorf("collecting jobs: %w", err)
	}
	q := queue.New(paths...)

	executor := service.NewExecutor()
	if grace := model.Get(config.KillGrace); grace != "" {
		d, err := service.ParseDuration(grace)
		if err != nil {
			return fmt.Errorf("%w: kill_grace: %w", model.ErrConfig, err)
		}
		executor = executor.WithKillGrace(d)
	}

	sinks := []service.Sink{
		service.NewWriteSink(cmd.OutOrStdout()).WithProgress(flagProgress),
	}
	if model.Get(config.Verbose) {
		sinks = append(sinks, service.SlogSink{})
	}
	if dir := model.Get(config.LogDir); dir != "" {
		jobLogs, err := service.NewJobLogSink(dir)
		if err != nil {
			return err
		}
		defer func() {
			if err := jobLogs.Close(); err != nil {
				slog.WarnContext(ctx, "closing job logs", "error", err)
			}
		}()
		sinks = append(sinks, jobLogs)
	}
	if model.Get(config.Bell) {
		sinks = append(sinks, service.NewBellSink(cmd.ErrOrStderr()))
	}

	if expr := model.Get(config.Schedule); expr != "" {
		schedule, err := service.ParseCron(expr)
		if err != nil {
			return fmt.Errorf("%w: schedule: %w", model.ErrConfig, err)
		}
		now := time.Now()
		slog.InfoContext(ctx, "waiting for the scheduled start", "schedule", expr, "start", schedule.Next(now))
		if err := service.WaitUntil(ctx, schedule, now); err != nil {
			return fmt.Errorf("waiting for schedule: %w", err)
		}
	}

	run, err := executor.StartRun(ctx, exe, q)
	if err != nil {
		return err
	}
	slog.DebugContext(ctx, "run started", "run", run.ID, "jobs", q.Len())

	var state model.RunState
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		state = service.Drain(gctx, run.Events(), sinks...)
		if state == model.RunCancelled {
			return model.ErrCancelled
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "cancelling run", "run", run.ID)
			run.Cancel()
		case <-run.Done():
		}
		return nil
	})
	err = g.Wait()

	counts := q.Counts()
	slog.InfoContext(ctx, "run finished",
		"state", state.String(),
		"done", counts[model.StatusDone],
		"failed", counts[model.StatusFailed],
		"pending", counts[model.StatusPending],
		"rendering", counts[model.StatusRendering],
	)
	if err != nil {
		return err
	}
	if counts[model.StatusFailed] > 0 {
		return fmt.Errorf("%d of %d jobs failed", counts[model.StatusFailed], q.Len())
	}
	return nil
}

// executable returns a renderer path, --blender has precedence over
// RENDERQ_BLENDER, which has precedence over the config file.
func executable() string {
	if flagBlender != "" {
		return flagBlender
	}
	if env := strings.TrimSpace(os.Getenv(envBlender)); env != "" {
		return env
	}
	return config.Blender
}

