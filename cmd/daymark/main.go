// Command daymark runs the reflective-journaling pipelines: one-shot daily
// or weekly runs, date-range batches, or an unattended cron schedule.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/daymark/daymark/pkg/app"
	"github.com/daymark/daymark/pkg/config"
	"github.com/daymark/daymark/pkg/orchestration"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML config file")
		mode       = flag.String("mode", "daily", "daily, weekly, batch or schedule")
		date       = flag.String("date", "", "date to process (2006/01/02), default yesterday")
		weekStart  = flag.String("week-start", "", "first day of the week to process")
		from       = flag.String("from", "", "batch range start")
		to         = flag.String("to", "", "batch range end")
		skipNotify = flag.Bool("skip-notify", false, "suppress notifications")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	container, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("wiring failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer container.Close()

	if err := run(ctx, container, *mode, *date, *weekStart, *from, *to, *skipNotify); err != nil {
		logger.Error("run failed", slog.String("mode", *mode), slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, c *app.Container, mode, date, weekStart, from, to string, skipNotify bool) error {
	opts := orchestration.Options{SkipNotify: skipNotify}

	switch mode {
	case "daily":
		if date == "" {
			date = time.Now().AddDate(0, 0, -1).Format(orchestration.DateLayout)
		}
		result, err := c.Orchestrator.RunDaily(ctx, date, opts)
		if err != nil {
			return err
		}
		printResult(result)
		return nil

	case "weekly":
		if weekStart == "" {
			return fmt.Errorf("weekly mode requires -week-start")
		}
		result, err := c.Orchestrator.RunWeekly(ctx, weekStart, opts)
		if err != nil {
			return err
		}
		printResult(result)
		return nil

	case "batch":
		if from == "" || to == "" {
			return fmt.Errorf("batch mode requires -from and -to")
		}
		tally, err := c.Orchestrator.RunRange(ctx, from, to, opts)
		if err != nil {
			return err
		}
		fmt.Printf("batch: %d total, %d succeeded, %d failed\n", tally.Total, tally.Success, tally.Failed)
		for _, e := range tally.Errors {
			fmt.Println("  ", e)
		}
		if tally.Failed > 0 {
			return fmt.Errorf("%d of %d runs failed", tally.Failed, tally.Total)
		}
		return nil

	case "schedule":
		c.Scheduler.Start(ctx)
		c.Logger.Info("scheduler running",
			slog.String("daily", c.Config.Schedule.Daily),
			slog.String("weekly", c.Config.Schedule.Weekly))
		<-ctx.Done()
		c.Scheduler.Stop()
		return nil

	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
}

func printResult(r *orchestration.Result) {
	if r.NoData {
		fmt.Printf("week %s to %s: no journal entries\n", r.Week.Start, r.Week.End)
		return
	}
	if r.Date != "" {
		fmt.Println("date:", r.Date)
	} else {
		fmt.Printf("week: %s to %s\n", r.Week.Start, r.Week.End)
	}
	for name, score := range r.Scores {
		fmt.Printf("  %s: %g\n", name, score.Total)
	}
	if r.Analysis.Summary != "" {
		fmt.Println("  summary:", r.Analysis.Summary)
	}
	switch {
	case r.EmailSent:
		fmt.Println("  notification sent")
	case r.EmailError != "":
		fmt.Println("  notification failed:", r.EmailError)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
