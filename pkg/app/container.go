// Package app is the composition root: it wires the bus, registries,
// store, gateway, notifier, orchestrator and scheduler from one Config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/daymark/daymark/pkg/bus"
	"github.com/daymark/daymark/pkg/calc"
	"github.com/daymark/daymark/pkg/config"
	"github.com/daymark/daymark/pkg/gateway"
	"github.com/daymark/daymark/pkg/notify"
	"github.com/daymark/daymark/pkg/orchestration"
	"github.com/daymark/daymark/pkg/schema"
	"github.com/daymark/daymark/pkg/store"
	"github.com/daymark/daymark/pkg/trigger"
)

const (
	logEntity    = "daily_log"
	reportEntity = "daily_report"
)

// Container holds the wired application services.
type Container struct {
	Config       *config.Config
	Logger       *slog.Logger
	Events       *bus.Bus
	Schemas      *schema.Registry
	Calcs        *calc.Registry
	Journal      store.Tabular
	Gateway      *gateway.Gateway
	Notifier     notify.Notifier
	Orchestrator *orchestration.Orchestrator
	Scheduler    *trigger.Scheduler

	closeJournal func() error
}

// New wires a container from configuration. The returned container owns
// its resources; call Close when done.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Container{
		Config: cfg,
		Logger: logger,
		Events: bus.New(bus.WithLogger(logger)),
	}

	if err := c.buildSchemas(); err != nil {
		return nil, err
	}
	if err := c.buildCalcs(); err != nil {
		return nil, err
	}
	if err := c.buildJournal(ctx); err != nil {
		return nil, err
	}
	if err := c.buildGateway(); err != nil {
		c.Close()
		return nil, err
	}
	c.buildNotifier()

	c.Orchestrator = orchestration.New(
		c.Events, c.Schemas, c.Calcs, c.Gateway, c.Journal, c.Notifier,
		orchestration.Config{
			LogEntity:    logEntity,
			ReportEntity: reportEntity,
			Recipient:    cfg.Recipient,
			BatchDelay:   cfg.BatchDelay.Std(),
		},
		logger,
	)

	if err := c.buildScheduler(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Close releases the container's resources.
func (c *Container) Close() {
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
	if c.closeJournal != nil {
		if err := c.closeJournal(); err != nil {
			c.Logger.Warn("closing journal store", slog.Any("error", err))
		}
	}
	c.Events.Close()
}

func (c *Container) buildSchemas() error {
	c.Schemas = schema.NewRegistry(c.Logger)

	if path := c.Config.SchemaSeed; path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read schema seed %s: %w", path, err)
		}
		return c.Schemas.LoadSeed(raw)
	}

	if err := c.Schemas.Register(logEntity, 1, []schema.Field{
		{Logical: "date", Label: "Date"},
		{Logical: "behaviors", Label: "Behaviors"},
		{Logical: "sleepStart", Label: "Sleep Start"},
		{Logical: "sleepEnd", Label: "Sleep End"},
		{Logical: "sleepQuality", Label: "Sleep Quality"},
		{Logical: "notes", Label: "Notes"},
	}); err != nil {
		return err
	}
	return c.Schemas.Register(reportEntity, 1, []schema.Field{
		{Logical: "date", Label: "Date"},
		{Logical: "behaviorRaw", Label: "Behavior Raw"},
		{Logical: "sleepScore", Label: "Sleep Score"},
		{Logical: "summary", Label: "Summary"},
		{Logical: "mood", Label: "Mood"},
		{Logical: "advice", Label: "Advice"},
	})
}

func (c *Container) buildCalcs() error {
	c.Calcs = calc.NewRegistry(c.Logger)
	if err := c.Calcs.Register("behavior", "v1", calc.NewBehaviorV1()); err != nil {
		return err
	}
	return c.Calcs.Register("sleep", "v1", calc.NewSleepV1())
}

func (c *Container) buildJournal(ctx context.Context) error {
	switch c.Config.Store.Driver {
	case "sqlite":
		s, err := store.OpenSQLite(c.Config.Store.Path)
		if err != nil {
			return err
		}
		c.Journal = s
		c.closeJournal = s.Close
	default:
		c.Journal = store.NewMemoryStore()
	}

	for _, entity := range []string{logEntity, reportEntity} {
		headers, err := c.Schemas.Headers(entity)
		if err != nil {
			return err
		}
		if err := c.Journal.EnsureEntity(ctx, entity, headers); err != nil {
			return err
		}
	}
	return nil
}

func (c *Container) buildGateway() error {
	gw := c.Config.Gateway
	c.Gateway = gateway.New(c.Events, gateway.Options{
		MaxAttempts:   gw.MaxAttempts,
		BaseDelay:     gw.BaseDelay.Std(),
		BackoffFactor: gw.BackoffFactor,
		Timeout:       gw.Timeout.Std(),
	}, c.Logger)

	providers := c.Config.Providers()
	if len(providers) == 0 {
		c.Logger.Warn("no LLM provider configured; analysis calls will fail")
	}
	for _, p := range providers {
		pc := gateway.ProviderConfig{
			APIKey:    p.Provider.APIKey,
			Model:     p.Provider.Model,
			Endpoint:  p.Provider.Endpoint,
			MaxTokens: p.Provider.MaxTokens,
		}
		var d gateway.Descriptor
		switch p.Name {
		case "anthropic":
			d = gateway.NewAnthropicDescriptor(pc)
		case "openai":
			d = gateway.NewOpenAIDescriptor(pc)
		case "gemini":
			d = gateway.NewGeminiDescriptor(pc)
		}
		if err := c.Gateway.RegisterProvider(d); err != nil {
			return err
		}
	}

	if gw.Provider != "" {
		return c.Gateway.SelectProvider(gw.Provider)
	}
	return nil
}

func (c *Container) buildNotifier() {
	n := c.Config.Notify
	switch n.Kind {
	case "slack":
		c.Notifier = notify.NewSlackNotifier(n.Slack.Token, n.Slack.Channel)
	case "smtp":
		c.Notifier = notify.NewSMTPNotifier(n.SMTP.Host, n.SMTP.Port, n.SMTP.Username, n.SMTP.Password, n.SMTP.From)
	default:
		c.Notifier = notify.Nop{}
	}
}

// buildScheduler registers the unattended daily and weekly jobs. The daily
// job processes the previous day; the weekly job the previous full week.
func (c *Container) buildScheduler() error {
	sched := c.Config.Schedule
	c.Scheduler = trigger.New(c.Events, sched.Tick.Std(), c.Logger)

	if sched.Daily != "" {
		err := c.Scheduler.AddJob(trigger.Job{
			Name: "daily",
			Expr: sched.Daily,
			Run: func(ctx context.Context, at time.Time) error {
				_, err := c.Orchestrator.RunDaily(ctx, previousDay(at), orchestration.Options{})
				return err
			},
		})
		if err != nil {
			return err
		}
	}

	if sched.Weekly != "" {
		err := c.Scheduler.AddJob(trigger.Job{
			Name: "weekly",
			Expr: sched.Weekly,
			Run: func(ctx context.Context, at time.Time) error {
				_, err := c.Orchestrator.RunWeekly(ctx, previousWeekStart(at), orchestration.Options{})
				return err
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func previousDay(at time.Time) string {
	return at.AddDate(0, 0, -1).Format(orchestration.DateLayout)
}

// previousWeekStart returns the Monday of the last fully elapsed week.
func previousWeekStart(at time.Time) string {
	d := at
	for d.Weekday() != time.Monday {
		d = d.AddDate(0, 0, -1)
	}
	return d.AddDate(0, 0, -7).Format(orchestration.DateLayout)
}
