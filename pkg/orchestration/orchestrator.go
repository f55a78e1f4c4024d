package orchestration

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/daymark/daymark/pkg/bus"
	"github.com/daymark/daymark/pkg/calc"
	"github.com/daymark/daymark/pkg/domain"
	"github.com/daymark/daymark/pkg/gateway"
	"github.com/daymark/daymark/pkg/notify"
	"github.com/daymark/daymark/pkg/schema"
	"github.com/daymark/daymark/pkg/store"
)

// DateLayout is the journal's date format.
const DateLayout = "2006/01/02"

// Analyzer is the slice of the gateway the orchestrator needs.
type Analyzer interface {
	Call(ctx context.Context, prompt string, opts gateway.CallOptions) (gateway.Analysis, error)
	ActiveProvider() string
}

// Config sets the orchestrator's fixed collaborator parameters.
type Config struct {
	LogEntity    string
	ReportEntity string
	Recipient    string
	// BatchDelay is the blocking pause between sequential batch items, a
	// rate-limiting courtesy to the external API.
	BatchDelay time.Duration
	// ScoreDomains lists which calculator domains a run scores.
	ScoreDomains []string
}

func (c *Config) applyDefaults() {
	if c.LogEntity == "" {
		c.LogEntity = "daily_log"
	}
	if c.ReportEntity == "" {
		c.ReportEntity = "daily_report"
	}
	if len(c.ScoreDomains) == 0 {
		c.ScoreDomains = []string{"behavior", "sleep"}
	}
}

// Orchestrator wires the pipeline stages onto the bus and exposes the
// run entry points. Stage handlers are stateless with respect to runs.
type Orchestrator struct {
	events   *bus.Bus
	schemas  *schema.Registry
	calcs    *calc.Registry
	analyzer Analyzer
	journal  store.Tabular
	notifier notify.Notifier
	logger   *slog.Logger
	cfg      Config

	// sleep is swapped out in tests.
	sleep func(time.Duration)
}

// New creates the orchestrator and registers the stage listeners for both
// state machines. Registration happens once per machine type, not per run.
func New(
	events *bus.Bus,
	schemas *schema.Registry,
	calcs *calc.Registry,
	analyzer Analyzer,
	journal store.Tabular,
	notifier notify.Notifier,
	cfg Config,
	logger *slog.Logger,
) *Orchestrator {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	o := &Orchestrator{
		events:   events,
		schemas:  schemas,
		calcs:    calcs,
		analyzer: analyzer,
		journal:  journal,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
		sleep:    time.Sleep,
	}

	// Daily machine.
	events.Subscribe(domain.EventDailyStarted, o.onDailyStarted)
	events.Subscribe(domain.EventDailyDataRead, o.onDailyDataRead)
	events.Subscribe(domain.EventDailyScoresCalculated, o.onDailyScoresCalculated)
	events.Subscribe(domain.EventDailyPromptReady, o.onDailyPromptReady)
	events.Subscribe(domain.EventDailyAnalysisDone, o.onDailyAnalysisDone)
	events.Subscribe(domain.EventDailySaved, o.onDailySaved)

	// Weekly machine.
	events.Subscribe(domain.EventWeeklyStarted, o.onWeeklyStarted)
	events.Subscribe(domain.EventWeeklyDataCollected, o.onWeeklyDataCollected)
	events.Subscribe(domain.EventWeeklyScoresAggregated, o.onWeeklyScoresAggregated)
	events.Subscribe(domain.EventWeeklyPromptReady, o.onWeeklyPromptReady)
	events.Subscribe(domain.EventWeeklyAnalysisReceived, o.onWeeklyAnalysisReceived)

	return o
}

// ---------------------------------------------------------------------------
// Run entry points
// ---------------------------------------------------------------------------

// RunDaily executes the daily pipeline for one date and blocks until the
// run's completion handle settles.
func (o *Orchestrator) RunDaily(ctx context.Context, date string, opts Options) (*Result, error) {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return nil, fmt.Errorf("bad date %q: %w", date, err)
	}
	rc := o.newContext(opts)
	rc.Date = date
	return o.start(ctx, domain.EventDailyStarted, domain.EventDailyCompleted, domain.EventDailyFailed, rc)
}

// RunWeekly executes the weekly pipeline for the seven days starting at
// weekStart.
func (o *Orchestrator) RunWeekly(ctx context.Context, weekStart string, opts Options) (*Result, error) {
	start, err := time.Parse(DateLayout, weekStart)
	if err != nil {
		return nil, fmt.Errorf("bad week start %q: %w", weekStart, err)
	}
	rc := o.newContext(opts)
	rc.Week = WeekRange{
		Start: weekStart,
		End:   start.AddDate(0, 0, 6).Format(DateLayout),
	}
	return o.start(ctx, domain.EventWeeklyStarted, domain.EventWeeklyCompleted, domain.EventWeeklyFailed, rc)
}

// newContext creates a run context and captures the active-version snapshot.
func (o *Orchestrator) newContext(opts Options) *Context {
	snap := Snapshot{
		Provider:     opts.Provider,
		CalcVersions: make(map[string]string, len(o.cfg.ScoreDomains)),
	}
	if snap.Provider == "" {
		snap.Provider = o.analyzer.ActiveProvider()
	}
	for _, dom := range o.cfg.ScoreDomains {
		if v, err := o.calcs.ActiveVersion(dom); err == nil {
			snap.CalcVersions[dom] = v
		}
	}
	if v, err := o.schemas.ActiveVersion(o.cfg.LogEntity); err == nil {
		snap.LogSchemaVersion = v.Number
	}
	if v, err := o.schemas.ActiveVersion(o.cfg.ReportEntity); err == nil {
		snap.ReportSchemaVersion = v.Number
	}

	return &Context{
		RunID:     domain.NewRunID(),
		StartTime: time.Now().UTC(),
		Options:   opts,
		Snapshot:  snap,
		Scores:    make(map[string]calc.Result),
	}
}

// start registers the run's one-shot terminal listeners before publishing
// STARTED. Publishing first could miss the terminal event.
func (o *Orchestrator) start(ctx context.Context, started, completed, failed domain.EventType, rc *Context) (*Result, error) {
	h := newHandle()

	var subDone, subFail *bus.Subscription
	unhook := func() {
		o.events.Unsubscribe(subDone)
		o.events.Unsubscribe(subFail)
	}
	subDone = o.events.Subscribe(completed, func(_ context.Context, p any) error {
		done, ok := p.(*Context)
		if !ok || done.RunID != rc.RunID {
			return nil
		}
		unhook()
		h.resolve(resultFrom(done))
		return nil
	})
	subFail = o.events.Subscribe(failed, func(_ context.Context, p any) error {
		f, ok := p.(*Failure)
		if !ok || f.Ctx.RunID != rc.RunID {
			return nil
		}
		unhook()
		h.reject(domain.NewRunError(f.Phase, f.Err))
		return nil
	})

	o.events.Publish(ctx, started, rc)
	return h.wait(ctx)
}

// fail publishes the machine's terminal failure event, tagged with the
// phase the run died in.
func (o *Orchestrator) fail(ctx context.Context, failed domain.EventType, rc *Context, phase string, err error) {
	o.logger.Error("pipeline stage failed",
		slog.String("run", rc.RunID.String()),
		slog.String("phase", phase),
		slog.Any("error", err))
	o.events.Publish(ctx, failed, &Failure{Ctx: rc, Phase: phase, Err: err})
}

// ---------------------------------------------------------------------------
// Daily stages
// ---------------------------------------------------------------------------

func runContext(p any) (*Context, error) {
	rc, ok := p.(*Context)
	if !ok {
		return nil, fmt.Errorf("unexpected pipeline payload %T", p)
	}
	return rc, nil
}

func (o *Orchestrator) onDailyStarted(ctx context.Context, p any) error {
	rc, err := runContext(p)
	if err != nil {
		return err
	}
	record, err := o.readDay(ctx, rc.Date)
	if err != nil {
		o.fail(ctx, domain.EventDailyFailed, rc, PhaseDataRead, err)
		return nil
	}
	rc.SourceRecord = record
	o.events.Publish(ctx, domain.EventDailyDataRead, rc)
	return nil
}

func (o *Orchestrator) onDailyDataRead(ctx context.Context, p any) error {
	rc, err := runContext(p)
	if err != nil {
		return err
	}
	if err := o.scoreRecord(rc, rc.SourceRecord, rc.Date); err != nil {
		o.fail(ctx, domain.EventDailyFailed, rc, PhaseScoresCalculated, err)
		return nil
	}
	o.events.Publish(ctx, domain.EventDailyScoresCalculated, rc)
	return nil
}

func (o *Orchestrator) onDailyScoresCalculated(ctx context.Context, p any) error {
	rc, err := runContext(p)
	if err != nil {
		return err
	}
	prompt, err := buildDailyPrompt(rc)
	if err != nil {
		o.fail(ctx, domain.EventDailyFailed, rc, PhasePromptReady, err)
		return nil
	}
	rc.Prompt = prompt
	o.events.Publish(ctx, domain.EventDailyPromptReady, rc)
	return nil
}

func (o *Orchestrator) onDailyPromptReady(ctx context.Context, p any) error {
	rc, err := runContext(p)
	if err != nil {
		return err
	}
	analysis, err := o.analyzer.Call(ctx, rc.Prompt, gateway.CallOptions{Provider: rc.Snapshot.Provider})
	if err != nil {
		o.fail(ctx, domain.EventDailyFailed, rc, PhaseAnalysisDone, err)
		return nil
	}
	rc.Analysis = analysis
	o.events.Publish(ctx, domain.EventDailyAnalysisDone, rc)
	return nil
}

func (o *Orchestrator) onDailyAnalysisDone(ctx context.Context, p any) error {
	rc, err := runContext(p)
	if err != nil {
		return err
	}
	if err := o.saveReport(ctx, rc); err != nil {
		o.fail(ctx, domain.EventDailyFailed, rc, PhaseSaved, err)
		return nil
	}
	o.events.Publish(ctx, domain.EventDailySaved, rc)
	return nil
}

func (o *Orchestrator) onDailySaved(ctx context.Context, p any) error {
	rc, err := runContext(p)
	if err != nil {
		return err
	}
	// The report is already persisted; notification failure is recorded
	// on the context, never escalated to FAILED.
	o.notifyRun(ctx, rc, dailySubject(rc), dailyBody(rc))
	o.events.Publish(ctx, domain.EventDailyCompleted, rc)
	return nil
}

// ---------------------------------------------------------------------------
// Weekly stages
// ---------------------------------------------------------------------------

func (o *Orchestrator) onWeeklyStarted(ctx context.Context, p any) error {
	rc, err := runContext(p)
	if err != nil {
		return err
	}
	records, err := o.readWeek(ctx, rc.Week)
	if err != nil {
		o.fail(ctx, domain.EventWeeklyFailed, rc, PhaseDataCollected, err)
		return nil
	}
	rc.SourceRecords = records
	o.events.Publish(ctx, domain.EventWeeklyDataCollected, rc)
	return nil
}

func (o *Orchestrator) onWeeklyDataCollected(ctx context.Context, p any) error {
	rc, err := runContext(p)
	if err != nil {
		return err
	}
	if len(rc.SourceRecords) == 0 {
		rc.NoData = true
		o.events.Publish(ctx, domain.EventWeeklyScoresAggregated, rc)
		return nil
	}
	if err := o.aggregateScores(rc); err != nil {
		o.fail(ctx, domain.EventWeeklyFailed, rc, PhaseScoresAggregated, err)
		return nil
	}
	o.events.Publish(ctx, domain.EventWeeklyScoresAggregated, rc)
	return nil
}

func (o *Orchestrator) onWeeklyScoresAggregated(ctx context.Context, p any) error {
	rc, err := runContext(p)
	if err != nil {
		return err
	}
	if rc.NoData {
		// An empty week is a normal state, not a fault: complete without
		// analyzing or notifying.
		rc.EmailSkipped = true
		o.events.Publish(ctx, domain.EventWeeklyCompleted, rc)
		return nil
	}
	prompt, err := buildWeeklyPrompt(rc)
	if err != nil {
		o.fail(ctx, domain.EventWeeklyFailed, rc, PhasePromptReady, err)
		return nil
	}
	rc.Prompt = prompt
	o.events.Publish(ctx, domain.EventWeeklyPromptReady, rc)
	return nil
}

func (o *Orchestrator) onWeeklyPromptReady(ctx context.Context, p any) error {
	rc, err := runContext(p)
	if err != nil {
		return err
	}
	analysis, err := o.analyzer.Call(ctx, rc.Prompt, gateway.CallOptions{Provider: rc.Snapshot.Provider})
	if err != nil {
		o.fail(ctx, domain.EventWeeklyFailed, rc, PhaseAnalysisReceived, err)
		return nil
	}
	rc.Analysis = analysis
	o.events.Publish(ctx, domain.EventWeeklyAnalysisReceived, rc)
	return nil
}

func (o *Orchestrator) onWeeklyAnalysisReceived(ctx context.Context, p any) error {
	rc, err := runContext(p)
	if err != nil {
		return err
	}
	o.notifyRun(ctx, rc, weeklySubject(rc), weeklyBody(rc))
	o.events.Publish(ctx, domain.EventWeeklyCompleted, rc)
	return nil
}

// ---------------------------------------------------------------------------
// Stage work
// ---------------------------------------------------------------------------

func (o *Orchestrator) readDay(ctx context.Context, date string) (map[string]string, error) {
	headers, rows, err := o.journal.ReadRows(ctx, o.cfg.LogEntity)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", o.cfg.LogEntity, err)
	}
	o.observeDrift(ctx, o.cfg.LogEntity, headers)

	for _, row := range rows {
		record, err := o.schemas.MapRow(o.cfg.LogEntity, headers, row)
		if err != nil {
			return nil, err
		}
		if record["date"] == date {
			return record, nil
		}
	}
	return nil, fmt.Errorf("no journal entry for %s", date)
}

func (o *Orchestrator) readWeek(ctx context.Context, week WeekRange) ([]map[string]string, error) {
	headers, rows, err := o.journal.ReadRows(ctx, o.cfg.LogEntity)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", o.cfg.LogEntity, err)
	}
	o.observeDrift(ctx, o.cfg.LogEntity, headers)

	var records []map[string]string
	for _, row := range rows {
		record, err := o.schemas.MapRow(o.cfg.LogEntity, headers, row)
		if err != nil {
			return nil, err
		}
		date := record["date"]
		if date >= week.Start && date <= week.End {
			records = append(records, record)
		}
	}
	return records, nil
}

// observeDrift warns and publishes; drift never fails a run.
func (o *Orchestrator) observeDrift(ctx context.Context, entity string, headers []string) {
	drift, err := o.schemas.DetectDrift(entity, headers)
	if err != nil || !drift.HasDrift {
		return
	}
	o.logger.Warn("schema drift detected",
		slog.String("entity", entity),
		slog.Any("missing", drift.Missing),
		slog.Any("extra", drift.Extra))
	o.events.Publish(ctx, domain.EventSchemaDrift, drift)
}

// scoreRecord runs every snapshotted calculator version over one record.
func (o *Orchestrator) scoreRecord(rc *Context, record map[string]string, date string) error {
	for _, dom := range o.cfg.ScoreDomains {
		version, ok := rc.Snapshot.CalcVersions[dom]
		if !ok {
			return fmt.Errorf("no calculator snapshotted for domain %s", dom)
		}
		impl, err := o.calcs.Version(dom, version)
		if err != nil {
			return err
		}
		res, err := impl.Calculate(calc.Input{Date: date, Fields: record})
		if err != nil {
			return fmt.Errorf("score %s: %w", dom, err)
		}
		rc.Scores[dom] = res
	}
	return nil
}

// aggregateScores averages each domain's total over the collected records.
func (o *Orchestrator) aggregateScores(rc *Context) error {
	for _, domName := range o.cfg.ScoreDomains {
		version, ok := rc.Snapshot.CalcVersions[domName]
		if !ok {
			return fmt.Errorf("no calculator snapshotted for domain %s", domName)
		}
		impl, err := o.calcs.Version(domName, version)
		if err != nil {
			return err
		}

		var sum float64
		for _, record := range rc.SourceRecords {
			res, err := impl.Calculate(calc.Input{Date: record["date"], Fields: record})
			if err != nil {
				return fmt.Errorf("score %s for %s: %w", domName, record["date"], err)
			}
			sum += res.Total
		}
		n := len(rc.SourceRecords)
		rc.Scores[domName] = calc.Result{
			Total:   sum / float64(n),
			Details: map[string]float64{"days": float64(n)},
		}
	}
	return nil
}

// saveReport writes the report row, overwriting the date's existing row if
// one exists.
func (o *Orchestrator) saveReport(ctx context.Context, rc *Context) error {
	v, err := o.schemas.GetVersion(o.cfg.ReportEntity, rc.Snapshot.ReportSchemaVersion)
	if err != nil {
		return err
	}

	logical := map[string]string{
		"date":        rc.Date,
		"behaviorRaw": formatScore(rc.Scores["behavior"].Total),
		"sleepScore":  formatScore(rc.Scores["sleep"].Total),
		"summary":     rc.Analysis.Summary,
		"mood":        rc.Analysis.Mood,
		"advice":      rc.Analysis.Advice,
	}
	rc.ReportData = logical
	record := v.Record(logical)

	dateLabel, ok := v.Label("date")
	if !ok {
		return fmt.Errorf("report schema v%d has no date field", v.Number)
	}
	idx, found, err := o.journal.FindRowMatching(ctx, o.cfg.ReportEntity, func(r map[string]string) bool {
		return r[dateLabel] == rc.Date
	})
	if err != nil {
		return fmt.Errorf("find report row: %w", err)
	}

	if found {
		rc.WasUpdated = true
		return o.journal.WriteRows(ctx, o.cfg.ReportEntity,
			[]map[string]string{record}, store.WriteOptions{AtRowIndex: idx})
	}
	return o.journal.WriteRows(ctx, o.cfg.ReportEntity,
		[]map[string]string{record}, store.WriteOptions{Append: true})
}

// notifyRun dispatches the notification, recording rather than escalating
// failure.
func (o *Orchestrator) notifyRun(ctx context.Context, rc *Context, subject, body string) {
	recipient := rc.Options.Recipient
	if recipient == "" {
		recipient = o.cfg.Recipient
	}
	if rc.Options.SkipNotify || recipient == "" {
		rc.EmailSkipped = true
		return
	}

	err := o.notifier.Send(ctx, notify.Message{Subject: subject, Body: body, Recipient: recipient})
	if err != nil {
		rc.EmailSent = false
		rc.EmailError = err.Error()
		o.logger.Warn("notification failed",
			slog.String("run", rc.RunID.String()),
			slog.Any("error", err))
		return
	}
	rc.EmailSent = true
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
