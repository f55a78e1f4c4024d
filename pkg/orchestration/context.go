// Package orchestration drives the daily and weekly pipeline state machines.
// Stages are bus listeners registered once per machine type; everything a
// run accumulates lives in its Context, which is what keeps concurrent runs
// apart.
package orchestration

import (
	"time"

	"github.com/daymark/daymark/pkg/calc"
	"github.com/daymark/daymark/pkg/domain"
	"github.com/daymark/daymark/pkg/gateway"
)

// Stage phase names, used to tag terminal failures.
const (
	PhaseDataRead         = "data_read"
	PhaseDataCollected    = "data_collected"
	PhaseScoresCalculated = "scores_calculated"
	PhaseScoresAggregated = "scores_aggregated"
	PhasePromptReady      = "prompt_ready"
	PhaseAnalysisDone     = "analysis_done"
	PhaseAnalysisReceived = "analysis_received"
	PhaseSaved            = "saved"
)

// Options tune one run.
type Options struct {
	// Recipient overrides the configured notification recipient.
	Recipient string
	// SkipNotify suppresses the notification stage entirely.
	SkipNotify bool
	// Provider overrides the gateway's active provider for this run.
	Provider string
}

// Snapshot pins the process-wide selectors a run observed at STARTED.
// Stages read the snapshot, never the live registries, so switching an
// active version mid-flight cannot change a run's behavior.
type Snapshot struct {
	LogSchemaVersion    int
	ReportSchemaVersion int
	CalcVersions        map[string]string
	Provider            string
}

// WeekRange is an inclusive date range, both bounds in journal date format.
type WeekRange struct {
	Start string
	End   string
}

// Context is the single mutable accumulator threaded through one run.
// Exactly one exists per run; stages must not reach outside it.
type Context struct {
	RunID     domain.RunID
	StartTime time.Time
	Options   Options
	Snapshot  Snapshot

	// Daily runs carry a single date and record; weekly runs a range and
	// a record list.
	Date string
	Week WeekRange

	SourceRecord  map[string]string
	SourceRecords []map[string]string

	Scores     map[string]calc.Result
	Prompt     string
	Analysis   gateway.Analysis
	ReportData map[string]string

	WasUpdated   bool
	NoData       bool
	EmailSent    bool
	EmailSkipped bool
	EmailError   string
}

// Failure is the payload of a pipeline's FAILED event.
type Failure struct {
	Ctx   *Context
	Phase string
	Err   error
}

// Result is what a settled completion handle resolves with.
type Result struct {
	RunID        domain.RunID
	Date         string
	Week         WeekRange
	Scores       map[string]calc.Result
	Analysis     gateway.Analysis
	WasUpdated   bool
	NoData       bool
	EmailSent    bool
	EmailSkipped bool
	EmailError   string
	Duration     time.Duration
}

func resultFrom(rc *Context) *Result {
	return &Result{
		RunID:        rc.RunID,
		Date:         rc.Date,
		Week:         rc.Week,
		Scores:       rc.Scores,
		Analysis:     rc.Analysis,
		WasUpdated:   rc.WasUpdated,
		NoData:       rc.NoData,
		EmailSent:    rc.EmailSent,
		EmailSkipped: rc.EmailSkipped,
		EmailError:   rc.EmailError,
		Duration:     time.Since(rc.StartTime),
	}
}
