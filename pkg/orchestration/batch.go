package orchestration

import (
	"context"
	"fmt"
	"time"
)

// BatchResult tallies a date-range run. One date's failure never aborts the
// batch; its error is recorded and the next date proceeds.
type BatchResult struct {
	Total   int
	Success int
	Failed  int
	Errors  []string
}

// RunBatch runs the daily pipeline for each date sequentially (never
// concurrently, to respect external rate limits), pausing BatchDelay
// between items.
func (o *Orchestrator) RunBatch(ctx context.Context, dates []string, opts Options) BatchResult {
	out := BatchResult{Total: len(dates)}
	for i, date := range dates {
		if i > 0 && o.cfg.BatchDelay > 0 {
			o.sleep(o.cfg.BatchDelay)
		}
		if _, err := o.RunDaily(ctx, date, opts); err != nil {
			out.Failed++
			out.Errors = append(out.Errors, fmt.Sprintf("%s: %v", date, err))
			continue
		}
		out.Success++
	}
	return out
}

// RunRange expands an inclusive date range and runs it as a batch.
func (o *Orchestrator) RunRange(ctx context.Context, from, to string, opts Options) (BatchResult, error) {
	dates, err := DatesBetween(from, to)
	if err != nil {
		return BatchResult{}, err
	}
	return o.RunBatch(ctx, dates, opts), nil
}

// DatesBetween lists every date from from to to, inclusive.
func DatesBetween(from, to string) ([]string, error) {
	start, err := time.Parse(DateLayout, from)
	if err != nil {
		return nil, fmt.Errorf("bad range start %q: %w", from, err)
	}
	end, err := time.Parse(DateLayout, to)
	if err != nil {
		return nil, fmt.Errorf("bad range end %q: %w", to, err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("range end %s precedes start %s", to, from)
	}

	var dates []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format(DateLayout))
	}
	return dates, nil
}
