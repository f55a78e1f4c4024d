package orchestration

import (
	"fmt"
	"sort"
	"strings"
)

// buildDailyPrompt renders the day's record and scores into the analysis
// prompt. The model is asked for a JSON object so the gateway descriptors
// can parse the reply structurally.
func buildDailyPrompt(rc *Context) (string, error) {
	if rc.SourceRecord == nil {
		return "", fmt.Errorf("no source record to build prompt from")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a reflective journaling assistant. Review my log for %s.\n\n", rc.Date)

	b.WriteString("Log entry:\n")
	for _, key := range sortedKeys(rc.SourceRecord) {
		fmt.Fprintf(&b, "- %s: %s\n", key, rc.SourceRecord[key])
	}

	b.WriteString("\nDerived scores:\n")
	writeScores(&b, rc)

	b.WriteString("\nRespond with only a JSON object with keys " +
		`"summary", "mood" and "advice".`)
	return b.String(), nil
}

// buildWeeklyPrompt renders the aggregated week.
func buildWeeklyPrompt(rc *Context) (string, error) {
	if len(rc.SourceRecords) == 0 {
		return "", fmt.Errorf("no records to build weekly prompt from")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a reflective journaling assistant. Review my week %s to %s (%d logged days).\n\n",
		rc.Week.Start, rc.Week.End, len(rc.SourceRecords))

	b.WriteString("Average scores:\n")
	writeScores(&b, rc)

	b.WriteString("\nLogged behaviors by day:\n")
	for _, record := range rc.SourceRecords {
		fmt.Fprintf(&b, "- %s: %s\n", record["date"], record["behaviors"])
	}

	b.WriteString("\nRespond with only a JSON object with keys " +
		`"summary", "mood" and "advice".`)
	return b.String(), nil
}

func writeScores(b *strings.Builder, rc *Context) {
	domains := make([]string, 0, len(rc.Scores))
	for dom := range rc.Scores {
		domains = append(domains, dom)
	}
	sort.Strings(domains)
	for _, dom := range domains {
		fmt.Fprintf(b, "- %s: %s\n", dom, formatScore(rc.Scores[dom].Total))
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// dailySubject and friends are the minimal text rendering the notification
// boundary consumes; real templating is out of scope.

func dailySubject(rc *Context) string {
	return fmt.Sprintf("Daily reflection for %s", rc.Date)
}

func dailyBody(rc *Context) string {
	var b strings.Builder
	writeScores(&b, rc)
	if rc.Analysis.Summary != "" {
		fmt.Fprintf(&b, "\n%s\n", rc.Analysis.Summary)
	}
	if rc.Analysis.Advice != "" {
		fmt.Fprintf(&b, "\nAdvice: %s\n", rc.Analysis.Advice)
	}
	return b.String()
}

func weeklySubject(rc *Context) string {
	return fmt.Sprintf("Weekly reflection %s - %s", rc.Week.Start, rc.Week.End)
}

func weeklyBody(rc *Context) string {
	var b strings.Builder
	writeScores(&b, rc)
	if rc.Analysis.Summary != "" {
		fmt.Fprintf(&b, "\n%s\n", rc.Analysis.Summary)
	}
	return b.String()
}
