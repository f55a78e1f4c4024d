package calc

import (
	"fmt"
	"strconv"
	"strings"
)

// maxSleepHours caps the duration component; sleeping twelve hours is not
// better than eight.
const maxSleepHours = 8

// SleepV1 scores a night of sleep from its HHMM start/end times and a 1-5
// subjective quality rating. Total = capped duration hours + quality.
type SleepV1 struct{}

// NewSleepV1 creates the v1 sleep calculator.
func NewSleepV1() *SleepV1 { return &SleepV1{} }

// Calculate derives the sleep duration (crossing midnight when end <= start)
// and adds the quality rating.
func (c *SleepV1) Calculate(in Input) (Result, error) {
	start, err := parseHHMM(in.Fields["sleepStart"])
	if err != nil {
		return Result{}, fmt.Errorf("sleep start: %w", err)
	}
	end, err := parseHHMM(in.Fields["sleepEnd"])
	if err != nil {
		return Result{}, fmt.Errorf("sleep end: %w", err)
	}

	minutes := end - start
	if minutes <= 0 {
		minutes += 24 * 60
	}
	hours := float64(minutes) / 60
	if hours > maxSleepHours {
		hours = maxSleepHours
	}

	quality := 0.0
	if q := strings.TrimSpace(in.Fields["sleepQuality"]); q != "" {
		quality, err = strconv.ParseFloat(q, 64)
		if err != nil {
			return Result{}, fmt.Errorf("sleep quality %q: %w", q, err)
		}
	}

	return Result{
		Total: hours + quality,
		Details: map[string]float64{
			"durationHours": hours,
			"quality":       quality,
		},
	}, nil
}

// Metadata implements Calculator.
func (c *SleepV1) Metadata() Metadata {
	return Metadata{
		Domain:      "sleep",
		Version:     "v1",
		Description: "capped duration hours plus subjective quality",
	}
}

// parseHHMM converts a wall-clock string like "2300" to minutes since
// midnight.
func parseHHMM(s string) (int, error) {
	s = strings.TrimSpace(s)
	if len(s) != 4 {
		return 0, fmt.Errorf("want HHMM, got %q", s)
	}
	hh, err := strconv.Atoi(s[:2])
	if err != nil || hh > 23 {
		return 0, fmt.Errorf("bad hour in %q", s)
	}
	mm, err := strconv.Atoi(s[2:])
	if err != nil || mm > 59 {
		return 0, fmt.Errorf("bad minute in %q", s)
	}
	return hh*60 + mm, nil
}

var _ Calculator = (*SleepV1)(nil)
