package trigger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daymark/daymark/pkg/bus"
	"github.com/daymark/daymark/pkg/domain"
)

func TestAddJobValidatesExpression(t *testing.T) {
	s := New(bus.New(), time.Minute, nil)

	err := s.AddJob(Job{Name: "daily", Expr: "not a cron", Run: func(context.Context, time.Time) error { return nil }})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron expression")

	err = s.AddJob(Job{Expr: "* * * * *"})
	assert.Error(t, err)

	err = s.AddJob(Job{Name: "daily", Expr: "0 7 * * *", Run: func(context.Context, time.Time) error { return nil }})
	assert.NoError(t, err)
}

func TestPassFiresDueJobsAndPublishes(t *testing.T) {
	events := bus.New()
	s := New(events, time.Minute, nil)

	var fired []time.Time
	require.NoError(t, s.AddJob(Job{
		Name: "daily",
		Expr: "0 7 * * *",
		Run: func(_ context.Context, at time.Time) error {
			fired = append(fired, at)
			return nil
		},
	}))

	at := time.Date(2025, 6, 10, 7, 0, 12, 0, time.UTC)
	s.pass(context.Background(), at)

	require.Len(t, fired, 1)
	assert.Equal(t, at, fired[0])

	history := events.History(0)
	require.Len(t, history, 1)
	assert.Equal(t, domain.EventTriggerFired, history[0].Type)
	firing := history[0].Payload.(Firing)
	assert.Equal(t, "daily", firing.Job)
}

func TestPassDeduplicatesWithinMinute(t *testing.T) {
	s := New(bus.New(), time.Minute, nil)

	count := 0
	require.NoError(t, s.AddJob(Job{
		Name: "daily",
		Expr: "0 7 * * *",
		Run:  func(context.Context, time.Time) error { count++; return nil },
	}))

	base := time.Date(2025, 6, 10, 7, 0, 0, 0, time.UTC)
	s.pass(context.Background(), base.Add(5*time.Second))
	s.pass(context.Background(), base.Add(35*time.Second))
	assert.Equal(t, 1, count)

	// The next day's firing is a fresh minute.
	s.pass(context.Background(), base.AddDate(0, 0, 1))
	assert.Equal(t, 2, count)
}

func TestPassSkipsNotDueJobs(t *testing.T) {
	s := New(bus.New(), time.Minute, nil)

	count := 0
	require.NoError(t, s.AddJob(Job{
		Name: "weekly",
		Expr: "0 8 * * 1",
		Run:  func(context.Context, time.Time) error { count++; return nil },
	}))

	// 2025-06-10 is a Tuesday.
	s.pass(context.Background(), time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC))
	assert.Equal(t, 0, count)

	// 2025-06-09 is a Monday.
	s.pass(context.Background(), time.Date(2025, 6, 9, 8, 0, 0, 0, time.UTC))
	assert.Equal(t, 1, count)
}

func TestJobErrorDoesNotStopOthers(t *testing.T) {
	s := New(bus.New(), time.Minute, nil)

	ran := false
	require.NoError(t, s.AddJob(Job{
		Name: "broken",
		Expr: "* * * * *",
		Run:  func(context.Context, time.Time) error { return errors.New("boom") },
	}))
	require.NoError(t, s.AddJob(Job{
		Name: "healthy",
		Expr: "* * * * *",
		Run:  func(context.Context, time.Time) error { ran = true; return nil },
	}))

	s.pass(context.Background(), time.Date(2025, 6, 10, 12, 30, 0, 0, time.UTC))
	assert.True(t, ran)
}

func TestStartStop(t *testing.T) {
	s := New(bus.New(), time.Second, nil)
	s.Start(context.Background())
	s.Stop()
}
