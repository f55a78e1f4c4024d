package calc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daymark/daymark/pkg/domain"
)

// stubCalc is a configurable calculator for registry tests.
type stubCalc struct {
	meta Metadata
	fn   func(Input) (Result, error)
}

func (s *stubCalc) Calculate(in Input) (Result, error) { return s.fn(in) }
func (s *stubCalc) Metadata() Metadata                 { return s.meta }

func constCalc(dom, ver string, total float64) *stubCalc {
	return &stubCalc{
		meta: Metadata{Domain: dom, Version: ver, Description: "stub"},
		fn:   func(Input) (Result, error) { return Result{Total: total}, nil },
	}
}

func TestRegisterValidatesContract(t *testing.T) {
	tests := []struct {
		name string
		dom  string
		ver  string
		impl Calculator
	}{
		{name: "nil implementation", dom: "behavior", ver: "v1", impl: nil},
		{
			name: "empty metadata",
			dom:  "behavior", ver: "v1",
			impl: &stubCalc{fn: func(Input) (Result, error) { return Result{}, nil }},
		},
		{
			name: "metadata mismatch",
			dom:  "behavior", ver: "v1",
			impl: constCalc("sleep", "v1", 0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(nil)
			err := r.Register(tt.dom, tt.ver, tt.impl)
			require.ErrorIs(t, err, domain.ErrInvalidCalculatorContract)

			// Nothing was stored.
			_, err = r.Active(tt.dom)
			assert.ErrorIs(t, err, ErrUnknownDomain)
		})
	}
}

func TestActivateAffectsFutureCallsOnly(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register("behavior", "v1", constCalc("behavior", "v1", 1)))
	require.NoError(t, r.Register("behavior", "v2", constCalc("behavior", "v2", 2)))

	res, err := r.Calculate("behavior", Input{})
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Total)

	require.NoError(t, r.Activate("behavior", "v2"))
	res, err = r.Calculate("behavior", Input{})
	require.NoError(t, err)
	assert.Equal(t, 2.0, res.Total)

	// The old version stays registered and addressable.
	v1, err := r.Version("behavior", "v1")
	require.NoError(t, err)
	res, err = v1.Calculate(Input{})
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Total)
}

func TestActivateUnknown(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register("behavior", "v1", constCalc("behavior", "v1", 1)))

	assert.ErrorIs(t, r.Activate("behavior", "v9"), ErrUnknownVersion)
	assert.ErrorIs(t, r.Activate("nope", "v1"), ErrUnknownDomain)
}

func TestRecomputeHistoricalIsolatesFailures(t *testing.T) {
	r := NewRegistry(nil)
	flaky := &stubCalc{
		meta: Metadata{Domain: "behavior", Version: "v1"},
		fn: func(in Input) (Result, error) {
			switch in.Date {
			case "2025/06/02":
				return Result{}, errors.New("bad row")
			case "2025/06/03":
				panic("corrupt data")
			}
			return Result{Total: 5}, nil
		},
	}
	require.NoError(t, r.Register("behavior", "v1", flaky))

	entries := []HistoricalEntry{
		{Date: "2025/06/01", Score: 4},
		{Date: "2025/06/02", Score: 3},
		{Date: "2025/06/03", Score: 2},
		{Date: "2025/06/04", Score: 1},
	}
	results, err := r.RecomputeHistorical("behavior", "v1", entries)
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.True(t, results[0].Success)
	assert.Equal(t, 5.0, results[0].RecalculatedScore)
	assert.Equal(t, 4.0, results[0].OriginalScore)

	assert.False(t, results[1].Success)
	assert.Equal(t, "bad row", results[1].Error)

	assert.False(t, results[2].Success)
	assert.Contains(t, results[2].Error, "corrupt data")

	// Entry order preserved, later entries unaffected by earlier failures.
	assert.Equal(t, "2025/06/04", results[3].Date)
	assert.True(t, results[3].Success)
}

func TestRecomputeHistoricalUnknownVersion(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register("behavior", "v1", constCalc("behavior", "v1", 1)))

	_, err := r.RecomputeHistorical("behavior", "v2", nil)
	assert.ErrorIs(t, err, ErrUnknownVersion)
}

func TestRecomputeDeterminism(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register("behavior", "v1", NewBehaviorV1()))

	entries := []HistoricalEntry{
		{Date: "2025/06/10", Fields: map[string]string{"behaviors": "read,phone"}},
		{Date: "2025/06/11", Fields: map[string]string{"behaviors": "exercise,junkfood"}},
	}

	first, err := r.RecomputeHistorical("behavior", "v1", entries)
	require.NoError(t, err)
	second, err := r.RecomputeHistorical("behavior", "v1", entries)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestBehaviorV1(t *testing.T) {
	tests := []struct {
		name      string
		behaviors string
		total     float64
	}{
		{name: "read and phone", behaviors: "read,phone", total: 1},
		{name: "whitespace and case", behaviors: " Read , PHONE ", total: 1},
		{name: "unknown tags score zero", behaviors: "read,skydiving", total: 3},
		{name: "empty", behaviors: "", total: 0},
		{name: "all negative", behaviors: "phone,junkfood,oversleep", total: -4},
	}

	c := NewBehaviorV1()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := c.Calculate(Input{Fields: map[string]string{"behaviors": tt.behaviors}})
			require.NoError(t, err)
			assert.Equal(t, tt.total, res.Total)
		})
	}
}

func TestSleepV1(t *testing.T) {
	c := NewSleepV1()

	res, err := c.Calculate(Input{Fields: map[string]string{
		"sleepStart": "2300", "sleepEnd": "0700", "sleepQuality": "4",
	}})
	require.NoError(t, err)
	assert.Equal(t, 12.0, res.Total) // 8h capped duration + quality 4
	assert.Equal(t, 8.0, res.Details["durationHours"])

	// Long lie-in is capped at 8 hours of credit.
	res, err = c.Calculate(Input{Fields: map[string]string{
		"sleepStart": "2200", "sleepEnd": "0900", "sleepQuality": "3",
	}})
	require.NoError(t, err)
	assert.Equal(t, 11.0, res.Total)

	// Same-day nap, no midnight crossing.
	res, err = c.Calculate(Input{Fields: map[string]string{
		"sleepStart": "0100", "sleepEnd": "0630", "sleepQuality": "2",
	}})
	require.NoError(t, err)
	assert.Equal(t, 7.5, res.Total)

	_, err = c.Calculate(Input{Fields: map[string]string{
		"sleepStart": "25xx", "sleepEnd": "0700",
	}})
	assert.Error(t, err)
}
