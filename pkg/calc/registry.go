// Package calc provides the versioned registry of score calculators. A
// calculator is a pure function of its input for a given version, with no
// reads of registry state, so historical recomputation is deterministic.
package calc

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/daymark/daymark/pkg/domain"
)

var (
	// ErrUnknownDomain is returned when no calculator was ever registered
	// for the scoring domain.
	ErrUnknownDomain = errors.New("unknown calculator domain")

	// ErrUnknownVersion is returned when the requested version was never
	// registered for the domain.
	ErrUnknownVersion = errors.New("unknown calculator version")
)

// Input is the record a calculator scores: the mapped fields of one log row.
type Input struct {
	Date   string
	Fields map[string]string
}

// Result is a calculator's output: a total plus its per-component breakdown.
type Result struct {
	Total   float64
	Details map[string]float64
}

// Metadata describes a calculator implementation.
type Metadata struct {
	Domain      string
	Version     string
	Description string
}

// Calculator is the contract every scoring implementation must satisfy.
type Calculator interface {
	Calculate(in Input) (Result, error)
	Metadata() Metadata
}

// HistoricalEntry is one already-persisted row to recompute.
type HistoricalEntry struct {
	Date   string
	Fields map[string]string
	Score  float64
}

// RecomputeResult reports one entry's recomputation. A failed entry carries
// Error and Success=false; it never affects the other entries.
type RecomputeResult struct {
	Date              string
	OriginalScore     float64
	RecalculatedScore float64
	Error             string
	Success           bool
}

type domainCalcs struct {
	versions map[string]Calculator
	active   string
}

// Registry holds calculators by domain and version, with one active version
// per domain. Process-wide state; mutated only via Register/Activate.
type Registry struct {
	mu      sync.RWMutex
	domains map[string]*domainCalcs
	logger  *slog.Logger
}

// NewRegistry creates an empty calculator registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		domains: make(map[string]*domainCalcs),
		logger:  logger,
	}
}

// Register validates and stores a calculator version. The first version
// registered for a domain becomes active. A nil implementation, or metadata
// that disagrees with the registration key, fails the contract check and
// nothing is stored.
func (r *Registry) Register(scoringDomain, version string, impl Calculator) error {
	if impl == nil {
		return fmt.Errorf("%w: nil implementation for %s %s",
			domain.ErrInvalidCalculatorContract, scoringDomain, version)
	}
	meta := impl.Metadata()
	if meta.Domain == "" || meta.Version == "" {
		return fmt.Errorf("%w: %s %s has incomplete metadata",
			domain.ErrInvalidCalculatorContract, scoringDomain, version)
	}
	if meta.Domain != scoringDomain || meta.Version != version {
		return fmt.Errorf("%w: metadata %s/%s does not match registration %s/%s",
			domain.ErrInvalidCalculatorContract, meta.Domain, meta.Version, scoringDomain, version)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	dc, ok := r.domains[scoringDomain]
	if !ok {
		dc = &domainCalcs{versions: make(map[string]Calculator), active: version}
		r.domains[scoringDomain] = dc
	}
	dc.versions[version] = impl
	return nil
}

// Activate switches which version Active/Calculate dispatch to. It affects
// future calls only; nothing already persisted is recomputed.
func (r *Registry) Activate(scoringDomain, version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	dc, ok := r.domains[scoringDomain]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDomain, scoringDomain)
	}
	if _, ok := dc.versions[version]; !ok {
		return fmt.Errorf("%w: %s %s", ErrUnknownVersion, scoringDomain, version)
	}
	dc.active = version
	r.logger.Info("calculator activated",
		slog.String("domain", scoringDomain), slog.String("version", version))
	return nil
}

// Active returns the active calculator for a domain.
func (r *Registry) Active(scoringDomain string) (Calculator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dc, ok := r.domains[scoringDomain]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDomain, scoringDomain)
	}
	return dc.versions[dc.active], nil
}

// ActiveVersion returns the active version string for a domain.
func (r *Registry) ActiveVersion(scoringDomain string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dc, ok := r.domains[scoringDomain]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownDomain, scoringDomain)
	}
	return dc.active, nil
}

// Version returns a specific registered calculator version.
func (r *Registry) Version(scoringDomain, version string) (Calculator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dc, ok := r.domains[scoringDomain]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDomain, scoringDomain)
	}
	impl, ok := dc.versions[version]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrUnknownVersion, scoringDomain, version)
	}
	return impl, nil
}

// Calculate dispatches to the active version.
func (r *Registry) Calculate(scoringDomain string, in Input) (Result, error) {
	impl, err := r.Active(scoringDomain)
	if err != nil {
		return Result{}, err
	}
	return impl.Calculate(in)
}

// RecomputeHistorical runs a specific version against each historical entry
// independently. One entry's failure (error or panic) is reported in its
// result and the remaining entries still run: batch-partial-failure, never
// all-or-nothing. Output order matches input order.
func (r *Registry) RecomputeHistorical(scoringDomain, version string, entries []HistoricalEntry) ([]RecomputeResult, error) {
	impl, err := r.Version(scoringDomain, version)
	if err != nil {
		return nil, err
	}

	results := make([]RecomputeResult, len(entries))
	for i, entry := range entries {
		results[i] = recomputeOne(impl, entry)
	}
	return results, nil
}

func recomputeOne(impl Calculator, entry HistoricalEntry) (out RecomputeResult) {
	out = RecomputeResult{Date: entry.Date, OriginalScore: entry.Score}
	defer func() {
		if r := recover(); r != nil {
			out.Error = fmt.Sprintf("calculator panic: %v", r)
			out.Success = false
		}
	}()

	res, err := impl.Calculate(Input{Date: entry.Date, Fields: entry.Fields})
	if err != nil {
		out.Error = err.Error()
		return out
	}
	out.RecalculatedScore = res.Total
	out.Success = true
	return out
}
