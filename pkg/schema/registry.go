// Package schema maps logical field names to the column labels of the
// external tabular store, per entity and per version. Multiple versions
// coexist; exactly one is active. The registry also detects drift between
// the active version's expected labels and the live headers a read returned.
package schema

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/daymark/daymark/pkg/domain"
)

var (
	// ErrDuplicateLabel rejects a version in which two logical fields
	// collide on one column label.
	ErrDuplicateLabel = errors.New("duplicate column label in schema version")

	// ErrVersionExists rejects re-registration of an existing version.
	ErrVersionExists = errors.New("schema version already registered")
)

// Field pairs a logical name with the column label it appears under in the
// external store.
type Field struct {
	Logical string `yaml:"logical"`
	Label   string `yaml:"label"`
}

// Version is one immutable schema version. Field order is the insertion
// order at creation time; creating a new version is the only way to reorder.
type Version struct {
	Number    int
	fields    []Field
	byLogical map[string]string
	byLabel   map[string]string
}

// Fields returns a copy of the ordered field list.
func (v *Version) Fields() []Field {
	out := make([]Field, len(v.fields))
	copy(out, v.fields)
	return out
}

// Headers returns the column labels in field order.
func (v *Version) Headers() []string {
	out := make([]string, len(v.fields))
	for i, f := range v.fields {
		out[i] = f.Label
	}
	return out
}

// Label resolves a logical name to its column label.
func (v *Version) Label(logical string) (string, bool) {
	label, ok := v.byLogical[logical]
	return label, ok
}

// Record translates a logical-name-keyed map into a label-keyed record
// ready for the tabular store. Logical names this version does not know are
// dropped.
func (v *Version) Record(logical map[string]string) map[string]string {
	record := make(map[string]string, len(logical))
	for name, value := range logical {
		if label, ok := v.byLogical[name]; ok {
			record[label] = value
		}
	}
	return record
}

// Drift describes the disagreement between the active schema and the live
// headers of the external store.
type Drift struct {
	Entity   string
	Missing  []string // expected by the schema, absent from the live headers
	Extra    []string // present in the live headers, unknown to the schema
	HasDrift bool
}

type entitySchemas struct {
	versions map[int]*Version
	active   int
}

// Registry is the process-wide schema registry. Mutated only through
// explicit Register/AddField/ActivateVersion calls, never by pipeline stages.
type Registry struct {
	mu       sync.RWMutex
	entities map[string]*entitySchemas
	logger   *slog.Logger
}

// NewRegistry creates an empty registry. A nil logger means slog.Default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entities: make(map[string]*entitySchemas),
		logger:   logger,
	}
}

// Register adds a schema version for an entity. The first version registered
// for an entity becomes active. Duplicate labels or logical names within the
// version are rejected and nothing is stored.
func (r *Registry) Register(entity string, version int, fields []Field) error {
	if len(fields) == 0 {
		return fmt.Errorf("schema %s v%d: no fields", entity, version)
	}

	v := &Version{
		Number:    version,
		fields:    make([]Field, len(fields)),
		byLogical: make(map[string]string, len(fields)),
		byLabel:   make(map[string]string, len(fields)),
	}
	copy(v.fields, fields)
	for _, f := range fields {
		if _, dup := v.byLabel[f.Label]; dup {
			return fmt.Errorf("%w: %s v%d label %q", ErrDuplicateLabel, entity, version, f.Label)
		}
		if _, dup := v.byLogical[f.Logical]; dup {
			return fmt.Errorf("schema %s v%d: duplicate logical name %q", entity, version, f.Logical)
		}
		v.byLogical[f.Logical] = f.Label
		v.byLabel[f.Label] = f.Logical
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	es, ok := r.entities[entity]
	if !ok {
		es = &entitySchemas{versions: make(map[int]*Version), active: version}
		r.entities[entity] = es
	}
	if _, exists := es.versions[version]; exists {
		return fmt.Errorf("%w: %s v%d", ErrVersionExists, entity, version)
	}
	es.versions[version] = v
	return nil
}

// ActivateVersion switches the active version for an entity. Future reads
// use the new version; nothing already mapped is touched.
func (r *Registry) ActivateVersion(entity string, version int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	es, ok := r.entities[entity]
	if !ok {
		return fmt.Errorf("%w: entity %s", domain.ErrSchemaVersionNotFound, entity)
	}
	if _, ok := es.versions[version]; !ok {
		return fmt.Errorf("%w: %s v%d", domain.ErrSchemaVersionNotFound, entity, version)
	}
	es.active = version
	r.logger.Info("schema version activated",
		slog.String("entity", entity), slog.Int("version", version))
	return nil
}

// ActiveVersion returns the active schema version for an entity.
func (r *Registry) ActiveVersion(entity string) (*Version, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeLocked(entity)
}

func (r *Registry) activeLocked(entity string) (*Version, error) {
	es, ok := r.entities[entity]
	if !ok {
		return nil, fmt.Errorf("%w: entity %s", domain.ErrSchemaVersionNotFound, entity)
	}
	return es.versions[es.active], nil
}

// GetVersion returns a specific registered version.
func (r *Registry) GetVersion(entity string, version int) (*Version, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	es, ok := r.entities[entity]
	if !ok {
		return nil, fmt.Errorf("%w: entity %s", domain.ErrSchemaVersionNotFound, entity)
	}
	v, ok := es.versions[version]
	if !ok {
		return nil, fmt.Errorf("%w: %s v%d", domain.ErrSchemaVersionNotFound, entity, version)
	}
	return v, nil
}

// Headers returns the active version's column labels in field order.
func (r *Registry) Headers(entity string) ([]string, error) {
	v, err := r.ActiveVersion(entity)
	if err != nil {
		return nil, err
	}
	return v.Headers(), nil
}

// MapRow translates one raw row into a record keyed by logical name, using
// the active version's reverse lookup. Live headers the schema does not know
// are silently ignored: forward-compatible but lossy.
func (r *Registry) MapRow(entity string, liveHeaders, row []string) (map[string]string, error) {
	v, err := r.ActiveVersion(entity)
	if err != nil {
		return nil, err
	}

	record := make(map[string]string, len(v.fields))
	for i, header := range liveHeaders {
		logical, known := v.byLabel[header]
		if !known || i >= len(row) {
			continue
		}
		record[logical] = row[i]
	}
	return record, nil
}

// DetectDrift compares the active version's expected labels against the live
// headers. Drift is an observation, never an error: callers decide whether
// to warn, auto-sync, or carry on.
func (r *Registry) DetectDrift(entity string, liveHeaders []string) (Drift, error) {
	v, err := r.ActiveVersion(entity)
	if err != nil {
		return Drift{}, err
	}

	live := make(map[string]bool, len(liveHeaders))
	for _, h := range liveHeaders {
		live[h] = true
	}

	d := Drift{Entity: entity}
	for _, f := range v.fields {
		if !live[f.Label] {
			d.Missing = append(d.Missing, f.Label)
		}
	}
	for _, h := range liveHeaders {
		if _, known := v.byLabel[h]; !known {
			d.Extra = append(d.Extra, h)
		}
	}
	d.HasDrift = len(d.Missing) > 0 || len(d.Extra) > 0
	return d, nil
}

// AddField creates a new version from the active one plus one appended
// field. The new version is registered but not activated; switching stays
// an explicit ActivateVersion call.
func (r *Registry) AddField(entity, logical, label string, newVersion int) error {
	r.mu.RLock()
	active, err := r.activeLocked(entity)
	r.mu.RUnlock()
	if err != nil {
		return err
	}

	fields := active.Fields()
	fields = append(fields, Field{Logical: logical, Label: label})
	return r.Register(entity, newVersion, fields)
}

// ---------------------------------------------------------------------------
// YAML seeding
// ---------------------------------------------------------------------------

type seedEntity struct {
	Active   int             `yaml:"active"`
	Versions map[int][]Field `yaml:"versions"`
}

type seedFile struct {
	Entities map[string]seedEntity `yaml:"entities"`
}

// LoadSeed registers entities and versions from a YAML document and
// activates the version each entity marks active (if any).
func (r *Registry) LoadSeed(data []byte) error {
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parse schema seed: %w", err)
	}

	for entity, se := range seed.Entities {
		// Deterministic registration order.
		numbers := make([]int, 0, len(se.Versions))
		for n := range se.Versions {
			numbers = append(numbers, n)
		}
		sort.Ints(numbers)

		for _, n := range numbers {
			if err := r.Register(entity, n, se.Versions[n]); err != nil {
				return err
			}
		}
		if se.Active != 0 {
			if err := r.ActivateVersion(entity, se.Active); err != nil {
				return err
			}
		}
	}
	return nil
}
