package config

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aawaaz/civic-pipeline/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed departments.yaml
var defaultDepartments []byte

// DefaultEscalationThreshold applies when a mapping leaves the threshold unset
const DefaultEscalationThreshold = 8

// Snapshot is one immutable, versioned view of the department mapping table.
// Readers hold a *Snapshot for the whole of one decision.
type Snapshot struct {
	Version  int64
	Source   string
	LoadedAt time.Time

	mappings    map[models.Category]models.DepartmentMapping
	departments map[string]struct{}
}

// Lookup returns the mapping for a category
func (s *Snapshot) Lookup(c models.Category) (models.DepartmentMapping, bool) {
	m, ok := s.mappings[c]
	return m, ok
}

// KnownDepartment reports whether d appears anywhere in the table or is a built-in queue
func (s *Snapshot) KnownDepartment(d string) bool {
	if d == models.DepartmentManualTriage || d == models.DepartmentManualReview {
		return true
	}
	_, ok := s.departments[d]
	return ok
}

// Mappings returns every mapping in category enumeration order
func (s *Snapshot) Mappings() []models.DepartmentMapping {
	out := make([]models.DepartmentMapping, 0, len(s.mappings))
	for _, m := range s.mappings {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category.Rank() < out[j].Category.Rank() })
	return out
}

// Departments returns every department named by the table, sorted
func (s *Snapshot) Departments() []string {
	out := make([]string, 0, len(s.departments))
	for d := range s.departments {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Registry holds the current Snapshot and swaps it atomically on reload
type Registry struct {
	current atomic.Pointer[Snapshot]
	mu      sync.Mutex // serializes writers only
	version int64
}

type mappingFile struct {
	Mappings []models.DepartmentMapping `yaml:"mappings"`
}

// ParseMappings decodes and validates a YAML mapping table
func ParseMappings(data []byte) ([]models.DepartmentMapping, error) {
	var f mappingFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode department mappings: %w", err)
	}
	if len(f.Mappings) == 0 {
		return nil, fmt.Errorf("department mappings: table is empty")
	}
	return f.Mappings, nil
}

// NewRegistry builds a registry from an initial mapping list
func NewRegistry(mappings []models.DepartmentMapping, source string) (*Registry, error) {
	r := &Registry{}
	if _, err := r.Replace(mappings, source); err != nil {
		return nil, err
	}
	return r, nil
}

// LoadRegistry reads mappings from path, or from the embedded defaults when path is empty
func LoadRegistry(path string) (*Registry, error) {
	data, source, err := readMappings(path)
	if err != nil {
		return nil, err
	}
	mappings, err := ParseMappings(data)
	if err != nil {
		return nil, err
	}
	return NewRegistry(mappings, source)
}

// Current returns the active snapshot
func (r *Registry) Current() *Snapshot {
	return r.current.Load()
}

// Replace validates mappings and publishes them as a new version.
// On validation failure the previous snapshot stays active.
func (r *Registry) Replace(mappings []models.DepartmentMapping, source string) (*Snapshot, error) {
	snap, err := buildSnapshot(mappings)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.version++
	snap.Version = r.version
	snap.Source = source
	snap.LoadedAt = time.Now().UTC()
	r.current.Store(snap)
	return snap, nil
}

// ReloadFile re-reads path and publishes it
func (r *Registry) ReloadFile(path string) (*Snapshot, error) {
	data, source, err := readMappings(path)
	if err != nil {
		return nil, err
	}
	mappings, err := ParseMappings(data)
	if err != nil {
		return nil, err
	}
	return r.Replace(mappings, source)
}

func readMappings(path string) ([]byte, string, error) {
	if path == "" {
		return defaultDepartments, "embedded", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read department mappings: %w", err)
	}
	return data, path, nil
}

func buildSnapshot(mappings []models.DepartmentMapping) (*Snapshot, error) {
	snap := &Snapshot{
		mappings:    make(map[models.Category]models.DepartmentMapping, len(mappings)),
		departments: make(map[string]struct{}),
	}
	for i, m := range mappings {
		if !m.Category.Valid() {
			return nil, fmt.Errorf("mapping %d: unknown category %q", i, m.Category)
		}
		if m.PrimaryDepartment == "" {
			return nil, fmt.Errorf("mapping %s: primary_department is required", m.Category)
		}
		if _, dup := snap.mappings[m.Category]; dup {
			return nil, fmt.Errorf("mapping %s: duplicate category", m.Category)
		}
		if m.EscalationThreshold == 0 {
			m.EscalationThreshold = DefaultEscalationThreshold
		}
		if m.EscalationThreshold < 1 || m.EscalationThreshold > 10 {
			return nil, fmt.Errorf("mapping %s: escalation_threshold %d outside [1,10]", m.Category, m.EscalationThreshold)
		}
		m.SecondaryDepartments = append([]string{}, m.SecondaryDepartments...)
		snap.mappings[m.Category] = m
		snap.departments[m.PrimaryDepartment] = struct{}{}
		for _, d := range m.SecondaryDepartments {
			snap.departments[d] = struct{}{}
		}
	}
	return snap, nil
}
