// Package instrument holds the catalog of published instrument schemas.
//
// Schemas are authored as YAML, validated once at publication and served
// read-only afterwards. The default catalog is embedded in the binary; an
// optional directory can add instruments at startup.
package instrument

import (
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"reflect"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/psychometric-engine/internal/domain"
)

//go:embed catalog/*.yaml
var defaultCatalog embed.FS

// Registry is an in-memory, publish-once catalog of instrument schemas.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]domain.InstrumentSchema
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]domain.InstrumentSchema)}
}

// LoadDefault returns a registry with the embedded catalog published, plus
// every *.yaml in dir when dir is non-empty.
func LoadDefault(dir string) (*Registry, error) {
	r := NewRegistry()
	if err := r.LoadFS(defaultCatalog, "catalog"); err != nil {
		return nil, err
	}
	if dir != "" {
		if err := r.LoadFS(os.DirFS(dir), "."); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// LoadFS publishes every *.yaml / *.yml file under root in fsys.
func (r *Registry) LoadFS(fsys fs.FS, root string) error {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return fmt.Errorf("op=instrument.load: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")) {
			continue
		}
		b, err := fs.ReadFile(fsys, path.Join(root, name))
		if err != nil {
			return fmt.Errorf("op=instrument.load: %s: %w", name, err)
		}
		s, err := Parse(b)
		if err != nil {
			return fmt.Errorf("op=instrument.load: %s: %w", name, err)
		}
		if err := r.Publish(s); err != nil {
			return fmt.Errorf("op=instrument.load: %s: %w", name, err)
		}
	}
	return nil
}

// Parse decodes one YAML schema document.
func Parse(b []byte) (domain.InstrumentSchema, error) {
	var s domain.InstrumentSchema
	if err := yaml.Unmarshal(b, &s); err != nil {
		return domain.InstrumentSchema{}, fmt.Errorf("%w: %v", domain.ErrSchemaConfiguration, err)
	}
	return s, nil
}

// Publish validates and registers a schema. Publishing the same id again is
// accepted only when the definition is identical.
func (r *Registry) Publish(s domain.InstrumentSchema) error {
	if err := Validate(s); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.schemas[s.ID]; ok {
		if reflect.DeepEqual(existing, s) {
			return nil
		}
		return &domain.ConflictError{Resource: "instrument", ExistingID: s.ID, Reason: "already published with a different definition"}
	}
	r.schemas[s.ID] = s
	slog.Debug("instrument published",
		slog.String("instrument_id", s.ID),
		slog.String("version", s.Version),
		slog.Int("items", len(s.Items)),
		slog.String("profile_rule", string(s.Profile.Rule)))
	return nil
}

// Get returns the schema with the given id.
func (r *Registry) Get(id string) (domain.InstrumentSchema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[id]
	if !ok {
		return domain.InstrumentSchema{}, fmt.Errorf("%w: instrument %q", domain.ErrNotFound, id)
	}
	return s, nil
}

// List returns all schemas ordered by id.
func (r *Registry) List() []domain.InstrumentSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.InstrumentSchema, 0, len(r.schemas))
	for _, s := range r.schemas {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
