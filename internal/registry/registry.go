// Package registry holds the process-wide ToolDescriptor registry.
//
// Descriptors declare the backend operations each capability domain may
// reach: method, path, required roles, and role-gated response fields.
// They are loaded once at process start from YAML descriptor files and
// shared read-only across all agents, so no synchronization is needed
// on the read paths.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mypetparlor/concierge/pkg/models"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Registry is an immutable operation-descriptor lookup.
type Registry struct {
	byID     map[string]models.ToolDescriptor
	byDomain map[models.Domain][]models.ToolDescriptor
}

// descriptorFile is the on-disk shape: one file per domain.
type descriptorFile struct {
	Domain     models.Domain           `yaml:"domain"`
	Operations []models.ToolDescriptor `yaml:"operations"`
}

// New builds a registry from descriptors, validating each one.
func New(descs []models.ToolDescriptor) (*Registry, error) {
	r := &Registry{
		byID:     make(map[string]models.ToolDescriptor, len(descs)),
		byDomain: make(map[models.Domain][]models.ToolDescriptor),
	}
	for _, d := range descs {
		if err := validate(d); err != nil {
			return nil, fmt.Errorf("descriptor %q: %w", d.OperationID, err)
		}
		if _, dup := r.byID[d.OperationID]; dup {
			return nil, fmt.Errorf("descriptor %q: duplicate operation id", d.OperationID)
		}
		r.byID[d.OperationID] = d
		r.byDomain[d.Domain] = append(r.byDomain[d.Domain], d)
	}
	for dom := range r.byDomain {
		ops := r.byDomain[dom]
		sort.Slice(ops, func(i, j int) bool { return ops[i].OperationID < ops[j].OperationID })
	}
	return r, nil
}

// LoadDir reads every *.yaml/*.yml descriptor file under dir.
func LoadDir(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read descriptor dir: %w", err)
	}

	var descs []models.ToolDescriptor
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read descriptor %s: %w", e.Name(), err)
		}
		var f descriptorFile
		if err := yaml.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("parse descriptor %s: %w", e.Name(), err)
		}
		for _, op := range f.Operations {
			if op.Domain == "" {
				op.Domain = f.Domain
			}
			descs = append(descs, op)
		}
		log.Debug().Str("file", e.Name()).Int("operations", len(f.Operations)).Msg("descriptor file loaded")
	}

	r, err := New(descs)
	if err != nil {
		return nil, err
	}
	log.Info().Int("operations", len(r.byID)).Int("domains", len(r.byDomain)).Msg("tool descriptor registry loaded")
	return r, nil
}

func validate(d models.ToolDescriptor) error {
	if d.OperationID == "" {
		return fmt.Errorf("missing operation id")
	}
	if !models.KnownDomain(d.Domain) {
		return fmt.Errorf("unknown domain %q", d.Domain)
	}
	switch d.Method {
	case "GET", "POST", "PUT", "PATCH", "DELETE":
	default:
		return fmt.Errorf("unsupported method %q", d.Method)
	}
	if !strings.HasPrefix(d.Path, "/") {
		return fmt.Errorf("path %q must be absolute", d.Path)
	}
	return nil
}

// Get looks up a descriptor by operation id.
func (r *Registry) Get(operationID string) (models.ToolDescriptor, bool) {
	d, ok := r.byID[operationID]
	return d, ok
}

// ForDomain returns the descriptors owned by a domain, sorted by
// operation id. The returned slice is shared; callers must not mutate it.
func (r *Registry) ForDomain(d models.Domain) []models.ToolDescriptor {
	return r.byDomain[d]
}

// Domains lists the domains with at least one operation, in priority order.
func (r *Registry) Domains() []models.Domain {
	out := make([]models.Domain, 0, len(r.byDomain))
	for _, d := range models.DomainPriority {
		if len(r.byDomain[d]) > 0 {
			out = append(out, d)
		}
	}
	return out
}

// Len returns the number of registered operations.
func (r *Registry) Len() int { return len(r.byID) }
