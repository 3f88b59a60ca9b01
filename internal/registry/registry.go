// Package registry implements the Generator Registry (spec §4.6): an
// in-process catalogue of live Generator bindings plus an interchangeable
// version store for persisted manifest history.
package registry

import (
	"sort"
	"sync"

	"github.com/specforge/specforge/internal/domain"
	"github.com/specforge/specforge/internal/errs"
	"github.com/specforge/specforge/internal/semverx"
)

// EventKind identifies a catalogue lifecycle event.
type EventKind string

const (
	EventGeneratorRegistered EventKind = "generator-registered"
	EventGeneratorDeprecated EventKind = "generator-deprecated"
)

// Listener receives catalogue events. Listener panics/errors are isolated
// by the dispatcher — one failing listener never blocks another (spec §5).
type Listener func(kind EventKind, id, version string)

// Catalogue is the in-process, live binding of registered Generator
// instances, keyed by id with multiple versions held per id. Grounded
// directly on the teacher's internal/mcp/registry.go Registry shape
// (RWMutex, registration-order slice, Get/List); unlike the teacher's
// startup-time tool registry, Register here returns an error instead of
// panicking, since registration happens on a live request path.
type Catalogue struct {
	mu        sync.RWMutex
	versions  map[string]map[string]*domain.Generator // id -> version -> generator
	order     []string                                 // ids in first-registration order
	listeners []Listener
}

// NewCatalogue returns an empty catalogue.
func NewCatalogue() *Catalogue {
	return &Catalogue{versions: map[string]map[string]*domain.Generator{}}
}

// Register adds g to the catalogue. It fails with an AlreadyRegistered
// *errs.Error if (id, version) is already present, and otherwise emits
// generator-registered to every listener.
func (c *Catalogue) Register(g *domain.Generator) error {
	id := g.Manifest.ID
	version := g.Manifest.Version

	c.mu.Lock()
	if _, ok := c.versions[id]; !ok {
		c.versions[id] = map[string]*domain.Generator{}
		c.order = append(c.order, id)
	}
	if _, exists := c.versions[id][version]; exists {
		c.mu.Unlock()
		return errs.AlreadyRegisteredError(id, version)
	}
	c.versions[id][version] = g
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()

	c.dispatch(listeners, EventGeneratorRegistered, id, version)
	return nil
}

// Unregister removes one (id, version) pair. It is a no-op if absent.
func (c *Catalogue) Unregister(id, version string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if versions, ok := c.versions[id]; ok {
		delete(versions, version)
	}
}

// Get returns the generator at a specific version, or — when version is
// empty — the highest-versioned generator registered for id. Returns nil
// if id (or id@version) is unknown.
func (c *Catalogue) Get(id, version string) *domain.Generator {
	c.mu.RLock()
	defer c.mu.RUnlock()

	versions, ok := c.versions[id]
	if !ok {
		return nil
	}
	if version != "" {
		return versions[version]
	}

	var best *domain.Generator
	var bestVersion string
	for v, g := range versions {
		if best == nil {
			best, bestVersion = g, v
			continue
		}
		if cmp, err := semverx.Compare(v, bestVersion); err == nil && cmp > 0 {
			best, bestVersion = g, v
		}
	}
	return best
}

// List returns every registered Generator, ids in registration order and,
// within each id, versions in lexicographic order of the version string
// (so "1.10.0" sorts before "1.9.0").
func (c *Catalogue) List() []*domain.Generator {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*domain.Generator
	for _, id := range c.order {
		versions := c.versions[id]
		keys := make([]string, 0, len(versions))
		for v := range versions {
			keys = append(keys, v)
		}
		sort.Strings(keys)
		for _, v := range keys {
			out = append(out, versions[v])
		}
	}
	return out
}

// ListSummaries returns the catalogue-listing projection, grounded on the
// teacher's Registry.List() → []ToolDefinition pattern generalized to
// GeneratorSummary.
func (c *Catalogue) ListSummaries() []domain.GeneratorSummary {
	generators := c.List()
	out := make([]domain.GeneratorSummary, 0, len(generators))
	for _, g := range generators {
		out = append(out, domain.GeneratorSummary{
			ID:           g.Manifest.ID,
			Version:      g.Manifest.Version,
			DisplayName:  g.Manifest.DisplayName,
			Description:  g.Manifest.Description,
			Capabilities: g.Manifest.Capabilities,
		})
	}
	return out
}

// On registers a listener for every future catalogue event.
func (c *Catalogue) On(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// dispatch calls every listener while holding no lock, isolating panics
// so one failing listener never blocks another.
func (c *Catalogue) dispatch(listeners []Listener, kind EventKind, id, version string) {
	for _, l := range listeners {
		func() {
			defer func() { recover() }()
			l(kind, id, version)
		}()
	}
}
