package diagnostics

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// GraphStore defines the operations the engine uses to maintain the entity
// hierarchy. Specific storage engines (e.g. Neo4j, see the neo4jgraph
// package) are expected to implement these primitive operations.
//
// Implementations must uphold the forest invariants: every entity has at most
// one parent, ownership edges never form a cycle, and both violations are
// rejected at edge-insertion time rather than tolerated at traversal time.
//
// All methods are safe for concurrent use. Structural mutation is rare
// relative to reads, so implementations should favour a multi-reader /
// single-writer discipline.
type GraphStore interface {
	// Register inserts a new entity, optionally attached under an existing
	// parent. It fails with ErrDuplicateEntity if the id exists and with
	// ErrUnknownParent if a parent is named but absent.
	Register(ctx context.Context, spec EntitySpec) error

	// Reparent moves an entity under a new parent (or detaches it into a
	// root when newParent is empty). It fails with ErrCycleDetected if the
	// new parent is the entity itself or one of its descendants.
	Reparent(ctx context.Context, id, newParent EntityID) error

	// Entity returns a copy of the entity with the given id, or
	// ErrUnknownEntity.
	Entity(ctx context.Context, id EntityID) (Entity, error)

	// Children returns the direct children of the given entity, ordered by
	// id. The slice is empty for leaf entities.
	Children(ctx context.Context, id EntityID) ([]Entity, error)

	// Ancestors returns the chain of owners of the given entity, ordered
	// root first, direct parent last. The slice is empty for roots.
	Ancestors(ctx context.Context, id EntityID) ([]Entity, error)

	// Detach removes an entity from the forest. It fails with
	// ErrHasChildren unless force is set, in which case the entire subtree
	// is detached bottom-up.
	Detach(ctx context.Context, id EntityID, force bool) error

	// Roots returns all entities without a parent, ordered by id.
	Roots(ctx context.Context) ([]Entity, error)
}

// MemoryGraph is an in-memory GraphStore. The zero value is not usable; call
// NewMemoryGraph.
//
// The structure is guarded by a single RWMutex: ownership edges mutate rarely
// relative to reads, so reader concurrency matters and writer concurrency
// does not.
type MemoryGraph struct {
	mu       sync.RWMutex
	entities map[EntityID]*Entity
	parent   map[EntityID]EntityID
	children map[EntityID][]EntityID // kept sorted by id
}

// NewMemoryGraph returns an empty, ready-to-use entity forest.
func NewMemoryGraph() *MemoryGraph {
	return &MemoryGraph{
		entities: make(map[EntityID]*Entity),
		parent:   make(map[EntityID]EntityID),
		children: make(map[EntityID][]EntityID),
	}
}

func (g *MemoryGraph) Register(_ context.Context, spec EntitySpec) error {
	if spec.ID == "" {
		return fmt.Errorf("empty entity id: %w", ErrUnknownEntity)
	}
	if spec.Kind != KindLeaf && spec.Kind != KindComposite {
		return fmt.Errorf("entity %q: invalid kind %v", spec.ID, spec.Kind)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.entities[spec.ID]; exists {
		return fmt.Errorf("entity %q: %w", spec.ID, ErrDuplicateEntity)
	}
	if spec.ParentID != "" {
		parent, exists := g.entities[spec.ParentID]
		if !exists {
			return fmt.Errorf("entity %q: parent %q: %w", spec.ID, spec.ParentID, ErrUnknownParent)
		}
		if parent.Kind != KindComposite {
			return fmt.Errorf("entity %q: parent %q is a leaf: %w", spec.ID, spec.ParentID, ErrUnknownParent)
		}
	}

	e := &Entity{
		ID:         spec.ID,
		Kind:       spec.Kind,
		Name:       spec.Name,
		Enabled:    true,
		Attributes: cloneAttributes(spec.Attributes),
		Budgets:    slices.Clone(spec.Budgets),
	}
	g.entities[spec.ID] = e
	if spec.ParentID != "" {
		g.parent[spec.ID] = spec.ParentID
		g.insertChild(spec.ParentID, spec.ID)
	}
	return nil
}

func (g *MemoryGraph) Reparent(_ context.Context, id, newParent EntityID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.entities[id]; !exists {
		return fmt.Errorf("entity %q: %w", id, ErrUnknownEntity)
	}
	if newParent != "" {
		parent, exists := g.entities[newParent]
		if !exists {
			return fmt.Errorf("entity %q: parent %q: %w", id, newParent, ErrUnknownParent)
		}
		if parent.Kind != KindComposite {
			return fmt.Errorf("entity %q: parent %q is a leaf: %w", id, newParent, ErrUnknownParent)
		}
		// Walking from the candidate parent towards the root either
		// terminates at a root or reaches id, in which case the edge would
		// close a cycle. The candidate being id itself is the trivial cycle.
		for cursor := newParent; cursor != ""; cursor = g.parent[cursor] {
			if cursor == id {
				return fmt.Errorf("entity %q: parent %q: %w", id, newParent, ErrCycleDetected)
			}
		}
	}

	if old, ok := g.parent[id]; ok {
		g.removeChild(old, id)
		delete(g.parent, id)
	}
	if newParent != "" {
		g.parent[id] = newParent
		g.insertChild(newParent, id)
	}
	return nil
}

func (g *MemoryGraph) Entity(_ context.Context, id EntityID) (Entity, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	e, exists := g.entities[id]
	if !exists {
		return Entity{}, fmt.Errorf("entity %q: %w", id, ErrUnknownEntity)
	}
	return copyEntity(e), nil
}

func (g *MemoryGraph) Children(_ context.Context, id EntityID) ([]Entity, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, exists := g.entities[id]; !exists {
		return nil, fmt.Errorf("entity %q: %w", id, ErrUnknownEntity)
	}
	ids := g.children[id]
	out := make([]Entity, 0, len(ids))
	for _, child := range ids {
		out = append(out, copyEntity(g.entities[child]))
	}
	return out, nil
}

func (g *MemoryGraph) Ancestors(_ context.Context, id EntityID) ([]Entity, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, exists := g.entities[id]; !exists {
		return nil, fmt.Errorf("entity %q: %w", id, ErrUnknownEntity)
	}
	var chain []Entity
	for cursor, ok := g.parent[id]; ok; cursor, ok = g.parent[cursor] {
		chain = append(chain, copyEntity(g.entities[cursor]))
	}
	// The walk above collects parent-first; callers expect root-first.
	slices.Reverse(chain)
	return chain, nil
}

func (g *MemoryGraph) Detach(_ context.Context, id EntityID, force bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.entities[id]; !exists {
		return fmt.Errorf("entity %q: %w", id, ErrUnknownEntity)
	}
	if len(g.children[id]) > 0 && !force {
		return fmt.Errorf("entity %q: %w", id, ErrHasChildren)
	}
	g.detachSubtree(id)
	return nil
}

// detachSubtree removes id and its whole subtree. Callers hold the write
// lock.
func (g *MemoryGraph) detachSubtree(id EntityID) {
	for _, child := range slices.Clone(g.children[id]) {
		g.detachSubtree(child)
	}
	if parent, ok := g.parent[id]; ok {
		g.removeChild(parent, id)
		delete(g.parent, id)
	}
	delete(g.children, id)
	delete(g.entities, id)
}

func (g *MemoryGraph) Roots(_ context.Context) ([]Entity, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var roots []Entity
	for id, e := range g.entities {
		if _, owned := g.parent[id]; !owned {
			roots = append(roots, copyEntity(e))
		}
	}
	slices.SortFunc(roots, func(a, b Entity) int {
		return cmpEntityID(a.ID, b.ID)
	})
	return roots, nil
}

// SetEnabled flips the operational status flag of an entity. This is the only
// post-registration mutation of entity metadata the store supports.
func (g *MemoryGraph) SetEnabled(_ context.Context, id EntityID, enabled bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, exists := g.entities[id]
	if !exists {
		return fmt.Errorf("entity %q: %w", id, ErrUnknownEntity)
	}
	e.Enabled = enabled
	return nil
}

// insertChild keeps the children slice of parent sorted by id so that
// Children never needs to sort on the read path. Callers hold the write lock.
func (g *MemoryGraph) insertChild(parent, child EntityID) {
	ids := g.children[parent]
	at, _ := slices.BinarySearchFunc(ids, child, cmpEntityID)
	g.children[parent] = slices.Insert(ids, at, child)
}

func (g *MemoryGraph) removeChild(parent, child EntityID) {
	ids := g.children[parent]
	if at, found := slices.BinarySearchFunc(ids, child, cmpEntityID); found {
		g.children[parent] = slices.Delete(ids, at, at+1)
	}
}

func cmpEntityID(a, b EntityID) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// copyEntity returns an independent copy so callers can never mutate stored
// state through a returned Entity.
func copyEntity(e *Entity) Entity {
	out := *e
	out.Attributes = cloneAttributes(e.Attributes)
	out.Budgets = slices.Clone(e.Budgets)
	return out
}

func cloneAttributes(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
