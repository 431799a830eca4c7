package diagnostics

import (
	"context"
	"fmt"
	"time"
)

// An Engine is the entry point of the diagnostics core. It owns the wiring
// between an entity forest, a reading ledger and the derived-trait
// computations, and exposes the ingestion, registration and query surface.
//
// An Engine is safe for concurrent use: many ingestion writers and many
// health-query readers may call it simultaneously.
type Engine struct {
	graph  GraphStore
	ledger ReadingLedger
	cfg    Config
	traits *traitCache

	// now is replaced in tests to pin evaluation instants.
	now func() time.Time
}

// NewEngine wires an Engine over the given stores. A zero Config selects the
// documented defaults. The configuration is immutable after construction.
func NewEngine(graph GraphStore, ledger ReadingLedger, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		graph:  graph,
		ledger: ledger,
		cfg:    cfg,
		traits: newTraitCache(cfg.TraitCacheTTL),
		now:    time.Now,
	}
}

// RegisterEntity adds an entity to the forest.
func (e *Engine) RegisterEntity(ctx context.Context, spec EntitySpec) error {
	if err := e.graph.Register(ctx, spec); err != nil {
		return fmt.Errorf("register entity: %w", err)
	}
	return nil
}

// Reparent moves an entity under a new parent, or detaches it into a root
// when newParent is empty.
func (e *Engine) Reparent(ctx context.Context, id, newParent EntityID) error {
	if err := e.graph.Reparent(ctx, id, newParent); err != nil {
		return fmt.Errorf("reparent entity: %w", err)
	}
	return nil
}

// Detach removes an entity from the forest. Without force it fails with
// ErrHasChildren when the entity still owns children; with force the whole
// subtree is detached.
func (e *Engine) Detach(ctx context.Context, id EntityID, force bool) error {
	if err := e.graph.Detach(ctx, id, force); err != nil {
		return fmt.Errorf("detach entity: %w", err)
	}
	e.traits.invalidate(id)
	return nil
}

// SubmitReading records one measurement for a leaf entity. Readings may
// arrive out of timestamp order. A zero timestamp is stamped with the current
// time on ingest.
func (e *Engine) SubmitReading(ctx context.Context, id EntityID, r Reading) error {
	entity, err := e.graph.Entity(ctx, id)
	if err != nil {
		return fmt.Errorf("submit reading: %w", err)
	}
	if entity.Kind != KindLeaf {
		return fmt.Errorf("submit reading: entity %q: %w", id, ErrNotLeaf)
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = e.now()
	}
	start := time.Now()
	if err := e.ledger.Append(ctx, id, r); err != nil {
		measureIngest(ctx, id, false, time.Since(start))
		return fmt.Errorf("submit reading: %w", err)
	}
	measureIngest(ctx, id, true, time.Since(start))
	return nil
}

// GetHealth computes the health of the subtree rooted at id, evaluated at one
// consistent instant across the whole tree.
func (e *Engine) GetHealth(ctx context.Context, id EntityID) (HealthRecord, error) {
	ctx, span := tracer.Start(ctx, "diagnostics.GetHealth")
	defer span.End()

	start := time.Now()
	record, err := computeHealth(ctx, e.graph, e.ledger, e.cfg, id, e.now())
	measureEvaluation(ctx, id, err == nil, time.Since(start))
	if err != nil {
		return HealthRecord{}, fmt.Errorf("get health: %w", err)
	}
	return record, nil
}

// GetTraits computes the trait snapshot of a leaf entity over the given
// window. Individual traits that could not be assessed are marked so on the
// snapshot rather than failing the call.
//
// Snapshots are memoised per entity and window and recomputed when a new
// reading arrives or the memoised snapshot outlives its TTL.
func (e *Engine) GetTraits(ctx context.Context, id EntityID, window time.Duration) (TraitSnapshot, error) {
	entity, err := e.graph.Entity(ctx, id)
	if err != nil {
		return TraitSnapshot{}, fmt.Errorf("get traits: %w", err)
	}
	if entity.Kind != KindLeaf {
		return TraitSnapshot{}, fmt.Errorf("get traits: entity %q: %w", id, ErrNotLeaf)
	}
	if window <= 0 {
		window = e.cfg.StabilityWindow
	}

	version, err := e.ledger.Version(ctx, id)
	if err != nil {
		return TraitSnapshot{}, fmt.Errorf("get traits: %w", err)
	}
	now := e.now()
	key := traitKey{id: id, window: window}
	if snapshot, ok := e.traits.find(key, version, now); ok {
		return snapshot, nil
	}

	snapshot, err := computeTraits(ctx, e.ledger, id, window, now, e.cfg)
	if err != nil {
		return TraitSnapshot{}, fmt.Errorf("get traits: %w", err)
	}
	e.traits.store(key, version, snapshot)
	return snapshot, nil
}

// ListAlerts evaluates alerts over the subtrees rooted at the given entities,
// or over the whole registered forest when no id is given. Alerts are derived
// on each call and never stored; an unchanged condition yields an identical
// alert on every call.
func (e *Engine) ListAlerts(ctx context.Context, ids ...EntityID) ([]Alert, error) {
	if len(ids) == 0 {
		roots, err := e.graph.Roots(ctx)
		if err != nil {
			return nil, fmt.Errorf("list alerts: %w", err)
		}
		for _, root := range roots {
			ids = append(ids, root.ID)
		}
	}

	var alerts []Alert
	for _, id := range ids {
		record, err := e.GetHealth(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("list alerts: %w", err)
		}
		alerts = append(alerts, evaluateAlerts(&record)...)
	}
	return alerts, nil
}

// ValidateBudgets checks every budget declared by the given composite entity
// against the leaf attributes of its subtree.
func (e *Engine) ValidateBudgets(ctx context.Context, id EntityID) ([]BudgetReport, error) {
	reports, err := validateBudgets(ctx, e.graph, id)
	if err != nil {
		return nil, fmt.Errorf("validate budgets: %w", err)
	}
	return reports, nil
}

// Entity returns the stored entity with the given id.
func (e *Engine) Entity(ctx context.Context, id EntityID) (Entity, error) {
	return e.graph.Entity(ctx, id)
}

// Roots returns the root entities of the registered forest, ordered by id.
func (e *Engine) Roots(ctx context.Context) ([]Entity, error) {
	return e.graph.Roots(ctx)
}
