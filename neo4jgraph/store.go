// Package neo4jgraph implements the entity graph store on a Neo4j database.
//
// Entities are nodes labelled Entity, keyed by their id property. Ownership
// is an OWNS relationship from parent to child. The forest invariants (single
// parent, no cycles) are enforced at edge-insertion time inside a single
// write transaction per operation.
package neo4jgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/danielorbach/go-component"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-diagnostics/go-diagnostics"
)

// A Store provides the basic operations required to maintain an entity forest
// on Neo4j. It implements [diagnostics.GraphStore].
//
// Each operation executes in its own session and transaction, which is rolled
// back should the operation fail. This ensures each structural change applies
// atomically.
type Store struct {
	driver   neo4j.DriverWithContext // Connection to the neo4j server/cluster.
	database string                  // Target database name that identifies the specific underlying neo4j graph.

	// Structural mutations are check-then-write: Reparent reads the ancestor
	// chain before inserting the edge, and Register checks the parent before
	// creating the node. Neo4j's read-committed isolation lets two such
	// transactions interleave between the check and the write, so mutations
	// from this process serialise on writeMu. Reads take no lock; a single
	// Cypher query observes a consistent graph on its own.
	writeMu sync.Mutex
}

// NewStore returns a ready-to-use Store using the given database as the
// underlying neo4j graph. Call BootstrapDatabase beforehand to create the
// database and its constraints.
func NewStore(driver neo4j.DriverWithContext, database string) *Store {
	return &Store{driver: driver, database: database}
}

func (s *Store) Register(ctx context.Context, spec diagnostics.EntitySpec) (err error) {
	ctx, span := tracer.Start(ctx, "Register", trace.WithAttributes(
		attribute.String("neo4j.database", s.database),
		attribute.String("entity", string(spec.ID)),
	))
	defer span.End()

	if spec.ID == "" {
		return fmt.Errorf("empty entity id: %w", diagnostics.ErrUnknownEntity)
	}
	props, err := formatEntity(spec)
	if err != nil {
		return fmt.Errorf("format entity: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	session := s.newSession(ctx, neo4j.AccessModeWrite)
	defer s.closeSession(ctx, session, "write")

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		exists, err := entityExists(ctx, tx, spec.ID)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, fmt.Errorf("entity %q: %w", spec.ID, diagnostics.ErrDuplicateEntity)
		}
		if spec.ParentID != "" {
			if err := requireCompositeParent(ctx, tx, spec.ID, spec.ParentID); err != nil {
				return nil, err
			}
		}

		query := `
			CREATE (e:Entity)
			SET e += $props, e._created_at = datetime(), e._last_modified = datetime()
			RETURN count(e) AS nodes
		`
		nodes, err := runCountQuery(ctx, tx, query, map[string]any{"props": props}, "nodes")
		if err != nil {
			return nil, err
		}
		// A single entity is represented by a single node in the underlying
		// graph. If the query creates more than a single node, the graph has
		// lost its integrity, so we cannot continue to operate on it.
		if nodes != 1 {
			panicWithCorruptedGraph(ctx, fmt.Sprintf("register created %v nodes instead of 1", nodes))
		}

		if spec.ParentID != "" {
			if err := insertOwnership(ctx, tx, spec.ParentID, spec.ID); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return s.mapWriteError(ctx, err)
}

func (s *Store) Reparent(ctx context.Context, id, newParent diagnostics.EntityID) (err error) {
	ctx, span := tracer.Start(ctx, "Reparent", trace.WithAttributes(
		attribute.String("neo4j.database", s.database),
		attribute.String("entity", string(id)),
	))
	defer span.End()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	session := s.newSession(ctx, neo4j.AccessModeWrite)
	defer s.closeSession(ctx, session, "write")

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		exists, err := entityExists(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("entity %q: %w", id, diagnostics.ErrUnknownEntity)
		}
		if newParent != "" {
			if err := requireCompositeParent(ctx, tx, id, newParent); err != nil {
				return nil, err
			}
			// The edge closes a cycle iff the candidate parent is the entity
			// itself or one of its descendants.
			query := `
				MATCH (e:Entity {id: $id}), (p:Entity {id: $parent})
				RETURN count { (e)-[:OWNS*0..]->(p) } AS paths
			`
			paths, err := runCountQuery(ctx, tx, query, map[string]any{
				"id": string(id), "parent": string(newParent),
			}, "paths")
			if err != nil {
				return nil, err
			}
			if paths > 0 {
				return nil, fmt.Errorf("entity %q: parent %q: %w", id, newParent, diagnostics.ErrCycleDetected)
			}
		}

		// Drop the current ownership edge, if any, before inserting the new
		// one; an entity has at most one parent.
		_, err = tx.Run(ctx, `
			MATCH (:Entity)-[r:OWNS]->(:Entity {id: $id})
			DELETE r
		`, map[string]any{"id": string(id)})
		if err != nil {
			return nil, fmt.Errorf("run cypher: %w", err)
		}

		if newParent != "" {
			if err := insertOwnership(ctx, tx, newParent, id); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return s.mapWriteError(ctx, err)
}

func (s *Store) Entity(ctx context.Context, id diagnostics.EntityID) (diagnostics.Entity, error) {
	session := s.newSession(ctx, neo4j.AccessModeRead)
	defer s.closeSession(ctx, session, "read")

	entity, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (e:Entity {id: $id})
			RETURN e AS entity
		`, map[string]any{"id": string(id)})
		if err != nil {
			return nil, fmt.Errorf("run cypher: %w", err)
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, fmt.Errorf("entity %q: %w", id, diagnostics.ErrUnknownEntity)
		}
		node, err := getRecordProperty[neo4j.Node](record, "entity")
		if err != nil {
			return nil, fmt.Errorf("get entity: %w", err)
		}
		return parseEntity(node)
	})
	if err != nil {
		return diagnostics.Entity{}, err
	}
	return entity.(diagnostics.Entity), nil
}

func (s *Store) Children(ctx context.Context, id diagnostics.EntityID) ([]diagnostics.Entity, error) {
	session := s.newSession(ctx, neo4j.AccessModeRead)
	defer s.closeSession(ctx, session, "read")

	children, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		exists, err := entityExists(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("entity %q: %w", id, diagnostics.ErrUnknownEntity)
		}
		return collectEntities(ctx, tx, `
			MATCH (:Entity {id: $id})-[:OWNS]->(c:Entity)
			RETURN c AS entity
			ORDER BY c.id
		`, map[string]any{"id": string(id)})
	})
	if err != nil {
		return nil, err
	}
	return children.([]diagnostics.Entity), nil
}

func (s *Store) Ancestors(ctx context.Context, id diagnostics.EntityID) ([]diagnostics.Entity, error) {
	session := s.newSession(ctx, neo4j.AccessModeRead)
	defer s.closeSession(ctx, session, "read")

	chain, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		exists, err := entityExists(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("entity %q: %w", id, diagnostics.ErrUnknownEntity)
		}
		// Ordering by descending path length yields the root first and the
		// direct parent last.
		return collectEntities(ctx, tx, `
			MATCH p = (a:Entity)-[:OWNS*1..]->(:Entity {id: $id})
			RETURN a AS entity
			ORDER BY length(p) DESC
		`, map[string]any{"id": string(id)})
	})
	if err != nil {
		return nil, err
	}
	return chain.([]diagnostics.Entity), nil
}

func (s *Store) Detach(ctx context.Context, id diagnostics.EntityID, force bool) (err error) {
	ctx, span := tracer.Start(ctx, "Detach", trace.WithAttributes(
		attribute.String("neo4j.database", s.database),
		attribute.String("entity", string(id)),
	))
	defer span.End()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	session := s.newSession(ctx, neo4j.AccessModeWrite)
	defer s.closeSession(ctx, session, "write")

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		exists, err := entityExists(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("entity %q: %w", id, diagnostics.ErrUnknownEntity)
		}
		children, err := runCountQuery(ctx, tx, `
			MATCH (:Entity {id: $id})-[:OWNS]->(c:Entity)
			RETURN count(c) AS children
		`, map[string]any{"id": string(id)}, "children")
		if err != nil {
			return nil, err
		}
		if children > 0 && !force {
			return nil, fmt.Errorf("entity %q: %w", id, diagnostics.ErrHasChildren)
		}

		// The *0.. pattern includes the entity itself, so a forced detach
		// removes the whole subtree in one statement.
		_, err = tx.Run(ctx, `
			MATCH (:Entity {id: $id})-[:OWNS*0..]->(d:Entity)
			DETACH DELETE d
		`, map[string]any{"id": string(id)})
		if err != nil {
			return nil, fmt.Errorf("run cypher: %w", err)
		}
		return nil, nil
	})
	return s.mapWriteError(ctx, err)
}

func (s *Store) Roots(ctx context.Context) ([]diagnostics.Entity, error) {
	session := s.newSession(ctx, neo4j.AccessModeRead)
	defer s.closeSession(ctx, session, "read")

	roots, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return collectEntities(ctx, tx, `
			MATCH (e:Entity)
			WHERE NOT (:Entity)-[:OWNS]->(e)
			RETURN e AS entity
			ORDER BY e.id
		`, nil)
	})
	if err != nil {
		return nil, err
	}
	return roots.([]diagnostics.Entity), nil
}

// SetEnabled flips the operational status flag of an entity.
func (s *Store) SetEnabled(ctx context.Context, id diagnostics.EntityID, enabled bool) (err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	session := s.newSession(ctx, neo4j.AccessModeWrite)
	defer s.closeSession(ctx, session, "write")

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		nodes, err := runCountQuery(ctx, tx, `
			MATCH (e:Entity {id: $id})
			SET e.enabled = $enabled, e._last_modified = datetime()
			RETURN count(e) AS nodes
		`, map[string]any{"id": string(id), "enabled": enabled}, "nodes")
		if err != nil {
			return nil, err
		}
		if nodes == 0 {
			return nil, fmt.Errorf("entity %q: %w", id, diagnostics.ErrUnknownEntity)
		}
		if nodes != 1 {
			panicWithCorruptedGraph(ctx, fmt.Sprintf("set-enabled modified %v nodes instead of 1", nodes))
		}
		return nil, nil
	})
	return s.mapWriteError(ctx, err)
}

// We open a new session for every operation to ensure transactional isolation
// and to prevent any state carryover between different executions. Any
// session-specific errors or resources are contained and do not affect
// subsequent operations.
func (s *Store) newSession(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: s.database,
		AccessMode:   mode,
	})
}

func (s *Store) closeSession(ctx context.Context, session neo4j.SessionWithContext, mode string) {
	if err := session.Close(ctx); err != nil {
		component.Logger(ctx).Error("Failed to close session", "error", err, "mode", mode)
	}
}

// mapWriteError separates the error taxonomy: structural sentinels and
// cancellations pass through to the caller, and everything else is a database
// failure worth a counter increment.
func (s *Store) mapWriteError(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return err
	case isStructuralSentinel(err):
		rejectedMutations.Add(ctx, 1, metric.WithAttributes(
			attribute.String("neo4j.database", s.database),
		))
		return err
	default:
		return fmt.Errorf("neo4j execute: %w", err)
	}
}

func isStructuralSentinel(err error) bool {
	return errors.Is(err, diagnostics.ErrUnknownEntity) ||
		errors.Is(err, diagnostics.ErrDuplicateEntity) ||
		errors.Is(err, diagnostics.ErrUnknownParent) ||
		errors.Is(err, diagnostics.ErrCycleDetected) ||
		errors.Is(err, diagnostics.ErrHasChildren)
}

func entityExists(ctx context.Context, tx neo4j.ManagedTransaction, id diagnostics.EntityID) (bool, error) {
	nodes, err := runCountQuery(ctx, tx, `
		MATCH (e:Entity {id: $id})
		RETURN count(e) AS nodes
	`, map[string]any{"id": string(id)}, "nodes")
	if err != nil {
		return false, err
	}
	return nodes > 0, nil
}

// requireCompositeParent fails with ErrUnknownParent unless the named parent
// exists and is composite. Leaves never own children, so a leaf parent is
// indistinguishable from a missing one as far as callers are concerned.
func requireCompositeParent(ctx context.Context, tx neo4j.ManagedTransaction, id, parent diagnostics.EntityID) error {
	result, err := tx.Run(ctx, `
		MATCH (p:Entity {id: $parent})
		RETURN p.kind AS kind
	`, map[string]any{"parent": string(parent)})
	if err != nil {
		return fmt.Errorf("run cypher: %w", err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return fmt.Errorf("entity %q: parent %q: %w", id, parent, diagnostics.ErrUnknownParent)
	}
	kind, err := getRecordProperty[string](record, "kind")
	if err != nil {
		return fmt.Errorf("get kind: %w", err)
	}
	if kind != kindComposite {
		return fmt.Errorf("entity %q: parent %q is a leaf: %w", id, parent, diagnostics.ErrUnknownParent)
	}
	return nil
}

func insertOwnership(ctx context.Context, tx neo4j.ManagedTransaction, parent, child diagnostics.EntityID) error {
	edges, err := runCountQuery(ctx, tx, `
		MATCH (p:Entity {id: $parent}), (c:Entity {id: $child})
		MERGE (p)-[e:OWNS]->(c)
		ON CREATE SET e._created_at = datetime()
		SET e._last_modified = datetime()
		RETURN count(e) AS edges
	`, map[string]any{"parent": string(parent), "child": string(child)}, "edges")
	if err != nil {
		return err
	}
	// Ownership is a single edge between two specific nodes. If the query
	// touches more than a single edge, the graph has lost its integrity, so
	// we cannot continue to operate on it.
	if edges != 1 {
		panicWithCorruptedGraph(ctx, fmt.Sprintf("insert-ownership touched %v edges instead of 1", edges))
	}
	return nil
}

func runCountQuery(ctx context.Context, tx neo4j.ManagedTransaction, query string, params map[string]any, key string) (int64, error) {
	result, err := tx.Run(ctx, query, params)
	if err != nil {
		return 0, fmt.Errorf("run cypher: %w", err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return 0, fmt.Errorf("query single result: %w", err)
	}
	n, err := getRecordProperty[int64](record, key)
	if err != nil {
		return 0, fmt.Errorf("get %v: %w", key, err)
	}
	return n, nil
}

func collectEntities(ctx context.Context, tx neo4j.ManagedTransaction, query string, params map[string]any) ([]diagnostics.Entity, error) {
	result, err := tx.Run(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("run cypher: %w", err)
	}
	entities := []diagnostics.Entity{}
	for result.Next(ctx) {
		node, err := getRecordProperty[neo4j.Node](result.Record(), "entity")
		if err != nil {
			return nil, fmt.Errorf("get entity: %w", err)
		}
		entity, err := parseEntity(node)
		if err != nil {
			return nil, fmt.Errorf("parse entity: %w", err)
		}
		entities = append(entities, entity)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return entities, nil
}

const (
	kindLeaf      = "leaf"
	kindComposite = "composite"

	// attrPrefix namespaces numeric entity attributes within the flat Neo4j
	// property map, keeping them apart from the fixed columns and the
	// underscore-prefixed engine metadata.
	attrPrefix = "attr_"
)

// formatEntity deconstructs an entity spec into the flat property map stored
// on its Neo4j node. Budgets are a nested structure Neo4j properties cannot
// hold, so they travel as a JSON document.
func formatEntity(spec diagnostics.EntitySpec) (map[string]any, error) {
	var kind string
	switch spec.Kind {
	case diagnostics.KindLeaf:
		kind = kindLeaf
	case diagnostics.KindComposite:
		kind = kindComposite
	default:
		return nil, fmt.Errorf("entity %q: invalid kind %v", spec.ID, spec.Kind)
	}

	props := map[string]any{
		"id":      string(spec.ID),
		"kind":    kind,
		"name":    spec.Name,
		"enabled": true,
	}
	for attr, v := range spec.Attributes {
		props[attrPrefix+attr] = v
	}
	if len(spec.Budgets) > 0 {
		budgets, err := json.Marshal(spec.Budgets)
		if err != nil {
			return nil, fmt.Errorf("marshal budgets: %w", err)
		}
		props["budgets"] = string(budgets)
	}
	return props, nil
}

// parseEntity reconstructs an entity from its Neo4j node.
func parseEntity(node neo4j.Node) (diagnostics.Entity, error) {
	id, ok := node.Props["id"].(string)
	if !ok {
		return diagnostics.Entity{}, unexpectedPropertyTypeError{Type: reflect.TypeOf(node.Props["id"])}
	}
	kind, ok := node.Props["kind"].(string)
	if !ok {
		return diagnostics.Entity{}, unexpectedPropertyTypeError{Type: reflect.TypeOf(node.Props["kind"])}
	}

	entity := diagnostics.Entity{ID: diagnostics.EntityID(id)}
	switch kind {
	case kindLeaf:
		entity.Kind = diagnostics.KindLeaf
	case kindComposite:
		entity.Kind = diagnostics.KindComposite
	default:
		return diagnostics.Entity{}, fmt.Errorf("entity %q: unknown kind property %q", id, kind)
	}
	if name, ok := node.Props["name"].(string); ok {
		entity.Name = name
	}
	if enabled, ok := node.Props["enabled"].(bool); ok {
		entity.Enabled = enabled
	}

	for key, value := range node.Props {
		if !strings.HasPrefix(key, attrPrefix) {
			continue
		}
		v, ok := value.(float64)
		if !ok {
			return diagnostics.Entity{}, unexpectedPropertyTypeError{Type: reflect.TypeOf(value)}
		}
		if entity.Attributes == nil {
			entity.Attributes = make(map[string]float64)
		}
		entity.Attributes[strings.TrimPrefix(key, attrPrefix)] = v
	}

	if doc, ok := node.Props["budgets"].(string); ok {
		if err := json.Unmarshal([]byte(doc), &entity.Budgets); err != nil {
			return diagnostics.Entity{}, fmt.Errorf("entity %q: unmarshal budgets: %w", id, err)
		}
	}
	return entity, nil
}

// We modify the underlying neo4j graph database in a way that prompts us when
// the graph violates some of our basic constraints.
//
// When we suspect the graph has lost its integrity, we may no longer operate
// on it. In which case, we must immediately stop all operations. This is
// achieved with a panic preceded by telemetry signals to bring the situation
// to our immediate attention.
func panicWithCorruptedGraph(ctx context.Context, reason string) {
	component.Logger(ctx).ErrorContext(ctx, "Encountered corrupted neo4j graph that violates forest axioms", "error", reason)
	trace.SpanFromContext(ctx).SetStatus(codes.Error, reason)
	panic(fmt.Errorf("neo4j graph violates forest axioms: %v", reason))
}

// A errPropertyNotFound occurs when a property of a record is missing.
//
// When encountering this error, it most likely occurs when changing a Cypher
// query without modifying the surrounding code properly.
var errPropertyNotFound = errors.New("property not found")

// An unexpectedPropertyTypeError occurs when a property of a record has a
// runtime type that is different from the expected type. The error message
// contains the effective type of the property at runtime.
type unexpectedPropertyTypeError struct {
	Type reflect.Type // Effective type encountered at runtime.
}

func (e unexpectedPropertyTypeError) Error() string {
	return "unexpected property type: " + e.Type.String()
}

// The recordProperty interface defines generic constraints for supported
// values by getRecordProperty.
//
// This is a subset of all types supported by the neo4j package because
// listing all of them would be troublesome. When a new type is necessary,
// developers can simply add it to the list here.
type recordProperty interface {
	int64 | string | bool | neo4j.Node | []any
}

func getRecordProperty[T recordProperty](record *neo4j.Record, key string) (value T, err error) {
	prop, exists := record.Get(key)
	if !exists {
		return value, errPropertyNotFound
	}
	v, ok := prop.(T)
	if !ok {
		return value, unexpectedPropertyTypeError{Type: reflect.TypeOf(prop)}
	}
	return v, nil
}
