package diagnostics

import "time"

// An EntityID uniquely identifies a single entity across the entire forest.
// IDs are assigned by the provisioning process that registers entities; the
// engine treats them as opaque.
type EntityID string

// EntityKind is the closed set of entity variants. Behaviour dispatches on
// this tag: leaf entities derive their health from their own readings,
// composite entities derive it from their direct children.
type EntityKind uint8

const (
	// KindLeaf marks a measurement-producing device. Only leaf entities may
	// have readings attached to them.
	KindLeaf EntityKind = iota + 1
	// KindComposite marks a subsystem or system that owns other entities.
	KindComposite
)

func (k EntityKind) String() string {
	switch k {
	case KindLeaf:
		return "leaf"
	case KindComposite:
		return "composite"
	default:
		return "unknown"
	}
}

// An Entity is a node in the monitored hierarchy. Entities are owned
// exclusively by a GraphStore: callers receive copies and mutate entities only
// through store operations.
type Entity struct {
	ID   EntityID
	Kind EntityKind
	// Name carries display metadata and has no semantic meaning to the
	// engine.
	Name string
	// Enabled is the operational status flag. Disabled entities remain in
	// the forest and keep their readings, but provisioning systems may use
	// the flag to mark decommissioned hardware.
	Enabled bool
	// Attributes carries numeric properties of the physical entity, such as
	// power draw or mass. Budget validation sums these over subtrees; the
	// engine itself never interprets them.
	Attributes map[string]float64
	// Budgets declares resource limits a composite entity imposes on the
	// leaves of its subtree. Empty for leaf entities.
	Budgets []Budget
}

// A Budget is a resource limit declared by a composite entity: the sum of the
// named attribute over all leaf entities in its subtree must not exceed Limit.
type Budget struct {
	// Attribute names the numeric leaf attribute to sum, e.g. "power_draw_w".
	Attribute string
	Limit     float64
	// Unit is display metadata, e.g. "watts".
	Unit string
}

// A Reading is one immutable timestamped measurement from a leaf entity.
// Readings are created on ingest and never mutated.
type Reading struct {
	Value     float64
	Timestamp time.Time
	// Quality is an optional confidence indicator in (0, 1]. Zero means the
	// producer did not report one; the engine treats such readings as fully
	// trusted.
	Quality float64
}

// An EntitySpec describes an entity to register with a GraphStore.
type EntitySpec struct {
	ID   EntityID
	Kind EntityKind
	Name string
	// ParentID attaches the new entity under an existing composite entity.
	// Empty registers the entity as a root of its own tree.
	ParentID EntityID
	// Attributes and Budgets are copied into the stored entity; see Entity.
	Attributes map[string]float64
	Budgets    []Budget
}
