// Package diagnostics provides a hierarchical health and anomaly diagnostics
// engine: a library that digests time-stamped measurements from many physical
// entities (sensors, devices, subsystems, and systems), derives behavioural
// traits (stability, drift, freshness, anomaly status) over sliding time
// windows, and recursively folds those traits into a health score at every
// level of an entity hierarchy.
//
// The package maintains a forest of entities (directed trees without cycles or
// shared children) such that leaf entities represent measurement-producing
// devices and composite entities represent the subsystems and systems that own
// them. A per-entity append-only ledger records readings; all traits and
// health records are derived from ledger windows on demand and are never
// authoritative state - re-evaluation is idempotent given the same ledger
// contents and window.
//
// Storage is pluggable on both axes: the GraphStore interface abstracts the
// entity hierarchy (see the neo4jgraph package for a Neo4j-backed
// implementation) and the ReadingLedger interface abstracts the measurement
// series (see the sqliteledger package for a SQLite-backed implementation).
// The in-memory implementations in this package are suitable for production
// single-process deployments and for tests.
package diagnostics
