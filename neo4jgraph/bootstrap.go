package neo4jgraph

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// BootstrapDatabase creates the necessary constraints for the database to be
// suitable for use as an entity graph store.
//
// Entities are keyed by their id property, so the bootstrap installs a node
// key constraint on it. This also prevents duplicate nodes caused by
// concurrent writes racing the duplicate check.
//
// To execute queries against the created database, open a session with the
// database name as the default database. For example:
//
//	s := d.NewSession(ctx, neo4j.SessionConfig{DatabaseName: name})
//	defer func() { _ = s.Close(ctx) }()
//	... use s ...
//
// This function is idempotent.
func BootstrapDatabase(ctx context.Context, d neo4j.DriverWithContext, name string) error {
	if err := createDatabase(ctx, d, name); err != nil {
		return fmt.Errorf("create database: %w", err)
	}

	s := d.NewSession(ctx, neo4j.SessionConfig{DatabaseName: name})
	defer func() { _ = s.Close(ctx) }()

	// We use a key constraint instead of a uniqueness constraint because we
	// can (it is only available in the enterprise edition).
	_, err := s.Run(ctx, `
		CREATE CONSTRAINT IF NOT EXISTS
		FOR (e:Entity)
		REQUIRE e.id IS NODE KEY
	`, nil)
	if err != nil {
		return fmt.Errorf("key constraint: %w", err)
	}
	return s.Close(ctx)
}

func createDatabase(ctx context.Context, d neo4j.DriverWithContext, name string) error {
	if name == "" {
		panic("neo4jgraph: database name must not be empty")
	}
	if name == "neo4j" {
		panic("neo4jgraph: database name must not be neo4j: reserved for system database")
	}
	if strings.HasPrefix(name, "system") || strings.HasPrefix(name, "_") {
		panic("neo4jgraph: Names that begin with an underscore and with the prefix system are reserved for internal use")
	}

	s := d.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer func() { _ = s.Close(ctx) }()

	// Create a new database if it does not exist.
	_, err := s.Run(ctx, `
			CREATE DATABASE $name IF NOT EXISTS
		`, map[string]interface{}{
		"name": name,
	})
	return err
}
