package neo4jgraph

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/go-diagnostics/go-diagnostics"
	"github.com/go-diagnostics/go-diagnostics/internal/dbtest"
	"github.com/go-diagnostics/go-diagnostics/storetest"
)

func TestStoreConformance(t *testing.T) {
	driver := dbtest.SetupNeo4j(t)

	ctx := context.Background()
	if err := BootstrapDatabase(ctx, driver, "conformance"); err != nil {
		t.Fatal("BootstrapDatabase:", err)
	}
	storetest.Run(t, NewStore(driver, "conformance"))
}

func TestStoreEntityRoundTrip(t *testing.T) {
	driver := dbtest.SetupNeo4j(t)

	ctx := context.Background()
	if err := BootstrapDatabase(ctx, driver, "roundtrip"); err != nil {
		t.Fatal("BootstrapDatabase:", err)
	}
	store := NewStore(driver, "roundtrip")

	spec := diagnostics.EntitySpec{
		ID:   "ugv",
		Kind: diagnostics.KindComposite,
		Name: "Ground Vehicle",
		Attributes: map[string]float64{
			"mass_kg": 42.5,
		},
		Budgets: []diagnostics.Budget{
			{Attribute: "power_draw_w", Limit: 500, Unit: "watts"},
		},
	}
	if err := store.Register(ctx, spec); err != nil {
		t.Fatal("Register:", err)
	}

	got, err := store.Entity(ctx, "ugv")
	if err != nil {
		t.Fatal("Entity:", err)
	}
	want := diagnostics.Entity{
		ID:         "ugv",
		Kind:       diagnostics.KindComposite,
		Name:       "Ground Vehicle",
		Enabled:    true,
		Attributes: map[string]float64{"mass_kg": 42.5},
		Budgets:    []diagnostics.Budget{{Attribute: "power_draw_w", Limit: 500, Unit: "watts"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Entity mismatch (-want +got):\n%v", diff)
	}

	if err := store.SetEnabled(ctx, "ugv", false); err != nil {
		t.Fatal("SetEnabled:", err)
	}
	got, err = store.Entity(ctx, "ugv")
	if err != nil {
		t.Fatal("Entity:", err)
	}
	if got.Enabled {
		t.Error("Enabled = true after SetEnabled(false)")
	}
}

func TestBootstrapDatabase(t *testing.T) {
	d := dbtest.SetupNeo4j(t)

	var tests = []struct {
		name     string
		database string
	}{
		{name: "Alphanumeric", database: "Aa1"},
		{name: "WithDash", database: "a-1"},
		{name: "WithDot", database: "a.1"},
		{name: "UUID", database: "a1b2c3d4-e5f6-4a1b-9c2d-3e4f5a6b7c8d"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			err := BootstrapDatabase(ctx, d, tt.database)
			if err != nil {
				t.Fatalf("BootstrapDatabase() error = %v", err)
			}

			// Execute a query to make sure the constraints are in place and
			// the database is usable.
			session := d.NewSession(ctx, neo4j.SessionConfig{DatabaseName: tt.database})
			defer func() {
				if err := session.Close(ctx); err != nil {
					t.Fatal("Failed to close session:", err)
				}
			}()

			// Filter NODE_KEY constraints because the database contains other
			// implicit constraints that we don't care about.
			result, err := session.Run(ctx, "SHOW CONSTRAINTS WHERE type = 'NODE_KEY'", nil)
			if err != nil {
				t.Fatal("Failed to list constraints:", err)
			}

			var found bool
			for result.Next(ctx) {
				t.Log(formatRecord(result.Record()))

				// See https://neo4j.com/docs/cypher-manual/current/constraints/examples/#constraints-examples-list-constraint
				labels, ok := result.Record().Get("labelsOrTypes")
				if !ok {
					t.Fatal("Constraints table contains no labels column")
				}
				for _, label := range labels.([]interface{}) {
					if label == "Entity" {
						found = true
					}
				}
			}
			if err := result.Err(); err != nil {
				t.Fatal("Failed to list constraints:", err)
			}

			if !found {
				t.Error("Constraint for label Entity not found")
			}
		})
	}

	t.Run("InvalidName", func(t *testing.T) {
		var tests = []struct {
			name      string
			database  string
			wantPanic bool
		}{
			{name: "Empty", wantPanic: true},
			{name: "Reserved(neo4j)", database: "neo4j", wantPanic: true},
			{name: "Reserved(system)", database: "systemReserved", wantPanic: true},
			{name: "Reserved(underscore)", database: "_NotSystem", wantPanic: true},
			{name: "TooShort", database: "aa"},
			{name: "TooLong", database: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa64"},
			{name: "IllegalChars(underscore)", database: "a_1"},
			{name: "IllegalChars(slash)", database: "a/1"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				defer func() {
					if r := recover(); (r != nil) != tt.wantPanic {
						t.Errorf("BootstrapDatabase() panic = %v, wantPanic %v", r, tt.wantPanic)
					}
				}()

				err := BootstrapDatabase(context.Background(), d, tt.database)
				if err == nil {
					t.Errorf("BootstrapDatabase() succeeded, want error")
				}
			})
		}
	})
}

func formatRecord(r *neo4j.Record) string {
	var fields []string
	for i, key := range r.Keys {
		fields = append(fields, fmt.Sprintf("%s: %v", key, r.Values[i]))
	}
	return strings.Join(fields, ", ")
}
