/*
Package storetest provides a suite of tests designed to assess entity graph
stores (e.g. in-memory, neo4j).

The tests operate on the specific graph store via the [diagnostics.GraphStore]
interface to check functional correctness and compliance with the behaviours
defined by that interface: forest shape maintenance, deterministic ordering,
and rejection of structural violations.

Call storetest.Run in its own test to invoke the test-suite:

	func TestStore(t *testing.T) {
		store := NewStore(...) // Create a new, empty graph store.
		storetest.Run(t, store)
	}

The test cases in this suite focus on the basic forest operations:

  - Registering entities into trees and rejecting duplicates and cycles.
  - Observing children, ancestors and roots in their documented order.
  - Detaching leaves, subtrees and whole trees.

So, specific graph stores are encouraged to perform additional tests which are
specific to the underlying storage engine.
*/
package storetest

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/go-diagnostics/go-diagnostics"
)

// A forest describes the expected shape of the store after a test-case: the
// children of every registered entity, keyed by id. Roots are the keys that
// appear in no child list.
type forest map[diagnostics.EntityID][]diagnostics.EntityID

type testCase struct {
	// Subtest name.
	name string
	// A path leading to the test-case's file and line in the source code.
	location string
	// An operation executes a single modification on the tested store.
	operation func(ctx context.Context, s diagnostics.GraphStore) error
	// The sentinel the operation must fail with; nil means the operation
	// must succeed.
	wantErr error
	// A snapshot of the entire forest as expected after the operation. This
	// snapshot takes into account the order and the successful execution of
	// previous test-cases.
	forest forest
}

func register(spec diagnostics.EntitySpec) func(ctx context.Context, s diagnostics.GraphStore) error {
	return func(ctx context.Context, s diagnostics.GraphStore) error {
		return s.Register(ctx, spec)
	}
}

var cases = []testCase{
	{
		name:      "register-root",
		location:  locateSource(),
		operation: register(diagnostics.EntitySpec{ID: "site", Kind: diagnostics.KindComposite}),
		forest:    forest{"site": nil},
	},
	{
		name:      "register-child",
		location:  locateSource(),
		operation: register(diagnostics.EntitySpec{ID: "rack_b", Kind: diagnostics.KindComposite, ParentID: "site"}),
		forest:    forest{"site": {"rack_b"}, "rack_b": nil},
	},
	{
		name:      "children-keep-id-order",
		location:  locateSource(),
		operation: register(diagnostics.EntitySpec{ID: "rack_a", Kind: diagnostics.KindComposite, ParentID: "site"}),
		forest:    forest{"site": {"rack_a", "rack_b"}, "rack_a": nil, "rack_b": nil},
	},
	{
		name:      "register-leaf",
		location:  locateSource(),
		operation: register(diagnostics.EntitySpec{ID: "temp_1", Kind: diagnostics.KindLeaf, ParentID: "rack_a"}),
		forest:    forest{"site": {"rack_a", "rack_b"}, "rack_a": {"temp_1"}, "rack_b": nil, "temp_1": nil},
	},
	{
		name:      "reject-duplicate-id",
		location:  locateSource(),
		operation: register(diagnostics.EntitySpec{ID: "temp_1", Kind: diagnostics.KindLeaf}),
		wantErr:   diagnostics.ErrDuplicateEntity,
		forest:    forest{"site": {"rack_a", "rack_b"}, "rack_a": {"temp_1"}, "rack_b": nil, "temp_1": nil},
	},
	{
		name:      "reject-unknown-parent",
		location:  locateSource(),
		operation: register(diagnostics.EntitySpec{ID: "temp_2", Kind: diagnostics.KindLeaf, ParentID: "ghost"}),
		wantErr:   diagnostics.ErrUnknownParent,
		forest:    forest{"site": {"rack_a", "rack_b"}, "rack_a": {"temp_1"}, "rack_b": nil, "temp_1": nil},
	},
	{
		name:      "reject-leaf-parent",
		location:  locateSource(),
		operation: register(diagnostics.EntitySpec{ID: "temp_2", Kind: diagnostics.KindLeaf, ParentID: "temp_1"}),
		wantErr:   diagnostics.ErrUnknownParent,
		forest:    forest{"site": {"rack_a", "rack_b"}, "rack_a": {"temp_1"}, "rack_b": nil, "temp_1": nil},
	},
	{
		name:     "reject-cycle",
		location: locateSource(),
		operation: func(ctx context.Context, s diagnostics.GraphStore) error {
			return s.Reparent(ctx, "site", "rack_a")
		},
		wantErr: diagnostics.ErrCycleDetected,
		forest:  forest{"site": {"rack_a", "rack_b"}, "rack_a": {"temp_1"}, "rack_b": nil, "temp_1": nil},
	},
	{
		name:     "reject-self-parent",
		location: locateSource(),
		operation: func(ctx context.Context, s diagnostics.GraphStore) error {
			return s.Reparent(ctx, "rack_a", "rack_a")
		},
		wantErr: diagnostics.ErrCycleDetected,
		forest:  forest{"site": {"rack_a", "rack_b"}, "rack_a": {"temp_1"}, "rack_b": nil, "temp_1": nil},
	},
	{
		name:     "reparent-subtree",
		location: locateSource(),
		operation: func(ctx context.Context, s diagnostics.GraphStore) error {
			return s.Reparent(ctx, "temp_1", "rack_b")
		},
		forest: forest{"site": {"rack_a", "rack_b"}, "rack_a": nil, "rack_b": {"temp_1"}, "temp_1": nil},
	},
	{
		name:     "reparent-into-root",
		location: locateSource(),
		operation: func(ctx context.Context, s diagnostics.GraphStore) error {
			return s.Reparent(ctx, "rack_a", "")
		},
		forest: forest{"site": {"rack_b"}, "rack_a": nil, "rack_b": {"temp_1"}, "temp_1": nil},
	},
	{
		name:     "reject-detach-with-children",
		location: locateSource(),
		operation: func(ctx context.Context, s diagnostics.GraphStore) error {
			return s.Detach(ctx, "rack_b", false)
		},
		wantErr: diagnostics.ErrHasChildren,
		forest:  forest{"site": {"rack_b"}, "rack_a": nil, "rack_b": {"temp_1"}, "temp_1": nil},
	},
	{
		name:     "detach-leaf",
		location: locateSource(),
		operation: func(ctx context.Context, s diagnostics.GraphStore) error {
			return s.Detach(ctx, "temp_1", false)
		},
		forest: forest{"site": {"rack_b"}, "rack_a": nil, "rack_b": nil},
	},
	{
		name:     "detach-subtree-with-force",
		location: locateSource(),
		operation: func(ctx context.Context, s diagnostics.GraphStore) error {
			return s.Detach(ctx, "site", true)
		},
		forest: forest{"rack_a": nil},
	},
	{
		name:     "reject-detach-unknown",
		location: locateSource(),
		operation: func(ctx context.Context, s diagnostics.GraphStore) error {
			return s.Detach(ctx, "ghost", false)
		},
		wantErr: diagnostics.ErrUnknownEntity,
		forest:  forest{"rack_a": nil},
	},
}

// Run executes a sequence of test cases on a graph store. It verifies that
// the store correctly applies structural changes, rejects violations with the
// documented sentinels, and reports the forest shape deterministically.
//
// The testing process requires all cases to execute in a strict sequence
// because the state of the forest at the end of one test is the starting
// point for the next. The given store must therefore be empty.
func Run(t *testing.T, store diagnostics.GraphStore) {
	t.Helper()

	// We deliberately use the background context because this test-suite does
	// not check performance, and store implementations should not depend on
	// specific context values.
	ctx := context.Background()

	for _, c := range cases {
		// We encourage developers to read the source code directly, especially
		// when failures are not clear enough.
		t.Logf("Read the source for test-case %v at %v", c.name, c.location)

		err := c.operation(ctx, store)
		if c.wantErr == nil && err != nil {
			t.Fatalf("Operation %v failed: %v", c.name, err)
		}
		if c.wantErr != nil && !errors.Is(err, c.wantErr) {
			t.Fatalf("Operation %v = %v, want %v", c.name, err, c.wantErr)
		}

		for _, problem := range checkForest(ctx, store, c.forest) {
			t.Errorf("Check forest of %v: %v", c.name, problem)
		}
	}
}

// checkForest compares the store's current shape against the expected forest:
// the roots, the children of every entity, and the ancestor chain of every
// child.
func checkForest(ctx context.Context, store diagnostics.GraphStore, want forest) (problems []string) {
	childOf := make(map[diagnostics.EntityID]diagnostics.EntityID)
	for parent, children := range want {
		for _, child := range children {
			childOf[child] = parent
		}
	}

	var wantRoots []diagnostics.EntityID
	for id := range want {
		if _, owned := childOf[id]; !owned {
			wantRoots = append(wantRoots, id)
		}
	}
	slices.Sort(wantRoots)

	roots, err := store.Roots(ctx)
	if err != nil {
		return []string{fmt.Sprintf("Roots() failed: %v", err)}
	}
	if diff := cmp.Diff(wantRoots, ids(roots), cmpopts.EquateEmpty()); diff != "" {
		problems = append(problems, fmt.Sprintf("Roots mismatch (-want +got):\n%v", diff))
	}

	for parent, children := range want {
		got, err := store.Children(ctx, parent)
		if err != nil {
			problems = append(problems, fmt.Sprintf("Children(%v) failed: %v", parent, err))
			continue
		}
		wantChildren := slices.Clone(children)
		slices.Sort(wantChildren)
		if diff := cmp.Diff(wantChildren, ids(got), cmpopts.EquateEmpty()); diff != "" {
			problems = append(problems, fmt.Sprintf("Children(%v) mismatch (-want +got):\n%v", parent, diff))
		}
	}

	for child, parent := range childOf {
		chain, err := store.Ancestors(ctx, child)
		if err != nil {
			problems = append(problems, fmt.Sprintf("Ancestors(%v) failed: %v", child, err))
			continue
		}
		if len(chain) == 0 || chain[len(chain)-1].ID != parent {
			problems = append(problems, fmt.Sprintf("Ancestors(%v) = %v, want direct parent %v last", child, ids(chain), parent))
		}
	}
	return problems
}

func ids(entities []diagnostics.Entity) []diagnostics.EntityID {
	out := make([]diagnostics.EntityID, 0, len(entities))
	for _, e := range entities {
		out = append(out, e.ID)
	}
	return out
}

// Call this function to set the location of every test-case in the source
// file. The returned string is used to guide developers of graph stores to
// the appropriate test-case.
func locateSource() (path string) {
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		panic("runtime.Caller failed")
	}
	return fmt.Sprintf("%v:%v", file, line)
}
