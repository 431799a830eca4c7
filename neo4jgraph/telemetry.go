package neo4jgraph

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("github.com/go-diagnostics/go-diagnostics/neo4jgraph")
var meter = otel.Meter("github.com/go-diagnostics/go-diagnostics/neo4jgraph")

var (
	// rejectedMutations counts structural changes the store refused: duplicate
	// ids, unknown or leaf parents, cycle-closing edges and detaches of owning
	// entities. A rising rate points at a misbehaving provisioning client.
	rejectedMutations metric.Int64Counter
)

func init() {
	// We're initiating the metric instruments on the otel meter. Encounter an
	// error during an instrument's initialisation, triggering a panic. This
	// scenario should not occur, if it does, it is likely related to the
	// attributes applied on the instrument.
	var err error
	rejectedMutations, err = meter.Int64Counter(
		"graph_rejected_mutations_counter",
		metric.WithDescription("how many structural mutations the graph store rejected"),
	)
	if err != nil {
		s := fmt.Sprintf("store: failed to init 'graph_rejected_mutations_counter' instrument: %v", err)
		panic(s)
	}
}
