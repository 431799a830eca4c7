package diagnostics_test

import (
	"context"
	"fmt"
	"time"

	"github.com/go-diagnostics/go-diagnostics"
)

// This example assembles a small monitored hierarchy, feeds one temperature
// sensor, and reads back the computed health of the whole site.
func ExampleEngine() {
	ctx := context.Background()
	engine := diagnostics.NewEngine(
		diagnostics.NewMemoryGraph(),
		diagnostics.NewMemoryLedger(),
		diagnostics.Config{},
	)

	// A site owns a rack, the rack owns a temperature sensor.
	must(engine.RegisterEntity(ctx, diagnostics.EntitySpec{ID: "site", Kind: diagnostics.KindComposite}))
	must(engine.RegisterEntity(ctx, diagnostics.EntitySpec{ID: "rack", Kind: diagnostics.KindComposite, ParentID: "site"}))
	must(engine.RegisterEntity(ctx, diagnostics.EntitySpec{ID: "temp_1", Kind: diagnostics.KindLeaf, ParentID: "rack"}))

	// A steady live feed.
	for i := 0; i < 5; i++ {
		must(engine.SubmitReading(ctx, "temp_1", diagnostics.Reading{
			Value:     23.5,
			Timestamp: time.Now().Add(time.Duration(i-5) * time.Second),
		}))
	}

	record, err := engine.GetHealth(ctx, "site")
	must(err)
	fmt.Println("site:", record.Status)
	fmt.Println("rack:", record.Children[0].Status)
	fmt.Println("temp_1:", record.Children[0].Children[0].Status)
	// Output:
	// site: HEALTHY
	// rack: HEALTHY
	// temp_1: HEALTHY
}

// Budget validation is a stateless pass over the registered attributes: the
// declared limits of a composite entity are checked against the summed
// attributes of the leaves below it.
func ExampleEngine_ValidateBudgets() {
	ctx := context.Background()
	engine := diagnostics.NewEngine(
		diagnostics.NewMemoryGraph(),
		diagnostics.NewMemoryLedger(),
		diagnostics.Config{},
	)

	must(engine.RegisterEntity(ctx, diagnostics.EntitySpec{
		ID:      "ugv",
		Kind:    diagnostics.KindComposite,
		Budgets: []diagnostics.Budget{{Attribute: "power_draw_w", Limit: 300, Unit: "watts"}},
	}))
	must(engine.RegisterEntity(ctx, diagnostics.EntitySpec{
		ID: "lidar", Kind: diagnostics.KindLeaf, ParentID: "ugv",
		Attributes: map[string]float64{"power_draw_w": 180},
	}))
	must(engine.RegisterEntity(ctx, diagnostics.EntitySpec{
		ID: "radio", Kind: diagnostics.KindLeaf, ParentID: "ugv",
		Attributes: map[string]float64{"power_draw_w": 150},
	}))

	reports, err := engine.ValidateBudgets(ctx, "ugv")
	must(err)
	for _, r := range reports {
		fmt.Printf("%s: %.0f of %.0f %s (exceeded: %v)\n",
			r.Attribute, r.Total, r.Limit, r.Unit, r.Exceeded())
	}
	// Output:
	// power_draw_w: 330 of 300 watts (exceeded: true)
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
