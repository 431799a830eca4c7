package diagnostics

import (
	"context"
	"fmt"
)

// A BudgetReport is the outcome of checking one declared budget of a
// composite entity against its subtree.
type BudgetReport struct {
	EntityID  EntityID
	Attribute string
	Limit     float64
	// Total is the sum of the named attribute over every leaf entity in the
	// subtree. Leaves without the attribute contribute zero.
	Total float64
	Unit  string
	// Contributors is how many leaf entities carried the attribute.
	Contributors int
}

// Exceeded reports whether the subtree total is over the declared limit.
func (r BudgetReport) Exceeded() bool {
	return r.Total > r.Limit
}

// Headroom is the remaining budget. Negative when the budget is exceeded.
func (r BudgetReport) Headroom() float64 {
	return r.Limit - r.Total
}

// validateBudgets checks every budget declared by the given composite entity
// against the leaf entities of its subtree. An entity without declared
// budgets yields an empty report slice; validation is a stateless pass over
// current entity attributes and touches no readings.
func validateBudgets(ctx context.Context, graph GraphStore, id EntityID) ([]BudgetReport, error) {
	entity, err := graph.Entity(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(entity.Budgets) == 0 {
		return nil, nil
	}

	totals := make(map[string]float64, len(entity.Budgets))
	counts := make(map[string]int, len(entity.Budgets))
	if err := sumLeafAttributes(ctx, graph, id, totals, counts); err != nil {
		return nil, fmt.Errorf("budget subtree of %q: %w", id, err)
	}

	reports := make([]BudgetReport, 0, len(entity.Budgets))
	for _, b := range entity.Budgets {
		reports = append(reports, BudgetReport{
			EntityID:     id,
			Attribute:    b.Attribute,
			Limit:        b.Limit,
			Total:        totals[b.Attribute],
			Unit:         b.Unit,
			Contributors: counts[b.Attribute],
		})
	}
	return reports, nil
}

func sumLeafAttributes(ctx context.Context, graph GraphStore, id EntityID, totals map[string]float64, counts map[string]int) error {
	children, err := graph.Children(ctx, id)
	if err != nil {
		return err
	}
	for _, child := range children {
		if child.Kind == KindLeaf {
			for attr, v := range child.Attributes {
				totals[attr] += v
				counts[attr]++
			}
			continue
		}
		if err := sumLeafAttributes(ctx, graph, child.ID, totals, counts); err != nil {
			return err
		}
	}
	return nil
}
