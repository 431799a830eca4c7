package httpapi

import (
	"time"

	"github.com/go-diagnostics/go-diagnostics"
)

// The wire representations of the engine's result types. Enumerations travel
// as their string forms so that clients never depend on internal numbering.

type entityPayload struct {
	ID         diagnostics.EntityID `json:"id"`
	Kind       string               `json:"kind"`
	Name       string               `json:"name,omitempty"`
	Enabled    bool                 `json:"enabled"`
	Attributes map[string]float64   `json:"attributes,omitempty"`
	Budgets    []budgetPayload      `json:"budgets,omitempty"`
}

func formatEntity(e diagnostics.Entity) entityPayload {
	out := entityPayload{
		ID:         e.ID,
		Kind:       e.Kind.String(),
		Name:       e.Name,
		Enabled:    e.Enabled,
		Attributes: e.Attributes,
	}
	for _, b := range e.Budgets {
		out.Budgets = append(out.Budgets, budgetPayload{
			Attribute: b.Attribute, Limit: b.Limit, Unit: b.Unit,
		})
	}
	return out
}

type healthPayload struct {
	EntityID    diagnostics.EntityID `json:"entity_id"`
	Kind        string               `json:"kind"`
	Status      string               `json:"status"`
	Score       float64              `json:"score"`
	EvaluatedAt time.Time            `json:"evaluated_at"`
	Traits      *traitsPayload       `json:"traits,omitempty"`
	Children    []healthPayload      `json:"children,omitempty"`
}

func formatHealth(record diagnostics.HealthRecord) healthPayload {
	out := healthPayload{
		EntityID:    record.EntityID,
		Kind:        record.Kind.String(),
		Status:      record.Status.String(),
		Score:       record.Score,
		EvaluatedAt: record.EvaluatedAt,
	}
	if record.Traits != nil {
		traits := formatTraits(record.Traits)
		out.Traits = &traits
	}
	for _, child := range record.Children {
		out.Children = append(out.Children, formatHealth(child))
	}
	return out
}

type traitsPayload struct {
	EntityID    diagnostics.EntityID `json:"entity_id"`
	EvaluatedAt time.Time            `json:"evaluated_at"`
	Stability   stabilityPayload     `json:"stability"`
	Drift       driftPayload         `json:"drift"`
	Freshness   freshnessPayload     `json:"freshness"`
	Anomaly     anomalyPayload       `json:"anomaly"`
}

type stabilityPayload struct {
	Status   string  `json:"status"`
	Score    float64 `json:"score"`
	Sigma    float64 `json:"sigma"`
	Samples  int     `json:"samples"`
	Assessed bool    `json:"assessed"`
}

type driftPayload struct {
	PerMinute float64 `json:"per_minute"`
	Drifting  bool    `json:"drifting"`
	Samples   int     `json:"samples"`
	Assessed  bool    `json:"assessed"`
}

type freshnessPayload struct {
	Status string `json:"status"`
	AgeMS  int64  `json:"age_ms"`
}

type anomalyPayload struct {
	Flags         string  `json:"flags"`
	ZScore        float64 `json:"z_score"`
	BaselineMean  float64 `json:"baseline_mean"`
	BaselineSigma float64 `json:"baseline_sigma"`
	Assessed      bool    `json:"assessed"`
}

func formatTraits(t *diagnostics.TraitSnapshot) traitsPayload {
	return traitsPayload{
		EntityID:    t.EntityID,
		EvaluatedAt: t.EvaluatedAt,
		Stability: stabilityPayload{
			Status:   t.Stability.Status.String(),
			Score:    t.Stability.Score,
			Sigma:    t.Stability.Sigma,
			Samples:  t.Stability.Samples,
			Assessed: t.Stability.Assessed,
		},
		Drift: driftPayload{
			PerMinute: t.Drift.PerMinute,
			Drifting:  t.Drift.Drifting,
			Samples:   t.Drift.Samples,
			Assessed:  t.Drift.Assessed,
		},
		Freshness: freshnessPayload{
			Status: t.Freshness.Status.String(),
			AgeMS:  t.Freshness.Age.Milliseconds(),
		},
		Anomaly: anomalyPayload{
			Flags:         t.Anomaly.Flags.String(),
			ZScore:        t.Anomaly.ZScore,
			BaselineMean:  t.Anomaly.BaselineMean,
			BaselineSigma: t.Anomaly.BaselineSigma,
			Assessed:      t.Anomaly.Assessed,
		},
	}
}

type budgetReportPayload struct {
	EntityID  diagnostics.EntityID `json:"entity_id"`
	Attribute string               `json:"attribute"`
	Limit     float64              `json:"limit"`
	Total     float64              `json:"total"`
	Unit      string               `json:"unit,omitempty"`
	Exceeded  bool                 `json:"exceeded"`
	Headroom  float64              `json:"headroom"`
}

func formatBudgetReport(r diagnostics.BudgetReport) budgetReportPayload {
	return budgetReportPayload{
		EntityID:  r.EntityID,
		Attribute: r.Attribute,
		Limit:     r.Limit,
		Total:     r.Total,
		Unit:      r.Unit,
		Exceeded:  r.Exceeded(),
		Headroom:  r.Headroom(),
	}
}
