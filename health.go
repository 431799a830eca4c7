package diagnostics

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// HealthStatus is the coarse classification of a health score.
type HealthStatus uint8

const (
	// StatusNoData marks an entity that cannot be scored at all: a leaf that
	// has never reported, or a composite whose children all lack data.
	StatusNoData HealthStatus = iota
	StatusHealthy
	StatusDegraded
	StatusCritical
)

func (s HealthStatus) String() string {
	switch s {
	case StatusHealthy:
		return "HEALTHY"
	case StatusDegraded:
		return "DEGRADED"
	case StatusCritical:
		return "CRITICAL"
	default:
		return "NO_DATA"
	}
}

// Weights of the four trait components in a leaf health score.
const (
	weightStability = 0.4
	weightDrift     = 0.2
	weightFreshness = 0.2
	weightAnomaly   = 0.2
)

// neutralScore stands in for a component whose trait could not be assessed.
// Missing data degrades a score; it never fails a computation.
const neutralScore = 50.0

// A HealthRecord is the computed health of one entity at one evaluation
// instant. For composite entities it carries the records of the direct
// children it was derived from, so a caller can drill down without
// re-querying; the children themselves carry theirs, recursively.
type HealthRecord struct {
	EntityID    EntityID
	Kind        EntityKind
	Score       float64
	Status      HealthStatus
	EvaluatedAt time.Time

	// Traits is set for leaf entities only.
	Traits *TraitSnapshot

	// Children holds the records of the direct children, ordered by id. Nil
	// for leaf entities.
	Children []HealthRecord
}

// computeHealth evaluates the health of the subtree rooted at id. Every
// recursive sub-evaluation shares the one instant passed in, so the returned
// tree is coherent even when evaluation itself takes time.
//
// Children of a composite entity are evaluated concurrently. Cancellation of
// ctx abandons the whole evaluation; no partial record is returned.
func computeHealth(ctx context.Context, graph GraphStore, ledger ReadingLedger, cfg Config, id EntityID, now time.Time) (HealthRecord, error) {
	if err := ctx.Err(); err != nil {
		return HealthRecord{}, err
	}
	entity, err := graph.Entity(ctx, id)
	if err != nil {
		return HealthRecord{}, err
	}
	if entity.Kind == KindLeaf {
		return computeLeafHealth(ctx, ledger, cfg, id, now)
	}

	children, err := graph.Children(ctx, id)
	if err != nil {
		return HealthRecord{}, err
	}
	record := HealthRecord{
		EntityID:    id,
		Kind:        KindComposite,
		EvaluatedAt: now,
	}
	if len(children) == 0 {
		return record, nil
	}

	record.Children = make([]HealthRecord, len(children))
	grp, grpCtx := errgroup.WithContext(ctx)
	for i, child := range children {
		grp.Go(func() error {
			rec, err := computeHealth(grpCtx, graph, ledger, cfg, child.ID, now)
			if err != nil {
				return fmt.Errorf("child %q: %w", child.ID, err)
			}
			record.Children[i] = rec
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return HealthRecord{}, err
	}

	var sum float64
	var scored int
	for _, child := range record.Children {
		if child.Status == StatusNoData {
			if cfg.CountNoDataChildren {
				scored++
			}
			continue
		}
		sum += child.Score
		scored++
	}
	if scored == 0 {
		// All children lack data; the composite cannot be scored either.
		return record, nil
	}
	record.Score = sum / float64(scored)
	record.Status = statusOf(record.Score)
	return record, nil
}

func computeLeafHealth(ctx context.Context, ledger ReadingLedger, cfg Config, id EntityID, now time.Time) (HealthRecord, error) {
	traits, err := computeTraits(ctx, ledger, id, cfg.StabilityWindow, now, cfg)
	if err != nil {
		return HealthRecord{}, err
	}
	record := HealthRecord{
		EntityID:    id,
		Kind:        KindLeaf,
		EvaluatedAt: now,
		Traits:      &traits,
	}
	// A device that has never reported cannot be scored at all.
	if traits.Freshness.Status == NoData {
		return record, nil
	}

	stability := neutralScore
	if traits.Stability.Assessed {
		stability = traits.Stability.Score
	}

	drift := neutralScore
	if traits.Drift.Assessed {
		if traits.Drift.Drifting {
			drift = 50
		} else {
			drift = 100
		}
	}

	var freshness float64
	switch traits.Freshness.Status {
	case Live:
		freshness = 100
	case Recent:
		freshness = 50
	case Stale:
		freshness = 0
	}

	anomaly := neutralScore
	if traits.Anomaly.Assessed {
		if traits.Anomaly.Flags != 0 {
			anomaly = 0
		} else {
			anomaly = 100
		}
	}

	record.Score = stability*weightStability +
		drift*weightDrift +
		freshness*weightFreshness +
		anomaly*weightAnomaly
	record.Status = statusOf(record.Score)
	return record, nil
}

func statusOf(score float64) HealthStatus {
	switch {
	case score > 80:
		return StatusHealthy
	case score > 60:
		return StatusDegraded
	default:
		return StatusCritical
	}
}
