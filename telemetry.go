package diagnostics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("github.com/go-diagnostics/go-diagnostics")
var meter = otel.Meter("github.com/go-diagnostics/go-diagnostics")

const (
	// attrEntity is the attribute key used to associate each record with the
	// entity it concerns, enabling both collective examination across the
	// whole forest and per-entity analysis.
	attrEntity = "entity"
)

var (
	// ingestDuration measures the duration of a single reading append,
	// including the ledger's ordered insertion.
	//
	// Each record is associated with the attrEntity.
	ingestDuration metric.Float64Histogram
	// ingestFailures measures the number of failed reading appends.
	//
	// Each record is associated with the attrEntity.
	ingestFailures metric.Int64Counter
	// evaluationDuration measures the duration of a single health-tree
	// evaluation, including all recursive child evaluations.
	//
	// Each record is associated with the attrEntity of the evaluation root.
	evaluationDuration metric.Float64Histogram
	// evaluationFailures measures the number of failed health evaluations.
	evaluationFailures metric.Int64Counter
)

func init() {
	var err error
	ingestDuration, err = meter.Float64Histogram(
		"reading.ingest.duration",
		metric.WithDescription("The duration of a single reading append, including the ledger's ordered insertion."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		panic("diagnostics: failed to init 'reading.ingest.duration' instrument")
	}

	ingestFailures, err = meter.Int64Counter(
		"reading.ingest.failures",
		metric.WithDescription("The number of reading appends that have failed."),
	)
	if err != nil {
		panic("diagnostics: failed to init 'reading.ingest.failures' instrument")
	}

	evaluationDuration, err = meter.Float64Histogram(
		"health.evaluation.duration",
		metric.WithDescription("The duration of a single health-tree evaluation, including all recursive child evaluations."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		panic("diagnostics: failed to init 'health.evaluation.duration' instrument")
	}

	evaluationFailures, err = meter.Int64Counter(
		"health.evaluation.failures",
		metric.WithDescription("The number of health evaluations that have failed."),
	)
	if err != nil {
		panic("diagnostics: failed to init 'health.evaluation.failures' instrument")
	}
}

// measureIngest records the outcome of one reading append: its duration on
// success, or an increment of the failure counter.
//
// According to [metric] documentation, [metric.WithAttributeSet] should be
// used instead of [metric.WithAttributes] for performance optimization.
func measureIngest(ctx context.Context, id EntityID, succeeded bool, d time.Duration) {
	attrs := attribute.NewSet(attribute.String(attrEntity, string(id)))
	if succeeded {
		// We use floating-point division here for higher precision (instead
		// of the Millisecond method).
		duration := float64(d) / float64(time.Millisecond)
		ingestDuration.Record(ctx, duration, metric.WithAttributeSet(attrs))
	} else {
		ingestFailures.Add(ctx, 1, metric.WithAttributeSet(attrs))
	}
}

// measureEvaluation records the outcome of one health-tree evaluation,
// labelled with the entity at the evaluation root.
func measureEvaluation(ctx context.Context, id EntityID, succeeded bool, d time.Duration) {
	attrs := attribute.NewSet(attribute.String(attrEntity, string(id)))
	if succeeded {
		duration := float64(d) / float64(time.Millisecond)
		evaluationDuration.Record(ctx, duration, metric.WithAttributeSet(attrs))
	} else {
		evaluationFailures.Add(ctx, 1, metric.WithAttributeSet(attrs))
	}
}
