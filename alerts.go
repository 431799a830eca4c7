package diagnostics

import (
	"fmt"
	"time"
)

// Severity ranks how urgently an alert needs attention.
type Severity uint8

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

// AlertType names the condition an alert reports.
type AlertType string

const (
	AlertSpike       AlertType = "anomaly_spike"
	AlertStuck       AlertType = "stuck_value"
	AlertRapidChange AlertType = "rapid_change"
	AlertDrifting    AlertType = "drifting"
	AlertUnstable    AlertType = "unstable"
	AlertAging       AlertType = "aging"
	AlertStale       AlertType = "stale"
)

// An Alert reports one unhealthy condition observed on one entity at one
// evaluation instant. Alerts are derived from the computed health tree and
// never stored as entity state; an unchanged condition produces an identical
// alert on every evaluation cycle, and deduplication is the caller's concern.
type Alert struct {
	EntityID   EntityID
	Type       AlertType
	Severity   Severity
	Message    string
	DetectedAt time.Time
}

// evaluateAlerts walks a computed health tree and emits one alert per
// unhealthy trait condition found on its leaf entities.
//
// An entity that has never reported at all produces no staleness alert: there
// is no feed to have lost. A previously-live entity that stopped reporting
// surfaces as STALE and alerts at high severity.
func evaluateAlerts(record *HealthRecord) []Alert {
	var alerts []Alert
	Inspect(record, func(rec *HealthRecord) bool {
		if rec == nil || rec.Traits == nil {
			return true
		}
		alerts = append(alerts, evaluateTraits(rec.Traits)...)
		return true
	})
	return alerts
}

func evaluateTraits(t *TraitSnapshot) []Alert {
	var alerts []Alert
	emit := func(typ AlertType, sev Severity, msg string) {
		alerts = append(alerts, Alert{
			EntityID:   t.EntityID,
			Type:       typ,
			Severity:   sev,
			Message:    msg,
			DetectedAt: t.EvaluatedAt,
		})
	}

	if t.Anomaly.Assessed {
		if t.Anomaly.Flags&AnomalySpike != 0 {
			emit(AlertSpike, SeverityHigh, fmt.Sprintf(
				"value deviates %.1f standard deviations from the baseline mean %.2f",
				t.Anomaly.ZScore, t.Anomaly.BaselineMean))
		}
		if t.Anomaly.Flags&AnomalyStuck != 0 {
			emit(AlertStuck, SeverityMedium, "last readings are bit-identical; sensor may be stuck")
		}
		if t.Anomaly.Flags&AnomalyRapidChange != 0 {
			emit(AlertRapidChange, SeverityHigh, "value is changing faster than the rapid-change threshold")
		}
	}

	if t.Drift.Assessed && t.Drift.Drifting {
		emit(AlertDrifting, SeverityMedium, fmt.Sprintf(
			"value drifts %.3f units per minute", t.Drift.PerMinute))
	}

	if t.Stability.Assessed && t.Stability.Status == Unstable {
		emit(AlertUnstable, SeverityMedium, fmt.Sprintf(
			"stability score %.1f (sigma %.3f)", t.Stability.Score, t.Stability.Sigma))
	}

	switch t.Freshness.Status {
	case Recent:
		emit(AlertAging, SeverityMedium, fmt.Sprintf(
			"last reading is %s old", t.Freshness.Age.Round(time.Millisecond)))
	case Stale:
		emit(AlertStale, SeverityHigh, fmt.Sprintf(
			"entity stopped reporting; last reading is %s old", t.Freshness.Age.Round(time.Millisecond)))
	}
	return alerts
}
