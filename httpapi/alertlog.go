package httpapi

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/go-diagnostics/go-diagnostics"
)

// alertNamespace seeds the deterministic alert ids. Version-5 UUIDs over this
// namespace give the same condition the same id on every evaluation cycle and
// on every replica serving the same forest.
var alertNamespace = uuid.MustParse("7f1aebcb-9ae2-4479-9b4c-05fc6a5f0c2e")

// An observedAlert is an engine alert decorated with its stable id and the
// freshness marker maintained by the alert log.
type observedAlert struct {
	ID       uuid.UUID             `json:"id"`
	EntityID diagnostics.EntityID  `json:"entity_id"`
	Type     diagnostics.AlertType `json:"type"`
	Severity string                `json:"severity"`
	Message  string                `json:"message"`
	// DetectedAt is the evaluation instant of the cycle that produced this
	// alert, not the instant the condition first appeared.
	DetectedAt time.Time `json:"detected_at"`
	// Fresh is true the first cycle a condition is observed after being
	// absent. A condition that clears and then returns is fresh again.
	Fresh bool `json:"fresh"`
}

// An alertLog tracks which alert conditions have already been reported. The
// engine derives alerts statelessly, so without this log every poll would
// look like a brand-new incident.
//
// The condition identity is (entity, type): messages carry measurements that
// change between cycles (ages, z-scores) and must not re-arm an alert.
type alertLog struct {
	mu     sync.Mutex
	active map[uuid.UUID]bool
}

func newAlertLog() *alertLog {
	return &alertLog{active: make(map[uuid.UUID]bool)}
}

// reconcile replaces the active condition set with the given evaluation
// cycle's alerts. Conditions absent from the cycle are dropped so that they
// report as fresh if they ever come back.
func (l *alertLog) reconcile(alerts []diagnostics.Alert) []observedAlert {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := make(map[uuid.UUID]bool, len(alerts))
	out := make([]observedAlert, 0, len(alerts))
	for _, a := range alerts {
		id := alertID(a)
		// The same condition can surface twice in one cycle when subtree
		// queries overlap; report it once.
		if next[id] {
			continue
		}
		next[id] = true
		out = append(out, observedAlert{
			ID:         id,
			EntityID:   a.EntityID,
			Type:       a.Type,
			Severity:   a.Severity.String(),
			Message:    a.Message,
			DetectedAt: a.DetectedAt,
			Fresh:      !l.active[id],
		})
	}
	l.active = next
	return out
}

func alertID(a diagnostics.Alert) uuid.UUID {
	return uuid.NewSHA1(alertNamespace, []byte(string(a.EntityID)+"/"+string(a.Type)))
}
