package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"time"
)

// StabilityStatus classifies the stability score of a leaf entity.
type StabilityStatus uint8

const (
	StabilityUnknown StabilityStatus = iota
	Stable
	Noisy
	Unstable
)

func (s StabilityStatus) String() string {
	switch s {
	case Stable:
		return "STABLE"
	case Noisy:
		return "NOISY"
	case Unstable:
		return "UNSTABLE"
	default:
		return "UNKNOWN"
	}
}

// FreshnessStatus classifies the age of an entity's most recent reading.
type FreshnessStatus uint8

const (
	FreshnessUnknown FreshnessStatus = iota
	Live
	Recent
	Stale
	NoData
)

func (s FreshnessStatus) String() string {
	switch s {
	case Live:
		return "LIVE"
	case Recent:
		return "RECENT"
	case Stale:
		return "STALE"
	case NoData:
		return "NO_DATA"
	default:
		return "UNKNOWN"
	}
}

// AnomalyFlags is a bit set of independent anomaly conditions. More than one
// may hold at once (a stuck sensor is also, trivially, not spiking, but a
// rapidly changing one can spike at the same time).
type AnomalyFlags uint8

const (
	// AnomalySpike marks a current value more than three baseline standard
	// deviations from the baseline mean.
	AnomalySpike AnomalyFlags = 1 << iota
	// AnomalyStuck marks a series whose last readings are all bit-identical.
	AnomalyStuck
	// AnomalyRapidChange marks a short-window drift magnitude beyond the
	// rapid-change threshold.
	AnomalyRapidChange
)

func (f AnomalyFlags) String() string {
	if f == 0 {
		return "NONE"
	}
	var out string
	appendFlag := func(bit AnomalyFlags, name string) {
		if f&bit == 0 {
			return
		}
		if out != "" {
			out += "|"
		}
		out += name
	}
	appendFlag(AnomalySpike, "SPIKE")
	appendFlag(AnomalyStuck, "STUCK")
	appendFlag(AnomalyRapidChange, "RAPID_CHANGE")
	return out
}

// A Stability is the result of the stability computation over one window.
type Stability struct {
	// Score is in [0, 100]; 100 is perfectly stable.
	Score float64
	// Sigma is the sample standard deviation the score was derived from.
	Sigma  float64
	Status StabilityStatus
	// Samples is how many readings the window held.
	Samples int
	// Assessed is false when the window held fewer than two readings. Score
	// and Status are meaningless in that case.
	Assessed bool
}

// A Drift is the result of the drift computation over one window.
type Drift struct {
	// PerMinute is the fitted least-squares slope converted to units per
	// minute. Positive means the value is rising.
	PerMinute float64
	Drifting  bool
	Samples   int
	// Assessed is false when the window held fewer than three readings.
	Assessed bool
}

// A Freshness is the result of the freshness computation.
type Freshness struct {
	Status FreshnessStatus
	// Age is the elapsed time since the latest reading. Zero when Status is
	// NoData.
	Age time.Duration
}

// An Anomaly is the result of the anomaly computation.
type Anomaly struct {
	Flags AnomalyFlags
	// ZScore is the distance of the current value from the baseline mean in
	// baseline standard deviations. Zero when the baseline deviation is zero.
	ZScore float64
	// BaselineMean and BaselineSigma describe the reference window.
	BaselineMean  float64
	BaselineSigma float64
	// Assessed is false when the reference window held too few readings.
	Assessed bool
}

// A TraitSnapshot bundles the four derived trait computations for one leaf
// entity, all evaluated against the same instant.
type TraitSnapshot struct {
	EntityID    EntityID
	EvaluatedAt time.Time
	Stability   Stability
	Drift       Drift
	Freshness   Freshness
	Anomaly     Anomaly
}

// computeStability derives the stability trait from the readings of one
// window. It is a pure function of its inputs.
func computeStability(readings []Reading, cfg Config) Stability {
	if len(readings) < 2 {
		return Stability{Samples: len(readings)}
	}
	sigma := sampleStddev(readings)
	score := math.Max(0, 100-sigma*cfg.StabilityScale)
	out := Stability{
		Score:    score,
		Sigma:    sigma,
		Samples:  len(readings),
		Assessed: true,
	}
	switch {
	case score >= 80:
		out.Status = Stable
	case score >= 60:
		out.Status = Noisy
	default:
		out.Status = Unstable
	}
	return out
}

// computeDrift fits an ordinary least-squares line over elapsed seconds since
// the window start and reports the slope in units per minute.
func computeDrift(readings []Reading, cfg Config) Drift {
	if len(readings) < 3 {
		return Drift{Samples: len(readings)}
	}
	perMinute := olsSlope(readings) * 60
	return Drift{
		PerMinute: perMinute,
		Drifting:  math.Abs(perMinute) > cfg.DriftThreshold,
		Samples:   len(readings),
		Assessed:  true,
	}
}

// computeFreshness classifies the age of the latest reading at the given
// instant. A zero latest timestamp means the entity has never reported.
func computeFreshness(latest Reading, now time.Time, cfg Config) Freshness {
	if latest.Timestamp.IsZero() {
		return Freshness{Status: NoData}
	}
	age := now.Sub(latest.Timestamp)
	out := Freshness{Age: age}
	switch {
	case age < cfg.FreshLive:
		out.Status = Live
	case age < cfg.FreshRecent:
		out.Status = Recent
	default:
		out.Status = Stale
	}
	return out
}

// computeAnomaly assesses the current value against a rolling baseline built
// from the reference window, plus the stuck and rapid-change conditions over
// the short window.
func computeAnomaly(reference, short []Reading, cfg Config) Anomaly {
	if len(reference) < cfg.AnomalyMinSamples {
		return Anomaly{}
	}
	mean := sampleMean(reference)
	sigma := sampleStddev(reference)
	out := Anomaly{
		BaselineMean:  mean,
		BaselineSigma: sigma,
		Assessed:      true,
	}

	current := reference[len(reference)-1].Value
	// A zero baseline deviation leaves the z-score undefined; a series that
	// flat is never a spike.
	if sigma > 0 {
		out.ZScore = (current - mean) / sigma
		if math.Abs(current-mean) > 3*sigma {
			out.Flags |= AnomalySpike
		}
	}

	if n := cfg.StuckSampleCount; len(reference) >= n {
		tail := reference[len(reference)-n:]
		stuck := true
		for _, r := range tail[1:] {
			// Bit identity, not epsilon closeness: a healthy sensor
			// jitters in its least significant bits.
			if math.Float64bits(r.Value) != math.Float64bits(tail[0].Value) {
				stuck = false
				break
			}
		}
		if stuck {
			out.Flags |= AnomalyStuck
		}
	}

	if len(short) >= 3 {
		if perMinute := olsSlope(short) * 60; math.Abs(perMinute) > cfg.RapidChangeThreshold {
			out.Flags |= AnomalyRapidChange
		}
	}
	return out
}

// computeTraits evaluates all four traits for one leaf entity at one instant.
// It issues three window queries against the ledger and is otherwise pure.
func computeTraits(ctx context.Context, ledger ReadingLedger, id EntityID, window time.Duration, now time.Time, cfg Config) (TraitSnapshot, error) {
	// Ledger windows are half-open, so nudge the end bound to take a reading
	// stamped at the evaluation instant itself.
	end := now.Add(time.Nanosecond)

	stabilityWindow, err := collectWindow(ctx, ledger, id, now.Add(-window), end)
	if err != nil {
		return TraitSnapshot{}, fmt.Errorf("stability window of %q: %w", id, err)
	}
	driftWindow := stabilityWindow
	if cfg.DriftWindow != window {
		driftWindow, err = collectWindow(ctx, ledger, id, now.Add(-cfg.DriftWindow), end)
		if err != nil {
			return TraitSnapshot{}, fmt.Errorf("drift window of %q: %w", id, err)
		}
	}
	reference, err := collectWindow(ctx, ledger, id, now.Add(-cfg.AnomalyReferenceWindow), end)
	if err != nil {
		return TraitSnapshot{}, fmt.Errorf("reference window of %q: %w", id, err)
	}

	var latest Reading
	switch r, err := ledger.Latest(ctx, id); {
	case err == nil:
		latest = r
	case errors.Is(err, ErrNoData):
		// latest stays zero; freshness reports NO_DATA.
	default:
		return TraitSnapshot{}, fmt.Errorf("latest reading of %q: %w", id, err)
	}

	return TraitSnapshot{
		EntityID:    id,
		EvaluatedAt: now,
		Stability:   computeStability(stabilityWindow, cfg),
		Drift:       computeDrift(driftWindow, cfg),
		Freshness:   computeFreshness(latest, now, cfg),
		Anomaly:     computeAnomaly(reference, driftWindow, cfg),
	}, nil
}

func collectWindow(ctx context.Context, ledger ReadingLedger, id EntityID, start, end time.Time) ([]Reading, error) {
	seq, err := ledger.Window(ctx, id, start, end)
	if err != nil {
		return nil, err
	}
	return collect(seq), nil
}

func collect(seq iter.Seq[Reading]) []Reading {
	var out []Reading
	for r := range seq {
		out = append(out, r)
	}
	return out
}

func sampleMean(readings []Reading) float64 {
	var sum float64
	for _, r := range readings {
		sum += r.Value
	}
	return sum / float64(len(readings))
}

// sampleStddev is the n-1 (Bessel-corrected) standard deviation of the
// reading values. Callers guarantee at least two readings.
func sampleStddev(readings []Reading) float64 {
	mean := sampleMean(readings)
	var sum float64
	for _, r := range readings {
		d := r.Value - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(readings)-1))
}

// olsSlope fits value = m*t + b over elapsed seconds since the first reading
// and returns m in units per second. Callers guarantee at least three
// readings.
func olsSlope(readings []Reading) float64 {
	origin := readings[0].Timestamp
	n := float64(len(readings))
	var sumT, sumV, sumTT, sumTV float64
	for _, r := range readings {
		t := r.Timestamp.Sub(origin).Seconds()
		sumT += t
		sumV += r.Value
		sumTT += t * t
		sumTV += t * r.Value
	}
	denom := n*sumTT - sumT*sumT
	if denom == 0 {
		// All readings share one timestamp; no slope is derivable.
		return 0
	}
	return (n*sumTV - sumT*sumV) / denom
}
