package diagnostics

import "time"

// Documented defaults for Config. A zero Config field is replaced by its
// default when the Engine is constructed, so the zero value of Config is a
// fully working configuration.
const (
	DefaultStabilityWindow        = 60 * time.Second
	DefaultDriftWindow            = 60 * time.Second
	DefaultAnomalyReferenceWindow = time.Hour
	DefaultFreshLive              = 5 * time.Second
	DefaultFreshRecent            = 30 * time.Second
	DefaultDriftThreshold         = 0.1 // units per minute
	DefaultRapidChangeThreshold   = 1.0 // units per minute
	DefaultStuckSampleCount       = 10
	DefaultAnomalyMinSamples      = 10
	DefaultStabilityScale         = 10.0
	DefaultTraitCacheTTL          = time.Second
)

// A Config carries the recognised tuning options of the engine. It is
// supplied once at Engine construction and is immutable thereafter: every
// computation is a pure function of its explicit inputs plus this
// configuration - there is no ambient or global state.
type Config struct {
	// StabilityWindow bounds the readings considered by the stability
	// computation.
	StabilityWindow time.Duration
	// DriftWindow bounds the readings considered by the drift computation.
	DriftWindow time.Duration
	// AnomalyReferenceWindow bounds the readings that establish the rolling
	// baseline (mean and standard deviation) for anomaly detection. It is
	// independent of, and typically much longer than, the stability window.
	AnomalyReferenceWindow time.Duration

	// FreshLive and FreshRecent split reading age into LIVE / RECENT / STALE.
	FreshLive   time.Duration
	FreshRecent time.Duration

	// DriftThreshold is the absolute drift, in units per minute, above which
	// a leaf is reported as DRIFTING.
	DriftThreshold float64
	// RapidChangeThreshold is the absolute short-window drift, in units per
	// minute, above which the anomaly computation raises a RAPID_CHANGE flag.
	// It is deliberately larger than DriftThreshold.
	RapidChangeThreshold float64

	// StuckSampleCount is how many consecutive bit-identical readings raise
	// a STUCK flag.
	StuckSampleCount int
	// AnomalyMinSamples is the minimum number of reference-window readings
	// required before anomaly status is assessable at all.
	AnomalyMinSamples int

	// StabilityScale converts the sample standard deviation into a score
	// penalty: score = max(0, 100 - sigma*StabilityScale).
	StabilityScale float64

	// TraitCacheTTL bounds how long a memoised trait snapshot may be served
	// before it is recomputed, even when no new reading has arrived.
	TraitCacheTTL time.Duration

	// CountNoDataChildren switches the composite aggregation policy: when
	// false (the default), a composite score averages only children that are
	// not NO_DATA; when true, NO_DATA children contribute a zero score.
	CountNoDataChildren bool
}

// withDefaults returns a copy of c with every zero field replaced by its
// documented default.
func (c Config) withDefaults() Config {
	if c.StabilityWindow <= 0 {
		c.StabilityWindow = DefaultStabilityWindow
	}
	if c.DriftWindow <= 0 {
		c.DriftWindow = DefaultDriftWindow
	}
	if c.AnomalyReferenceWindow <= 0 {
		c.AnomalyReferenceWindow = DefaultAnomalyReferenceWindow
	}
	if c.FreshLive <= 0 {
		c.FreshLive = DefaultFreshLive
	}
	if c.FreshRecent <= 0 {
		c.FreshRecent = DefaultFreshRecent
	}
	if c.DriftThreshold <= 0 {
		c.DriftThreshold = DefaultDriftThreshold
	}
	if c.RapidChangeThreshold <= 0 {
		c.RapidChangeThreshold = DefaultRapidChangeThreshold
	}
	if c.StuckSampleCount <= 0 {
		c.StuckSampleCount = DefaultStuckSampleCount
	}
	if c.AnomalyMinSamples <= 0 {
		c.AnomalyMinSamples = DefaultAnomalyMinSamples
	}
	if c.StabilityScale <= 0 {
		c.StabilityScale = DefaultStabilityScale
	}
	if c.TraitCacheTTL <= 0 {
		c.TraitCacheTTL = DefaultTraitCacheTTL
	}
	return c
}
