// internal/humanoid/config.go
package humanoid

import (
	"math"
	"math/rand"

	appconfig "github.com/hxkal/stagehand/internal/config"
)

// Config holds the parameters defining the behavior of the simulation.
type Config struct {
	Rng *rand.Rand

	// Fitts's Law parameters (population means with per-session variance).
	FittsAMean, FittsAStdDev float64
	FittsBMean, FittsBStdDev float64

	// Noise and tremor.
	GaussianStrengthMean, GaussianStrengthStdDev float64
	WobbleAmpMean, WobbleAmpStdDev               float64
	DriftAmpMean, DriftAmpStdDev                 float64

	// Typing behavior.
	TypeDelayMinMs, TypeDelayMaxMs int
	TypoProbability                float64
	ThinkProbability               float64
	RetypeProbability              float64
	KeyHoldMeanMs, KeyHoldStdDevMs float64

	// Clicking behavior.
	ClickHoldMinMs, ClickHoldMaxMs int
	AimPauseMinMs, AimPauseMaxMs   int

	// Inter-action pacing.
	BasePauseMs    int
	MinPauseMs     int
	PauseJitterMs  int
	DeficitScaleMs float64
	NightFactor    float64
	NightStart     int
	NightEnd       int
	FatiguePerHour float64

	// Fatigue modeling.
	FatigueIncreaseRate float64
	FatigueRecoveryRate float64

	// Instance parameters sampled once per session.
	FittsA, FittsB             float64
	GaussianStrength           float64
	WobbleAmp                  float64
	DriftAmp                   float64
	KeyHoldMean, KeyHoldStdDev float64
}

// DefaultConfig returns a configuration representing an average user.
func DefaultConfig() Config {
	return Config{
		FittsAMean: 100.0, FittsAStdDev: 15.0,
		FittsBMean: 120.0, FittsBStdDev: 20.0,
		GaussianStrengthMean: 0.5, GaussianStrengthStdDev: 0.1,
		WobbleAmpMean: 3.0, WobbleAmpStdDev: 0.6,
		DriftAmpMean: 2.5, DriftAmpStdDev: 0.5,
		TypeDelayMinMs: 120, TypeDelayMaxMs: 300,
		TypoProbability:   0.04,
		ThinkProbability:  0.03,
		RetypeProbability: 0.02,
		KeyHoldMeanMs:     55.0, KeyHoldStdDevMs: 15.0,
		ClickHoldMinMs: 50, ClickHoldMaxMs: 120,
		AimPauseMinMs: 120, AimPauseMaxMs: 320,
		BasePauseMs:    4000,
		MinPauseMs:     2500,
		PauseJitterMs:  3000,
		DeficitScaleMs: 3000.0,
		NightFactor:    1.6,
		NightStart:     23,
		NightEnd:       6,
		FatiguePerHour: 0.35,

		FatigueIncreaseRate: 0.005,
		FatigueRecoveryRate: 0.01,
	}
}

// FromSettings builds a Config from the application settings, keeping
// population defaults for parameters the settings do not expose.
func FromSettings(s appconfig.HumanoidConfig) Config {
	c := DefaultConfig()
	if s.TypeDelayMinMs > 0 {
		c.TypeDelayMinMs = s.TypeDelayMinMs
	}
	if s.TypeDelayMaxMs > 0 {
		c.TypeDelayMaxMs = s.TypeDelayMaxMs
	}
	if s.TypoProbability > 0 {
		c.TypoProbability = s.TypoProbability
	}
	if s.ThinkProbability > 0 {
		c.ThinkProbability = s.ThinkProbability
	}
	if s.RetypeProbability > 0 {
		c.RetypeProbability = s.RetypeProbability
	}
	if s.BasePauseMs > 0 {
		c.BasePauseMs = s.BasePauseMs
	}
	if s.MinPauseMs > 0 {
		c.MinPauseMs = s.MinPauseMs
	}
	if s.PauseJitterMs > 0 {
		c.PauseJitterMs = s.PauseJitterMs
	}
	if s.NightFactor > 0 {
		c.NightFactor = s.NightFactor
	}
	c.NightStart = s.NightStart
	c.NightEnd = s.NightEnd
	if s.FatiguePerHr > 0 {
		c.FatiguePerHour = s.FatiguePerHr
	}
	if s.ClickHoldMinMs > 0 {
		c.ClickHoldMinMs = s.ClickHoldMinMs
	}
	if s.ClickHoldMaxMs > 0 {
		c.ClickHoldMaxMs = s.ClickHoldMaxMs
	}
	if s.WobbleAmp > 0 {
		c.WobbleAmpMean = s.WobbleAmp
	}
	if s.DriftAmp > 0 {
		c.DriftAmpMean = s.DriftAmp
	}
	return c
}

// FinalizeSessionPersona generates the fixed instance parameters for a
// session. Each Humanoid instance gets its own slightly different motor
// profile so consecutive sessions do not share an input signature.
func (c *Config) FinalizeSessionPersona(rng *rand.Rand) {
	c.Rng = rng
	c.FittsA = sampleGaussian(rng, c.FittsAMean, c.FittsAStdDev)
	c.FittsB = sampleGaussian(rng, c.FittsBMean, c.FittsBStdDev)
	c.GaussianStrength = sampleGaussian(rng, c.GaussianStrengthMean, c.GaussianStrengthStdDev)
	c.WobbleAmp = sampleGaussian(rng, c.WobbleAmpMean, c.WobbleAmpStdDev)
	c.DriftAmp = sampleGaussian(rng, c.DriftAmpMean, c.DriftAmpStdDev)
	c.KeyHoldMean = sampleGaussian(rng, c.KeyHoldMeanMs, c.KeyHoldStdDevMs)
	c.KeyHoldStdDev = c.KeyHoldStdDevMs

	// Keep sampled parameters within plausible bounds.
	c.FittsA = math.Max(40.0, c.FittsA)
	c.FittsB = math.Max(60.0, c.FittsB)
	c.GaussianStrength = math.Max(0.0, c.GaussianStrength)
	c.WobbleAmp = math.Max(0.5, c.WobbleAmp)
	c.DriftAmp = math.Max(0.0, c.DriftAmp)
	c.KeyHoldMean = math.Max(20.0, c.KeyHoldMean)

	if c.ClickHoldMaxMs <= c.ClickHoldMinMs {
		c.ClickHoldMaxMs = c.ClickHoldMinMs + 1
	}
	if c.AimPauseMaxMs <= c.AimPauseMinMs {
		c.AimPauseMaxMs = c.AimPauseMinMs + 1
	}
	if c.TypeDelayMaxMs <= c.TypeDelayMinMs {
		c.TypeDelayMaxMs = c.TypeDelayMinMs + 1
	}
}

// sampleGaussian samples a value from a Gaussian distribution.
func sampleGaussian(rng *rand.Rand, mean, stdDev float64) float64 {
	if rng == nil {
		return mean
	}
	return mean + rng.NormFloat64()*stdDev
}
