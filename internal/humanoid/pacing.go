// internal/humanoid/pacing.go
package humanoid

import (
	"math"
	"time"
)

// PauseDuration computes the inter-action pause for the current vitals:
//
//	base + (energyDeficit + focusDeficit) * circadianFactor * fatigueFactor + jitter
//
// Deficits derive from (100 - level)/100, the circadian factor is elevated
// inside the configured late-night window, and the fatigue factor grows
// linearly with elapsed session hours. The result is floored at the minimum
// pause so the loop never acts faster than a plausible human.
func (h *Humanoid) PauseDuration(v Vitals) time.Duration {
	h.mu.Lock()
	cfg := h.dynamicConfig
	rng := h.rng
	now := h.now()
	h.mu.Unlock()

	energyDeficit := deficit(v.Energy)
	focusDeficit := deficit(v.Focus)

	circadianFactor := 1.0
	if inNightWindow(now.Hour(), cfg.NightStart, cfg.NightEnd) {
		circadianFactor = cfg.NightFactor
	}

	fatigueFactor := 1.0
	if !v.SessionStart.IsZero() {
		elapsedHours := now.Sub(v.SessionStart).Hours()
		if elapsedHours > 0 {
			fatigueFactor = 1.0 + elapsedHours*cfg.FatiguePerHour
		}
	}

	deficitMs := (energyDeficit + focusDeficit) * cfg.DeficitScaleMs * circadianFactor * fatigueFactor
	jitterMs := rng.Float64() * float64(cfg.PauseJitterMs)

	totalMs := float64(cfg.BasePauseMs) + deficitMs + jitterMs
	if totalMs < float64(cfg.MinPauseMs) {
		totalMs = float64(cfg.MinPauseMs)
	}

	return time.Duration(totalMs) * time.Millisecond
}

// deficit maps a [0,100] level to its [0,1] deficit, clamping out-of-range
// inputs.
func deficit(level float64) float64 {
	clamped := math.Max(0, math.Min(100, level))
	return (100 - clamped) / 100
}

// inNightWindow reports whether the hour falls inside the [start, end)
// late-night window, handling windows that wrap past midnight.
func inNightWindow(hour, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}
