// internal/humanoid/behavior.go
package humanoid

import (
	"context"
	"math"
	"time"

	"github.com/hxkal/stagehand/api/schemas"
)

// CognitivePause simulates a pause with subtle, noisy cursor movements
// (idling behavior).
func (h *Humanoid) CognitivePause(ctx context.Context, meanMs, stdDevMs float64) error {
	h.mu.Lock()
	fatigueFactor := 1.0 + h.fatigueLevel
	rng := h.rng
	h.mu.Unlock()

	duration := time.Duration(fatigueFactor*(meanMs+rng.NormFloat64()*stdDevMs)) * time.Millisecond
	if duration <= 0 {
		return nil
	}
	h.recoverFatigue(duration)

	// For longer pauses, simulate more active idling.
	if duration > 100*time.Millisecond {
		return h.Hesitate(ctx, duration)
	}

	return h.executor.Sleep(ctx, duration)
}

// Hesitate simulates a user pausing with continuous, subtle cursor movements.
func (h *Humanoid) Hesitate(ctx context.Context, duration time.Duration) error {
	h.mu.Lock()
	startPos := h.currentPos
	rng := h.rng
	currentButtons := h.calculateButtonsBitfield(h.currentButtonState)
	h.mu.Unlock()

	startTime := time.Now()

	for time.Since(startTime) < duration {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		h.mu.Lock()
		targetPos := startPos.Add(Vector2D{
			X: (rng.Float64() - 0.5) * 5,
			Y: (rng.Float64() - 0.5) * 5,
		})
		randIntVal := rng.Intn(100)
		h.mu.Unlock()

		eventData := schemas.MouseEventData{
			Type:    schemas.MouseMove,
			X:       targetPos.X,
			Y:       targetPos.Y,
			Button:  schemas.ButtonNone,
			Buttons: currentButtons,
		}

		if err := h.executor.DispatchMouseEvent(ctx, eventData); err != nil {
			return err
		}

		h.mu.Lock()
		h.currentPos = targetPos
		h.mu.Unlock()

		pauseDuration := time.Duration(50+randIntVal) * time.Millisecond
		if time.Since(startTime)+pauseDuration > duration {
			pauseDuration = duration - time.Since(startTime)
		}
		if pauseDuration <= 0 {
			break
		}

		if err := h.executor.Sleep(ctx, pauseDuration); err != nil {
			return err
		}
	}
	return nil
}

// applyGaussianNoise adds high-frequency "tremor" to a mouse coordinate.
// Assumes the caller holds the lock.
func (h *Humanoid) applyGaussianNoise(point Vector2D) Vector2D {
	strength := h.dynamicConfig.GaussianStrength * (0.5 + h.rng.Float64())
	pX := h.rng.NormFloat64() * strength
	pY := h.rng.NormFloat64() * strength

	return Vector2D{X: point.X + pX, Y: point.Y + pY}
}

// applyFatigueEffects adjusts the dynamic configuration based on the current
// fatigue level. Assumes the caller holds the lock.
func (h *Humanoid) applyFatigueEffects() {
	fatigueFactor := 1.0 + h.fatigueLevel

	h.dynamicConfig.GaussianStrength = h.baseConfig.GaussianStrength * fatigueFactor
	h.dynamicConfig.WobbleAmp = h.baseConfig.WobbleAmp * fatigueFactor
	h.dynamicConfig.FittsA = h.baseConfig.FittsA * fatigueFactor

	h.dynamicConfig.TypoProbability = h.baseConfig.TypoProbability * (1.0 + h.fatigueLevel*2.0)
	h.dynamicConfig.TypoProbability = math.Min(0.25, h.dynamicConfig.TypoProbability)
}

// applyFatigue increases the fatigue level based on action intensity.
// Assumes the caller holds the lock.
func (h *Humanoid) applyFatigue(intensity float64) {
	increase := h.baseConfig.FatigueIncreaseRate * intensity
	h.fatigueLevel = math.Min(1.0, h.fatigueLevel+increase)
	h.applyFatigueEffects()
}

// updateFatigue is the locking wrapper around applyFatigue.
func (h *Humanoid) updateFatigue(intensity float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.applyFatigue(intensity)
}

// recoverFatigue simulates recovery from fatigue during pauses.
func (h *Humanoid) recoverFatigue(duration time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	recovery := h.baseConfig.FatigueRecoveryRate * duration.Seconds()
	h.fatigueLevel = math.Max(0.0, h.fatigueLevel-recovery)
	h.applyFatigueEffects()
}
