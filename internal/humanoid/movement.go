// internal/humanoid/movement.go
package humanoid

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/hxkal/stagehand/api/schemas"
	"go.uber.org/zap"
)

// computeEaseInOutCubic provides a smooth acceleration and deceleration
// profile for movement.
func computeEaseInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

// calculateFittsLawInternal determines a realistic movement duration based on
// Fitts's Law. Assumes the caller holds the lock.
func (h *Humanoid) calculateFittsLawInternal(distance float64) time.Duration {
	const W = 30.0 // Assumed default target width in pixels.
	id := math.Log2(1.0 + distance/W)

	// Dynamic config parameters are affected by fatigue.
	A := h.dynamicConfig.FittsA
	B := h.dynamicConfig.FittsB
	rng := h.rng

	mt := A + B*id
	mt += mt * (rng.Float64()*0.3 - 0.15) // +/- 15%

	return time.Duration(mt) * time.Millisecond
}

// moveToVector moves the pointer to the target coordinate along an eased path
// with a perpendicular sinusoidal wobble and low-frequency drift.
func (h *Humanoid) moveToVector(ctx context.Context, target Vector2D) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.moveToVectorLocked(ctx, target)
}

// moveToVectorLocked is the non-locking core, callable from methods that
// already hold the mutex.
func (h *Humanoid) moveToVectorLocked(ctx context.Context, target Vector2D) error {
	start := h.currentPos
	dist := start.Dist(target)
	h.applyFatigue(dist / 1000.0)

	if dist < 1.0 {
		h.currentPos = target
		return nil
	}

	duration := h.calculateFittsLawInternal(dist)
	numSteps := int(duration.Seconds() * 100)
	if numSteps < 4 {
		numSteps = 4
	}

	direction := target.Sub(start).Normalize()
	perp := direction.Perp()
	buttonsBitfield := h.calculateButtonsBitfield(h.currentButtonState)

	// Each movement gets its own wobble phase and cycle count so repeated
	// moves to the same target never trace the same curve.
	wobbleCycles := 1.0 + h.rng.Float64()*1.5
	wobblePhase := h.rng.Float64() * 2 * math.Pi
	wobbleAmp := h.dynamicConfig.WobbleAmp * (0.6 + h.rng.Float64()*0.8)
	driftAmp := h.dynamicConfig.DriftAmp
	noiseOffset := h.rng.Float64() * 1000.0

	startTime := time.Now()
	for i := 0; i < numSteps; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		t := float64(i) / float64(numSteps-1)
		easedT := computeEaseInOutCubic(t)

		base := start.Add(target.Sub(start).Mul(easedT))

		// Wobble fades out near both endpoints so arrival is precise.
		envelope := math.Sin(t * math.Pi)
		wobble := perp.Mul(math.Sin(easedT*wobbleCycles*2*math.Pi+wobblePhase) * wobbleAmp * envelope)

		elapsed := time.Since(startTime).Seconds()
		drift := Vector2D{
			X: h.noiseX.Noise1D(noiseOffset+elapsed*0.8) * driftAmp,
			Y: h.noiseY.Noise1D(noiseOffset+elapsed*0.8) * driftAmp,
		}

		point := h.applyGaussianNoise(base.Add(wobble).Add(drift))

		eventData := schemas.MouseEventData{
			Type:   schemas.MouseMove,
			X:      point.X,
			Y:      point.Y,
			Button: schemas.ButtonNone,
		}
		if buttonsBitfield > 0 {
			eventData.Buttons = buttonsBitfield
		}

		if err := h.executor.DispatchMouseEvent(ctx, eventData); err != nil {
			if ctx.Err() == nil {
				h.logger.Warn("Failed to dispatch mouse move event", zap.Error(err))
			}
			return err
		}
		h.currentPos = point

		stepDelay := time.Duration(2+h.rng.Intn(5)) * time.Millisecond
		if err := h.executor.Sleep(ctx, stepDelay); err != nil {
			return err
		}
	}

	return nil
}

// Click locates the element and performs the full move-aim-press-release
// sequence on it.
func (h *Humanoid) Click(ctx context.Context, selector string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	geo, err := h.getElementBoxBySelector(ctx, selector)
	if err != nil {
		return err
	}
	center, valid := boxToCenter(geo)
	if !valid {
		return fmt.Errorf("humanoid: element '%s' has invalid geometry", selector)
	}

	target := h.calculateTargetPoint(geo, center)
	return h.clickAtLocked(ctx, target)
}

// ClickAt performs the move-aim-press-release sequence against raw viewport
// coordinates. Used by the manual-control path.
func (h *Humanoid) ClickAt(ctx context.Context, x, y float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clickAtLocked(ctx, Vector2D{X: x, Y: y})
}

func (h *Humanoid) clickAtLocked(ctx context.Context, target Vector2D) error {
	if err := h.moveToVectorLocked(ctx, target); err != nil {
		return err
	}

	// Aiming pause before committing to the press.
	cfg := h.dynamicConfig
	aimMs := cfg.AimPauseMinMs + h.rng.Intn(cfg.AimPauseMaxMs-cfg.AimPauseMinMs)
	if err := h.executor.Sleep(ctx, time.Duration(aimMs)*time.Millisecond); err != nil {
		return err
	}

	pos := h.currentPos
	mouseDown := schemas.MouseEventData{
		Type:       schemas.MousePress,
		X:          pos.X,
		Y:          pos.Y,
		Button:     schemas.ButtonLeft,
		ClickCount: 1,
		Buttons:    1,
	}
	if err := h.executor.DispatchMouseEvent(ctx, mouseDown); err != nil {
		return err
	}
	h.currentButtonState = schemas.ButtonLeft

	holdMs := cfg.ClickHoldMinMs + h.rng.Intn(cfg.ClickHoldMaxMs-cfg.ClickHoldMinMs)
	if err := h.executor.Sleep(ctx, time.Duration(holdMs)*time.Millisecond); err != nil {
		return err
	}

	pos = h.currentPos
	mouseUp := schemas.MouseEventData{
		Type:       schemas.MouseRelease,
		X:          pos.X,
		Y:          pos.Y,
		Button:     schemas.ButtonLeft,
		ClickCount: 1,
		Buttons:    0,
	}
	if err := h.executor.DispatchMouseEvent(ctx, mouseUp); err != nil {
		return err
	}
	h.currentButtonState = schemas.ButtonNone

	return nil
}

// calculateTargetPoint determines a realistic click point within an element's
// geometry. Assumes the caller holds the lock.
func (h *Humanoid) calculateTargetPoint(geo *schemas.ElementGeometry, center Vector2D) Vector2D {
	if geo == nil || geo.Width == 0 || geo.Height == 0 {
		return center
	}

	width, height := float64(geo.Width), float64(geo.Height)
	// Aim for the inner 90% of the element to avoid clicking the very edge.
	effectiveWidth := width * 0.9
	effectiveHeight := height * 0.9

	stdDevX := effectiveWidth / 6.0
	stdDevY := effectiveHeight / 6.0
	offsetX := h.rng.NormFloat64() * stdDevX
	offsetY := h.rng.NormFloat64() * stdDevY

	finalX := center.X + offsetX
	finalY := center.Y + offsetY

	minX, maxX := center.X-width/2.0+1.0, center.X+width/2.0-1.0
	minY, maxY := center.Y-height/2.0+1.0, center.Y+height/2.0-1.0

	finalX = math.Max(minX, math.Min(maxX, finalX))
	finalY = math.Max(minY, math.Min(maxY, finalY))

	return Vector2D{X: finalX, Y: finalY}
}

// ScrollBy scrolls the page vertically in human-sized wheel chunks with
// short reading pauses between chunks.
func (h *Humanoid) ScrollBy(ctx context.Context, deltaY float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	remaining := deltaY
	sign := 1.0
	if remaining < 0 {
		sign = -1.0
		remaining = -remaining
	}

	for remaining > 0 {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// Typical detent wheel increment with per-tick variation.
		chunk := 100.0 + h.rng.Float64()*40.0
		if chunk > remaining {
			chunk = remaining
		}
		remaining -= chunk

		pos := h.currentPos
		event := schemas.MouseEventData{
			Type:   schemas.MouseWheel,
			X:      pos.X,
			Y:      pos.Y,
			Button: schemas.ButtonNone,
			DeltaY: chunk * sign,
		}
		if err := h.executor.DispatchMouseEvent(ctx, event); err != nil {
			return err
		}

		pauseMs := 60 + h.rng.Intn(140)
		if err := h.executor.Sleep(ctx, time.Duration(pauseMs)*time.Millisecond); err != nil {
			return err
		}
	}
	return nil
}
