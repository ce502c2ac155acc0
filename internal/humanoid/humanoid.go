// internal/humanoid/humanoid.go
package humanoid

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/aquilax/go-perlin"
	"github.com/hxkal/stagehand/api/schemas"
	"go.uber.org/zap"
)

// Humanoid defines the state and capabilities for simulating human-like
// interactions against a remote page.
type Humanoid struct {
	// mu protects all fields within the Humanoid struct from concurrent
	// access. Any method that reads or writes simulator state (rng,
	// currentPos, fatigueLevel, etc.) must acquire this lock.
	mu                 sync.Mutex
	baseConfig         Config
	dynamicConfig      Config
	logger             *zap.Logger
	executor           Executor
	currentPos         Vector2D
	currentButtonState schemas.MouseButton
	fatigueLevel       float64
	rng                *rand.Rand
	noiseX             *perlin.Perlin
	noiseY             *perlin.Perlin
	now                func() time.Time
}

var _ Controller = (*Humanoid)(nil)

// New creates and initializes a new Humanoid instance.
func New(config Config, logger *zap.Logger, executor Executor) *Humanoid {
	h := &Humanoid{
		logger:   logger,
		executor: executor,
		now:      time.Now,
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	seed := time.Now().UnixNano()
	rng := config.Rng
	if rng == nil {
		rng = rand.New(rand.NewSource(seed))
	}

	config.FinalizeSessionPersona(rng)

	// Standard Perlin noise parameters.
	alpha, beta, n := 2.0, 2.0, int32(3)

	h.baseConfig = config
	h.dynamicConfig = config
	h.rng = rng
	h.currentButtonState = schemas.ButtonNone
	h.noiseX = perlin.NewPerlin(alpha, beta, n, seed)
	h.noiseY = perlin.NewPerlin(alpha, beta, n, seed+1)

	return h
}

// NewTestHumanoid creates a Humanoid with deterministic dependencies for
// testing.
func NewTestHumanoid(executor Executor, seed int64) *Humanoid {
	config := DefaultConfig()
	config.Rng = rand.New(rand.NewSource(seed))

	h := New(config, zap.NewNop(), executor)

	h.mu.Lock()
	defer h.mu.Unlock()

	h.noiseX = perlin.NewPerlin(2, 2, 3, seed)
	h.noiseY = perlin.NewPerlin(2, 2, 3, seed+1)

	// Fixed persona values for predictable test behavior.
	h.dynamicConfig.FittsA = 100.0
	h.dynamicConfig.FittsB = 150.0
	h.dynamicConfig.WobbleAmp = 2.0
	h.dynamicConfig.DriftAmp = 1.5
	h.dynamicConfig.GaussianStrength = 0.5

	return h
}

// SetClock overrides the time source. Only used by tests exercising the
// circadian window.
func (h *Humanoid) SetClock(now func() time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = now
}

// boxToCenter calculates the geometric center of an element's geometry.
func boxToCenter(geo *schemas.ElementGeometry) (center Vector2D, valid bool) {
	if geo == nil || len(geo.Vertices) < 8 {
		return Vector2D{}, false
	}
	centerX := (geo.Vertices[0] + geo.Vertices[2] + geo.Vertices[4] + geo.Vertices[6]) / 4
	centerY := (geo.Vertices[1] + geo.Vertices[3] + geo.Vertices[5] + geo.Vertices[7]) / 4
	return Vector2D{X: centerX, Y: centerY}, true
}

// getElementBoxBySelector finds an element and retrieves its geometry via the
// executor.
func (h *Humanoid) getElementBoxBySelector(ctx context.Context, selector string) (*schemas.ElementGeometry, error) {
	geo, err := h.executor.GetElementGeometry(ctx, selector)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("humanoid: geometry retrieval failed for '%s': %w", selector, err)
	}
	if geo == nil {
		return nil, fmt.Errorf("humanoid: executor returned nil geometry for '%s'", selector)
	}
	if len(geo.Vertices) < 8 {
		return nil, fmt.Errorf("humanoid: element '%s' returned invalid geometry", selector)
	}
	if geo.Width <= 0 || geo.Height <= 0 {
		h.logger.Debug("Element found but has zero size.",
			zap.String("selector", selector),
			zap.Int64("width", geo.Width),
			zap.Int64("height", geo.Height))
		return nil, fmt.Errorf("humanoid: element '%s' is not interactable (zero size)", selector)
	}
	return geo, nil
}

// calculateButtonsBitfield converts the internal MouseButton state into the
// standard bitfield representation.
func (h *Humanoid) calculateButtonsBitfield(buttonState schemas.MouseButton) int64 {
	var buttons int64
	switch buttonState {
	case schemas.ButtonLeft:
		buttons = 1
	case schemas.ButtonRight:
		buttons = 2
	case schemas.ButtonMiddle:
		buttons = 4
	}
	return buttons
}
