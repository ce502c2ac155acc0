// internal/server/control.go

package server

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hxkal/stagehand/api/schemas"
	"github.com/hxkal/stagehand/internal/humanoid"
	"github.com/hxkal/stagehand/internal/session"
)

// manualControl applies inbound operator commands directly against the
// live browser handle. It deliberately bypasses the engine: a manual
// click lands even while an automated action is mid-flight, mirroring a
// human grabbing the mouse. Pointer commands still route through the
// humanoid controller so the page sees the same motion profile whether
// the operator or the engine is driving.
type manualControl struct {
	sessions SessionController
	// human builds a pointer controller over a live handle. Injectable
	// for tests.
	human  func(h session.Handle) humanoid.Controller
	logger *zap.Logger

	mu      sync.Mutex
	handle  session.Handle
	pointer humanoid.Controller
}

// controller returns the pointer controller for the current handle,
// rebuilding it after a reconnect. Reuse keeps the simulated pointer
// position continuous across commands.
func (m *manualControl) controller(h session.Handle) humanoid.Controller {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pointer == nil || m.handle != h {
		m.pointer = m.human(h)
		m.handle = h
	}
	return m.pointer
}

func (m *manualControl) Apply(ctx context.Context, cmd schemas.ManualCommand) error {
	h, err := m.sessions.Handle()
	if err != nil {
		return err
	}

	switch cmd.Action {
	case schemas.ManualClick:
		if err := m.controller(h).ClickAt(ctx, cmd.X, cmd.Y); err != nil {
			return fmt.Errorf("manual click: %w", err)
		}

	case schemas.ManualType:
		if cmd.Text == "" {
			return nil
		}
		if err := h.Executor().SendKeys(ctx, cmd.Text); err != nil {
			return fmt.Errorf("manual type: %w", err)
		}

	case schemas.ManualScroll:
		if err := m.controller(h).ScrollBy(ctx, cmd.DeltaY); err != nil {
			return fmt.Errorf("manual scroll: %w", err)
		}

	case schemas.ManualKey:
		if err := h.PressKey(ctx, cmd.Key); err != nil {
			return fmt.Errorf("manual key: %w", err)
		}

	default:
		return fmt.Errorf("unknown manual action %q", cmd.Action)
	}

	m.logger.Debug("Applied manual command", zap.String("action", string(cmd.Action)))
	return nil
}
