// internal/humanoid/interface.go
package humanoid

import (
	"context"
	"time"

	"github.com/hxkal/stagehand/api/schemas"
)

// Controller defines the high-level interface for human-like interactions.
// This is the interface implemented by the Humanoid struct itself.
type Controller interface {
	// Click locates the element and performs a full move-aim-press-release
	// sequence on it.
	Click(ctx context.Context, selector string) error
	// ClickAt performs the same sequence against raw viewport coordinates.
	ClickAt(ctx context.Context, x, y float64) error
	// Type focuses the element and types the text with human cadence,
	// hesitation, and occasional corrected mistakes.
	Type(ctx context.Context, selector string, text string) error
	// ScrollBy scrolls the page vertically in human-sized wheel chunks.
	ScrollBy(ctx context.Context, deltaY float64) error
	// PauseDuration computes the inter-action pause from the current vitals.
	PauseDuration(v Vitals) time.Duration
	// CognitivePause sleeps for a noisy think-time interval.
	CognitivePause(ctx context.Context, meanMs, stdDevMs float64) error
}

// Executor defines the low-level interface required by the Humanoid
// controller. Implementations dispatch raw input against a live page.
type Executor interface {
	Sleep(ctx context.Context, d time.Duration) error
	DispatchMouseEvent(ctx context.Context, data schemas.MouseEventData) error
	SendKeys(ctx context.Context, keys string) error
	GetElementGeometry(ctx context.Context, selector string) (*schemas.ElementGeometry, error)
}

// Vitals carries the simulated operator state that drives pacing. It is owned
// by the automation engine; the simulator only reads it.
type Vitals struct {
	// Energy and Focus are levels in [0,100].
	Energy float64
	Focus  float64
	// SessionStart anchors the linear fatigue term.
	SessionStart time.Time
}

// ControlKey defines constants for common control characters used in SendKeys.
type ControlKey string

const (
	KeyBackspace ControlKey = "\b"
	KeyEnter     ControlKey = "\r"
	KeyTab       ControlKey = "\t"
	KeyEscape    ControlKey = "\x1b"
)
