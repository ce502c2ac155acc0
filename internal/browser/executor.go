// internal/browser/executor.go
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/hxkal/stagehand/api/schemas"
	"github.com/hxkal/stagehand/internal/humanoid"
)

const inputOpTimeout = 10 * time.Second

// cdpExecutor implements humanoid.Executor against a live chromedp session.
// The run function is injectable so tests can intercept the dispatched
// actions without a browser.
type cdpExecutor struct {
	sessionCtx context.Context
	logger     *zap.Logger
	run        func(ctx context.Context, actions ...chromedp.Action) error
}

var _ humanoid.Executor = (*cdpExecutor)(nil)

func newCDPExecutor(sessionCtx context.Context, logger *zap.Logger) *cdpExecutor {
	return &cdpExecutor{
		sessionCtx: sessionCtx,
		logger:     logger.Named("executor"),
		run:        chromedp.Run,
	}
}

// opContext merges the caller's context with the session context and caps
// the operation duration.
func (e *cdpExecutor) opContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	combined, cancelCombined := CombineContext(e.sessionCtx, ctx)
	opCtx, cancelOp := context.WithTimeout(combined, timeout)
	return opCtx, func() {
		cancelOp()
		cancelCombined()
	}
}

// Sleep waits for the given duration or until the caller or session context
// is cancelled.
func (e *cdpExecutor) Sleep(ctx context.Context, d time.Duration) error {
	combined, cancel := CombineContext(e.sessionCtx, ctx)
	defer cancel()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-combined.Done():
		return combined.Err()
	}
}

// DispatchMouseEvent sends one raw mouse event to the page.
func (e *cdpExecutor) DispatchMouseEvent(ctx context.Context, data schemas.MouseEventData) error {
	opCtx, cancel := e.opContext(ctx, inputOpTimeout)
	defer cancel()

	ev := input.DispatchMouseEvent(input.MouseType(data.Type), data.X, data.Y).
		WithButton(input.MouseButton(data.Button)).
		WithButtons(data.Buttons).
		WithClickCount(int64(data.ClickCount))

	if data.Type == schemas.MouseWheel {
		ev = ev.WithDeltaX(data.DeltaX).WithDeltaY(data.DeltaY)
	}

	if err := e.run(opCtx, ev); err != nil {
		return fmt.Errorf("failed to dispatch mouse event %s: %w", data.Type, err)
	}
	return nil
}

// SendKeys types the given characters as raw key events.
func (e *cdpExecutor) SendKeys(ctx context.Context, keys string) error {
	opCtx, cancel := e.opContext(ctx, inputOpTimeout)
	defer cancel()

	if err := e.run(opCtx, chromedp.KeyEvent(keys)); err != nil {
		return fmt.Errorf("failed to send keys: %w", err)
	}
	return nil
}

// geometryScript resolves a selector to its border-box vertices relative to
// the document. getBoxQuads gives sub-pixel quads where supported; the
// bounding client rect is the fallback.
const geometryScript = `
(() => {
    const el = document.querySelector(%s);
    if (!el) { return "null"; }

    const style = window.getComputedStyle(el);
    if (style.display === 'none' || style.visibility === 'hidden' || parseFloat(style.opacity) === 0) {
        return "null";
    }

    const sx = window.scrollX;
    const sy = window.scrollY;
    let vertices = [];
    let width = 0;
    let height = 0;

    if (typeof el.getBoxQuads === 'function') {
        const quads = el.getBoxQuads({ box: 'border', relativeTo: document.documentElement });
        if (quads.length > 0) {
            const q = quads[0];
            vertices = [q.p1.x, q.p1.y, q.p2.x, q.p2.y, q.p3.x, q.p3.y, q.p4.x, q.p4.y];
            width = Math.round(Math.hypot(q.p2.x - q.p1.x, q.p2.y - q.p1.y));
            height = Math.round(Math.hypot(q.p4.x - q.p1.x, q.p4.y - q.p1.y));
        }
    }

    if (vertices.length === 0) {
        const r = el.getBoundingClientRect();
        if (r.width === 0 && r.height === 0) { return "null"; }
        vertices = [
            r.left + sx, r.top + sy,
            r.right + sx, r.top + sy,
            r.right + sx, r.bottom + sy,
            r.left + sx, r.bottom + sy,
        ];
        width = Math.round(r.width);
        height = Math.round(r.height);
    }

    return JSON.stringify({
        vertices: vertices,
        width: width,
        height: height,
        tagName: el.tagName,
        type: el.getAttribute('type') || '',
    });
})()
`

// GetElementGeometry resolves a selector to its on-page geometry. A missing
// or invisible element returns a nil geometry with no error; callers decide
// whether that is fatal.
func (e *cdpExecutor) GetElementGeometry(ctx context.Context, selector string) (*schemas.ElementGeometry, error) {
	opCtx, cancel := e.opContext(ctx, inputOpTimeout)
	defer cancel()

	script := fmt.Sprintf(geometryScript, jsEncode(selector))

	var raw string
	action := chromedp.Evaluate(script, &raw, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithReturnByValue(true).WithAwaitPromise(true).WithSilent(true)
	})
	if err := e.run(opCtx, action); err != nil {
		return nil, fmt.Errorf("geometry evaluation failed for '%s': %w", selector, err)
	}

	if raw == "null" || raw == "" {
		return nil, nil
	}

	var geom schemas.ElementGeometry
	if err := json.Unmarshal([]byte(raw), &geom); err != nil {
		return nil, fmt.Errorf("failed to decode geometry for '%s': %w", selector, err)
	}
	return &geom, nil
}

// jsEncode renders a Go value as a JavaScript literal safe for injection
// into an evaluated script.
func jsEncode(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}
