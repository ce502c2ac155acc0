// internal/browser/targets.go

package browser

import (
	"sync"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// TargetEvent describes a page target appearing or disappearing after
// attach, typically a popup or secondary tab spawned by a click.
type TargetEvent struct {
	Opened   bool
	TargetID string
	URL      string
}

// WatchTargets registers fn for secondary page targets. Close events are
// only delivered for targets a matching open event was delivered for, so
// the session's own page never produces events. fn is called from the
// browser's event goroutine and must not block.
func (h *Handle) WatchTargets(fn func(TargetEvent)) {
	own := h.ownTargetID()

	var mu sync.Mutex
	announced := make(map[target.ID]string)

	chromedp.ListenBrowser(h.ctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *target.EventTargetCreated:
			ti := e.TargetInfo
			if ti.Type != "page" || ti.TargetID == own {
				return
			}
			mu.Lock()
			if _, seen := announced[ti.TargetID]; seen {
				mu.Unlock()
				return
			}
			announced[ti.TargetID] = ti.URL
			mu.Unlock()
			h.logger.Info("Secondary tab opened",
				zap.String("targetId", string(ti.TargetID)),
				zap.String("url", ti.URL))
			fn(TargetEvent{Opened: true, TargetID: string(ti.TargetID), URL: ti.URL})

		case *target.EventTargetDestroyed:
			mu.Lock()
			url, seen := announced[e.TargetID]
			if seen {
				delete(announced, e.TargetID)
			}
			mu.Unlock()
			if !seen {
				return
			}
			h.logger.Info("Secondary tab closed", zap.String("targetId", string(e.TargetID)))
			fn(TargetEvent{Opened: false, TargetID: string(e.TargetID), URL: url})
		}
	})
}

// ownTargetID resolves the session's primary page target, empty when the
// target is not attached yet.
func (h *Handle) ownTargetID() target.ID {
	c := chromedp.FromContext(h.ctx)
	if c == nil || c.Target == nil {
		return ""
	}
	return c.Target.TargetID
}
