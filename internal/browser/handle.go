// internal/browser/handle.go

// Package browser attaches to vendor-hosted Chrome sessions over the
// DevTools protocol and exposes the page operations the automation engine
// and the operator API need.
package browser

import (
	"context"
	gojson "encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hxkal/stagehand/api/schemas"
	"github.com/hxkal/stagehand/internal/humanoid"
)

// Handle is an attached remote browser session. All page operations run
// against the session's chromedp context combined with the caller's
// context, so either side can cancel an in-flight operation.
type Handle struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	logger      *zap.Logger
	closeOnce   sync.Once
}

// Attach connects to a remote browser over its CDP websocket URL and
// verifies the connection by resolving the initial target.
func Attach(ctx context.Context, connectURL string, logger *zap.Logger) (*Handle, error) {
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), connectURL, chromedp.NoModifyURL)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	h := &Handle{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		ctx:         browserCtx,
		cancel:      browserCancel,
		logger:      logger.Named("browser"),
	}

	// An empty Run forces target attachment so connection failures surface
	// here instead of on the first real operation.
	attachCtx, cancel := CombineContext(browserCtx, ctx)
	defer cancel()
	if err := chromedp.Run(attachCtx); err != nil {
		h.Close()
		return nil, fmt.Errorf("failed to attach to remote browser: %w", err)
	}

	h.logger.Info("Attached to remote browser")
	return h, nil
}

// RunActions executes chromedp actions against the session, honoring the
// caller's context.
func (h *Handle) RunActions(ctx context.Context, actions ...chromedp.Action) error {
	combined, cancel := CombineContext(h.ctx, ctx)
	defer cancel()
	return chromedp.Run(combined, actions...)
}

// Navigate loads a URL and waits for the document body to be ready.
func (h *Handle) Navigate(ctx context.Context, url string) error {
	if err := h.RunActions(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// URL returns the current page location.
func (h *Handle) URL(ctx context.Context) (string, error) {
	var loc string
	if err := h.RunActions(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("failed to read page location: %w", err)
	}
	return loc, nil
}

// Title returns the current document title.
func (h *Handle) Title(ctx context.Context) (string, error) {
	var title string
	if err := h.RunActions(ctx, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("failed to read page title: %w", err)
	}
	return title, nil
}

// Screenshot captures the visible viewport as PNG bytes.
func (h *Handle) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := h.RunActions(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("screenshot capture failed: %w", err)
	}
	return buf, nil
}

// Evaluate runs a script on the page and returns the JSON-encoded result.
func (h *Handle) Evaluate(ctx context.Context, script string) (gojson.RawMessage, error) {
	var res gojson.RawMessage
	action := chromedp.Evaluate(script, &res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithReturnByValue(true).WithAwaitPromise(true).WithSilent(true)
	})
	if err := h.RunActions(ctx, action); err != nil {
		return nil, fmt.Errorf("page evaluation failed: %w", err)
	}
	return res, nil
}

// Cookies reads the full browser cookie jar.
func (h *Handle) Cookies(ctx context.Context) ([]schemas.Cookie, error) {
	var jar []schemas.Cookie
	err := h.RunActions(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		jar = make([]schemas.Cookie, 0, len(cookies))
		for _, ck := range cookies {
			jar = append(jar, schemas.Cookie{
				Name:     ck.Name,
				Value:    ck.Value,
				Domain:   ck.Domain,
				Path:     ck.Path,
				Expires:  ck.Expires,
				HTTPOnly: ck.HTTPOnly,
				Secure:   ck.Secure,
				SameSite: string(ck.SameSite),
			})
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	return jar, nil
}

// SetCookies installs a saved cookie jar into the browser.
func (h *Handle) SetCookies(ctx context.Context, jar []schemas.Cookie) error {
	params := make([]*network.CookieParam, 0, len(jar))
	for _, ck := range jar {
		p := &network.CookieParam{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			HTTPOnly: ck.HTTPOnly,
			Secure:   ck.Secure,
		}
		if ck.SameSite != "" {
			p.SameSite = network.CookieSameSite(ck.SameSite)
		}
		if ck.Expires > 0 {
			expires := cdp.TimeSinceEpoch(time.Unix(int64(ck.Expires), 0))
			p.Expires = &expires
		}
		params = append(params, p)
	}

	err := h.RunActions(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return storage.SetCookies(params).Do(ctx)
	}))
	if err != nil {
		return fmt.Errorf("failed to set cookies: %w", err)
	}
	return nil
}

// keyChars maps operator-facing key names to the control characters the
// key event dispatcher understands.
var keyChars = map[string]string{
	"enter":     "\r",
	"tab":       "\t",
	"backspace": "\b",
	"escape":    "\x1b",
	"delete":    "",
}

// PressKey dispatches a named special key, or the literal character for
// single-character names.
func (h *Handle) PressKey(ctx context.Context, name string) error {
	ch, ok := keyChars[strings.ToLower(name)]
	if !ok {
		if len([]rune(name)) != 1 {
			return fmt.Errorf("unknown key name '%s'", name)
		}
		ch = name
	}
	if err := h.RunActions(ctx, chromedp.KeyEvent(ch)); err != nil {
		return fmt.Errorf("failed to press key '%s': %w", name, err)
	}
	return nil
}

// Executor returns a low-level input executor bound to this session for
// the humanoid controller.
func (h *Handle) Executor() humanoid.Executor {
	return newCDPExecutor(h.ctx, h.logger)
}

// countVisibleScript counts matches of a selector that are actually
// rendered and visible to a user.
const countVisibleScript = `
(() => {
    const nodes = document.querySelectorAll(%s);
    let count = 0;
    for (const el of nodes) {
        const r = el.getBoundingClientRect();
        if (r.width === 0 && r.height === 0) { continue; }
        const style = window.getComputedStyle(el);
        if (style.display === 'none' || style.visibility === 'hidden' || parseFloat(style.opacity) === 0) {
            continue;
        }
        count++;
    }
    return count;
})()
`

// CountVisible reports how many elements matching the selector are visible
// on the page.
func (h *Handle) CountVisible(ctx context.Context, selector string) (int, error) {
	script := fmt.Sprintf(countVisibleScript, jsEncode(selector))
	raw, err := h.Evaluate(ctx, script)
	if err != nil {
		return 0, err
	}
	var count int
	if err := json.Unmarshal(raw, &count); err != nil {
		return 0, fmt.Errorf("failed to decode visibility count: %w", err)
	}
	return count, nil
}

const tagNthVisibleScript = `
(() => {
    const nodes = document.querySelectorAll(%s);
    let seen = 0;
    for (const el of nodes) {
        const r = el.getBoundingClientRect();
        if (r.width === 0 && r.height === 0) { continue; }
        const style = window.getComputedStyle(el);
        if (style.display === 'none' || style.visibility === 'hidden' || parseFloat(style.opacity) === 0) {
            continue;
        }
        if (seen === %d) {
            el.setAttribute('data-sh-target', %s);
            return true;
        }
        seen++;
    }
    return false;
})()
`

// TagNthVisible marks the nth visible element matching the selector with a
// unique attribute and returns a selector that addresses exactly that
// element. This lets callers act on one element out of a list of matches.
func (h *Handle) TagNthVisible(ctx context.Context, selector string, index int) (string, error) {
	tag := uuid.NewString()
	script := fmt.Sprintf(tagNthVisibleScript, jsEncode(selector), index, jsEncode(tag))

	raw, err := h.Evaluate(ctx, script)
	if err != nil {
		return "", err
	}
	var tagged bool
	if err := json.Unmarshal(raw, &tagged); err != nil {
		return "", fmt.Errorf("failed to decode tag result: %w", err)
	}
	if !tagged {
		return "", fmt.Errorf("no visible element at index %d for selector '%s'", index, selector)
	}
	return fmt.Sprintf(`[data-sh-target=%q]`, tag), nil
}

// Close tears down the chromedp session and its allocator. Safe to call
// multiple times; only the first call does work.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		if h.cancel != nil {
			h.cancel()
		}
		if h.allocCancel != nil {
			h.allocCancel()
		}
		if h.logger != nil {
			h.logger.Info("Detached from remote browser")
		}
	})
}
