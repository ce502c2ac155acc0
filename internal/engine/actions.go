// internal/engine/actions.go
package engine

import (
	"context"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/hxkal/stagehand/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxCandidatePick bounds the random pick among visible matches. Always
// acting on the first match is itself a detectable pattern.
const maxCandidatePick = 4

// ensureHomeSurface navigates to the home timeline unless already there.
func (e *Engine) ensureHomeSurface(ctx context.Context) error {
	url, err := e.deps.Handle.URL(ctx)
	if err == nil && strings.Contains(url, e.target.HomePath) {
		return nil
	}
	return e.deps.Handle.Navigate(ctx, e.target.BaseURL+e.target.HomePath)
}

// tagRandomVisible picks one element at random among the first few visible
// matches and returns a selector addressing exactly that element.
func (e *Engine) tagRandomVisible(ctx context.Context, selector string, count int) (string, error) {
	if count <= 0 {
		return "", fmt.Errorf("no visible matches for '%s'", selector)
	}
	limit := count
	if limit > maxCandidatePick {
		limit = maxCandidatePick
	}
	e.mu.Lock()
	idx := e.rng.Intn(limit)
	e.mu.Unlock()
	return e.deps.Handle.TagNthVisible(ctx, selector, idx)
}

func (e *Engine) doLike(ctx context.Context) error {
	if err := e.ensureHomeSurface(ctx); err != nil {
		return err
	}
	selector, count, err := e.deps.Resolver.ResolveList(ctx, e.selectors.LikeButtons, 1, 3)
	if err != nil {
		return err
	}
	target, err := e.tagRandomVisible(ctx, selector, count)
	if err != nil {
		return err
	}
	if err := e.deps.Human.Click(ctx, target); err != nil {
		return err
	}
	e.recordSuccess(actionLike)
	return nil
}

func (e *Engine) doFollow(ctx context.Context) error {
	if err := e.ensureHomeSurface(ctx); err != nil {
		return err
	}
	selector, count, err := e.deps.Resolver.ResolveList(ctx, e.selectors.FollowButtons, 1, 3)
	if err != nil {
		return err
	}
	target, err := e.tagRandomVisible(ctx, selector, count)
	if err != nil {
		return err
	}
	if err := e.deps.Human.Click(ctx, target); err != nil {
		return err
	}
	e.recordSuccess(actionFollow)
	return nil
}

func (e *Engine) doReply(ctx context.Context) error {
	if err := e.ensureHomeSurface(ctx); err != nil {
		return err
	}

	postSel, count, err := e.deps.Resolver.ResolveList(ctx, e.selectors.PostCards, 1, 3)
	if err != nil {
		return err
	}
	post, err := e.tagRandomVisible(ctx, postSel, count)
	if err != nil {
		return err
	}

	postText, err := e.extractPostText(ctx, post)
	if err != nil {
		return err
	}

	reply, err := e.deps.Generator.GenerateReply(ctx, postText)
	if err != nil {
		return err
	}

	replyBtn, err := e.deps.Resolver.Resolve(ctx, scopedSet(post, e.selectors.ReplyButtons))
	if err != nil {
		return err
	}
	if err := e.deps.Human.Click(ctx, replyBtn); err != nil {
		return err
	}

	box, err := e.deps.Resolver.Resolve(ctx, e.selectors.ReplyBox)
	if err != nil {
		return err
	}
	if err := e.clearComposer(ctx, box); err != nil {
		return err
	}
	if err := e.deps.Human.Type(ctx, box, reply); err != nil {
		return err
	}

	submit, err := e.waitSubmitEnabled(ctx)
	if err != nil {
		return err
	}
	if err := e.deps.Human.Click(ctx, submit); err != nil {
		return err
	}

	e.recordSuccess(actionReply)
	return nil
}

func (e *Engine) doIdleScroll(ctx context.Context) error {
	e.mu.Lock()
	delta := 400 + e.rng.Float64()*800
	if e.rng.Float64() < 0.2 {
		delta = -delta * 0.5
	}
	e.mu.Unlock()
	return e.deps.Human.ScrollBy(ctx, delta)
}

func (e *Engine) doIdleRead(ctx context.Context) error {
	return e.deps.Human.CognitivePause(ctx, 3500, 1200)
}

const extractTextScript = `
(() => {
    const root = document.querySelector(%s);
    if (!root) { return ""; }
    const inner = root.querySelector(%s);
    const el = inner || root;
    return (el.innerText || '').slice(0, 400);
})()
`

// extractPostText reads the visible text of one post for the reply
// generator.
func (e *Engine) extractPostText(ctx context.Context, postSelector string) (string, error) {
	script := fmt.Sprintf(extractTextScript,
		jsString(postSelector), jsString(strings.Join(e.selectors.PostText, ", ")))
	raw, err := e.deps.Handle.Evaluate(ctx, script)
	if err != nil {
		return "", fmt.Errorf("failed to extract post text: %w", err)
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return "", fmt.Errorf("failed to decode post text: %w", err)
	}
	return text, nil
}

const clearComposerScript = `
(() => {
    const el = document.querySelector(%s);
    if (!el) { return false; }
    if ('value' in el && typeof el.value === 'string') {
        el.value = '';
    } else {
        el.textContent = '';
    }
    el.dispatchEvent(new Event('input', { bubbles: true }));
    return true;
})()
`

// clearComposer empties the reply box so typing starts from a clean state.
func (e *Engine) clearComposer(ctx context.Context, selector string) error {
	script := fmt.Sprintf(clearComposerScript, jsString(selector))
	raw, err := e.deps.Handle.Evaluate(ctx, script)
	if err != nil {
		return fmt.Errorf("failed to clear composer: %w", err)
	}
	var cleared bool
	if err := json.Unmarshal(raw, &cleared); err != nil {
		return fmt.Errorf("failed to decode composer clear result: %w", err)
	}
	if !cleared {
		return fmt.Errorf("composer '%s' not present for clearing", selector)
	}
	return nil
}

const submitEnabledScript = `
(() => {
    const el = document.querySelector(%s);
    if (!el) { return false; }
    if (el.disabled) { return false; }
    return el.getAttribute('aria-disabled') !== 'true';
})()
`

// submitEnabled resolves one submit chain and reports whether the control
// is clickable.
func (e *Engine) submitEnabled(ctx context.Context, candidates schemas.SelectorSet) (string, bool) {
	sel, err := e.deps.Resolver.Resolve(ctx, candidates)
	if err != nil {
		return "", false
	}
	raw, err := e.deps.Handle.Evaluate(ctx, fmt.Sprintf(submitEnabledScript, jsString(sel)))
	if err != nil {
		return "", false
	}
	var enabled bool
	if err := json.Unmarshal(raw, &enabled); err != nil {
		return "", false
	}
	return sel, enabled
}

// waitSubmitEnabled polls the primary submit chain with a bounded budget,
// then tries the alternate chain exactly once before giving up.
func (e *Engine) waitSubmitEnabled(ctx context.Context) (string, error) {
	for attempt := 0; attempt < e.cfg.SubmitPollAttempts; attempt++ {
		if sel, ok := e.submitEnabled(ctx, e.selectors.ReplySubmit); ok {
			return sel, nil
		}
		if err := e.sleep(ctx, e.cfg.SubmitPollInterval); err != nil {
			return "", err
		}
	}
	if sel, ok := e.submitEnabled(ctx, e.selectors.ReplySubmitAlternate); ok {
		e.logger.Debug("Submit control found via alternate selector", zap.String("selector", sel))
		return sel, nil
	}
	return "", ErrSubmitRejected
}

// scopedSet prefixes every candidate with a root selector so resolution
// stays inside one element.
func scopedSet(root string, candidates schemas.SelectorSet) schemas.SelectorSet {
	scoped := make(schemas.SelectorSet, 0, len(candidates))
	for _, c := range candidates {
		scoped = append(scoped, root+" "+c)
	}
	return scoped
}

// jsString renders a Go string as a quoted JavaScript literal.
func jsString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}
