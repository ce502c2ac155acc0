// internal/engine/mocks_test.go
package engine

import (
	"context"
	gojson "encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/hxkal/stagehand/api/schemas"
	"github.com/hxkal/stagehand/internal/humanoid"
	"github.com/hxkal/stagehand/internal/resolver"
)

// -- browser handle --

type mockHandle struct {
	mu         sync.Mutex
	navigates  []string
	taggedIdx  []int
	currentURL string

	MockURL         func(ctx context.Context) (string, error)
	MockEvaluate    func(ctx context.Context, script string) (gojson.RawMessage, error)
	MockTagNth      func(ctx context.Context, selector string, index int) (string, error)
	submitEnabledBy string // selector substring that reports enabled
}

func newMockHandle() *mockHandle {
	return &mockHandle{currentURL: "https://x.com/home", submitEnabledBy: "tweetButton"}
}

func (m *mockHandle) Navigate(ctx context.Context, url string) error {
	m.mu.Lock()
	m.navigates = append(m.navigates, url)
	m.currentURL = url
	m.mu.Unlock()
	return nil
}

func (m *mockHandle) URL(ctx context.Context) (string, error) {
	if m.MockURL != nil {
		return m.MockURL(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentURL, nil
}

func (m *mockHandle) Title(ctx context.Context) (string, error) { return "Home", nil }

func (m *mockHandle) Evaluate(ctx context.Context, script string) (gojson.RawMessage, error) {
	if m.MockEvaluate != nil {
		return m.MockEvaluate(ctx, script)
	}
	switch {
	case strings.Contains(script, "innerText"):
		return gojson.RawMessage(`"an interesting post"`), nil
	case strings.Contains(script, "dispatchEvent"):
		return gojson.RawMessage(`true`), nil
	case strings.Contains(script, "aria-disabled"):
		m.mu.Lock()
		enabledBy := m.submitEnabledBy
		m.mu.Unlock()
		if enabledBy != "" && strings.Contains(script, enabledBy) {
			return gojson.RawMessage(`true`), nil
		}
		return gojson.RawMessage(`false`), nil
	}
	return gojson.RawMessage(`null`), nil
}

func (m *mockHandle) Screenshot(ctx context.Context) ([]byte, error) { return []byte{0x89}, nil }

func (m *mockHandle) Cookies(ctx context.Context) ([]schemas.Cookie, error) { return nil, nil }

func (m *mockHandle) SetCookies(ctx context.Context, jar []schemas.Cookie) error { return nil }

func (m *mockHandle) PressKey(ctx context.Context, name string) error { return nil }

func (m *mockHandle) CountVisible(ctx context.Context, selector string) (int, error) { return 1, nil }

func (m *mockHandle) TagNthVisible(ctx context.Context, selector string, index int) (string, error) {
	m.mu.Lock()
	m.taggedIdx = append(m.taggedIdx, index)
	m.mu.Unlock()
	if m.MockTagNth != nil {
		return m.MockTagNth(ctx, selector, index)
	}
	return `[data-sh-target="t"]`, nil
}

func (m *mockHandle) Executor() humanoid.Executor { return nil }

func (m *mockHandle) Close() {}

func (m *mockHandle) navigateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.navigates)
}

func (m *mockHandle) taggedIndices() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.taggedIdx...)
}

// -- humanoid controller --

type mockHuman struct {
	mu      sync.Mutex
	clicked []string
	typed   []string
	scrolls []float64

	MockClick func(ctx context.Context, selector string) error
	MockType  func(ctx context.Context, selector, text string) error
}

func (m *mockHuman) Click(ctx context.Context, selector string) error {
	m.mu.Lock()
	m.clicked = append(m.clicked, selector)
	m.mu.Unlock()
	if m.MockClick != nil {
		return m.MockClick(ctx, selector)
	}
	return nil
}

func (m *mockHuman) ClickAt(ctx context.Context, x, y float64) error { return nil }

func (m *mockHuman) Type(ctx context.Context, selector, text string) error {
	m.mu.Lock()
	m.typed = append(m.typed, text)
	m.mu.Unlock()
	if m.MockType != nil {
		return m.MockType(ctx, selector, text)
	}
	return nil
}

func (m *mockHuman) ScrollBy(ctx context.Context, deltaY float64) error {
	m.mu.Lock()
	m.scrolls = append(m.scrolls, deltaY)
	m.mu.Unlock()
	return nil
}

func (m *mockHuman) PauseDuration(v humanoid.Vitals) time.Duration { return time.Millisecond }

func (m *mockHuman) CognitivePause(ctx context.Context, meanMs, stdDevMs float64) error { return nil }

func (m *mockHuman) clickCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clicked)
}

func (m *mockHuman) typedTexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.typed...)
}

// -- resolver --

type mockResolver struct {
	listCount int

	MockResolve     func(ctx context.Context, candidates schemas.SelectorSet) (string, error)
	MockResolveList func(ctx context.Context, candidates schemas.SelectorSet, minVisible, maxRounds int) (string, int, error)
}

func (m *mockResolver) Resolve(ctx context.Context, candidates schemas.SelectorSet) (string, error) {
	if m.MockResolve != nil {
		return m.MockResolve(ctx, candidates)
	}
	if len(candidates) == 0 {
		return "", resolver.ErrNotFound
	}
	return candidates[0], nil
}

func (m *mockResolver) ResolveList(ctx context.Context, candidates schemas.SelectorSet, minVisible, maxRounds int) (string, int, error) {
	if m.MockResolveList != nil {
		return m.MockResolveList(ctx, candidates, minVisible, maxRounds)
	}
	if len(candidates) == 0 {
		return "", 0, resolver.ErrNotFound
	}
	count := m.listCount
	if count == 0 {
		count = 2
	}
	return candidates[0], count, nil
}

// -- login detector --

type mockDetector struct {
	mu          sync.Mutex
	loginChecks int

	MockNeedsLogin      func(ctx context.Context, call int) (bool, error)
	MockWaitForLogin    func(ctx context.Context, maxWait, poll time.Duration) (bool, error)
	MockDetectChallenge func(ctx context.Context) (bool, error)
}

func (m *mockDetector) NeedsLogin(ctx context.Context) (bool, error) {
	m.mu.Lock()
	m.loginChecks++
	call := m.loginChecks
	m.mu.Unlock()
	if m.MockNeedsLogin != nil {
		return m.MockNeedsLogin(ctx, call)
	}
	return false, nil
}

func (m *mockDetector) WaitForLogin(ctx context.Context, maxWait, poll time.Duration) (bool, error) {
	if m.MockWaitForLogin != nil {
		return m.MockWaitForLogin(ctx, maxWait, poll)
	}
	return true, nil
}

func (m *mockDetector) DetectChallenge(ctx context.Context) (bool, error) {
	if m.MockDetectChallenge != nil {
		return m.MockDetectChallenge(ctx)
	}
	return false, nil
}

// -- reply generator --

type mockGenerator struct {
	MockGenerate func(ctx context.Context, postText string) (string, error)
}

func (m *mockGenerator) GenerateReply(ctx context.Context, postText string) (string, error) {
	if m.MockGenerate != nil {
		return m.MockGenerate(ctx, postText)
	}
	return "what a great take", nil
}

// -- hub --

type recordingHub struct {
	mu     sync.Mutex
	events []schemas.Event
}

func (h *recordingHub) Broadcast(ev schemas.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *recordingHub) countOf(t schemas.EventType) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, ev := range h.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}
