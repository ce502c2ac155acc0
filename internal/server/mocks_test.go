// internal/server/mocks_test.go

package server

import (
	"context"
	gojson "encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/hxkal/stagehand/api/schemas"
	"github.com/hxkal/stagehand/internal/hub"
	"github.com/hxkal/stagehand/internal/humanoid"
	"github.com/hxkal/stagehand/internal/session"
)

type mockExecutor struct {
	mu    sync.Mutex
	mouse []schemas.MouseEventData
	typed []string
}

func (m *mockExecutor) Sleep(ctx context.Context, d time.Duration) error { return nil }

func (m *mockExecutor) DispatchMouseEvent(ctx context.Context, data schemas.MouseEventData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mouse = append(m.mouse, data)
	return nil
}

func (m *mockExecutor) SendKeys(ctx context.Context, keys string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.typed = append(m.typed, keys)
	return nil
}

func (m *mockExecutor) GetElementGeometry(ctx context.Context, selector string) (*schemas.ElementGeometry, error) {
	return nil, nil
}

func (m *mockExecutor) mouseEvents() []schemas.MouseEventData {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]schemas.MouseEventData(nil), m.mouse...)
}

func (m *mockExecutor) typedKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.typed...)
}

type mockHandle struct {
	exec *mockExecutor

	mu          sync.Mutex
	navigated   []string
	pressedKeys []string
	shots       int

	MockScreenshot func(ctx context.Context) ([]byte, error)
	MockNavigate   func(ctx context.Context, url string) error
}

var _ session.Handle = (*mockHandle)(nil)

func newMockHandle() *mockHandle {
	return &mockHandle{exec: &mockExecutor{}}
}

func (h *mockHandle) Navigate(ctx context.Context, url string) error {
	h.mu.Lock()
	h.navigated = append(h.navigated, url)
	h.mu.Unlock()
	if h.MockNavigate != nil {
		return h.MockNavigate(ctx, url)
	}
	return nil
}

func (h *mockHandle) URL(ctx context.Context) (string, error)   { return "https://x.com/home", nil }
func (h *mockHandle) Title(ctx context.Context) (string, error) { return "Home", nil }

func (h *mockHandle) Evaluate(ctx context.Context, script string) (gojson.RawMessage, error) {
	return gojson.RawMessage(`null`), nil
}

func (h *mockHandle) Screenshot(ctx context.Context) ([]byte, error) {
	h.mu.Lock()
	h.shots++
	h.mu.Unlock()
	if h.MockScreenshot != nil {
		return h.MockScreenshot(ctx)
	}
	return []byte("png-bytes"), nil
}

func (h *mockHandle) screenshotCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.shots
}

func (h *mockHandle) Cookies(ctx context.Context) ([]schemas.Cookie, error) { return nil, nil }
func (h *mockHandle) SetCookies(ctx context.Context, jar []schemas.Cookie) error {
	return nil
}

func (h *mockHandle) PressKey(ctx context.Context, name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pressedKeys = append(h.pressedKeys, name)
	return nil
}

func (h *mockHandle) CountVisible(ctx context.Context, selector string) (int, error) { return 0, nil }
func (h *mockHandle) TagNthVisible(ctx context.Context, selector string, index int) (string, error) {
	return selector, nil
}
func (h *mockHandle) Executor() humanoid.Executor { return h.exec }
func (h *mockHandle) Close()                      {}

type mockSessions struct {
	mu       sync.Mutex
	handle   session.Handle
	info     schemas.RemoteSessionInfo
	cleanups int
	saved    []string
	loaded   []string

	MockConnect   func(ctx context.Context) (*schemas.RemoteSessionInfo, error)
	MockReconnect func(ctx context.Context, id string) (*schemas.RemoteSessionInfo, schemas.ReconnectResult, error)
	MockSave      func(ctx context.Context, id string) error
	MockLoad      func(ctx context.Context, id string) error
}

var _ SessionController = (*mockSessions)(nil)

func (m *mockSessions) Connect(ctx context.Context) (*schemas.RemoteSessionInfo, error) {
	if m.MockConnect != nil {
		return m.MockConnect(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	info := m.info
	return &info, nil
}

func (m *mockSessions) Cleanup(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanups++
	m.handle = nil
}

func (m *mockSessions) cleanupCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cleanups
}

func (m *mockSessions) Reconnect(ctx context.Context, id string) (*schemas.RemoteSessionInfo, schemas.ReconnectResult, error) {
	if m.MockReconnect != nil {
		return m.MockReconnect(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	info := m.info
	return &info, schemas.ReconnectResult{CookiesLoaded: true, CookiesValid: true}, nil
}

func (m *mockSessions) Handle() (session.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle == nil {
		return nil, session.ErrNotConnected
	}
	return m.handle, nil
}

func (m *mockSessions) Info() (schemas.RemoteSessionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle == nil {
		return schemas.RemoteSessionInfo{}, false
	}
	return m.info, true
}

func (m *mockSessions) SaveCookies(ctx context.Context, id string) error {
	m.mu.Lock()
	m.saved = append(m.saved, id)
	m.mu.Unlock()
	if m.MockSave != nil {
		return m.MockSave(ctx, id)
	}
	return nil
}

func (m *mockSessions) LoadCookies(ctx context.Context, id string) error {
	m.mu.Lock()
	m.loaded = append(m.loaded, id)
	m.mu.Unlock()
	if m.MockLoad != nil {
		return m.MockLoad(ctx, id)
	}
	return nil
}

type mockHub struct {
	mu     sync.Mutex
	events []schemas.Event
	sink   hub.ControlSink
}

var _ EventHub = (*mockHub)(nil)

func (h *mockHub) Broadcast(ev schemas.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *mockHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusSwitchingProtocols)
}

func (h *mockHub) SetControlSink(sink hub.ControlSink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sink = sink
}

func (h *mockHub) SubscriberCount() int { return 0 }

func (h *mockHub) countOf(t schemas.EventType) int {
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

type mockRun struct {
	mu      sync.Mutex
	paused  bool
	pauses  int
	resumes int
	phase   schemas.Phase

	// release blocks Run until closed, simulating a long run.
	release chan struct{}
	RunErr  error
}

var _ AutomationRun = (*mockRun)(nil)

func newMockRun() *mockRun {
	return &mockRun{release: make(chan struct{}), phase: schemas.PhaseRunning}
}

func (r *mockRun) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-r.release:
	}
	r.mu.Lock()
	r.phase = schemas.PhaseCompleted
	r.mu.Unlock()
	return r.RunErr
}

func (r *mockRun) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = true
	r.pauses++
}

func (r *mockRun) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = false
	r.resumes++
}

func (r *mockRun) Status() schemas.AutomationStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return schemas.AutomationStatus{Phase: r.phase, Paused: r.paused}
}

func (r *mockRun) Phase() schemas.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}
