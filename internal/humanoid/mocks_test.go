// internal/humanoid/mocks_test.go
package humanoid

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hxkal/stagehand/api/schemas"
)

// mockExecutor implements the agnostic Executor interface for testing.
// Centralized here to be reusable across all tests in the package.
//
// Mock implementations MUST NOT attempt to acquire the Humanoid mutex or
// touch Humanoid internals when called from a method that already holds it;
// communicate with the test goroutine via atomics or context cancellation.
type mockExecutor struct {
	t                *testing.T
	dispatchedEvents []schemas.MouseEventData
	sentKeys         []string
	sleepDurations   []time.Duration
	returnErr        error
	mu               sync.Mutex

	cancelOnCall int
	failOnCall   int
	callCount    int
	cancelFunc   context.CancelFunc

	// Function overrides for specific behaviors. An override can call the
	// corresponding Default* method if the standard logic is still wanted.
	MockGetElementGeometry func(ctx context.Context, selector string) (*schemas.ElementGeometry, error)
	MockSleep              func(ctx context.Context, d time.Duration) error
	MockDispatchMouseEvent func(ctx context.Context, data schemas.MouseEventData) error
	MockSendKeys           func(ctx context.Context, keys string) error
}

func newMockExecutor(t *testing.T) *mockExecutor {
	return &mockExecutor{
		t:                t,
		dispatchedEvents: make([]schemas.MouseEventData, 0),
		sentKeys:         make([]string, 0),
		sleepDurations:   make([]time.Duration, 0),
	}
}

func (m *mockExecutor) DispatchMouseEvent(ctx context.Context, data schemas.MouseEventData) error {
	if m.MockDispatchMouseEvent != nil {
		return m.MockDispatchMouseEvent(ctx, data)
	}
	return m.DefaultDispatchMouseEvent(ctx, data)
}

func (m *mockExecutor) DefaultDispatchMouseEvent(ctx context.Context, data schemas.MouseEventData) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Record before failure checks so cleanup actions are still observable.
	m.dispatchedEvents = append(m.dispatchedEvents, data)
	m.callCount++

	if m.returnErr != nil && (m.failOnCall == 0 || m.callCount >= m.failOnCall) {
		return m.returnErr
	}
	if ctx.Err() != nil && ctx != context.Background() {
		return ctx.Err()
	}
	if m.cancelOnCall > 0 && m.callCount == m.cancelOnCall && m.cancelFunc != nil {
		m.cancelFunc()
	}
	return nil
}

func (m *mockExecutor) Sleep(ctx context.Context, d time.Duration) error {
	if m.MockSleep != nil {
		return m.MockSleep(ctx, d)
	}
	return m.DefaultSleep(ctx, d)
}

func (m *mockExecutor) DefaultSleep(ctx context.Context, d time.Duration) error {
	if ctx.Err() != nil && ctx != context.Background() {
		return ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sleepDurations = append(m.sleepDurations, d)
	return nil
}

func (m *mockExecutor) SendKeys(ctx context.Context, keys string) error {
	if m.MockSendKeys != nil {
		return m.MockSendKeys(ctx, keys)
	}
	return m.DefaultSendKeys(ctx, keys)
}

func (m *mockExecutor) DefaultSendKeys(ctx context.Context, keys string) error {
	if ctx.Err() != nil && ctx != context.Background() {
		return ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sentKeys = append(m.sentKeys, keys)
	if m.returnErr != nil && m.failOnCall == 0 {
		return m.returnErr
	}
	return nil
}

func (m *mockExecutor) GetElementGeometry(ctx context.Context, selector string) (*schemas.ElementGeometry, error) {
	if m.MockGetElementGeometry != nil {
		return m.MockGetElementGeometry(ctx, selector)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	m.mu.Lock()
	if m.returnErr != nil && m.failOnCall == 0 {
		m.mu.Unlock()
		return nil, m.returnErr
	}
	m.mu.Unlock()

	// Default: a 10x10 box at the origin.
	return &schemas.ElementGeometry{
		Vertices: []float64{0, 0, 10, 0, 10, 10, 0, 10},
		Width:    10,
		Height:   10,
		TagName:  "DIV",
	}, nil
}

// typedText replays the recorded key stream, applying backspace semantics,
// and returns the text that would end up in the field.
func (m *mockExecutor) typedText() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []rune
	for _, keys := range m.sentKeys {
		for _, r := range keys {
			if string(r) == string(KeyBackspace) {
				if len(out) > 0 {
					out = out[:len(out)-1]
				}
				continue
			}
			out = append(out, r)
		}
	}
	return string(out)
}

// countKeys returns how many times the given key string was sent.
func (m *mockExecutor) countKeys(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, k := range m.sentKeys {
		if k == key {
			n++
		}
	}
	return n
}

// eventsOfType returns all recorded mouse events of the given type.
func (m *mockExecutor) eventsOfType(t schemas.MouseEventType) []schemas.MouseEventData {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []schemas.MouseEventData
	for _, e := range m.dispatchedEvents {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
