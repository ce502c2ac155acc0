// internal/server/server_test.go

package server

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hxkal/stagehand/api/schemas"
	"github.com/hxkal/stagehand/internal/config"
	"github.com/hxkal/stagehand/internal/humanoid"
	"github.com/hxkal/stagehand/internal/session"
)

// newManualControl builds a control sink with a deterministic pointer
// simulator over the rig's mock executor.
func newManualControl(rig *serverRig) *manualControl {
	return &manualControl{
		sessions: rig.sessions,
		human: func(h session.Handle) humanoid.Controller {
			return humanoid.NewTestHumanoid(h.Executor(), 7)
		},
		logger: zap.NewNop(),
	}
}

type serverRig struct {
	server   *Server
	sessions *mockSessions
	hub      *mockHub
	handle   *mockHandle
	run      *mockRun
}

func newServerRig(t *testing.T) *serverRig {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Server.StreamFrameInterval = 15 * time.Millisecond

	rig := &serverRig{
		sessions: &mockSessions{
			info: schemas.RemoteSessionInfo{
				ID:         "sess-1",
				ConnectURL: "wss://vendor/devtools/1",
				CreatedAt:  time.Now(),
			},
		},
		hub: &mockHub{},
		run: newMockRun(),
	}
	rig.handle = newMockHandle()

	rig.server = New(cfg, rig.sessions, rig.hub, zap.NewNop())
	rig.server.newRun = func(h session.Handle) AutomationRun { return rig.run }

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		rig.server.Shutdown(ctx)
	})
	return rig
}

func (rig *serverRig) connectSession() {
	rig.sessions.mu.Lock()
	rig.sessions.handle = rig.handle
	rig.sessions.mu.Unlock()
}

func (rig *serverRig) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	rig.server.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestConnectReturnsSessionInfo(t *testing.T) {
	rig := newServerRig(t)

	rec := rig.do(t, http.MethodPost, "/api/session/connect", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[schemas.RemoteSessionInfo](t, rec)
	assert.Equal(t, "sess-1", info.ID)
}

func TestConnectVendorFailureMapsToBadGateway(t *testing.T) {
	rig := newServerRig(t)
	rig.sessions.MockConnect = func(ctx context.Context) (*schemas.RemoteSessionInfo, error) {
		return nil, session.ErrConnectFailed
	}

	rec := rig.do(t, http.MethodPost, "/api/session/connect", nil)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestCloseStopsStreamAndRun(t *testing.T) {
	rig := newServerRig(t)
	rig.connectSession()

	require.Equal(t, http.StatusAccepted, rig.do(t, http.MethodPost, "/api/automation/start", nil).Code)
	require.Equal(t, http.StatusOK, rig.do(t, http.MethodPost, "/api/stream/start", nil).Code)

	rec := rig.do(t, http.MethodPost, "/api/session/close", nil)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, rig.sessions.cleanupCount())
	assert.False(t, rig.server.streamActive())
	require.Eventually(t, func() bool {
		rig.server.engineMu.Lock()
		defer rig.server.engineMu.Unlock()
		return !rig.server.runActiveLocked()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReconnectRequiresSessionID(t *testing.T) {
	rig := newServerRig(t)

	rec := rig.do(t, http.MethodPost, "/api/session/reconnect", reconnectRequest{})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReconnectReturnsInfoAndResult(t *testing.T) {
	rig := newServerRig(t)
	rig.connectSession()

	rec := rig.do(t, http.MethodPost, "/api/session/reconnect", reconnectRequest{SessionID: "old-sess"})

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[reconnectResponse](t, rec)
	require.NotNil(t, resp.Session)
	assert.Equal(t, "sess-1", resp.Session.ID)
	assert.True(t, resp.Result.CookiesLoaded)
	assert.True(t, resp.Result.CookiesValid)
}

func TestSaveCookiesDefaultsToLiveSession(t *testing.T) {
	rig := newServerRig(t)
	rig.connectSession()

	rec := rig.do(t, http.MethodPost, "/api/session/cookies/save", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	rig.sessions.mu.Lock()
	defer rig.sessions.mu.Unlock()
	assert.Equal(t, []string{"sess-1"}, rig.sessions.saved)
}

func TestLoadCookiesUsesExplicitSessionID(t *testing.T) {
	rig := newServerRig(t)
	rig.connectSession()

	rec := rig.do(t, http.MethodPost, "/api/session/cookies/load", cookiesRequest{SessionID: "stored-7"})

	require.Equal(t, http.StatusOK, rec.Code)
	rig.sessions.mu.Lock()
	defer rig.sessions.mu.Unlock()
	assert.Equal(t, []string{"stored-7"}, rig.sessions.loaded)
}

func TestCookiesEndpointsRequireSessionWhenIDOmitted(t *testing.T) {
	rig := newServerRig(t)

	rec := rig.do(t, http.MethodPost, "/api/session/cookies/save", nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestNavigate(t *testing.T) {
	rig := newServerRig(t)
	rig.connectSession()

	rec := rig.do(t, http.MethodPost, "/api/browser/navigate", navigateRequest{URL: "https://x.com/explore"})

	require.Equal(t, http.StatusOK, rec.Code)
	rig.handle.mu.Lock()
	defer rig.handle.mu.Unlock()
	assert.Equal(t, []string{"https://x.com/explore"}, rig.handle.navigated)
}

func TestNavigateRejectsMissingURL(t *testing.T) {
	rig := newServerRig(t)
	rig.connectSession()

	rec := rig.do(t, http.MethodPost, "/api/browser/navigate", navigateRequest{})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNavigateWithoutSessionConflicts(t *testing.T) {
	rig := newServerRig(t)

	rec := rig.do(t, http.MethodPost, "/api/browser/navigate", navigateRequest{URL: "https://x.com"})

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestScreenshotServesPNG(t *testing.T) {
	rig := newServerRig(t)
	rig.connectSession()

	rec := rig.do(t, http.MethodGet, "/api/browser/screenshot", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "png-bytes", rec.Body.String())
}

func TestStreamPushesFramesToHub(t *testing.T) {
	rig := newServerRig(t)
	rig.connectSession()

	rec := rig.do(t, http.MethodPost, "/api/stream/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		return rig.hub.countOf(schemas.EventStreamFrame) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	rec = rig.do(t, http.MethodPost, "/api/stream/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, rig.server.streamActive())
}

func TestStreamStartIsIdempotent(t *testing.T) {
	rig := newServerRig(t)
	rig.connectSession()

	first := decode[map[string]bool](t, rig.do(t, http.MethodPost, "/api/stream/start", nil))
	second := decode[map[string]bool](t, rig.do(t, http.MethodPost, "/api/stream/start", nil))

	assert.True(t, first["started"])
	assert.False(t, second["started"])
}

func TestStreamStopsItselfWhenSessionGoes(t *testing.T) {
	rig := newServerRig(t)
	rig.connectSession()

	require.Equal(t, http.StatusOK, rig.do(t, http.MethodPost, "/api/stream/start", nil).Code)
	rig.sessions.Cleanup(context.Background())

	require.Eventually(t, func() bool {
		return !rig.server.streamActive()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAutomationStartWithoutSessionConflicts(t *testing.T) {
	rig := newServerRig(t)

	rec := rig.do(t, http.MethodPost, "/api/automation/start", nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAutomationStartRejectsSecondRun(t *testing.T) {
	rig := newServerRig(t)
	rig.connectSession()

	require.Equal(t, http.StatusAccepted, rig.do(t, http.MethodPost, "/api/automation/start", nil).Code)
	rec := rig.do(t, http.MethodPost, "/api/automation/start", nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAutomationRestartAfterCompletion(t *testing.T) {
	rig := newServerRig(t)
	rig.connectSession()

	require.Equal(t, http.StatusAccepted, rig.do(t, http.MethodPost, "/api/automation/start", nil).Code)
	close(rig.run.release)

	require.Eventually(t, func() bool {
		rig.server.engineMu.Lock()
		defer rig.server.engineMu.Unlock()
		return !rig.server.runActiveLocked()
	}, 2*time.Second, 10*time.Millisecond)

	rig.run = newMockRun()
	rec := rig.do(t, http.MethodPost, "/api/automation/start", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestAutomationPauseResume(t *testing.T) {
	rig := newServerRig(t)
	rig.connectSession()

	require.Equal(t, http.StatusAccepted, rig.do(t, http.MethodPost, "/api/automation/start", nil).Code)

	rec := rig.do(t, http.MethodPost, "/api/automation/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[schemas.AutomationStatus](t, rec)
	assert.True(t, status.Paused)

	rec = rig.do(t, http.MethodPost, "/api/automation/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status = decode[schemas.AutomationStatus](t, rec)
	assert.False(t, status.Paused)

	rig.run.mu.Lock()
	defer rig.run.mu.Unlock()
	assert.Equal(t, 1, rig.run.pauses)
	assert.Equal(t, 1, rig.run.resumes)
}

func TestAutomationPauseWithoutRunConflicts(t *testing.T) {
	rig := newServerRig(t)

	rec := rig.do(t, http.MethodPost, "/api/automation/pause", nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStatusCombinesSubsystems(t *testing.T) {
	rig := newServerRig(t)

	empty := decode[statusResponse](t, rig.do(t, http.MethodGet, "/api/status", nil))
	assert.False(t, empty.Connected)
	assert.False(t, empty.Streaming)
	assert.Nil(t, empty.Automation)

	rig.connectSession()
	require.Equal(t, http.StatusOK, rig.do(t, http.MethodPost, "/api/stream/start", nil).Code)
	require.Equal(t, http.StatusAccepted, rig.do(t, http.MethodPost, "/api/automation/start", nil).Code)

	full := decode[statusResponse](t, rig.do(t, http.MethodGet, "/api/status", nil))
	assert.True(t, full.Connected)
	require.NotNil(t, full.Session)
	assert.Equal(t, "sess-1", full.Session.ID)
	assert.True(t, full.Streaming)
	require.NotNil(t, full.Automation)
	assert.Equal(t, schemas.PhaseRunning, full.Automation.Phase)
}

func TestNewInstallsControlSink(t *testing.T) {
	rig := newServerRig(t)

	rig.hub.mu.Lock()
	defer rig.hub.mu.Unlock()
	assert.NotNil(t, rig.hub.sink)
}

func TestManualControlClickRoutesThroughPointerSimulator(t *testing.T) {
	rig := newServerRig(t)
	rig.connectSession()
	ctl := newManualControl(rig)

	err := ctl.Apply(context.Background(), schemas.ManualCommand{
		Action: schemas.ManualClick, X: 120, Y: 340,
	})

	require.NoError(t, err)
	events := rig.handle.exec.mouseEvents()
	require.NotEmpty(t, events)

	// The pointer travels to the target before pressing; no teleport.
	var moves, presses, releases []schemas.MouseEventData
	for _, ev := range events {
		switch ev.Type {
		case schemas.MouseMove:
			moves = append(moves, ev)
		case schemas.MousePress:
			presses = append(presses, ev)
		case schemas.MouseRelease:
			releases = append(releases, ev)
		}
	}
	assert.NotEmpty(t, moves)
	require.Len(t, presses, 1)
	require.Len(t, releases, 1)
	assert.Equal(t, schemas.ButtonLeft, presses[0].Button)
	assert.InDelta(t, 120.0, presses[0].X, 10.0)
	assert.InDelta(t, 340.0, presses[0].Y, 10.0)

	// Press lands before release.
	assert.Equal(t, schemas.MouseRelease, events[len(events)-1].Type)
}

func TestManualControlScrollRoutesThroughPointerSimulator(t *testing.T) {
	rig := newServerRig(t)
	rig.connectSession()
	ctl := newManualControl(rig)

	err := ctl.Apply(context.Background(), schemas.ManualCommand{
		Action: schemas.ManualScroll, X: 400, Y: 300, DeltaY: 240,
	})

	require.NoError(t, err)
	events := rig.handle.exec.mouseEvents()
	require.NotEmpty(t, events)

	// The total scroll distance is preserved across the wheel chunks.
	total := 0.0
	for _, ev := range events {
		require.Equal(t, schemas.MouseWheel, ev.Type)
		total += ev.DeltaY
	}
	assert.InDelta(t, 240.0, total, 0.01)
	assert.Greater(t, len(events), 1)
}

func TestManualControlType(t *testing.T) {
	rig := newServerRig(t)
	rig.connectSession()
	ctl := newManualControl(rig)

	err := ctl.Apply(context.Background(), schemas.ManualCommand{
		Action: schemas.ManualType, Text: "hello there",
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"hello there"}, rig.handle.exec.typedKeys())
}

func TestManualControlKey(t *testing.T) {
	rig := newServerRig(t)
	rig.connectSession()
	ctl := newManualControl(rig)

	err := ctl.Apply(context.Background(), schemas.ManualCommand{
		Action: schemas.ManualKey, Key: "enter",
	})

	require.NoError(t, err)
	rig.handle.mu.Lock()
	defer rig.handle.mu.Unlock()
	assert.Equal(t, []string{"enter"}, rig.handle.pressedKeys)
}

func TestManualControlWithoutSession(t *testing.T) {
	rig := newServerRig(t)
	ctl := newManualControl(rig)

	err := ctl.Apply(context.Background(), schemas.ManualCommand{Action: schemas.ManualClick})

	assert.ErrorIs(t, err, session.ErrNotConnected)
}

func TestManualControlUnknownAction(t *testing.T) {
	rig := newServerRig(t)
	rig.connectSession()
	ctl := newManualControl(rig)

	err := ctl.Apply(context.Background(), schemas.ManualCommand{Action: "teleport"})

	require.Error(t, err)
	assert.False(t, errors.Is(err, session.ErrNotConnected))
}
