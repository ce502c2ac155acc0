// internal/session/manager.go

// Package session owns the lifecycle of the vendor-hosted browser session:
// creation, teardown, timeout enforcement, and cookie persistence. One
// Manager owns at most one live session at a time.
package session

import (
	"context"
	gojson "encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hxkal/stagehand/api/schemas"
	"github.com/hxkal/stagehand/internal/browser"
	"github.com/hxkal/stagehand/internal/config"
	"github.com/hxkal/stagehand/internal/cookies"
	"github.com/hxkal/stagehand/internal/detect"
	"github.com/hxkal/stagehand/internal/humanoid"
)

// ErrConnectFailed indicates a remote session could not be established.
// Cleanup has already run by the time this error is returned; no half-open
// session is left live.
var ErrConnectFailed = errors.New("session: failed to establish remote browser session")

// ErrNotConnected indicates an operation that needs a live session was
// called without one.
var ErrNotConnected = errors.New("session: no active remote browser session")

// Vendor creates and releases hosted browser sessions. Satisfied by
// *browser.CloudClient.
type Vendor interface {
	CreateSession(ctx context.Context, persona schemas.Persona) (*schemas.RemoteSessionInfo, error)
	LiveViewURL(ctx context.Context, sessionID string) (string, error)
	ReleaseSession(ctx context.Context, sessionID string) error
}

// Handle is the attached page surface the manager and the engine drive.
// Satisfied by *browser.Handle.
type Handle interface {
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	Evaluate(ctx context.Context, script string) (gojson.RawMessage, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Cookies(ctx context.Context) ([]schemas.Cookie, error)
	SetCookies(ctx context.Context, jar []schemas.Cookie) error
	PressKey(ctx context.Context, name string) error
	CountVisible(ctx context.Context, selector string) (int, error)
	TagNthVisible(ctx context.Context, selector string, index int) (string, error)
	Executor() humanoid.Executor
	Close()
}

// Broadcaster pushes events to connected operator clients. Satisfied by
// *hub.Hub.
type Broadcaster interface {
	Broadcast(ev schemas.Event)
}

// AttachFunc connects to a remote browser by its CDP URL. Injectable for
// tests.
type AttachFunc func(ctx context.Context, connectURL string, logger *zap.Logger) (Handle, error)

func defaultAttach(ctx context.Context, connectURL string, logger *zap.Logger) (Handle, error) {
	return browser.Attach(ctx, connectURL, logger)
}

type activeSession struct {
	info    schemas.RemoteSessionInfo
	handle  Handle
	expiry  *time.Timer
	persona schemas.Persona
}

// Manager coordinates the single live remote session.
type Manager struct {
	vendor   Vendor
	store    cookies.Store
	hub      Broadcaster
	cfg      *config.Config
	logger   *zap.Logger
	attach   AttachFunc
	detector func(page detect.Page) *detect.Detector

	mu      sync.Mutex
	current *activeSession
}

// NewManager wires a session manager.
func NewManager(vendor Vendor, store cookies.Store, hub Broadcaster, cfg *config.Config, logger *zap.Logger) *Manager {
	log := logger.Named("session")
	return &Manager{
		vendor: vendor,
		store:  store,
		hub:    hub,
		cfg:    cfg,
		logger: log,
		attach: defaultAttach,
		detector: func(page detect.Page) *detect.Detector {
			return detect.New(page, cfg.Target, logger)
		},
	}
}

// Connect tears down any existing session, requests a fresh remote browser,
// attaches to it, arms the expiry timeout, and tries to fetch the operator
// live-view URL. A missing live view is not fatal; any other failure runs a
// full cleanup before returning ErrConnectFailed.
func (m *Manager) Connect(ctx context.Context) (*schemas.RemoteSessionInfo, error) {
	m.Cleanup(ctx)

	persona := schemas.DefaultPersona

	info, err := m.vendor.CreateSession(ctx, persona)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}

	handle, err := m.attach(ctx, info.ConnectURL, m.logger)
	if err != nil {
		m.adopt(&activeSession{info: *info, persona: persona})
		m.Cleanup(ctx)
		return nil, fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}

	sess := &activeSession{info: *info, handle: handle, persona: persona}
	if info.Timeout > 0 {
		sess.expiry = time.AfterFunc(info.Timeout, func() {
			m.logger.Warn("Remote session timeout reached, cleaning up",
				zap.String("session_id", info.ID))
			m.Cleanup(context.Background())
		})
	}
	m.adopt(sess)
	m.watchSecondaryTabs(handle)

	if url, lvErr := m.vendor.LiveViewURL(ctx, info.ID); lvErr == nil && url != "" {
		m.mu.Lock()
		if m.current == sess {
			sess.info.LiveViewURL = url
		}
		m.mu.Unlock()
		info.LiveViewURL = url

		ev := schemas.NewEvent(schemas.EventLiveViewReady, "live view available")
		ev.Payload = url
		m.hub.Broadcast(ev)
	} else if lvErr != nil {
		m.logger.Warn("Live view URL unavailable, streaming can start later", zap.Error(lvErr))
	}

	m.logger.Info("Remote session connected", zap.String("session_id", info.ID))
	return info, nil
}

// tabWatcher is the optional handle capability for observing secondary
// page targets. *browser.Handle implements it; test doubles need not.
type tabWatcher interface {
	WatchTargets(fn func(browser.TargetEvent))
}

// watchSecondaryTabs surfaces popups spawned by clicks as events, so the
// operator sees tabs that open outside the streamed page.
func (m *Manager) watchSecondaryTabs(handle Handle) {
	watcher, ok := handle.(tabWatcher)
	if !ok {
		return
	}
	watcher.WatchTargets(func(te browser.TargetEvent) {
		kind := schemas.EventSecondaryTabOpened
		msg := "secondary tab opened"
		if !te.Opened {
			kind = schemas.EventSecondaryTabClosed
			msg = "secondary tab closed"
		}
		ev := schemas.NewEvent(kind, msg)
		ev.Payload = map[string]string{"targetId": te.TargetID, "url": te.URL}
		m.hub.Broadcast(ev)
	})
}

func (m *Manager) adopt(sess *activeSession) {
	m.mu.Lock()
	m.current = sess
	m.mu.Unlock()
}

// Cleanup tears down the current session best-effort. Every step is
// attempted regardless of prior failures, repeated calls are safe, and each
// invocation ends with exactly one session-closed broadcast.
func (m *Manager) Cleanup(ctx context.Context) {
	m.mu.Lock()
	cur := m.current
	m.current = nil
	m.mu.Unlock()

	if cur != nil {
		if cur.expiry != nil {
			cur.expiry.Stop()
		}
		if cur.handle != nil {
			cur.handle.Close()
		}
		if cur.info.ID != "" {
			// Teardown must still reach the vendor when the caller's
			// context is already cancelled.
			releaseCtx, cancel := context.WithTimeout(browser.Detach(ctx), 15*time.Second)
			if err := m.vendor.ReleaseSession(releaseCtx, cur.info.ID); err != nil {
				m.logger.Warn("Vendor session release failed",
					zap.String("session_id", cur.info.ID), zap.Error(err))
			}
			cancel()
		}
		m.logger.Info("Session cleaned up", zap.String("session_id", cur.info.ID))
	}

	m.hub.Broadcast(schemas.NewEvent(schemas.EventSessionClosed, "session closed"))
}

// Handle returns the live page handle, or ErrNotConnected.
func (m *Manager) Handle() (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.handle == nil {
		return nil, ErrNotConnected
	}
	return m.current.handle, nil
}

// Info returns a copy of the current session info.
func (m *Manager) Info() (schemas.RemoteSessionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return schemas.RemoteSessionInfo{}, false
	}
	return m.current.info, true
}

// SaveCookies persists the browser's current cookie jar under the given
// session id. Filtering to the target domain happens in the store.
func (m *Manager) SaveCookies(ctx context.Context, sessionID string) error {
	handle, err := m.Handle()
	if err != nil {
		return err
	}
	jar, err := handle.Cookies(ctx)
	if err != nil {
		return fmt.Errorf("failed to read cookies from browser: %w", err)
	}
	if err := m.store.Save(ctx, sessionID, jar); err != nil {
		return fmt.Errorf("failed to persist cookies: %w", err)
	}
	m.logger.Info("Cookies saved", zap.String("session_id", sessionID), zap.Int("count", len(jar)))
	return nil
}

// LoadCookies restores a persisted jar into the browser. Returns
// cookies.ErrNoCookies when nothing usable is stored.
func (m *Manager) LoadCookies(ctx context.Context, sessionID string) error {
	handle, err := m.Handle()
	if err != nil {
		return err
	}
	jar, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := handle.SetCookies(ctx, jar); err != nil {
		return fmt.Errorf("failed to install cookies: %w", err)
	}
	m.logger.Info("Cookies loaded", zap.String("session_id", sessionID), zap.Int("count", len(jar)))
	return nil
}

// ValidateCookies navigates to the authenticated home surface and checks
// the same signals the login detector uses. True means the session is
// usable without a manual login.
func (m *Manager) ValidateCookies(ctx context.Context) (bool, error) {
	handle, err := m.Handle()
	if err != nil {
		return false, err
	}
	if err := handle.Navigate(ctx, m.cfg.Target.BaseURL+m.cfg.Target.HomePath); err != nil {
		return false, fmt.Errorf("validation navigation failed: %w", err)
	}
	needed, err := m.detector(handle).NeedsLogin(ctx)
	if err != nil {
		return false, fmt.Errorf("validation check failed: %w", err)
	}
	return !needed, nil
}

// Reconnect builds a fresh remote session (vendor sessions are not
// resumable) and tries to resume authentication from stored cookies. The
// result distinguishes no-cookies-found, loaded-but-invalid, and
// loaded-and-valid; when no cookies exist the validation navigation is
// skipped entirely.
func (m *Manager) Reconnect(ctx context.Context, sessionID string) (*schemas.RemoteSessionInfo, schemas.ReconnectResult, error) {
	info, err := m.Connect(ctx)
	if err != nil {
		return nil, schemas.ReconnectResult{}, err
	}

	if err := m.LoadCookies(ctx, sessionID); err != nil {
		if errors.Is(err, cookies.ErrNoCookies) {
			m.logger.Info("No stored cookies for session, manual login required",
				zap.String("session_id", sessionID))
			return info, schemas.ReconnectResult{}, nil
		}
		return info, schemas.ReconnectResult{}, err
	}

	valid, err := m.ValidateCookies(ctx)
	if err != nil {
		return info, schemas.ReconnectResult{CookiesLoaded: true}, err
	}
	if !valid {
		m.logger.Warn("Stored cookies no longer valid, manual login required",
			zap.String("session_id", sessionID))
	}
	return info, schemas.ReconnectResult{CookiesLoaded: true, CookiesValid: valid}, nil
}
