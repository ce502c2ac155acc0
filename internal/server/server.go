// internal/server/server.go

// Package server exposes the operator HTTP API: session lifecycle,
// browser operations, live streaming, automation control, and the
// websocket push channel.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/hxkal/stagehand/api/schemas"
	"github.com/hxkal/stagehand/internal/config"
	"github.com/hxkal/stagehand/internal/detect"
	"github.com/hxkal/stagehand/internal/engine"
	"github.com/hxkal/stagehand/internal/hub"
	"github.com/hxkal/stagehand/internal/humanoid"
	"github.com/hxkal/stagehand/internal/replygen"
	"github.com/hxkal/stagehand/internal/resolver"
	"github.com/hxkal/stagehand/internal/session"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SessionController is the session-manager surface the handlers need.
// Satisfied by *session.Manager.
type SessionController interface {
	Connect(ctx context.Context) (*schemas.RemoteSessionInfo, error)
	Cleanup(ctx context.Context)
	Reconnect(ctx context.Context, sessionID string) (*schemas.RemoteSessionInfo, schemas.ReconnectResult, error)
	Handle() (session.Handle, error)
	Info() (schemas.RemoteSessionInfo, bool)
	SaveCookies(ctx context.Context, sessionID string) error
	LoadCookies(ctx context.Context, sessionID string) error
}

// EventHub is the push-channel surface the server needs. Satisfied by
// *hub.Hub.
type EventHub interface {
	Broadcast(ev schemas.Event)
	HandleWebSocket(w http.ResponseWriter, r *http.Request)
	SetControlSink(sink hub.ControlSink)
	SubscriberCount() int
}

// AutomationRun is one live engine run.
type AutomationRun interface {
	Run(ctx context.Context) error
	Pause()
	Resume()
	Status() schemas.AutomationStatus
	Phase() schemas.Phase
}

// Server wires the HTTP API to the session manager, hub, and engine.
type Server struct {
	cfg      *config.Config
	sessions SessionController
	hub      EventHub
	logger   *zap.Logger

	// newRun builds an engine for a live handle. Injectable for tests.
	newRun func(h session.Handle) AutomationRun

	engineMu  sync.Mutex
	run       AutomationRun
	runCancel context.CancelFunc
	runDone   chan struct{}

	streamMu     sync.Mutex
	streamCancel context.CancelFunc
	streaming    bool
}

// New builds the server. The control sink for inbound manual commands is
// installed on the hub here.
func New(cfg *config.Config, sessions SessionController, eventHub EventHub, logger *zap.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		hub:      eventHub,
		logger:   logger.Named("server"),
	}
	s.newRun = s.buildRun
	eventHub.SetControlSink(&manualControl{
		sessions: sessions,
		human: func(h session.Handle) humanoid.Controller {
			return humanoid.New(humanoid.FromSettings(cfg.Humanoid), s.logger, h.Executor())
		},
		logger: s.logger,
	})
	return s
}

// buildRun assembles the full engine stack over a live handle.
func (s *Server) buildRun(h session.Handle) AutomationRun {
	seed := time.Now().UnixNano()
	human := humanoid.New(humanoid.FromSettings(s.cfg.Humanoid), s.logger, h.Executor())
	res := resolver.New(h, human, s.logger, nil)
	det := detect.New(h, s.cfg.Target, s.logger)

	var primary replygen.Generator
	if s.cfg.Reply.APIKey != "" {
		if client, err := replygen.NewGeminiClient(s.cfg.Reply, s.logger); err == nil {
			primary = client
		} else {
			s.logger.Warn("Reply generation client unavailable, using fallback pool", zap.Error(err))
		}
	}
	gen := replygen.NewWithFallback(primary, seed, s.logger)

	deps := engine.Deps{
		Handle:    h,
		Human:     human,
		Resolver:  res,
		Detector:  det,
		Generator: gen,
		Hub:       s.hub,
		SaveCookies: func(ctx context.Context) error {
			info, ok := s.sessions.Info()
			if !ok {
				return session.ErrNotConnected
			}
			return s.sessions.SaveCookies(ctx, info.ID)
		},
	}
	return engine.New(deps, s.cfg.Automation, s.cfg.Target, s.logger, seed)
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))

	r.Route("/api", func(r chi.Router) {
		r.Route("/session", func(r chi.Router) {
			r.Post("/connect", s.handleConnect)
			r.Post("/close", s.handleClose)
			r.Post("/reconnect", s.handleReconnect)
			r.Post("/cookies/save", s.handleSaveCookies)
			r.Post("/cookies/load", s.handleLoadCookies)
		})
		r.Route("/browser", func(r chi.Router) {
			r.Post("/navigate", s.handleNavigate)
			r.Get("/screenshot", s.handleScreenshot)
		})
		r.Route("/stream", func(r chi.Router) {
			r.Post("/start", s.handleStreamStart)
			r.Post("/stop", s.handleStreamStop)
		})
		r.Route("/automation", func(r chi.Router) {
			r.Post("/start", s.handleAutomationStart)
			r.Post("/pause", s.handleAutomationPause)
			r.Post("/resume", s.handleAutomationResume)
		})
		r.Get("/status", s.handleStatus)
	})
	r.Get("/ws", s.hub.HandleWebSocket)

	return r
}

// Shutdown stops the stream loop and any live run.
func (s *Server) Shutdown(ctx context.Context) {
	s.stopStream()

	s.engineMu.Lock()
	cancel := s.runCancel
	done := s.runDone
	s.engineMu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}

	s.sessions.Cleanup(ctx)
}
