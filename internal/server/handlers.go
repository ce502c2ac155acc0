// internal/server/handlers.go

package server

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hxkal/stagehand/api/schemas"
	"github.com/hxkal/stagehand/internal/session"
)

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("Failed to encode response body", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

// statusFor maps well-known errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, session.ErrConnectFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	info, err := s.sessions.Connect(r.Context())
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	s.stopStream()
	s.cancelRun()
	s.sessions.Cleanup(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

type reconnectRequest struct {
	SessionID string `json:"sessionId"`
}

type reconnectResponse struct {
	Session *schemas.RemoteSessionInfo `json:"session"`
	Result  schemas.ReconnectResult    `json:"result"`
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	var req reconnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.SessionID == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "sessionId is required"})
		return
	}
	info, result, err := s.sessions.Reconnect(r.Context(), req.SessionID)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, reconnectResponse{Session: info, Result: result})
}

type cookiesRequest struct {
	SessionID string `json:"sessionId"`
}

// cookieSessionID resolves the session id for a cookie operation, falling
// back to the live session when the request leaves it blank.
func (s *Server) cookieSessionID(r *http.Request) (string, error) {
	var req cookiesRequest
	// An empty or malformed body falls back to the live session.
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.SessionID != "" {
		return req.SessionID, nil
	}
	info, ok := s.sessions.Info()
	if !ok {
		return "", session.ErrNotConnected
	}
	return info.ID, nil
}

func (s *Server) handleSaveCookies(w http.ResponseWriter, r *http.Request) {
	id, err := s.cookieSessionID(r)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	if err := s.sessions.SaveCookies(r.Context(), id); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"sessionId": id})
}

func (s *Server) handleLoadCookies(w http.ResponseWriter, r *http.Request) {
	id, err := s.cookieSessionID(r)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	if err := s.sessions.LoadCookies(r.Context(), id); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"sessionId": id})
}

type navigateRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req navigateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.URL == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "url is required"})
		return
	}
	h, err := s.sessions.Handle()
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	if err := h.Navigate(r.Context(), req.URL); err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"url": req.URL})
}

func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	h, err := s.sessions.Handle()
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	shot, err := h.Screenshot(r.Context())
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(shot); err != nil {
		s.logger.Debug("Screenshot write aborted", zap.Error(err))
	}
}

func (s *Server) handleStreamStart(w http.ResponseWriter, r *http.Request) {
	if _, err := s.sessions.Handle(); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	started := s.startStream()
	s.writeJSON(w, http.StatusOK, map[string]bool{"streaming": true, "started": started})
}

func (s *Server) handleStreamStop(w http.ResponseWriter, r *http.Request) {
	s.stopStream()
	s.writeJSON(w, http.StatusOK, map[string]bool{"streaming": false})
}

func (s *Server) handleAutomationStart(w http.ResponseWriter, r *http.Request) {
	h, err := s.sessions.Handle()
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	s.engineMu.Lock()
	if s.runActiveLocked() {
		s.engineMu.Unlock()
		s.writeJSON(w, http.StatusConflict, errorResponse{Error: "automation already running"})
		return
	}
	run := s.newRun(h)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.run = run
	s.runCancel = cancel
	s.runDone = done
	s.engineMu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		if err := run.Run(ctx); err != nil {
			s.logger.Error("Automation run failed", zap.Error(err))
		}
	}()

	s.writeJSON(w, http.StatusAccepted, run.Status())
}

func (s *Server) handleAutomationPause(w http.ResponseWriter, r *http.Request) {
	s.engineMu.Lock()
	run := s.run
	active := s.runActiveLocked()
	s.engineMu.Unlock()
	if !active {
		s.writeJSON(w, http.StatusConflict, errorResponse{Error: "no automation run in progress"})
		return
	}
	run.Pause()
	s.writeJSON(w, http.StatusOK, run.Status())
}

func (s *Server) handleAutomationResume(w http.ResponseWriter, r *http.Request) {
	s.engineMu.Lock()
	run := s.run
	active := s.runActiveLocked()
	s.engineMu.Unlock()
	if !active {
		s.writeJSON(w, http.StatusConflict, errorResponse{Error: "no automation run in progress"})
		return
	}
	run.Resume()
	s.writeJSON(w, http.StatusOK, run.Status())
}

type statusResponse struct {
	Connected   bool                       `json:"connected"`
	Session     *schemas.RemoteSessionInfo `json:"session,omitempty"`
	Streaming   bool                       `json:"streaming"`
	Subscribers int                        `json:"subscribers"`
	Automation  *schemas.AutomationStatus  `json:"automation,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Streaming:   s.streamActive(),
		Subscribers: s.hub.SubscriberCount(),
	}
	if info, ok := s.sessions.Info(); ok {
		resp.Connected = true
		resp.Session = &info
	}
	s.engineMu.Lock()
	if s.run != nil {
		st := s.run.Status()
		resp.Automation = &st
	}
	s.engineMu.Unlock()
	s.writeJSON(w, http.StatusOK, resp)
}

// runActiveLocked reports whether a run goroutine is still live. Callers
// hold engineMu.
func (s *Server) runActiveLocked() bool {
	if s.runDone == nil {
		return false
	}
	select {
	case <-s.runDone:
		return false
	default:
		return true
	}
}

func (s *Server) cancelRun() {
	s.engineMu.Lock()
	cancel := s.runCancel
	s.engineMu.Unlock()
	if cancel != nil {
		cancel()
	}
}
