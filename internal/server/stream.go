// internal/server/stream.go

package server

import (
	"context"
	"encoding/base64"
	"time"

	"go.uber.org/zap"

	"github.com/hxkal/stagehand/api/schemas"
)

const defaultFrameInterval = 750 * time.Millisecond

// streamFrame is the payload of one stream-frame event. Frames are PNG
// screenshots, base64-encoded so they survive the JSON push channel.
type streamFrame struct {
	Format string `json:"format"`
	Data   string `json:"data"`
}

// startStream begins the periodic screenshot loop. Returns false when a
// loop was already running.
func (s *Server) startStream() bool {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()
	if s.streaming {
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.streamCancel = cancel
	s.streaming = true
	go s.streamLoop(ctx)
	return true
}

func (s *Server) stopStream() {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()
	if !s.streaming {
		return
	}
	s.streamCancel()
	s.streamCancel = nil
	s.streaming = false
}

func (s *Server) streamActive() bool {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()
	return s.streaming
}

func (s *Server) streamLoop(ctx context.Context) {
	interval := s.cfg.Server.StreamFrameInterval
	if interval <= 0 {
		interval = defaultFrameInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("Live stream started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Live stream stopped")
			return
		case <-ticker.C:
			s.pushFrame(ctx)
		}
	}
}

func (s *Server) pushFrame(ctx context.Context) {
	h, err := s.sessions.Handle()
	if err != nil {
		// Session went away under the stream; shut the loop down.
		s.logger.Info("Stopping stream, session is gone")
		go s.stopStream()
		return
	}
	shotCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	shot, err := h.Screenshot(shotCtx)
	cancel()
	if err != nil {
		s.logger.Debug("Frame capture failed", zap.Error(err))
		return
	}
	ev := schemas.NewEvent(schemas.EventStreamFrame, "")
	ev.Payload = streamFrame{
		Format: "png",
		Data:   base64.StdEncoding.EncodeToString(shot),
	}
	s.hub.Broadcast(ev)
}
