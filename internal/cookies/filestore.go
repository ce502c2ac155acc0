// internal/cookies/filestore.go
package cookies

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hxkal/stagehand/api/schemas"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FileStore keeps one JSON snapshot per session id under a directory.
type FileStore struct {
	dir    string
	domain string
	logger *zap.Logger
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates the backing directory if needed.
func NewFileStore(dir, domain string, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cookies: failed to create store directory: %w", err)
	}
	return &FileStore{dir: dir, domain: domain, logger: logger}, nil
}

// Save filters the jar and writes it as JSON via a temp-file rename, so a
// crash mid-write never leaves a truncated snapshot behind. An empty
// post-filter jar is still written so a later Load reflects what was
// actually kept.
func (s *FileStore) Save(ctx context.Context, sessionID string, jar []schemas.Cookie) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	filtered := Filter(jar, s.domain, time.Now())
	data, err := json.MarshalIndent(filtered, "", "  ")
	if err != nil {
		return fmt.Errorf("cookies: failed to marshal jar: %w", err)
	}

	path := s.pathFor(sessionID)
	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("cookies: failed to create temp snapshot: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("cookies: failed to write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("cookies: failed to close %s: %w", tmp.Name(), err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("cookies: failed to set snapshot permissions: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("cookies: failed to replace %s: %w", path, err)
	}

	s.logger.Debug("Cookie jar saved",
		zap.String("session_id", sessionID),
		zap.Int("kept", len(filtered)),
		zap.Int("dropped", len(jar)-len(filtered)))
	return nil
}

// Load reads the snapshot for the session id, re-applying the filter so
// entries that expired since saving are dropped.
func (s *FileStore) Load(ctx context.Context, sessionID string) ([]schemas.Cookie, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.pathFor(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCookies
		}
		return nil, fmt.Errorf("cookies: failed to read snapshot: %w", err)
	}

	var jar []schemas.Cookie
	if err := json.Unmarshal(data, &jar); err != nil {
		return nil, fmt.Errorf("cookies: corrupt snapshot for session %s: %w", sessionID, err)
	}

	jar = Filter(jar, s.domain, time.Now())
	if len(jar) == 0 {
		return nil, ErrNoCookies
	}
	return jar, nil
}

// pathFor sanitizes the session id into a safe file name.
func (s *FileStore) pathFor(sessionID string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, sessionID)
	return filepath.Join(s.dir, safe+".json")
}
