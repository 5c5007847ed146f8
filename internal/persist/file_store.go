package persist

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"
)

// FileStore keeps one JSON document per session under BaseDir/sessions.
type FileStore struct {
	BaseDir string
}

func NewFileStore(baseDir string) *FileStore {
	return &FileStore{BaseDir: baseDir}
}

func (s *FileStore) path(sessionID string) string {
	return filepath.Join(s.BaseDir, "sessions", sanitizeSessionKey(sessionID)+".json")
}

func (s *FileStore) Load(_ context.Context, sessionID string) (*Snapshot, error) {
	if s == nil || s.BaseDir == "" {
		return nil, errors.New("prune store not configured")
	}
	if sessionID == "" {
		return nil, nil
	}
	data, err := os.ReadFile(s.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Save writes through a temp file and rename so readers never see a torn document.
func (s *FileStore) Save(_ context.Context, sessionID string, snap Snapshot) error {
	if s == nil || s.BaseDir == "" {
		return errors.New("prune store not configured")
	}
	if sessionID == "" {
		return nil
	}
	if snap.LastUpdated.IsZero() {
		snap.LastUpdated = time.Now()
	}
	if snap.PrunedToolIDs == nil {
		snap.PrunedToolIDs = []string{}
	}
	if snap.PrunedMessageIDs == nil {
		snap.PrunedMessageIDs = []string{}
	}
	path := s.path(sessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

func (s *FileStore) Close() error { return nil }
