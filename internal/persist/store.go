// Package persist stores per-session pruning snapshots so that the prune set and
// statistics survive process restarts.
package persist

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Stats are the persisted pruning counters of a session.
type Stats struct {
	TokensPrunedThisTurn int `json:"tokensPrunedThisTurn"`
	TotalTokensPruned    int `json:"totalTokensPruned"`
	TotalToolsPruned     int `json:"totalToolsPruned,omitempty"`
}

// Snapshot is the durable state of one session.
type Snapshot struct {
	PrunedToolIDs    []string  `json:"prunedToolIds"`
	PrunedMessageIDs []string  `json:"prunedMessageIds"`
	Stats            Stats     `json:"stats"`
	CompactionMarker string    `json:"compactionMarker,omitempty"`
	LastUpdated      time.Time `json:"lastUpdated"`
}

// Store loads and saves snapshots. Load returns (nil, nil) when nothing was saved.
type Store interface {
	Load(ctx context.Context, sessionID string) (*Snapshot, error)
	Save(ctx context.Context, sessionID string, snap Snapshot) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Open constructs the store for backend. dir is used by the file and sqlite
// backends, dsn by postgres (and optionally sqlite).
func Open(ctx context.Context, backend, dir, dsn string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendFile:
		return NewFileStore(dir), nil
	case BackendSQLite:
		return OpenSQLiteStore(ctx, dir, dsn)
	case BackendPostgres:
		return OpenPostgresStore(ctx, dsn)
	default:
		return nil, fmt.Errorf("persist: unknown backend %q", backend)
	}
}

func sanitizeSessionKey(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '_' || r == '-' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if len(out) > 120 {
		out = out[:120]
	}
	return out
}
