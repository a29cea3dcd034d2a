// Package archive persists session snapshots to an external durable store.
// Archiving runs off the engine's critical path: a failed save is logged by
// the caller and never fails an in-session operation.
package archive

import (
	"context"
	"time"
)

type FileSnapshot struct {
	FileID   string
	Name     string
	Language string
	Content  string
	Revision int64
}

type Snapshot struct {
	SessionID string
	Title     string
	TakenAt   time.Time
	Files     []FileSnapshot
}

type Archiver interface {
	SaveSnapshot(ctx context.Context, snap Snapshot) error
	Close() error
}
